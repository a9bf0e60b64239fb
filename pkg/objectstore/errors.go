package objectstore

import "errors"

// ErrNotFound is returned by MemoryStore.Get when a key does not exist.
var ErrNotFound = errors.New("object not found")
