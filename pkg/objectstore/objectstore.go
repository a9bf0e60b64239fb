// Package objectstore provides the opaque blob store collaborator: raw
// transcript JSONL and large tool results are written under keys built from
// the workspace and session ids and streamed back out during the Transcript
// Pipeline's download stage.
package objectstore

import (
	"context"
	"io"
)

// Store is the narrow contract the rest of the server depends on. Its
// internal behavior (durability, replication, consistency) is out of scope;
// only get/put/head/stream are exercised by the core.
type Store interface {
	// Put uploads the full contents of body under key, returning once durable.
	Put(ctx context.Context, key string, body io.Reader, size int64) error

	// Get returns a reader over the object's contents. Callers must Close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Head reports whether key exists without downloading its body.
	Head(ctx context.Context, key string) (bool, error)
}
