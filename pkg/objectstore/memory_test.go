package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGetHead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ok, err := store.Head(ctx, "a/b.jsonl")
	require.NoError(t, err)
	assert.False(t, ok)

	body := "line one\nline two\n"
	require.NoError(t, store.Put(ctx, "a/b.jsonl", strings.NewReader(body), int64(len(body))))

	ok, err = store.Head(ctx, "a/b.jsonl")
	require.NoError(t, err)
	assert.True(t, ok)

	r, err := store.Get(ctx, "a/b.jsonl")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestMemoryStore_GetMissingKeyIsErrNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
