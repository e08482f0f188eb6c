package blob

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_PutGetRoundTrip(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key, err := s.Put(ctx, "audio/raw", "webm", []byte("audio bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "audio/raw/"))
	assert.True(t, strings.HasSuffix(key, ".webm"))

	data, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("audio bytes"), data)
}

func TestFSStore_GetMissingKey(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "audio/raw/2026-01-01/missing.webm")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_KeysAreUnique(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	k1, err := s.Put(ctx, "audio/raw", "webm", []byte("a"))
	require.NoError(t, err)
	k2, err := s.Put(ctx, "audio/raw", "webm", []byte("b"))
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}
