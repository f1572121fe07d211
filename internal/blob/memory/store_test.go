package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bufsync/internal/blob/core"
)

func TestStore_ContentIsCopied(t *testing.T) {
	s := New()
	ctx := context.Background()
	src := []byte("hello")

	_, err := s.Put(ctx, "files/a", bytes.NewReader(src), core.PutOptions{Metadata: map[string]string{"k": "v"}})
	require.NoError(t, err)
	src[0] = 'j'

	info, rc, err := s.Get(ctx, "files/a")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info.Metadata["k"] = "changed"
	head, err := s.Head(ctx, "files/a")
	require.NoError(t, err)
	assert.Equal(t, "v", head.Metadata["k"])
	// sha256("hello")
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", head.ETag)
}

func TestStore_CancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, "files/a", bytes.NewReader(nil), core.PutOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Head(ctx, "files/a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_PresignUnsupported(t *testing.T) {
	_, err := New().PresignURL(context.Background(), "files/a", core.SignedURLOptions{})
	assert.ErrorIs(t, err, core.ErrUnsupported)
}
