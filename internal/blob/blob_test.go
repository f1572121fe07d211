package blob

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	key, err := Key("files", "abc")
	require.NoError(t, err)
	assert.Equal(t, "files/abc", key)

	// Decomposed e + combining acute normalizes to the precomposed form.
	key, err = Key("library", "Cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, "library/Caf\u00e9", key)

	for _, bad := range [][]string{nil, {""}, {"a", " "}, {"a/b"}, {"..", "x"}} {
		_, err := Key(bad...)
		assert.Error(t, err, "Key(%q)", bad)
	}
}

func TestFileKey(t *testing.T) {
	key, err := FileKey("0190a000-0000-7000-8000-000000000001")
	require.NoError(t, err)
	assert.Equal(t, "files/0190a000-0000-7000-8000-000000000001", key)

	_, err = FileKey("")
	assert.Error(t, err)
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, mem.Driver())

	fsStore, err := Open(ctx, Config{Root: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, fsStore.Driver())

	_, err = Open(ctx, Config{Driver: "gcs"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Driver: DriverS3})
	assert.Error(t, err, "s3 requires a bucket")
}

// Every driver reachable through Open honors the same contract.
func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	drivers := map[string]Config{
		"memory": {Driver: DriverMemory},
		"fs":     {Driver: DriverFilesystem, Root: t.TempDir()},
	}

	for name, cfg := range drivers {
		t.Run(name, func(t *testing.T) {
			s, err := Open(ctx, cfg)
			require.NoError(t, err)

			info, err := s.Put(ctx, "files/a", bytes.NewReader([]byte("hello")), PutOptions{
				ContentType: "text/plain",
				Metadata:    map[string]string{"owner": "order-1"},
			})
			require.NoError(t, err)
			assert.Equal(t, int64(5), info.Size)
			assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", info.ETag, "sha256 of the content")

			_, err = s.Put(ctx, "files/a", bytes.NewReader(nil), PutOptions{})
			assert.ErrorIs(t, err, ErrExists)

			_, err = s.Put(ctx, "other/b", bytes.NewReader([]byte("x")), PutOptions{})
			require.NoError(t, err)

			got, rc, err := s.Get(ctx, "files/a")
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			assert.Equal(t, "hello", string(data))
			assert.Equal(t, "text/plain", got.ContentType)
			assert.Equal(t, "order-1", got.Metadata["owner"])

			head, err := s.Head(ctx, "files/a")
			require.NoError(t, err)
			assert.Equal(t, int64(5), head.Size)

			list, err := s.List(ctx, "files/")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "files/a", list[0].Key)

			ok, err := s.Delete(ctx, "files/a")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.Delete(ctx, "files/a")
			require.NoError(t, err)
			assert.False(t, ok)

			_, _, err = s.Get(ctx, "files/a")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = s.Head(ctx, "files/a")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
