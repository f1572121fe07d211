// Package memory holds blobs in a map. Tests and the harness use it in
// place of a real directory or bucket.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/bufsync/internal/blob/core"
)

// Store is a core.Store safe for concurrent use. Content is copied on the
// way in and on the way out, so callers never share a buffer with it.
type Store struct {
	mu    sync.RWMutex
	blobs map[string]object
}

type object struct {
	info    core.Info
	content []byte
}

// infoCopy returns info with a metadata map the caller may modify.
func (o object) infoCopy() core.Info {
	info := o.info
	info.Metadata = core.CloneMetadata(info.Metadata)
	return info
}

func New() *Store { return &Store{blobs: map[string]object{}} }

func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put reads r fully before taking the lock.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, err)
	}
	sum := sha256.Sum256(content)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.blobs[key]; taken {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrExists)
	}
	obj := object{
		info: core.Info{
			Key:          key,
			Size:         int64(len(content)),
			ContentType:  opts.ContentType,
			ETag:         hex.EncodeToString(sum[:]),
			Metadata:     core.CloneMetadata(opts.Metadata),
			LastModified: time.Now().UTC(),
		},
		content: content,
	}
	s.blobs[key] = obj
	return obj.infoCopy(), nil
}

func (s *Store) lookup(ctx context.Context, key string) (object, error) {
	if err := ctx.Err(); err != nil {
		return object{}, err
	}
	s.mu.RLock()
	obj, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return object{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return obj, nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	obj, err := s.lookup(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	return obj.infoCopy(), io.NopCloser(bytes.NewReader(bytes.Clone(obj.content))), nil
}

func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	obj, err := s.lookup(ctx, key)
	if err != nil {
		return core.Info{}, err
	}
	return obj.infoCopy(), nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return false, nil
	}
	delete(s.blobs, key)
	return true, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := []core.Info{}
	for _, key := range slices.Sorted(maps.Keys(s.blobs)) {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, s.blobs[key].infoCopy())
		}
	}
	return infos, nil
}

// PresignURL always fails: there is no address to hand out.
func (s *Store) PresignURL(context.Context, string, core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}
