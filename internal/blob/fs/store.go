// Package fs keeps blob content in a directory tree. Each blob at <key> has
// a JSON attribute file beside it at <key>.attrs.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/roach88/bufsync/internal/blob/core"
)

const attrsExt = ".attrs"

var errInvalidKey = errors.New("fs blob: invalid key")

// Store is a core.Store over one directory tree.
type Store struct {
	root string
}

// New opens the tree at root, creating it if it does not exist.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("fs blob: root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("fs blob: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// attrs is the on-disk form of everything in core.Info except the key.
type attrs struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SHA256      string            `json:"sha256"`
	Size        int64             `json:"size"`
	Stored      time.Time         `json:"stored"`
}

type location struct {
	key     string
	content string
	attrs   string
}

// locate maps key to its two files. Keys are slash separated, relative,
// and may not climb out of the root or end in the attribute extension.
func (s *Store) locate(key string) (location, error) {
	switch {
	case strings.TrimSpace(key) == "":
		return location{}, fmt.Errorf("%w: empty", errInvalidKey)
	case strings.HasPrefix(key, "/"):
		return location{}, fmt.Errorf("%w: %q is absolute", errInvalidKey, key)
	case strings.Contains(key, ".."):
		return location{}, fmt.Errorf("%w: %q contains ..", errInvalidKey, key)
	case strings.HasSuffix(key, attrsExt):
		return location{}, fmt.Errorf("%w: %q ends in %s", errInvalidKey, key, attrsExt)
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	content := filepath.Join(s.root, filepath.FromSlash(clean))
	return location{key: clean, content: content, attrs: content + attrsExt}, nil
}

// Put writes the content under a temporary name and renames it into place
// once it is synced, then records its attributes. A failed attribute write
// removes the content again.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	loc, err := s.locate(key)
	if err != nil {
		return core.Info{}, err
	}
	if _, err := os.Stat(loc.content); err == nil {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrExists)
	}

	sum, size, err := writeContent(loc.content, r)
	if err != nil {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, err)
	}
	a := attrs{
		ContentType: opts.ContentType,
		Metadata:    core.CloneMetadata(opts.Metadata),
		SHA256:      sum,
		Size:        size,
		Stored:      time.Now().UTC(),
	}
	if err := writeAttrs(loc.attrs, a); err != nil {
		_ = os.Remove(loc.content)
		return core.Info{}, fmt.Errorf("blob %s: %w", key, err)
	}
	return s.info(loc.key, a), nil
}

func writeContent(path string, r io.Reader) (sum string, size int64, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}
	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	h := sha256.New()
	size, err = io.Copy(io.MultiWriter(tmp, h), r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, nil, err
	}
	loc, err := s.locate(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	f, err := os.Open(loc.content)
	if errors.Is(err, fs.ErrNotExist) {
		return core.Info{}, nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, nil, fmt.Errorf("blob %s: %w", key, err)
	}
	a, err := readAttrs(loc.attrs)
	if err != nil {
		_ = f.Close()
		return core.Info{}, nil, fmt.Errorf("blob %s: %w", key, err)
	}
	return s.info(loc.key, a), f, nil
}

// Head reads the attribute file without opening the content.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	loc, err := s.locate(key)
	if err != nil {
		return core.Info{}, err
	}
	a, err := readAttrs(loc.attrs)
	if errors.Is(err, fs.ErrNotExist) {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, err)
	}
	return s.info(loc.key, a), nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	loc, err := s.locate(key)
	if err != nil {
		return false, err
	}
	err = os.Remove(loc.content)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blob %s: %w", key, err)
	}
	if err := os.Remove(loc.attrs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return true, fmt.Errorf("blob %s: attributes: %w", key, err)
	}
	return true, nil
}

// List finds blobs by their attribute files.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	infos := []core.Info{}
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, attrsExt) {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(path, attrsExt))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		a, err := readAttrs(path)
		if err != nil {
			return err
		}
		infos = append(infos, s.info(key, a))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs %q: %w", prefix, err)
	}
	slices.SortFunc(infos, func(a, b core.Info) int { return strings.Compare(a.Key, b.Key) })
	return infos, nil
}

// PresignURL hands out a stable local URL for GET. There is nothing to
// sign on a local disk.
func (s *Store) PresignURL(_ context.Context, key string, opts core.SignedURLOptions) (string, error) {
	if opts.Method != "" && !strings.EqualFold(opts.Method, "GET") {
		return "", core.ErrUnsupported
	}
	return localURL(key), nil
}

func localURL(key string) string {
	u := url.URL{Scheme: "http", Host: "local.blob", Path: "/" + key}
	return u.String()
}

func (s *Store) info(key string, a attrs) core.Info {
	return core.Info{
		Key:          key,
		Size:         a.Size,
		ContentType:  a.ContentType,
		ETag:         a.SHA256,
		Metadata:     core.CloneMetadata(a.Metadata),
		LastModified: a.Stored,
		URL:          localURL(key),
	}
}

func writeAttrs(path string, a attrs) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readAttrs(path string) (attrs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return attrs{}, err
	}
	var a attrs
	if err := json.Unmarshal(data, &a); err != nil {
		return attrs{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return a, nil
}
