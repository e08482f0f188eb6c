// Package blob provides the audio blob reference store. The core only ever
// passes opaque keys around; bytes live behind this interface.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates no blob exists for the key.
var ErrNotFound = errors.New("blob not found")

// Store persists opaque byte blobs under generated keys.
type Store interface {
	// Put stores data and returns its key.
	Put(ctx context.Context, category, ext string, data []byte) (string, error)

	// Get returns the bytes stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// FSStore is a filesystem-backed Store. Keys are date partitioned:
// <category>/<YYYY-MM-DD>/<uuid>.<ext>
type FSStore struct {
	root string
	now  func() time.Time
}

// NewFSStore creates a filesystem store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: dir, now: time.Now}, nil
}

// Put implements Store.
func (s *FSStore) Put(ctx context.Context, category, ext string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	day := s.now().UTC().Format("2006-01-02")
	key := filepath.ToSlash(filepath.Join(category, day, uuid.New().String()+"."+strings.TrimPrefix(ext, ".")))

	path := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return key, nil
}

// Get implements Store.
func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}
