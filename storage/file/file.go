// Package file provides a directory-backed storage repository that keeps one
// JSON document per record.
package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmcleod/ironsession/storage"
)

// Store implements storage.Repository with files laid out as
// <dir>/<bucket>/<key>.json.
type Store struct {
	mu  sync.RWMutex
	dir string
}

var _ storage.Repository = (*Store)(nil)

// NewRepository creates the root directory if needed and returns a Store.
func NewRepository(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("file repository requires a directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Names are path-escaped so a key can never climb out of its bucket.
func (s *Store) path(bucket, key string) string {
	return filepath.Join(s.dir, url.PathEscape(bucket), url.PathEscape(key)+".json")
}

func (s *Store) Put(bucket, key string, envelope *storage.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating bucket dir: %w", err)
	}
	return writeFileAtomic(path, data)
}

func (s *Store) Get(bucket, key string) (*storage.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(bucket, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var envelope storage.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding %s/%s: %w", bucket, key, err)
	}
	return &envelope, nil
}

func (s *Store) Delete(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(bucket, key))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	return err
}

// writeFileAtomic writes to a temp file in the same directory, syncs it and
// renames it over path so readers never observe a partial record.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
