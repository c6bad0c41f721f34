// Package storagetest holds the behavior suite every storage.Repository
// backend is expected to pass.
package storagetest

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/jmcleod/ironsession/storage"
)

func envelope(ciphertext string) *storage.Envelope {
	return &storage.Envelope{
		Ver:        1,
		Scheme:     "aes256gcm",
		Nonce:      []byte("nonce1234567"),
		Ciphertext: []byte(ciphertext),
	}
}

// RunRepositoryTests runs the common suite against repo. The repository
// must start empty.
func RunRepositoryTests(t *testing.T, repo storage.Repository) {
	t.Helper()

	t.Run("PutAndGet", func(t *testing.T) {
		env := envelope("ciphertext")
		if err := repo.Put("session", "auth-store", env); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := repo.Get("session", "auth-store")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Ver != env.Ver || got.Scheme != env.Scheme || !bytes.Equal(got.Nonce, env.Nonce) || !bytes.Equal(got.Ciphertext, env.Ciphertext) {
			t.Errorf("Get returned wrong envelope: %+v", got)
		}

		got.Nonce[0] = 'X'
		again, _ := repo.Get("session", "auth-store")
		if again.Nonce[0] == 'X' {
			t.Error("repository must not share envelope memory with callers")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		if err := repo.Put("session", "overwrite", envelope("v1")); err != nil {
			t.Fatalf("Put v1 failed: %v", err)
		}
		if err := repo.Put("session", "overwrite", envelope("v2")); err != nil {
			t.Fatalf("Put v2 failed: %v", err)
		}
		got, err := repo.Get("session", "overwrite")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got.Ciphertext) != "v2" {
			t.Errorf("got ciphertext %q, want %q", got.Ciphertext, "v2")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		if _, err := repo.Get("session", "no-such-key"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := repo.Get("no-such-bucket", "auth-store"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing bucket, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.Put("session", "delete-me", envelope("x")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := repo.Delete("session", "delete-me"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get("session", "delete-me"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		if err := repo.Delete("session", "never-existed"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("BucketsAreIsolated", func(t *testing.T) {
		if err := repo.Put("a", "k", envelope("in-a")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if _, err := repo.Get("b", "k"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound across buckets, got %v", err)
		}
	})

	t.Run("ConcurrentPut", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := repo.Put("session", "contended", envelope("same")); err != nil {
					t.Errorf("concurrent Put failed: %v", err)
				}
			}()
		}
		wg.Wait()
		got, err := repo.Get("session", "contended")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got.Ciphertext) != "same" {
			t.Errorf("got ciphertext %q", got.Ciphertext)
		}
	})
}
