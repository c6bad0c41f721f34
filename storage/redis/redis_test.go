package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmcleod/ironsession/storage"
	"github.com/jmcleod/ironsession/storage/storagetest"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRepository(rdb, opts...), mr
}

func TestRedisRepository(t *testing.T) {
	s, _ := newTestStore(t)
	storagetest.RunRepositoryTests(t, s)
}

func TestRedisKeyLayout(t *testing.T) {
	s, mr := newTestStore(t, WithPrefix("tenant-a"))
	env := &storage.Envelope{Ver: 1, Scheme: "aes256gcm", Nonce: make([]byte, 12), Ciphertext: []byte("ct")}
	require.NoError(t, s.Put("session", "auth-store", env))

	assert.True(t, mr.Exists("tenant-a:session:auth-store"))
	assert.False(t, mr.Exists("ironsession:session:auth-store"))
}

func TestRedisCorruptValue(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, mr.Set("ironsession:session:auth-store", "{broken"))

	_, err := s.Get("session", "auth-store")
	require.Error(t, err)
	assert.False(t, errors.Is(err, storage.ErrNotFound))
}

func TestNewRepositoryFromAddr(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRepositoryFromAddr(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get("session", "auth-store")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNewRepositoryFromAddrUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRepositoryFromAddr(context.Background(), addr, "", 0)
	assert.Error(t, err)
}
