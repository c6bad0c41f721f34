// Package redis provides a Redis-backed storage repository so several
// processes can share one persisted session.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/ironsession/storage"
	goredis "github.com/redis/go-redis/v9"
)

const defaultPrefix = "ironsession"

// Store implements storage.Repository on top of a go-redis client.
type Store struct {
	rdb     goredis.UniversalClient
	prefix  string
	timeout time.Duration
}

var _ storage.Repository = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix. Keys are laid out as <prefix>:<bucket>:<key>.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTimeout bounds every Redis round trip.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewRepository wraps an existing go-redis client.
func NewRepository(rdb goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: defaultPrefix, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRepositoryFromAddr dials addr and verifies the connection with PING.
func NewRepositoryFromAddr(ctx context.Context, addr, password string, db int, opts ...Option) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewRepository(rdb, opts...), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) key(bucket, key string) string {
	return s.prefix + ":" + bucket + ":" + key
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) Put(bucket, key string, envelope *storage.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.rdb.Set(ctx, s.key(bucket, key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) Get(bucket, key string) (*storage.Envelope, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	data, err := s.rdb.Get(ctx, s.key(bucket, key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s/%s: %w", bucket, key, err)
	}
	var envelope storage.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding %s/%s: %w", bucket, key, err)
	}
	return &envelope, nil
}

func (s *Store) Delete(bucket, key string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	n, err := s.rdb.Del(ctx, s.key(bucket, key)).Result()
	if err != nil {
		return fmt.Errorf("redis del %s/%s: %w", bucket, key, err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	return nil
}
