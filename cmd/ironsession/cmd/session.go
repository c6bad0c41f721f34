package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jmcleod/ironsession/client"
	"github.com/jmcleod/ironsession/internal/config"
	"github.com/jmcleod/ironsession/internal/metrics"
	"github.com/jmcleod/ironsession/internal/util"
	"github.com/jmcleod/ironsession/session"
	"github.com/jmcleod/ironsession/storage"
	bboltstorage "github.com/jmcleod/ironsession/storage/bbolt"
	filestorage "github.com/jmcleod/ironsession/storage/file"
	"github.com/jmcleod/ironsession/storage/memory"
	redisstorage "github.com/jmcleod/ironsession/storage/redis"
)

// app is everything a session command needs, built from the loaded config.
type app struct {
	store    *session.Store
	client   *client.Client
	registry *prometheus.Registry
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openApp restores the persisted session and wires a client around it.
func openApp(ctx context.Context, c *config.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	repo, closeRepo, err := openRepository(ctx, c)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeRepo)

	master, err := masterKey(c)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(master)

	persister, err := session.NewRepositoryPersister(repo, master)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, persister.Close)
	cookies, err := client.NewRepositoryCookieStore(repo, master)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, cookies.Close)

	a.store = session.NewStore(
		session.WithTTL(c.SessionTTL),
		session.WithPersister(persister),
		session.WithLogger(logger),
	)
	if err := a.store.Restore(); err != nil {
		logger.Warn("starting signed out", "error", err)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector())

	a.client, err = client.New(c.BaseURL, a.store,
		client.WithHTTPTimeout(c.Timeout),
		client.WithRefreshTimeout(c.RefreshTimeout),
		client.WithSafetyWindow(c.SafetyWindow),
		client.WithExcludedEndpoints(c.ExcludedEndpoints...),
		client.WithCookieStore(cookies),
		client.WithLogger(logger),
		client.WithMetrics(metrics.New(a.registry)),
	)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.client.Close)

	ok = true
	return a, nil
}

func openRepository(ctx context.Context, c *config.Config) (storage.Repository, func(), error) {
	noop := func() {}
	switch c.Storage.Backend {
	case "memory":
		return memory.NewRepository(), noop, nil
	case "bbolt":
		if err := os.MkdirAll(c.Storage.Dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(c.Storage.Dir, "session.db"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session storage: %w", err)
		}
		return repo, func() { _ = repo.Close() }, nil
	case "file":
		repo, err := filestorage.NewRepository(filepath.Join(c.Storage.Dir, "records"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session storage: %w", err)
		}
		return repo, noop, nil
	case "redis":
		repo, err := redisstorage.NewRepositoryFromAddr(ctx, c.Storage.Redis.Addr, c.Storage.Redis.Password, c.Storage.Redis.DB,
			redisstorage.WithPrefix(c.Storage.Redis.Prefix))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return repo, func() { _ = repo.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
}

// masterKey derives the key from the configured passphrase, or loads the
// key file, creating it on first use.
func masterKey(c *config.Config) ([]byte, error) {
	if c.Storage.Passphrase != "" {
		salt, err := storage.LoadOrCreateSalt(filepath.Join(c.Storage.Dir, "session.salt"))
		if err != nil {
			return nil, err
		}
		return storage.KeyFromPassphrase(c.Storage.Passphrase, salt)
	}
	if c.Storage.KeyFile == "" {
		return nil, errors.New("storage.key_file or storage.passphrase is required")
	}
	return storage.LoadOrCreateKeyFile(c.Storage.KeyFile)
}
