package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"caixa/internal/cache"
)

const defaultCleanupInterval = time.Minute

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new store factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateStore implements Factory.CreateStore
func (f *DefaultFactory) CreateStore(ctx context.Context, config Config) (*StoreResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case MemoryStore:
		return f.createMemoryStore(config)
	case RedisStore:
		return f.createRedisStore(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", config.Type)
	}
}

// createMemoryStore builds a process-local store and starts sweeping its
// expired entries. Cleanup stops the sweeper.
func (f *DefaultFactory) createMemoryStore(config Config) (*StoreResult, error) {
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	opts := []cache.MemoryOption{
		cache.WithMaxEntries(config.MaxEntries),
		cache.WithClock(clock),
	}
	if config.Shards > 0 {
		opts = append(opts, cache.WithShards(config.Shards))
	}
	store := cache.NewMemoryStore(opts...)

	interval := config.CleanupInterval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	manager := cache.NewManager(clock, f.logger)
	manager.Register(store)
	manager.StartCleanup(interval)

	f.logger.Info("Initialized memory cache store",
		"max_entries", config.MaxEntries,
		"shards", config.Shards,
		"cleanup_interval", interval)

	return &StoreResult{
		Store: store,
		Cleanup: func() error {
			manager.Stop()
			return nil
		},
	}, nil
}

func (f *DefaultFactory) createRedisStore(ctx context.Context, config Config) (*StoreResult, error) {
	store, err := cache.NewRedisStore(ctx, cache.RedisConfig{
		Addr:      config.RedisAddr,
		Password:  config.RedisPassword,
		DB:        config.RedisDB,
		KeyPrefix: config.RedisKeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis cache store: %w", err)
	}

	f.logger.Info("Initialized Redis cache store",
		"addr", config.RedisAddr,
		"db", config.RedisDB,
		"key_prefix", config.RedisKeyPrefix)

	return &StoreResult{
		Store:   store,
		Cleanup: store.Close,
	}, nil
}
