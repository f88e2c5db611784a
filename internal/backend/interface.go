package backend

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"caixa/internal/cache"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// StoreResult contains the store instance and its cleanup function
type StoreResult struct {
	Store   cache.Store
	Cleanup CleanupFunc
}

// Factory creates cache stores based on configuration
type Factory interface {
	// CreateStore creates a store instance based on the provided config
	CreateStore(ctx context.Context, config Config) (*StoreResult, error)
}

// Config holds configuration for store creation
type Config struct {
	Type StoreType

	// Memory specific
	MaxEntries      int
	Shards          int
	CleanupInterval time.Duration
	Clock           clockwork.Clock

	// Redis specific
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
}

// StoreType represents the type of cache store
type StoreType string

const (
	MemoryStore StoreType = "memory"
	RedisStore  StoreType = "redis"
)

// String implements fmt.Stringer
func (st StoreType) String() string {
	return string(st)
}

// IsValid returns true if the store type is valid
func (st StoreType) IsValid() bool {
	switch st {
	case MemoryStore, RedisStore:
		return true
	default:
		return false
	}
}
