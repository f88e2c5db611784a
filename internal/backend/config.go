package backend

import (
	"fmt"

	"caixa/internal/config"
)

// FromAppConfig converts the application config to store config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	storeType := StoreType(appConfig.CacheBackend)
	if !storeType.IsValid() {
		return Config{}, fmt.Errorf("invalid cache backend in config: %s", appConfig.CacheBackend)
	}

	return Config{
		Type: storeType,

		MaxEntries:      appConfig.CacheMaxEntries,
		Shards:          appConfig.CacheShards,
		CleanupInterval: appConfig.CacheCleanupInterval,

		RedisAddr:      appConfig.RedisAddr,
		RedisPassword:  appConfig.RedisPassword,
		RedisDB:        appConfig.RedisDB,
		RedisKeyPrefix: appConfig.RedisKeyPrefix,
	}, nil
}

// Validate validates the store configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid cache backend: %s", c.Type)
	}

	switch c.Type {
	case MemoryStore:
		if c.MaxEntries < 1 {
			return fmt.Errorf("memory store needs a positive capacity, got %d", c.MaxEntries)
		}
		// Shards and CleanupInterval fall back to defaults when unset

	case RedisStore:
		if c.RedisAddr == "" {
			return fmt.Errorf("Redis address is required for redis cache backend")
		}
	}

	return nil
}

// GetStoreTypes returns all valid store types
func GetStoreTypes() []StoreType {
	return []StoreType{MemoryStore, RedisStore}
}

// GetStoreTypeStrings returns all valid store type strings
func GetStoreTypeStrings() []string {
	types := GetStoreTypes()
	strs := make([]string, len(types))
	for i, t := range types {
		strs[i] = t.String()
	}
	return strs
}
