package easywebhook

import (
	"crypto/tls"

	"github.com/dawitel/easy-webhook/cache"
)

// backend translates the dedup settings into the cache package's config.
// A disabled cache maps to the no-op backend.
func (c CacheConfig) backend() cache.Config {
	if !c.Enabled {
		return cache.Config{Type: cache.TypeNone}
	}

	cfg := cache.Config{
		Type: cache.Type(c.Type),
		Memory: cache.MemoryConfig{
			MaxSize:         c.Memory.MaxSize,
			CleanupInterval: c.Memory.CleanupInterval,
			EnableLRU:       c.Memory.EnableLRU,
		},
		Redis: cache.RedisConfig{
			Address:      c.Redis.Address,
			Password:     c.Redis.Password,
			DB:           c.Redis.DB,
			PoolSize:     c.Redis.PoolSize,
			MinIdleConns: c.Redis.MinIdleConns,
			DialTimeout:  c.Redis.DialTimeout,
			ReadTimeout:  c.Redis.ReadTimeout,
			WriteTimeout: c.Redis.WriteTimeout,
			KeyPrefix:    c.Redis.KeyPrefix,
		},
	}

	if c.Redis.EnableTLS {
		cfg.Redis.TLS = c.Redis.TLSConfig
		if cfg.Redis.TLS == nil {
			cfg.Redis.TLS = &tls.Config{InsecureSkipVerify: c.Redis.TLSSkipVerify}
		}
	}

	return cfg
}

func newDeliveryCache(cfg CacheConfig) (cache.Cache, error) {
	return cache.New(cfg.backend())
}
