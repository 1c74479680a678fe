package cache

import (
	"context"
	"time"
)

// NoOpCache never remembers anything; every delivery reaches the handler
type NoOpCache struct{}

func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

func (*NoOpCache) IsProcessed(context.Context, string) (bool, error) { return false, nil }

func (*NoOpCache) Claim(context.Context, string, time.Duration) (bool, error) { return true, nil }

func (*NoOpCache) Release(context.Context, string) error { return nil }

func (*NoOpCache) MarkProcessed(context.Context, string, time.Duration) error { return nil }

func (*NoOpCache) Ping(context.Context) error { return nil }

func (*NoOpCache) Close() error { return nil }
