package cache

import (
	"context"
	"errors"
	"time"
)

// Cache is the minimal key-value contract used for derived, disposable data such as
// unread badge counts. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Close() error
}

// ErrMiss reports that key is not cached.
var ErrMiss = errors.New("cache: miss")

// Noop never stores anything; every Get is a miss.
type Noop struct{}

var _ Cache = Noop{}

func (Noop) Get(context.Context, string) (string, error)               { return "", ErrMiss }
func (Noop) Set(context.Context, string, string, time.Duration) error { return nil }
func (Noop) Del(context.Context, ...string) error                     { return nil }
func (Noop) Close() error                                             { return nil }
