// Package store holds per-device runtime state: liveness, health snapshots,
// reading counters and cached directory records.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNil is returned by Get when the key does not exist.
var ErrNil = errors.New("store: nil reply")

// Store is the key/counter interface the ingestion path depends on.
// Every mutation maps to a single atomic server-side command.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	SAdd(ctx context.Context, key, member string) error
	SCard(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
}
