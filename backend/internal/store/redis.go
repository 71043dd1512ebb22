package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gomodule/redigo/redis"
)

const (
	scanCount = 500

	defaultMaxIdle     = 8
	defaultMaxActive   = 64
	defaultIdleTimeout = 4 * time.Minute
	defaultDialTimeout = 5 * time.Second
)

// RedisOptions configures the connection pool.
type RedisOptions struct {
	URL         string
	MaxIdle     int
	MaxActive   int
	IdleTimeout time.Duration
	DialTimeout time.Duration
}

// Redis implements Store on a redigo connection pool.
type Redis struct {
	l    *slog.Logger
	pool *redis.Pool
}

var _ Store = (*Redis)(nil)

// NewRedis builds a pool for opts.URL. No connection is made until first use.
func NewRedis(l *slog.Logger, opts RedisOptions) (*Redis, error) {
	if opts.URL == "" {
		return nil, errors.New("redis url is required")
	}

	if opts.MaxIdle == 0 {
		opts.MaxIdle = defaultMaxIdle
	}

	if opts.MaxActive == 0 {
		opts.MaxActive = defaultMaxActive
	}

	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}

	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}

	pool := &redis.Pool{
		MaxIdle:     opts.MaxIdle,
		MaxActive:   opts.MaxActive,
		IdleTimeout: opts.IdleTimeout,
		Wait:        true,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialURLContext(ctx, opts.URL, redis.DialConnectTimeout(opts.DialTimeout))
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}

			_, err := c.Do("PING")

			return err
		},
	}

	return &Redis{
		l:    l.With(slog.String("component", "state-store")),
		pool: pool,
	}, nil
}

func (r *Redis) do(ctx context.Context, cmd string, args ...any) (any, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis: get connection: %w", err)
	}
	defer conn.Close()

	reply, err := redis.DoContext(conn, ctx, cmd, args...)
	if err != nil {
		return nil, fmt.Errorf("redis: %s: %w", cmd, err)
	}

	return reply, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	s, err := redis.String(r.do(ctx, "GET", key))
	if errors.Is(err, redis.ErrNil) {
		return "", ErrNil
	}

	return s, err
}

func (r *Redis) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := r.do(ctx, "SET", key, value, "EX", ttlSeconds(ttl))

	return err
}

func (r *Redis) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return redis.Int64(r.do(ctx, "INCRBY", key, n))
}

func (r *Redis) SAdd(ctx context.Context, key, member string) error {
	_, err := r.do(ctx, "SADD", key, member)

	return err
}

func (r *Redis) SCard(ctx context.Context, key string) (int64, error) {
	return redis.Int64(r.do(ctx, "SCARD", key))
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := r.do(ctx, "EXPIRE", key, ttlSeconds(ttl))

	return err
}

// Scan walks the keyspace with SCAN so large keyspaces never block the server.
func (r *Redis) Scan(ctx context.Context, pattern string) ([]string, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis: get connection: %w", err)
	}
	defer conn.Close()

	var (
		cursor int64
		keys   []string
	)

	for {
		values, err := redis.Values(redis.DoContext(conn, ctx, "SCAN", cursor, "MATCH", pattern, "COUNT", scanCount))
		if err != nil {
			return nil, fmt.Errorf("redis: SCAN: %w", err)
		}

		var batch []string
		if _, err := redis.Scan(values, &cursor, &batch); err != nil {
			return nil, fmt.Errorf("redis: SCAN reply: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			return keys, nil
		}
	}
}

func (r *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	return redis.Int64(r.do(ctx, "DEL", args...))
}

func (r *Redis) Ping(ctx context.Context) error {
	_, err := r.do(ctx, "PING")

	return err
}

// Close releases pooled connections.
func (r *Redis) Close() error {
	return r.pool.Close()
}

// ttlSeconds rounds up so sub-second TTLs never become "no expiry".
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}

	return secs
}
