package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shadimotaali/first-full-paper/internal/logging"
)

const keyPrefix = "mrtverify:"

// Redis shares verdicts between hosts. Values are stored as JSON.
type Redis[V any] struct {
	cli        *redis.Client
	ttl        time.Duration
	log        *logging.Logger
	errorCount int
}

// NewRedis connects to addr and pings it.
func NewRedis[V any](ctx context.Context, addr string, ttl time.Duration, log *logging.Logger) (*Redis[V], error) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := cli.Ping(pingCtx).Err(); err != nil {
		cli.Close()
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Redis[V]{cli: cli, ttl: ttl, log: log}, nil
}

// Get misses on any error.
func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	b, err := r.cli.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logError("get", err)
		}
		return zero, false
	}
	v, err := decode[V](b)
	if err != nil {
		r.logError("decode", err)
		return zero, false
	}
	return v, true
}

// Put is best effort.
func (r *Redis[V]) Put(ctx context.Context, key string, v V) {
	b, err := encode(v)
	if err != nil {
		r.logError("encode", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.cli.Set(ctx, keyPrefix+key, b, r.ttl).Err(); err != nil {
		r.logError("set", err)
	}
}

func (r *Redis[V]) Close() error { return r.cli.Close() }

func (r *Redis[V]) logError(op string, err error) {
	r.errorCount++
	if r.errorCount%100 == 1 { // every 100th
		r.log.Warnw("redis cache error", "op", op, "count", r.errorCount, "err", err)
	}
}

func encode[V any](v V) ([]byte, error) { return json.Marshal(v) }

func decode[V any](b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}

// Ping checks the connection.
func (r *Redis[V]) Ping(ctx context.Context) error { return r.cli.Ping(ctx).Err() }
