// Package limiter keeps two workers from reordering the same directory.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ErrBusy is returned when another worker holds the directory.
var ErrBusy = errors.New("directory is being reordered by another job")

var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DirLease hands out exclusive, expiring leases on directories.
type DirLease struct {
	rdb *redis.Client
	ttl time.Duration
}

type Options struct {
	RedisURL string
	TTL      time.Duration
}

func New(opts Options) (*DirLease, error) {
	ro, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(ro)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return NewWithClient(c, opts.TTL), nil
}

// NewWithClient shares an existing connection.
func NewWithClient(c *redis.Client, ttl time.Duration) *DirLease {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &DirLease{rdb: c, ttl: ttl}
}

func (l *DirLease) key(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return "lock:dir:" + filepath.Clean(dir)
}

// Acquire takes the lease on dir. The returned function releases it and
// only deletes the key while this holder still owns it.
func (l *DirLease) Acquire(ctx context.Context, dir string) (func(context.Context) error, error) {
	k := l.key(dir)
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lease %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBusy, dir)
	}
	return func(ctx context.Context) error {
		return release.Run(ctx, l.rdb, []string{k}, token).Err()
	}, nil
}

func (l *DirLease) CloseClient() error { return l.rdb.Close() }
