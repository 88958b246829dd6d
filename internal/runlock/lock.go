// Package runlock keeps two importer processes from running at the same time.
package runlock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Both scripts act only while the key still holds the caller's value, so a
// run whose lease expired cannot touch the lease of the run that followed.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

var (
	ErrLockHeld          = errors.New("lock_held")
	ErrLockLost          = errors.New("lock_lost")
	ErrLockNotConfigured = errors.New("lock_not_configured")
	ErrInvalidLockKey    = errors.New("invalid_lock_key")
	ErrInvalidLockTTL    = errors.New("invalid_lock_ttl")
)

// Lease is a held run lock.
type Lease struct {
	Key    string
	Holder string
	TTL    time.Duration
}

// Locker hands out exclusive leases. Acquire returns ErrLockHeld when another
// holder owns the key.
type Locker interface {
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (*Lease, error)
	Refresh(ctx context.Context, lease *Lease) error
	Release(ctx context.Context, lease *Lease) error
	Holder(ctx context.Context, key string) (string, error)
}

// RedisLocker stores the holder as the key's value with a TTL.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	if client == nil {
		return nil
	}
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, ErrLockNotConfigured
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrInvalidLockKey
	}
	if ttl <= 0 {
		return nil, ErrInvalidLockTTL
	}
	if holder = strings.TrimSpace(holder); holder == "" {
		holder = uuid.NewString()
	}

	ok, err := l.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lease{Key: key, Holder: holder, TTL: ttl}, nil
}

// Refresh pushes the lease expiry out by its TTL. It returns ErrLockLost
// when the key expired or now belongs to someone else.
func (l *RedisLocker) Refresh(ctx context.Context, lease *Lease) error {
	if l == nil || l.client == nil {
		return ErrLockNotConfigured
	}
	if lease == nil {
		return ErrLockLost
	}
	n, err := refreshScript.Run(ctx, l.client, []string{lease.Key}, lease.Holder, lease.TTL.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (l *RedisLocker) Release(ctx context.Context, lease *Lease) error {
	if l == nil || l.client == nil || lease == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{lease.Key}, lease.Holder).Err()
}

// Holder reports who owns key, or "" when it is free.
func (l *RedisLocker) Holder(ctx context.Context, key string) (string, error) {
	if l == nil || l.client == nil {
		return "", ErrLockNotConfigured
	}
	holder, err := l.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return holder, err
}
