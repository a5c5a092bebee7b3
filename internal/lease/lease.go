// Package lease provides short-lived exclusive claims backed by Redis.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another holder owns the lease.
var ErrHeld = errors.New("lease held by another worker")

// releaseScript deletes the key only if it still carries our token, so an
// expired lease re-taken by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out leases under a common key prefix.
type Locker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// New returns a Locker whose leases expire after ttl unless released.
func New(rdb *redis.Client, prefix string, ttl time.Duration) *Locker {
	return &Locker{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Lease is a held claim.
type Lease struct {
	rdb   *redis.Client
	key   string
	token string
}

// Acquire claims key with SET NX PX. ErrHeld means someone else has it.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lease, error) {
	k := l.prefix + key
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", k, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{rdb: l.rdb, key: k, token: token}, nil
}

// Release drops the lease if it is still ours.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
