// Package lock provides Redis-backed mutexes for work keyed by a gateway token.
package lock

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultExpiry = 30 * time.Second
	DefaultTries  = 3
)

type Locker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	tries  int
}

func New(rdb *redis.Client) *Locker {
	return &Locker{
		rs:     redsync.New(goredis.NewPool(rdb)),
		expiry: DefaultExpiry,
		tries:  DefaultTries,
	}
}

// WithExpiry returns a copy using a different lock lifetime.
func (l *Locker) WithExpiry(d time.Duration) *Locker {
	c := *l
	c.expiry = d
	return &c
}

// WithTries returns a copy that attempts acquisition n times.
func (l *Locker) WithTries(n int) *Locker {
	c := *l
	c.tries = n
	return &c
}

// Lock acquires key and returns its release function.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex(
		key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, err
	}
	return func() {
		// Unlock on a fresh context: the request context may already be done.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := mutex.UnlockContext(unlockCtx); err != nil {
			log.Warnf("[Lock] Failed to unlock %s: %v", key, err)
		}
	}, nil
}
