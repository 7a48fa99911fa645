// Package lock implements the advisory per-record lock the write engine
// holds across a save/delete's read-modify-write window (spec.md §4.4):
// a Redis SET NX PX token with a compare-and-delete release, acquired with
// a short bounded retry loop rather than blocking indefinitely.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrAcquisitionFailed is returned by Acquire when the lock could not be
// obtained within the retry budget.
var ErrAcquisitionFailed = errors.New("lock: acquisition failed")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker grants advisory locks on record ids, backed by Redis.
type Locker struct {
	rdb    redis.Cmdable
	log    *zap.Logger
	prefix string

	ttl        time.Duration
	retryDelay time.Duration
	maxRetries int
}

// Options configures a Locker. Zero values fall back to the defaults
// spec.md §5 requires: a 15s lock ttl, and a caller that sleeps 500ms
// between attempts until max_wait (5s) elapses.
type Options struct {
	KeyPrefix  string        // defaults to "viewkv:lock:"
	TTL        time.Duration // defaults to 15s
	RetryDelay time.Duration // defaults to 500ms
	MaxWait    time.Duration // defaults to 5s
}

func New(rdb redis.Cmdable, log *zap.Logger, opts Options) *Locker {
	if log == nil {
		log = zap.NewNop()
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "viewkv:lock:"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	retries := int(maxWait / delay)
	if retries < 1 {
		retries = 1
	}
	return &Locker{
		rdb:        rdb,
		log:        log.Named("lock"),
		prefix:     prefix,
		ttl:        ttl,
		retryDelay: delay,
		maxRetries: retries,
	}
}

// Handle is the token returned by a successful Acquire, passed back to
// Release.
type Handle struct {
	key   string
	token string
}

// Acquire blocks, retrying on a fixed delay, until the lock on id is
// obtained or the retry budget is exhausted.
func (l *Locker) Acquire(ctx context.Context, id string) (*Handle, error) {
	key := l.prefix + id
	token := uuid.NewString()

	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: acquire: %w", err)
		}
		if ok {
			return &Handle{key: key, token: token}, nil
		}
		if attempt == l.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
	l.log.Warn("lock acquisition exhausted retry budget", zap.String("id", id))
	return nil, ErrAcquisitionFailed
}

// Release deletes the lock, but only if it is still held by this Handle's
// token (so a stale goroutine can never release a lock it no longer owns).
func (l *Locker) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, l.rdb, []string{h.key}, h.token).Err(); err != nil {
		return fmt.Errorf("lock: release: %w", err)
	}
	return nil
}
