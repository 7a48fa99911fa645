package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, opts Options) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, nil, opts), mr
}

func TestAcquireRelease(t *testing.T) {
	l, _ := newTestLocker(t, Options{})
	ctx := context.Background()

	h, err := l.Acquire(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, h)

	require.NoError(t, l.Release(ctx, h))

	h2, err := l.Acquire(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, h2)
}

func TestAcquireContendedFailsFast(t *testing.T) {
	l, _ := newTestLocker(t, Options{MaxWait: time.Millisecond, RetryDelay: time.Millisecond})
	ctx := context.Background()

	h, err := l.Acquire(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, h)

	_, err = l.Acquire(ctx, "rec-1")
	require.ErrorIs(t, err, ErrAcquisitionFailed)
}

func TestReleaseDoesNotAffectOtherHolder(t *testing.T) {
	l, mr := newTestLocker(t, Options{})
	ctx := context.Background()

	h, err := l.Acquire(ctx, "rec-1")
	require.NoError(t, err)

	// Simulate a stale handle: someone else's token has since taken the key.
	require.NoError(t, mr.Set("viewkv:lock:rec-1", "someone-elses-token"))

	require.NoError(t, l.Release(ctx, h))

	val, err := mr.Get("viewkv:lock:rec-1")
	require.NoError(t, err)
	require.Equal(t, "someone-elses-token", val)
}
