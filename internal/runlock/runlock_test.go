package runlock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// fakeRedis emulates SET NX and the compare-and-delete script.
type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

// TestAcquireIsExclusive ensures a second pass sees ErrHeld until release.
func TestAcquireIsExclusive(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	l := New(rdb, nil)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "state.json", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "state.json", time.Minute)
	require.ErrorIs(t, err, ErrHeld)

	other, err := l.Acquire(ctx, "other.json", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	again, err := l.Acquire(ctx, "state.json", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

// TestReleaseKeepsSuccessorLock ensures a stale holder cannot free a newer lease.
func TestReleaseKeepsSuccessorLock(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	l := New(rdb, nil)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "state.json", time.Minute)
	require.NoError(t, err)
	rdb.values[keyPrefix+"state.json"] = "successor-token"

	require.NoError(t, stale(ctx))
	require.Equal(t, "successor-token", rdb.values[keyPrefix+"state.json"])
}

// TestAcquireErrors covers ttl validation and transport failures.
func TestAcquireErrors(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	l := New(rdb, nil)
	_, err := l.Acquire(context.Background(), "k", 0)
	require.Error(t, err)

	rdb.err = errors.New("connection refused")
	_, err = l.Acquire(context.Background(), "k", time.Second)
	require.ErrorContains(t, err, "acquire lock: connection refused")
	require.NotErrorIs(t, err, ErrHeld)
}
