package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradeya/backend/internal/testutil"
)

func TestDBLocker_ExcludesOtherInstances(t *testing.T) {
	db := testutil.NewDB(t)
	a, b := NewDBLocker(db), NewDBLocker(db)
	ctx := context.Background()

	ok, err := a.TryLock(ctx, "outbox", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx, "outbox", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = b.TryLock(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// only the holder can release
	require.NoError(t, b.Unlock(ctx, "outbox"))
	ok, err = b.TryLock(ctx, "outbox", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Unlock(ctx, "outbox"))
	ok, err = b.TryLock(ctx, "outbox", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDBLocker_ExpiredLockIsTakenOver(t *testing.T) {
	db := testutil.NewDB(t)
	a, b := NewDBLocker(db), NewDBLocker(db)
	ctx := context.Background()

	ok, err := a.TryLock(ctx, "outbox", -time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.TryLock(ctx, "outbox", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScheduler_RunJob(t *testing.T) {
	db := testutil.NewDB(t)
	s := NewScheduler(NewDBLocker(db), time.Minute)

	var runs atomic.Int32
	require.NoError(t, s.Add("sweep", "@every 1h", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.NoError(t, s.Add("broken", "@every 1h", func(ctx context.Context) error {
		return errors.New("nope")
	}))
	require.NoError(t, s.Add("disabled", "", func(ctx context.Context) error {
		t.Fatal("disabled job ran")
		return nil
	}))
	assert.Error(t, s.Add("bad", "not a spec", func(ctx context.Context) error { return nil }))

	assert.Equal(t, "ok", s.RunJob(context.Background(), "sweep"))
	assert.Equal(t, "ok", s.RunJob(context.Background(), "sweep"))
	assert.Equal(t, int32(2), runs.Load())
	assert.Equal(t, "error", s.RunJob(context.Background(), "broken"))
	assert.Equal(t, "unknown", s.RunJob(context.Background(), "disabled"))
}

func TestScheduler_SkipsWhenLockIsHeld(t *testing.T) {
	db := testutil.NewDB(t)
	other := NewDBLocker(db)
	ok, err := other.TryLock(context.Background(), "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	s := NewScheduler(NewDBLocker(db), time.Minute)
	require.NoError(t, s.Add("sweep", "@every 1h", func(ctx context.Context) error {
		t.Fatal("ran while another instance held the lock")
		return nil
	}))
	assert.Equal(t, "skipped", s.RunJob(context.Background(), "sweep"))
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(nil, 0)
	require.NoError(t, s.Add("noop", "@every 1h", func(ctx context.Context) error { return nil }))
	s.Start()
	s.Stop()
}
