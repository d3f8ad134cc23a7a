package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tippic/tippic_server/internal/lock"
	"github.com/tippic/tippic_server/internal/logging"
)

type countingSweeper struct {
	calls atomic.Int32
}

func (s *countingSweeper) Sweep(context.Context, time.Time) (int, error) {
	s.calls.Add(1)
	return 0, nil
}

func TestSchedulerRunsSweep(t *testing.T) {
	s := New(lock.NewScope(lock.NewMemoryLocker(), logging.Discard()), time.Second, logging.Discard())
	sweeper := &countingSweeper{}
	require.NoError(t, s.AddSweep("@every 1s", sweeper))

	s.Start()
	defer s.Stop(context.Background())

	assert.Eventually(t, func() bool { return sweeper.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := New(lock.NewScope(lock.NewMemoryLocker(), logging.Discard()), time.Second, logging.Discard())
	err := s.AddSweep("every now and then", &countingSweeper{})
	assert.Error(t, err)
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	locker := lock.NewMemoryLocker()
	s := New(lock.NewScope(locker, logging.Discard()), time.Second, logging.Discard())
	_, err := locker.TryAcquire(context.Background(), lock.Name("job", "busy"), time.Minute)
	require.NoError(t, err)

	var ran atomic.Bool
	s.run("busy", func(context.Context) error {
		ran.Store(true)
		return errors.New("should not run")
	})
	assert.False(t, ran.Load())
}
