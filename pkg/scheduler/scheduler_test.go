// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-objsync.
//
// go-objsync is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDelay = 20 * time.Millisecond

func waitDone(t *testing.T, sess *Session) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sess.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "session did not complete")
	return err
}

func TestSchedule_Coalesces(t *testing.T) {
	var runs atomic.Int32
	s := New(testDelay, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	defer s.Stop()

	first := s.Schedule()
	for i := 0; i < 10; i++ {
		assert.Same(t, first, s.Schedule())
	}
	require.NoError(t, waitDone(t, first))

	time.Sleep(3 * testDelay)
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, s.Pending())
}

func TestSchedule_ResetsWindow(t *testing.T) {
	var ranAt atomic.Int64
	var runs atomic.Int32
	s := New(50*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		ranAt.Store(time.Now().UnixNano())
		return nil
	})
	defer s.Stop()

	s.Schedule()
	time.Sleep(30 * time.Millisecond)
	last := time.Now()
	sess := s.Schedule()
	require.NoError(t, waitDone(t, sess))

	assert.GreaterOrEqual(t, time.Duration(ranAt.Load()-last.UnixNano()), 45*time.Millisecond)

	// The superseded window must never fire.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestScheduleNow(t *testing.T) {
	s := New(time.Hour, func(ctx context.Context) error { return nil })
	defer s.Stop()

	start := time.Now()
	require.NoError(t, waitDone(t, s.ScheduleNow()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSchedule_FollowUpAfterInFlight(t *testing.T) {
	var runs atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	s := New(testDelay, func(ctx context.Context) error {
		n := runs.Add(1)
		started <- struct{}{}
		if n == 1 {
			<-release
		}
		return nil
	})
	defer s.Stop()

	first := s.Schedule()
	<-started

	second := s.Schedule()
	third := s.Schedule()
	assert.NotSame(t, first, second)
	assert.Same(t, second, third)

	close(release)
	require.NoError(t, waitDone(t, first))
	require.NoError(t, waitDone(t, second))

	time.Sleep(3 * testDelay)
	assert.Equal(t, int32(2), runs.Load())
}

func TestSchedule_ErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	s := New(testDelay, func(ctx context.Context) error { return boom })
	defer s.Stop()

	sess := s.Schedule()
	assert.Nil(t, sess.Err())
	assert.ErrorIs(t, waitDone(t, sess), boom)
	assert.ErrorIs(t, sess.Err(), boom)
}

func TestSchedule_PanicBecomesError(t *testing.T) {
	s := New(0, func(ctx context.Context) error { panic("bad") })
	defer s.Stop()

	err := waitDone(t, s.Schedule())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestOnProcess(t *testing.T) {
	s := New(testDelay, func(ctx context.Context) error { return nil })
	defer s.Stop()

	var (
		mu   sync.Mutex
		seen []*Session
	)
	listener := func(sess *Session) {
		mu.Lock()
		seen = append(seen, sess)
		mu.Unlock()
	}

	open := s.Schedule()
	unsubscribe := s.OnProcess(listener)

	mu.Lock()
	require.Len(t, seen, 1)
	assert.Same(t, open, seen[0])
	mu.Unlock()

	require.NoError(t, waitDone(t, open))
	next := s.Schedule()
	mu.Lock()
	require.Len(t, seen, 2)
	assert.Same(t, next, seen[1])
	mu.Unlock()

	unsubscribe()
	require.NoError(t, waitDone(t, next))
	s.Schedule()
	mu.Lock()
	assert.Len(t, seen, 2)
	mu.Unlock()
}

func TestStop(t *testing.T) {
	var runs atomic.Int32
	s := New(time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	sess := s.Schedule()
	s.Stop()
	assert.ErrorIs(t, waitDone(t, sess), ErrStopped)
	assert.ErrorIs(t, waitDone(t, s.Schedule()), ErrStopped)
	assert.Equal(t, int32(0), runs.Load())

	// Idempotent.
	s.Stop()
}

func TestStop_CancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	s := New(0, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	sess := s.Schedule()
	<-started
	s.Stop()
	assert.ErrorIs(t, waitDone(t, sess), context.Canceled)
}
