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

// Package scheduler coalesces bursts of sync requests into single runs of
// a job.
//
// Every Schedule call restarts a fixed debounce window. When the window
// elapses the job runs once for every call made before it started. Calls
// made while the job is running are folded into exactly one follow-up run,
// which starts after a fresh window once the current run completes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-objsync/pkg/adapters"
)

// ErrStopped is reported by sessions that were pending when the scheduler
// stopped.
var ErrStopped = errors.New("scheduler stopped")

// Job is the unit of work run by the scheduler.
type Job func(ctx context.Context) error

// Session tracks one run of the job shared by every Schedule call that was
// coalesced into it.
type Session struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newSession() *Session {
	return &Session{done: make(chan struct{})}
}

func (s *Session) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Done is closed when the run completes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the run's error once Done is closed, nil before.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until the run completes or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for job failures.
func WithLogger(logger adapters.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Scheduler debounces calls to a job.
type Scheduler struct {
	delay  time.Duration
	job    Job
	logger adapters.Logger

	mu          sync.Mutex
	generation  uint64
	timer       *time.Timer
	cancelTimer context.CancelFunc
	pending     *Session
	running     bool
	cancelRun   context.CancelFunc
	followUp    bool
	followDelay time.Duration
	listeners   map[int]func(*Session)
	nextID      int
	stopped     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler that runs job after delay of inactivity.
func New(delay time.Duration, job Job, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		delay:     delay,
		job:       job,
		logger:    adapters.NewNoOpLogger(),
		listeners: make(map[int]func(*Session)),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule requests a run after the debounce window and returns the
// session the request was folded into.
func (s *Scheduler) Schedule() *Session {
	return s.schedule(s.delay)
}

// ScheduleNow requests a run without waiting for the debounce window.
func (s *Scheduler) ScheduleNow() *Session {
	return s.schedule(0)
}

func (s *Scheduler) schedule(delay time.Duration) *Session {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		sess := newSession()
		sess.finish(ErrStopped)
		return sess
	}

	opened := s.pending == nil
	if opened {
		s.pending = newSession()
	}
	sess := s.pending

	if s.running {
		if !s.followUp || delay < s.followDelay {
			s.followDelay = delay
		}
		s.followUp = true
	} else {
		s.arm(delay)
	}

	var listeners []func(*Session)
	if opened {
		listeners = s.snapshotListeners()
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(sess)
	}
	return sess
}

// arm replaces the pending timer (must be called with mu held).
func (s *Scheduler) arm(delay time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
		s.cancelTimer()
	}
	s.generation++
	gen := s.generation
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelTimer = cancel
	s.timer = time.AfterFunc(delay, func() { s.fire(ctx, gen) })
}

func (s *Scheduler) fire(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if gen != s.generation || ctx.Err() != nil || s.stopped {
		s.mu.Unlock()
		return
	}
	sess := s.pending
	s.pending = nil
	s.timer = nil
	cancelTimer := s.cancelTimer
	s.cancelTimer = nil
	runCtx, cancelRun := context.WithCancel(ctx)
	s.cancelRun = cancelRun
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()

	err := s.run(runCtx)
	cancelRun()
	cancelTimer()
	if err != nil {
		s.logger.Error(s.ctx, "Scheduled run failed",
			adapters.Field{Key: "error", Value: err.Error()})
	}
	sess.finish(err)

	s.mu.Lock()
	s.running = false
	s.cancelRun = nil
	if s.followUp && !s.stopped {
		s.followUp = false
		s.arm(s.followDelay)
	}
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduled job panicked: %v", r)
		}
	}()
	return s.job(ctx)
}

// OnProcess registers a listener called with every newly opened session,
// immediately if one is already open. The returned func unsubscribes.
func (s *Scheduler) OnProcess(listener func(*Session)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	open := s.pending
	s.mu.Unlock()

	if open != nil {
		listener(open)
	}
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Scheduler) snapshotListeners() []func(*Session) {
	out := make([]func(*Session), 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if l, ok := s.listeners[id]; ok {
			out = append(out, l)
		}
	}
	return out
}

// Pending reports whether a run is scheduled or in flight.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil || s.running
}

// Stop cancels the pending run, signals the running job's context and
// waits for it to return. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.cancelTimer()
		s.timer = nil
	}
	if s.cancelRun != nil {
		s.cancelRun()
	}
	pending := s.pending
	s.pending = nil
	s.followUp = false
	s.mu.Unlock()

	s.cancel()
	if pending != nil {
		pending.finish(ErrStopped)
	}
	s.wg.Wait()
}
