// Package scheduler runs one optimization cycle per interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// State of the scheduler.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// CycleFunc one optimization cycle.
type CycleFunc func(ctx context.Context) error

// Option configures the scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, used by tests.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// Scheduler drives cycles one at a time. The next cycle is scheduled an interval after
// the previous one settles, so cycles never overlap.
type Scheduler struct {
	logger   *zap.Logger
	clock    Clock
	interval time.Duration
	cycle    CycleFunc

	mu    sync.Mutex
	state State
	stop  chan struct{}
	done  chan struct{}
}

// New creates a stopped scheduler.
func New(logger *zap.Logger, interval time.Duration, cycle CycleFunc, opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.Errorf("interval must be positive, got %s", interval)
	}
	if cycle == nil {
		return nil, errors.New("cycle func is nil")
	}
	s := &Scheduler{
		logger:   logger,
		clock:    realClock{},
		interval: interval,
		cycle:    cycle,
		state:    StateStopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the cycle loop with the first cycle right away. It is a no-op while running.
// After a Stop the new loop waits for the previous one to exit, so a cycle still in flight
// is never joined by a second one.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return
	}
	prev := s.done
	s.state = StateRunning
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	go s.loop(ctx, prev, s.stop, s.done)
}

// Stop prevents any future cycle from starting. A cycle in flight is allowed to finish;
// the returned channel is closed once the loop has exited.
func (s *Scheduler) Stop() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		if s.done == nil {
			closed := make(chan struct{})
			close(closed)
			return closed
		}
		return s.done
	}
	s.state = StateStopped
	close(s.stop)
	s.logger.Info("scheduler stopping")
	return s.done
}

// Run starts the scheduler and blocks until ctx is cancelled and the loop has exited.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	<-s.Stop()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, prev <-chan struct{}, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if prev != nil {
		select {
		case <-prev:
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.runCycle(ctx)

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-s.clock.After(s.interval):
		}
	}
}

// runCycle never lets a failing cycle escape, panics included.
func (s *Scheduler) runCycle(ctx context.Context) {
	started := s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle panicked", zap.String("panic", fmt.Sprint(r)), zap.Stack("stack"))
		}
	}()

	if err := s.cycle(ctx); err != nil {
		s.logger.Error("cycle failed", zap.Error(err), zap.Duration("duration", s.clock.Now().Sub(started)))
		return
	}
	s.logger.Debug("cycle settled", zap.Duration("duration", s.clock.Now().Sub(started)))
}
