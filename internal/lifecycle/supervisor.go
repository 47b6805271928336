package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// DefaultMaxConcurrent bounds the operations executing at once.
const DefaultMaxConcurrent = 4

// Supervisor runs background tasks on a bounded pool. Submission never
// blocks; a task waits for a free slot. Errors and panics are logged.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	slots  chan struct{}
	wg     sync.WaitGroup
	active atomic.Int64
	logger *slog.Logger
}

// NewSupervisor creates a supervisor running at most maxConcurrent tasks.
func NewSupervisor(maxConcurrent int, logger *slog.Logger) *Supervisor {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		slots:  make(chan struct{}, maxConcurrent),
		logger: logger,
	}
}

// Go schedules task. logger carries the task's identifying attributes.
func (s *Supervisor) Go(logger *slog.Logger, task func(ctx context.Context) error) {
	s.wg.Add(1)
	s.active.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		select {
		case s.slots <- struct{}{}:
		case <-s.ctx.Done():
			logger.Warn("task dropped, supervisor stopped before it could run")
			return
		}
		defer func() { <-s.slots }()

		if err := s.run(task); err != nil {
			logger.Error("task failed", "error", err)
		}
	}()
}

func (s *Supervisor) run(task func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return task(s.ctx)
}

// Active returns the number of submitted tasks that have not returned,
// queued ones included.
func (s *Supervisor) Active() int {
	return int(s.active.Load())
}

// Wait blocks until every submitted task has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Stop cancels running tasks and waits for them, or until ctx is done.
// Abandoned tasks are not resumed.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
