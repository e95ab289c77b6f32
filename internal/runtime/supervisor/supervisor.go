// Package supervisor manages named goroutines tied to a shared context:
// panic recovery, optional cancel-on-first-error, restart with backoff,
// and timeout-aware waiting on shutdown.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "pagewatch/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	errOnce  sync.Once
	firstErr atomic.Value // error

	wg sync.WaitGroup

	started atomic.Uint64
	active  atomic.Int64
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the supervisor context on the first non-nil
// error returned by any supervised goroutine.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first error recorded by a supervised goroutine.
func (s *Supervisor) Err() error {
	if v := s.firstErr.Load(); v != nil {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}

// Active reports the number of currently running supervised goroutines.
func (s *Supervisor) Active() int64 { return s.active.Load() }

// Go runs fn once. A returned error is recorded as the first error and,
// with WithCancelOnError, cancels the shared context.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	s.started.Add(1)
	go func() {
		defer s.wg.Done()
		s.active.Add(1)
		defer s.active.Add(-1)
		err := s.runOnce(name, fn)
		if err != nil && err != context.Canceled {
			s.record(name, err)
		}
	}()
}

// Go0 runs a fire-and-forget loop that reports no error.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// GoRestart runs fn and restarts it with exponential backoff whenever it
// returns a non-context error or panics. It stops for good once the
// supervisor context is done or fn returns context.Canceled.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	s.started.Add(1)
	go func() {
		defer s.wg.Done()
		s.active.Add(1)
		defer s.active.Add(-1)

		backoff := 250 * time.Millisecond
		const maxBackoff = 10 * time.Second
		for {
			start := time.Now()
			err := s.runOnce(name, fn)
			if s.ctx.Err() != nil || err == context.Canceled {
				return
			}
			if err == nil {
				err = fmt.Errorf("%s exited unexpectedly", name)
			}
			s.record(name, err)
			// A healthy long run resets the backoff window.
			if time.Since(start) > 30*time.Second {
				backoff = 250 * time.Millisecond
			}
			s.log.Warn("supervised goroutine restarting",
				logx.String("name", name), logx.Err(err), logx.Duration("backoff", backoff))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		}
	}()
}

func (s *Supervisor) runOnce(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", name, r)
			s.log.Error("supervised goroutine panicked",
				logx.String("name", name), logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	return fn(s.ctx)
}

func (s *Supervisor) record(name string, err error) {
	s.errOnce.Do(func() {
		s.firstErr.Store(err)
		if s.cancelOnErr {
			s.log.Error("fatal component error; shutting down",
				logx.String("name", name), logx.Err(err))
			s.cancel()
		}
	})
}

// Wait blocks until all supervised goroutines exit or ctx expires.
func (s *Supervisor) Wait(ctx context.Context) error {
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
