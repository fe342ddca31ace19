// Package eventloop runs the avatar core on a single goroutine.
//
// Every load callback, timer fire, speech notification and user intent is
// posted onto one Loop and runs to completion before the next one starts.
// Components never lock; they rely on the loop for exclusion.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrStopped is returned when work is posted to a loop that has shut down.
var ErrStopped = errors.New("event loop stopped")

// Loop is a FIFO executor backed by a single goroutine.
type Loop struct {
	logger zerolog.Logger

	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	stopped bool

	done chan struct{}
}

// New creates a loop. Call Run (or Start) to begin processing.
func New(logger zerolog.Logger) *Loop {
	return &Loop{
		logger: logger.With().Str("component", "eventloop").Logger(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post queues fn. It never blocks, so it is safe to call from the loop
// goroutine itself and from any other goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call posts fn and waits for it to finish. It must not be used from the
// loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.mu.Unlock()

	l.Post(func() {
		defer close(finished)
		fn()
	})

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs the loop on a new goroutine.
func (l *Loop) Start(ctx context.Context) {
	go func() {
		if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Warn().Err(err).Msg("Event loop exited")
		}
	}()
}

// Run processes posted work until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	defer l.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
			for {
				fn, ok := l.next()
				if !ok {
					break
				}
				l.execute(fn)
			}
		}
	}
}

// Stop ends the loop. Work still queued is discarded.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.pending = nil
	close(l.done)
}

// Done is closed once the loop has been stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) shutdown() {
	l.Stop()
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || len(l.pending) == 0 {
		return nil, false
	}
	fn := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return fn, true
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("Recovered panic in event loop task")
		}
	}()
	fn()
}

// Scheduler returns a Scheduler whose timers fire on this loop.
func (l *Loop) Scheduler() Scheduler {
	return &loopScheduler{loop: l}
}

type loopScheduler struct {
	loop *Loop
}

func (s *loopScheduler) Now() time.Time { return time.Now() }

func (s *loopScheduler) Post(fn func()) { s.loop.Post(fn) }

func (s *loopScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		s.loop.Post(func() {
			// Stop may have run on the loop after the runtime timer fired
			// but before this task was dequeued.
			if t.stopped {
				return
			}
			t.stopped = true
			fn()
		})
	})
	return t
}

// loopTimer is only stopped from the loop goroutine, which is also where
// its callback checks the flag, so the flag needs no lock.
type loopTimer struct {
	timer   *time.Timer
	stopped bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	t.timer.Stop()
	return true
}
