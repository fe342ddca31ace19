package eventloop

import (
	"sort"
	"time"
)

// Timer is a cancellable one-shot timer.
type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer, false if it already fired or was stopped.
	Stop() bool
}

// Scheduler is the only source of time and deferred work for the core.
// Callbacks registered through it always run on the owning loop.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
	Post(fn func())
}

// ManualScheduler is a virtual-time Scheduler. Nothing runs until Flush or
// Advance is called, and everything then runs on the calling goroutine in
// deterministic order: posted tasks first, then timers by due time.
type ManualScheduler struct {
	now     time.Time
	start   time.Time
	queue   []func()
	timers  []*manualTimer
	seq     uint64
	running bool
}

// NewManualScheduler returns a scheduler whose clock starts at the Unix epoch.
func NewManualScheduler() *ManualScheduler {
	epoch := time.Unix(0, 0).UTC()
	return &ManualScheduler{now: epoch, start: epoch}
}

// Now returns the virtual time.
func (s *ManualScheduler) Now() time.Time { return s.now }

// Elapsed returns the virtual time passed since creation.
func (s *ManualScheduler) Elapsed() time.Duration { return s.now.Sub(s.start) }

// Post queues fn for the next Flush.
func (s *ManualScheduler) Post(fn func()) {
	s.queue = append(s.queue, fn)
}

// AfterFunc schedules fn at Now()+d.
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	s.seq++
	t := &manualTimer{when: s.now.Add(d), seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// Pending reports how many timers are still armed.
func (s *ManualScheduler) Pending() int {
	n := 0
	for _, t := range s.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// Flush runs queued tasks, including tasks they queue, until the queue is empty.
func (s *ManualScheduler) Flush() {
	if s.running {
		return
	}
	s.running = true
	defer func() { s.running = false }()

	for len(s.queue) > 0 {
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		fn()
	}
}

// Advance moves virtual time forward by d, firing every timer that comes
// due on the way, each at its own instant.
func (s *ManualScheduler) Advance(d time.Duration) {
	target := s.now.Add(d)
	s.Flush()

	for {
		t := s.nextDue(target)
		if t == nil {
			break
		}
		s.now = t.when
		t.done = true
		t.fn()
		s.Flush()
	}

	s.now = target
	s.compact()
}

// AdvanceTo moves virtual time to Elapsed()==offset.
func (s *ManualScheduler) AdvanceTo(offset time.Duration) {
	if d := offset - s.Elapsed(); d > 0 {
		s.Advance(d)
		return
	}
	s.Flush()
}

func (s *ManualScheduler) nextDue(target time.Time) *manualTimer {
	sort.SliceStable(s.timers, func(i, j int) bool {
		if s.timers[i].when.Equal(s.timers[j].when) {
			return s.timers[i].seq < s.timers[j].seq
		}
		return s.timers[i].when.Before(s.timers[j].when)
	})
	for _, t := range s.timers {
		if t.done {
			continue
		}
		if t.when.After(target) {
			return nil
		}
		return t
	}
	return nil
}

func (s *ManualScheduler) compact() {
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.done {
			live = append(live, t)
		}
	}
	s.timers = live
}

type manualTimer struct {
	when time.Time
	seq  uint64
	fn   func()
	done bool
}

func (t *manualTimer) Stop() bool {
	if t.done {
		return false
	}
	t.done = true
	return true
}
