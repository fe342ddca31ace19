package narration

import (
	"time"
	"unicode/utf8"

	"github.com/normanking/talkingavatar/internal/eventloop"
)

// DefaultCharsPerSecond reveals one character every 40ms.
const DefaultCharsPerSecond = 25.0

// Typewriter is the timer backend used when no speech synthesis is
// available. It "speaks" a segment for as long as revealing its characters
// takes and produces the same start and end notifications.
type Typewriter struct {
	sched eventloop.Scheduler
	cps   float64

	listener  UtteranceListener
	text      string
	timer     eventloop.Timer
	duration  time.Duration
	startedAt time.Time
	elapsed   time.Duration // accumulated before the last pause
	paused    bool
}

// NewTypewriter creates a typewriter revealing cps characters per second.
func NewTypewriter(sched eventloop.Scheduler, cps float64) *Typewriter {
	if cps <= 0 {
		cps = DefaultCharsPerSecond
	}
	return &Typewriter{sched: sched, cps: cps}
}

func (t *Typewriter) Name() string    { return "typewriter" }
func (t *Typewriter) Available() bool { return true }
func (t *Typewriter) Voices() []Voice { return nil }

// Duration returns how long text takes to reveal at the given rate.
func (t *Typewriter) Duration(text string, rate float64) time.Duration {
	if rate <= 0 {
		rate = 1
	}
	perChar := time.Duration(float64(time.Second) / (t.cps * rate))
	return time.Duration(utf8.RuneCountInString(text)) * perChar
}

func (t *Typewriter) Speak(u Utterance, l UtteranceListener) error {
	t.Cancel()

	t.listener = l
	t.text = u.Text
	t.duration = t.Duration(u.Text, u.Params.Rate)
	t.elapsed = 0
	t.paused = false
	t.startedAt = t.sched.Now()

	l.Started()
	t.arm(t.duration)
	return nil
}

func (t *Typewriter) arm(d time.Duration) {
	l := t.listener
	t.timer = t.sched.AfterFunc(d, func() {
		t.timer = nil
		t.listener = nil
		l.Finished()
	})
}

func (t *Typewriter) Pause() {
	if t.timer == nil || t.paused {
		return
	}
	t.timer.Stop()
	t.timer = nil
	t.elapsed += t.sched.Now().Sub(t.startedAt)
	t.paused = true
}

func (t *Typewriter) Resume() {
	if !t.paused || t.listener == nil {
		return
	}
	t.paused = false
	t.startedAt = t.sched.Now()
	remaining := t.duration - t.elapsed
	if remaining < 0 {
		remaining = 0
	}
	t.arm(remaining)
}

func (t *Typewriter) Cancel() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.listener = nil
	t.paused = false
}

// Revealed returns the part of the current segment shown so far.
func (t *Typewriter) Revealed() string {
	if t.listener == nil {
		return ""
	}
	elapsed := t.elapsed
	if !t.paused {
		elapsed += t.sched.Now().Sub(t.startedAt)
	}
	return Reveal(t.text, elapsed, t.cps)
}

// Reveal returns the prefix of text visible after elapsed at cps
// characters per second.
func Reveal(text string, elapsed time.Duration, cps float64) string {
	if cps <= 0 {
		cps = DefaultCharsPerSecond
	}
	n := int(elapsed / time.Duration(float64(time.Second)/cps))
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range text {
		if i == n {
			return text[:pos]
		}
		i++
	}
	return text
}
