package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualScheduler_FiresTimersAtTheirInstant(t *testing.T) {
	s := NewManualScheduler()

	var seen []time.Duration
	s.AfterFunc(300*time.Millisecond, func() { seen = append(seen, s.Elapsed()) })
	s.AfterFunc(100*time.Millisecond, func() { seen = append(seen, s.Elapsed()) })

	s.Advance(time.Second)

	assert.Equal(t, []time.Duration{100 * time.Millisecond, 300 * time.Millisecond}, seen)
	assert.Equal(t, time.Second, s.Elapsed())
	assert.Zero(t, s.Pending())
}

func TestManualScheduler_StopPreventsFire(t *testing.T) {
	s := NewManualScheduler()

	fired := false
	timer := s.AfterFunc(time.Second, func() { fired = true })
	assert.Equal(t, 1, s.Pending())
	assert.True(t, timer.Stop())

	s.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestManualScheduler_PostedTasksRunOnFlush(t *testing.T) {
	s := NewManualScheduler()

	var order []string
	s.Post(func() {
		order = append(order, "first")
		s.Post(func() { order = append(order, "chained") })
	})
	s.Post(func() { order = append(order, "second") })
	assert.Empty(t, order)

	s.Flush()
	assert.Equal(t, []string{"first", "second", "chained"}, order)
}

func TestManualScheduler_TimerArmedByTimer(t *testing.T) {
	s := NewManualScheduler()

	var at time.Duration
	s.AfterFunc(time.Second, func() {
		s.AfterFunc(time.Second, func() { at = s.Elapsed() })
	})

	s.Advance(5 * time.Second)
	assert.Equal(t, 2*time.Second, at)
}

func TestManualScheduler_AdvanceTo(t *testing.T) {
	s := NewManualScheduler()
	s.AdvanceTo(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, s.Elapsed())

	s.AdvanceTo(50 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, s.Elapsed())
}
