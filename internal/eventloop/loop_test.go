package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_RunsTasksInPostOrder(t *testing.T) {
	loop := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		loop.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	require.NoError(t, loop.Call(ctx, func() {}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestLoop_PostFromLoopRunsAfterCurrentTask(t *testing.T) {
	loop := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)

	var order []string
	require.NoError(t, loop.Call(ctx, func() {
		loop.Post(func() { order = append(order, "nested") })
		order = append(order, "outer")
	}))
	require.NoError(t, loop.Call(ctx, func() {}))

	assert.Equal(t, []string{"outer", "nested"}, order)
}

func TestLoop_RecoversFromPanics(t *testing.T) {
	loop := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)

	loop.Post(func() { panic("boom") })

	ran := false
	require.NoError(t, loop.Call(ctx, func() { ran = true }))
	assert.True(t, ran)
}

func TestLoop_CallAfterStop(t *testing.T) {
	loop := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)
	loop.Stop()

	err := loop.Call(ctx, func() {})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestLoopScheduler_StoppedTimerNeverFires(t *testing.T) {
	loop := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)

	sched := loop.Scheduler()
	fired := make(chan struct{}, 1)

	var timer Timer
	require.NoError(t, loop.Call(ctx, func() {
		timer = sched.AfterFunc(200*time.Millisecond, func() { fired <- struct{}{} })
	}))
	require.NoError(t, loop.Call(ctx, func() {
		assert.True(t, timer.Stop())
		assert.False(t, timer.Stop())
	}))

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestLoopScheduler_TimerFiresOnLoop(t *testing.T) {
	loop := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)

	fired := make(chan struct{})
	require.NoError(t, loop.Call(ctx, func() {
		loop.Scheduler().AfterFunc(5*time.Millisecond, func() { close(fired) })
	}))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
