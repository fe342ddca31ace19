package avatar

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/eventloop"
	"github.com/normanking/talkingavatar/internal/media"
	"github.com/normanking/talkingavatar/internal/narration"
)

func newTestRuntime(t *testing.T) (*Runtime, *fakeProvider) {
	t.Helper()
	loop := eventloop.New(zerolog.Nop())
	sched := loop.Scheduler()
	provider := &fakeProvider{}
	machine := media.NewMachine(sched, provider, media.Config{}, zerolog.Nop())
	seq := narration.NewSequencer(sched, nil, narration.NewTypewriter(sched, 1000), narration.DefaultVoiceParams(), zerolog.Nop())
	seq.SetSegments(narration.NewSegments([]string{"Hola", "Mundo"}))
	ctrl := NewController(machine, seq, ControllerConfig{Mode: ModeNarrated}, zerolog.Nop())

	eventBus := bus.NewEventBus()
	rt := NewRuntime(loop, ctrl, eventBus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
		eventBus.Close()
	})
	return rt, provider
}

func TestRuntimePublishesSnapshots(t *testing.T) {
	rt, _ := newTestRuntime(t)

	var mu sync.Mutex
	var got []Snapshot
	rt.Subscribe(func(s Snapshot) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	rt.RequestPlay()

	require.Eventually(t, func() bool {
		return rt.Snapshot().Narration == "complete"
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1].Narration == "complete"
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}
	assert.True(t, got[len(got)-1].HasSpoken)
}

func TestRuntimeSetSourceAndRetry(t *testing.T) {
	rt, provider := newTestRuntime(t)
	ctx := context.Background()

	require.ErrorIs(t, rt.Retry(ctx), media.ErrNoSource)

	rt.SetSource(media.Source{URI: "clip.mp4", Kind: media.KindVideo})
	require.Eventually(t, func() bool {
		return rt.Snapshot().LoadState == "loading"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, rt.Retry(ctx))
	require.NoError(t, rt.Close(ctx))
	assert.Equal(t, "unloaded", rt.Snapshot().LoadState)

	// The snapshot is stored on the loop before Close returns.
	var opened int
	require.NoError(t, rt.loop.Call(ctx, func() { opened = len(provider.opened) }))
	assert.Equal(t, 2, opened)
}

func TestRuntimePublishesCommands(t *testing.T) {
	rt, _ := newTestRuntime(t)

	commands := make(chan string, 8)
	rt.Bus().Subscribe(bus.EventTypeCommand, func(e bus.Event) {
		commands <- e.Data["command"].(string)
	})

	rt.RequestMuteToggle()
	rt.RequestRewind(2)
	rt.RequestTogglePlay()
	rt.RequestAvatarToggle()

	assert.Equal(t, CommandMute, <-commands)
	assert.Equal(t, CommandRewind, <-commands)
	assert.Equal(t, CommandToggle, <-commands)
	assert.Equal(t, CommandAvatar, <-commands)
	require.Eventually(t, func() bool { return rt.Snapshot().IsMuted }, time.Second, 5*time.Millisecond)
}

func TestSnapshotFromEvent(t *testing.T) {
	_, ok := SnapshotFromEvent(bus.Event{Type: bus.EventTypeMediaReady})
	assert.False(t, ok)

	s, ok := SnapshotFromEvent(bus.Event{
		Type: bus.EventTypeSnapshot,
		Data: map[string]any{"snapshot": Snapshot{Seq: 3}},
	})
	assert.True(t, ok)
	assert.Equal(t, uint64(3), s.Seq)
}
