package avatar

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/eventloop"
	"github.com/normanking/talkingavatar/internal/media"
	"github.com/normanking/talkingavatar/internal/narration"
)

// Runtime is the goroutine-safe face of a Controller. Requests are posted
// to the event loop; snapshots and domain events are published on the bus.
type Runtime struct {
	loop   *eventloop.Loop
	ctrl   *Controller
	bus    *bus.EventBus
	logger zerolog.Logger

	mu   sync.RWMutex
	snap Snapshot
}

// NewRuntime takes over ctrl's hooks. It must be called before loop starts.
func NewRuntime(loop *eventloop.Loop, ctrl *Controller, eventBus *bus.EventBus, logger zerolog.Logger) *Runtime {
	r := &Runtime{
		loop:   loop,
		ctrl:   ctrl,
		bus:    eventBus,
		logger: logger.With().Str("component", "runtime").Logger(),
		snap:   ctrl.Snapshot(),
	}
	ctrl.SetHooks(Hooks{
		OnSnapshot: r.store,
		OnEvent:    eventBus.Publish,
	})
	return r
}

func (r *Runtime) store(s Snapshot) {
	r.mu.Lock()
	r.snap = s
	r.mu.Unlock()
	r.bus.Publish(bus.Event{
		Type: bus.EventTypeSnapshot,
		Data: map[string]any{"snapshot": s},
	})
}

// Snapshot returns the latest published snapshot.
func (r *Runtime) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Bus returns the bus snapshots are published on.
func (r *Runtime) Bus() *bus.EventBus { return r.bus }

// Subscribe calls fn with every new snapshot, in order, on a bus goroutine.
func (r *Runtime) Subscribe(fn func(Snapshot)) bus.SubscriptionID {
	return r.bus.Subscribe(bus.EventTypeSnapshot, func(e bus.Event) {
		if s, ok := SnapshotFromEvent(e); ok {
			fn(s)
		}
	})
}

// Unsubscribe removes a Subscribe handler.
func (r *Runtime) Unsubscribe(id bus.SubscriptionID) {
	r.bus.Unsubscribe(id)
}

// SnapshotFromEvent extracts the snapshot carried by a snapshot event.
func SnapshotFromEvent(e bus.Event) (Snapshot, bool) {
	if e.Type != bus.EventTypeSnapshot {
		return Snapshot{}, false
	}
	s, ok := e.Data["snapshot"].(Snapshot)
	return s, ok
}

func (r *Runtime) command(name string, fn func()) {
	r.logger.Debug().Str("command", name).Msg("Command received")
	r.bus.Publish(bus.Event{Type: bus.EventTypeCommand, Data: map[string]any{"command": name}})
	r.loop.Post(fn)
}

// RequestPlay asks for playback.
func (r *Runtime) RequestPlay() { r.command(CommandPlay, r.ctrl.Play) }

// RequestPause asks for a pause.
func (r *Runtime) RequestPause() { r.command(CommandPause, r.ctrl.Pause) }

// RequestTogglePlay pauses when playing and plays otherwise.
func (r *Runtime) RequestTogglePlay() { r.command(CommandToggle, r.ctrl.TogglePlay) }

// RequestRewind seeks back by seconds; zero means the configured step.
func (r *Runtime) RequestRewind(seconds float64) {
	d := time.Duration(seconds * float64(time.Second))
	r.command(CommandRewind, func() { r.ctrl.Rewind(d) })
}

// RequestMuteToggle flips the mute.
func (r *Runtime) RequestMuteToggle() { r.command(CommandMute, r.ctrl.ToggleMute) }

// RequestReset returns to the initial position.
func (r *Runtime) RequestReset() { r.command(CommandReset, r.ctrl.Reset) }

// RequestAvatarToggle swaps between the video and the still image.
func (r *Runtime) RequestAvatarToggle() { r.command(CommandAvatar, r.ctrl.ToggleAvatar) }

// SetAvatars replaces the sources the avatar toggle switches between.
func (r *Runtime) SetAvatars(a Avatars) {
	r.loop.Post(func() { r.ctrl.SetAvatars(a) })
}

// SetMuted sets the mute flag.
func (r *Runtime) SetMuted(muted bool) {
	r.loop.Post(func() { r.ctrl.SetMuted(muted) })
}

// SetSource loads a new media source.
func (r *Runtime) SetSource(src media.Source) {
	r.loop.Post(func() { r.ctrl.SetSource(src) })
}

// SetScript replaces the narration segments.
func (r *Runtime) SetScript(segments []narration.Segment) {
	r.loop.Post(func() { r.ctrl.SetScript(segments) })
}

// Retry reloads the current source and waits for the attempt to start.
func (r *Runtime) Retry(ctx context.Context) error {
	var err error
	if callErr := r.loop.Call(ctx, func() { err = r.ctrl.Retry() }); callErr != nil {
		return callErr
	}
	return err
}

// Close releases the media and stops narration.
func (r *Runtime) Close(ctx context.Context) error {
	return r.loop.Call(ctx, r.ctrl.Close)
}

var _ Commands = (*Runtime)(nil)
