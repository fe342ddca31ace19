package avatar

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/media"
	"github.com/normanking/talkingavatar/internal/narration"
)

// DefaultRewind is the step of a rewind request without an explicit amount.
const DefaultRewind = 5 * time.Second

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	Mode    Mode
	Rewind  time.Duration
	Avatars Avatars
}

// Avatars are the two presentations the avatar toggle switches between.
// Either may be empty.
type Avatars struct {
	Video media.Source
	Image media.Source
}

// Hooks receive the controller's output on the event loop.
type Hooks struct {
	// OnSnapshot receives each new snapshot, at most one per event.
	OnSnapshot func(Snapshot)
	// OnEvent receives domain events as they happen.
	OnEvent func(bus.Event)
}

// Controller owns one media machine and one narration sequencer and
// reconciles them. It is not safe for concurrent use; every method must
// run on the event loop that drives the machine and the sequencer.
type Controller struct {
	machine *media.Machine
	seq     *narration.Sequencer
	logger  zerolog.Logger
	mode    Mode
	rewind  time.Duration
	avatars Avatars
	hooks   Hooks

	muted     bool
	hasSpoken bool

	depth    int
	dirty    bool
	seqNo    uint64
	last     Snapshot
	lastLoad media.LoadState
	lastGen  uint64
}

// NewController wires machine and seq together. It takes over their hooks.
func NewController(machine *media.Machine, seq *narration.Sequencer, cfg ControllerConfig, logger zerolog.Logger) *Controller {
	if cfg.Mode == "" {
		cfg.Mode = ModeNarrated
	}
	if cfg.Rewind <= 0 {
		cfg.Rewind = DefaultRewind
	}
	c := &Controller{
		machine: machine,
		seq:     seq,
		logger:  logger.With().Str("component", "avatar").Logger(),
		mode:    cfg.Mode,
		rewind:  cfg.Rewind,
		avatars: cfg.Avatars,
	}

	machine.SetHooks(media.Hooks{
		OnChange:        c.onMediaChange,
		OnEnded:         c.onMediaEnded,
		OnAutoplayRetry: c.onAutoplayRetry,
	})
	seq.SetEvents(narration.Events{
		OnSegmentStart: c.onSegmentStart,
		OnSegmentError: c.onSegmentError,
		OnSequenceEnd:  c.onSequenceEnd,
		OnFallback:     c.onFallback,
		OnChange:       func(narration.State) { c.do(c.markDirty) },
	})

	c.last = c.derive()
	return c
}

// SetHooks replaces the output hooks.
func (c *Controller) SetHooks(h Hooks) {
	c.hooks = h
}

// Mode returns the presentation mode.
func (c *Controller) Mode() Mode { return c.mode }

// Snapshot returns the most recently published snapshot.
func (c *Controller) Snapshot() Snapshot { return c.last }

// Play sets the playback intent and starts or resumes narration. Without
// a script there is nothing to narrate and only the media plays.
func (c *Controller) Play() {
	c.do(func() {
		c.machine.SetIntent(media.Play)
		if c.mode != ModeNarrated || c.seq.Status().Segments == 0 {
			return
		}
		switch c.seq.State().Kind {
		case narration.Paused:
			c.seq.Resume()
		case narration.Idle:
			c.seq.StartAt(c.seq.Cursor())
		case narration.Complete:
			c.seq.Start()
		}
	})
}

// Pause clears the playback intent and pauses narration.
func (c *Controller) Pause() {
	c.do(func() {
		c.machine.SetIntent(media.Pause)
		if c.mode == ModeNarrated {
			c.seq.Pause()
		}
	})
}

// TogglePlay pauses when anything is playing and plays otherwise.
func (c *Controller) TogglePlay() {
	if c.playing() {
		c.Pause()
	} else {
		c.Play()
	}
}

// Rewind seeks the media back by d, or by the configured step when d is
// not positive. Narration keeps its place.
func (c *Controller) Rewind(d time.Duration) {
	if d <= 0 {
		d = c.rewind
	}
	c.do(func() {
		c.machine.SeekRelative(-d)
		c.markDirty()
	})
}

// SetMuted mutes media and later narration.
func (c *Controller) SetMuted(muted bool) {
	c.do(func() {
		c.muted = muted
		c.machine.SetMuted(muted)
		c.seq.SetMuted(muted)
	})
}

// ToggleMute flips the effective mute.
func (c *Controller) ToggleMute() {
	c.SetMuted(!c.machine.Status().Muted)
}

// Reset cancels narration, pauses and rewinds the media to the start.
func (c *Controller) Reset() {
	c.do(func() {
		c.seq.Cancel()
		c.machine.SetIntent(media.Pause)
		c.machine.SeekTo(0)
		c.markDirty()
	})
}

// SetSource loads src, keeping the current intent and mute.
func (c *Controller) SetSource(src media.Source) {
	c.do(func() {
		src.Intent = c.machine.Intent()
		src.Muted = c.muted
		c.machine.SetSource(src)
	})
}

// SetAvatars replaces the sources ToggleAvatar switches between.
func (c *Controller) SetAvatars(a Avatars) {
	c.avatars = a
}

// ToggleAvatar loads the still image while the video is shown and the
// video otherwise. Narration is untouched.
func (c *Controller) ToggleAvatar() {
	next := c.avatars.Image
	if c.machine.Status().Source.Kind == media.KindImage {
		next = c.avatars.Video
	}
	if next.URI == "" {
		c.logger.Debug().Msg("No other avatar configured")
		return
	}
	c.do(func() {
		c.logger.Info().Str("source", next.URI).Str("kind", string(next.Kind)).Msg("Switching avatar")
		c.SetSource(next)
		c.emit(bus.EventTypeAvatarChanged, map[string]any{"source": next.URI, "kind": string(next.Kind)})
	})
}

// Retry reloads the current source.
func (c *Controller) Retry() error {
	var err error
	c.do(func() { err = c.machine.Retry() })
	return err
}

// SetScript replaces the narration segments. Narration is cancelled and
// playback paused.
func (c *Controller) SetScript(segments []narration.Segment) {
	c.do(func() {
		c.seq.SetSegments(segments)
		c.machine.SetIntent(media.Pause)
		c.markDirty()
	})
}

// Close stops narration and releases the media.
func (c *Controller) Close() {
	c.do(func() {
		c.seq.Cancel()
		c.machine.Close()
	})
}

func (c *Controller) playing() bool {
	if c.machine.Intent() == media.Play {
		return true
	}
	return c.mode == ModeNarrated && c.seq.State().Kind == narration.Speaking
}

// do runs fn and publishes a single snapshot afterwards if anything changed.
// Nested calls publish once, from the outermost.
func (c *Controller) do(fn func()) {
	c.depth++
	fn()
	c.depth--
	if c.depth > 0 || !c.dirty {
		return
	}
	c.dirty = false
	c.publish()
}

func (c *Controller) markDirty() { c.dirty = true }

func (c *Controller) derive() Snapshot {
	return Derive(Inputs{
		Mode:      c.mode,
		Media:     c.machine.Status(),
		Narration: c.seq.Status(),
		Segments:  c.seq.Segments(),
		HasSpoken: c.hasSpoken,
	})
}

func (c *Controller) publish() {
	snap := c.derive()
	if snap.sameAs(c.last) {
		return
	}
	c.seqNo++
	snap.Seq = c.seqNo
	c.last = snap
	if c.hooks.OnSnapshot != nil {
		c.hooks.OnSnapshot(snap)
	}
}

func (c *Controller) emit(t bus.EventType, data map[string]any) {
	if c.hooks.OnEvent != nil {
		c.hooks.OnEvent(bus.Event{Type: t, Data: data})
	}
}

func (c *Controller) onMediaChange(st media.Status) {
	c.do(func() {
		c.markDirty()

		if st.State != c.lastLoad || st.Generation != c.lastGen {
			c.lastLoad, c.lastGen = st.State, st.Generation
			data := map[string]any{"source": st.Source.URI, "source_id": st.SourceID}
			switch st.State {
			case media.Loading:
				c.emit(bus.EventTypeMediaLoading, data)
			case media.Ready:
				c.emit(bus.EventTypeMediaReady, data)
			case media.Failed:
				data["kind"] = media.ErrorKind(st.Err)
				if st.Err != nil {
					data["error"] = st.Err.Error()
				}
				c.emit(bus.EventTypeMediaFailed, data)
			}
		}

		// A failed source must not keep asking for playback.
		if st.State == media.Failed && st.Intent == media.Play {
			c.logger.Warn().Err(st.Err).Msg("Media failed, pausing")
			c.machine.SetIntent(media.Pause)
		}
	})
}

func (c *Controller) onMediaEnded() {
	c.do(func() {
		c.markDirty()
		c.emit(bus.EventTypeMediaEnded, nil)
		if c.mode == ModeNarrated && c.seq.State().Kind == narration.Speaking {
			// Keep the face moving while the voice still talks.
			c.machine.SeekTo(0)
			c.machine.SetIntent(media.Play)
			return
		}
		c.machine.SetIntent(media.Pause)
	})
}

func (c *Controller) onAutoplayRetry() {
	c.do(func() {
		c.markDirty()
		c.emit(bus.EventTypeMediaAutoplayRetry, nil)
	})
}

func (c *Controller) onSegmentStart(index int) {
	c.do(func() {
		c.hasSpoken = true
		c.markDirty()
		c.emit(bus.EventTypeSegmentStarted, map[string]any{"index": index})
	})
}

func (c *Controller) onSegmentError(index int, err error) {
	c.emit(bus.EventTypeSegmentFailed, map[string]any{"index": index, "error": err.Error()})
}

func (c *Controller) onSequenceEnd() {
	c.do(func() {
		c.markDirty()
		c.emit(bus.EventTypeSequenceEnded, nil)
		if c.mode == ModeNarrated {
			c.machine.SetIntent(media.Pause)
		}
	})
}

func (c *Controller) onFallback(from string, err error) {
	data := map[string]any{"from": from}
	if err != nil {
		data["error"] = err.Error()
	}
	c.emit(bus.EventTypeNarrationFallback, data)
	c.do(c.markDirty)
}
