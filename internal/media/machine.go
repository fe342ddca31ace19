package media

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/eventloop"
)

// DefaultLoadTimeout bounds how long a source may stay Loading.
const DefaultLoadTimeout = 8 * time.Second

// Config holds Machine settings.
type Config struct {
	LoadTimeout time.Duration
}

// Hooks are invoked on the event loop after the machine changes.
type Hooks struct {
	// OnChange fires after any change to Status.
	OnChange func(Status)
	// OnEnded fires once each time playback reaches the end.
	OnEnded func()
	// OnAutoplayRetry fires when a blocked play is retried muted.
	OnAutoplayRetry func()
}

// Stats counts play requests for the current machine.
type Stats struct {
	Loads        int
	PlayRequests int
	MutedRetries int
	Failures     int
}

// Status is a read-only view of the machine.
type Status struct {
	State      LoadState
	Intent     Intent
	Phase      PlayPhase
	Muted      bool
	HasError   bool
	Err        error
	Source     Source
	SourceID   string
	Generation uint64
	Position   time.Duration
}

// FallbackVisible reports whether the fallback still should cover the media.
func (s Status) FallbackVisible() bool {
	return s.State != Ready || s.HasError
}

// Machine is the media load/playback state machine. It is not safe for
// concurrent use; every method must run on the event loop that owns sched.
type Machine struct {
	sched    eventloop.Scheduler
	provider Provider
	logger   zerolog.Logger
	timeout  time.Duration
	hooks    Hooks

	src       Source
	hasSource bool
	sourceID  string
	gen       uint64

	state     LoadState
	intent    Intent
	phase     PlayPhase
	playToken uint64

	userMuted  bool
	forcedMute bool

	resource  Resource
	loadTimer eventloop.Timer
	lastErr   error
	stats     Stats
}

// NewMachine creates a machine with no source.
func NewMachine(sched eventloop.Scheduler, provider Provider, cfg Config, logger zerolog.Logger) *Machine {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	return &Machine{
		sched:    sched,
		provider: provider,
		logger:   logger.With().Str("component", "media").Logger(),
		timeout:  cfg.LoadTimeout,
	}
}

// SetHooks replaces the change hooks.
func (m *Machine) SetHooks(h Hooks) {
	m.hooks = h
}

// SetSource detaches the current resource and starts loading src. Any
// pending timeout, load signal or play result of the previous source is
// discarded.
func (m *Machine) SetSource(src Source) {
	m.detach()

	m.gen++
	gen := m.gen
	m.src = src
	m.hasSource = src.URI != ""
	m.sourceID = uuid.NewString()
	m.intent = src.Intent
	m.userMuted = src.Muted
	m.forcedMute = false
	m.lastErr = nil
	m.state = Unloaded

	if !m.hasSource {
		m.logger.Debug().Msg("Source cleared")
		m.changed()
		return
	}

	m.state = Loading
	m.stats.Loads++
	m.logger.Info().
		Str("uri", src.URI).
		Str("source_id", m.sourceID).
		Uint64("generation", gen).
		Msg("Loading media source")

	res, err := m.provider.Open(src, &sourceListener{m: m, gen: gen})
	if err != nil {
		m.fail(fmt.Errorf("%w: %w", ErrLoadFailed, err))
		return
	}
	m.resource = res
	// Stay muted until data arrives; the effective mute is applied on Ready.
	res.SetMuted(true)

	m.loadTimer = m.sched.AfterFunc(m.timeout, func() {
		if gen != m.gen || m.state != Loading {
			return
		}
		m.loadTimer = nil
		m.fail(fmt.Errorf("%w after %s", ErrLoadTimeout, m.timeout))
	})

	m.changed()
}

// Retry reassigns the current source, keeping the current intent and mute.
func (m *Machine) Retry() error {
	if !m.hasSource {
		return ErrNoSource
	}
	src := m.src
	src.Intent = m.intent
	src.Muted = m.userMuted
	m.SetSource(src)
	return nil
}

// Close stops and releases the resource. Late events are ignored.
func (m *Machine) Close() {
	m.detach()
	m.gen++
	m.hasSource = false
	m.state = Unloaded
	m.changed()
}

// SetIntent records the desired transport state. It is applied immediately
// when Ready, otherwise once when Ready is reached.
func (m *Machine) SetIntent(intent Intent) {
	if m.intent != intent {
		m.logger.Debug().Stringer("intent", intent).Stringer("state", m.state).Msg("Intent changed")
	}
	m.intent = intent
	if m.state == Ready {
		m.applyIntent()
	}
	m.changed()
}

// SetMuted records the user mute flag and pushes the effective mute to the
// resource. Unmuting also lifts a mute forced by autoplay recovery.
func (m *Machine) SetMuted(muted bool) {
	m.userMuted = muted
	if !muted {
		m.forcedMute = false
	}
	if m.resource != nil {
		m.resource.SetMuted(m.muted() || m.state == Loading)
	}
	m.changed()
}

// SeekRelative moves the position by delta, clamped at zero. It does
// nothing unless the source is Ready.
func (m *Machine) SeekRelative(delta time.Duration) {
	if m.state != Ready || m.resource == nil {
		return
	}
	m.seek(m.resource.Position() + delta)
}

// SeekTo moves to an absolute position, clamped at zero. It does nothing
// unless the source is Ready.
func (m *Machine) SeekTo(pos time.Duration) {
	if m.state != Ready || m.resource == nil {
		return
	}
	m.seek(pos)
}

func (m *Machine) seek(pos time.Duration) {
	if pos < 0 {
		pos = 0
	}
	m.resource.Seek(pos)
	m.logger.Debug().Dur("position", pos).Msg("Seek")
}

// State returns the load state.
func (m *Machine) State() LoadState { return m.state }

// Intent returns the current intent.
func (m *Machine) Intent() Intent { return m.intent }

// LastError returns why the current source failed, if it did.
func (m *Machine) LastError() error { return m.lastErr }

// Stats returns request counters.
func (m *Machine) Stats() Stats { return m.stats }

// Status returns a snapshot of the machine.
func (m *Machine) Status() Status {
	st := Status{
		State:      m.state,
		Intent:     m.intent,
		Phase:      m.phase,
		Muted:      m.muted(),
		HasError:   m.state == Failed,
		Err:        m.lastErr,
		Source:     m.src,
		SourceID:   m.sourceID,
		Generation: m.gen,
	}
	if m.resource != nil && m.state == Ready {
		st.Position = m.resource.Position()
	}
	return st
}

func (m *Machine) muted() bool {
	return m.userMuted || m.forcedMute
}

func (m *Machine) detach() {
	if m.loadTimer != nil {
		m.loadTimer.Stop()
		m.loadTimer = nil
	}
	if m.resource != nil {
		m.resource.Pause()
		m.resource.Close()
		m.resource = nil
	}
	m.playToken++
	m.phase = PhaseIdle
}

func (m *Machine) applyIntent() {
	switch {
	case m.intent == Play && m.phase == PhaseIdle:
		m.requestPlay(PhaseRequesting)
	case m.intent == Pause && m.phase != PhaseIdle:
		m.playToken++
		m.phase = PhaseIdle
		m.resource.Pause()
	}
}

func (m *Machine) requestPlay(phase PlayPhase) {
	m.playToken++
	token, gen := m.playToken, m.gen
	m.phase = phase
	m.stats.PlayRequests++
	m.resource.Play(func(err error) {
		m.sched.Post(func() { m.handlePlayResult(gen, token, err) })
	})
}

func (m *Machine) handleLoaded(gen uint64) {
	if gen != m.gen || m.state != Loading {
		m.logger.Debug().Uint64("generation", gen).Msg("Ignoring stale load signal")
		return
	}
	if m.loadTimer != nil {
		m.loadTimer.Stop()
		m.loadTimer = nil
	}
	m.state = Ready
	m.resource.SetMuted(m.muted())
	m.logger.Info().Str("source_id", m.sourceID).Msg("Media ready")
	m.applyIntent()
	m.changed()
}

func (m *Machine) handleFailed(gen uint64, err error) {
	if gen != m.gen || (m.state != Loading && m.state != Ready) {
		m.logger.Debug().Uint64("generation", gen).Err(err).Msg("Ignoring stale error signal")
		return
	}
	if m.state == Loading {
		m.fail(fmt.Errorf("%w: %w", ErrLoadFailed, err))
		return
	}
	m.fail(fmt.Errorf("%w: %w", ErrPlaybackFailed, err))
}

func (m *Machine) handleEnded(gen uint64) {
	if gen != m.gen || m.state != Ready {
		return
	}
	m.playToken++
	m.phase = PhaseIdle
	m.logger.Debug().Str("source_id", m.sourceID).Msg("Media ended")
	if m.hooks.OnEnded != nil {
		m.hooks.OnEnded()
	}
	m.changed()
}

func (m *Machine) handlePlayResult(gen, token uint64, err error) {
	if gen != m.gen || token != m.playToken {
		// A superseded request that started playback after a pause must
		// not leave the resource running.
		if err == nil && gen == m.gen && m.phase == PhaseIdle && m.resource != nil {
			m.resource.Pause()
		}
		return
	}

	if err == nil {
		m.phase = PhasePlaying
		m.changed()
		return
	}

	if errors.Is(err, ErrAutoplayBlocked) && m.phase == PhaseRequesting && !m.muted() {
		m.forcedMute = true
		m.resource.SetMuted(true)
		m.stats.MutedRetries++
		m.logger.Warn().Err(err).Msg("Autoplay blocked, retrying muted")
		if m.hooks.OnAutoplayRetry != nil {
			m.hooks.OnAutoplayRetry()
		}
		m.requestPlay(PhaseRetryingMuted)
		m.changed()
		return
	}

	m.fail(fmt.Errorf("%w: %w", ErrPlaybackRejected, err))
}

func (m *Machine) fail(err error) {
	if m.loadTimer != nil {
		m.loadTimer.Stop()
		m.loadTimer = nil
	}
	if m.resource != nil {
		m.resource.Pause()
	}
	m.playToken++
	m.phase = PhaseIdle
	m.lastErr = err
	m.state = Failed
	m.stats.Failures++
	m.logger.Error().Err(err).Str("kind", ErrorKind(err)).Str("uri", m.src.URI).Msg("Media failed")
	m.changed()
}

func (m *Machine) changed() {
	if m.hooks.OnChange != nil {
		m.hooks.OnChange(m.Status())
	}
}

// sourceListener binds resource signals to one source generation and moves
// them onto the event loop.
type sourceListener struct {
	m   *Machine
	gen uint64
}

func (l *sourceListener) Loaded() {
	l.m.sched.Post(func() { l.m.handleLoaded(l.gen) })
}

func (l *sourceListener) Failed(err error) {
	l.m.sched.Post(func() { l.m.handleFailed(l.gen, err) })
}

func (l *sourceListener) Ended() {
	l.m.sched.Post(func() { l.m.handleEnded(l.gen) })
}
