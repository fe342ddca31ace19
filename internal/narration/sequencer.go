package narration

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/eventloop"
)

// Events are invoked on the event loop as the sequence progresses.
type Events struct {
	OnSegmentStart func(index int)
	OnSegmentError func(index int, err error)
	OnSequenceEnd  func()
	// OnFallback fires once, when the session switches to the typewriter.
	OnFallback func(from string, err error)
	// OnChange fires after every state change.
	OnChange func(State)
}

// Status is a read-only view of the sequencer.
type Status struct {
	State    State
	Cursor   int
	Segments int
	Backend  string
	Fallback bool
	Muted    bool
}

// Sequencer narrates segments in order. It is not safe for concurrent use;
// every method must run on the event loop that owns sched.
type Sequencer struct {
	sched    eventloop.Scheduler
	logger   zerolog.Logger
	fallback *Typewriter
	active   Backend
	switched bool

	params VoiceParams
	muted  bool
	events Events

	segments []Segment
	state    State
	cursor   int
	token    uint64

	// finishedWhilePaused holds back the advance of a segment that
	// completed just as it was paused.
	finishedWhilePaused bool
}

// NewSequencer creates a sequencer speaking through primary. When primary
// is nil or unavailable the typewriter is used for the whole session.
func NewSequencer(sched eventloop.Scheduler, primary Backend, fallback *Typewriter, params VoiceParams, logger zerolog.Logger) *Sequencer {
	if fallback == nil {
		fallback = NewTypewriter(sched, DefaultCharsPerSecond)
	}
	s := &Sequencer{
		sched:    sched,
		logger:   logger.With().Str("component", "narration").Logger(),
		fallback: fallback,
		params:   params,
		state:    State{Kind: Idle, Index: -1},
	}
	if primary == nil || !primary.Available() {
		s.active = fallback
		s.switched = true
		s.logger.Info().Msg("Speech synthesis unavailable, using typewriter")
	} else {
		s.active = primary
	}
	return s
}

// SetEvents replaces the event callbacks.
func (s *Sequencer) SetEvents(e Events) {
	s.events = e
}

// SetSegments cancels any narration and replaces the script.
func (s *Sequencer) SetSegments(segments []Segment) {
	s.Cancel()
	s.segments = make([]Segment, len(segments))
	for i, seg := range segments {
		seg.Index = i
		s.segments[i] = seg
	}
}

// Segments returns the script.
func (s *Sequencer) Segments() []Segment {
	out := make([]Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Start cancels any in-flight narration and begins at segment 0.
func (s *Sequencer) Start() {
	s.StartAt(0)
}

// StartAt cancels any in-flight narration and begins at index.
func (s *Sequencer) StartAt(index int) {
	s.stopActive()
	if index < 0 {
		index = 0
	}
	if index >= len(s.segments) {
		s.complete()
		return
	}
	s.speak(index)
}

// Pause suspends the active segment. It is a no-op unless speaking.
func (s *Sequencer) Pause() {
	if s.state.Kind != Speaking {
		return
	}
	s.active.Pause()
	s.setState(State{Kind: Paused, Index: s.state.Index})
}

// Resume continues the paused segment. It is a no-op unless paused.
func (s *Sequencer) Resume() {
	if s.state.Kind != Paused {
		return
	}
	s.setState(State{Kind: Speaking, Index: s.state.Index})
	if s.finishedWhilePaused {
		s.finishedWhilePaused = false
		s.advance()
		return
	}
	s.active.Resume()
}

// Cancel stops narration and discards the position.
func (s *Sequencer) Cancel() {
	s.stopActive()
	s.cursor = 0
	s.setState(State{Kind: Idle, Index: -1})
}

// SetParams replaces the voice parameters of later utterances.
func (s *Sequencer) SetParams(params VoiceParams) {
	s.params = params
}

// Params returns the voice parameters.
func (s *Sequencer) Params() VoiceParams { return s.params }

// SetMuted silences later utterances.
func (s *Sequencer) SetMuted(muted bool) {
	s.muted = muted
}

// State returns the current state.
func (s *Sequencer) State() State { return s.state }

// Cursor is the segment narration is at: the active segment, the last one
// after completion, and the start after Cancel.
func (s *Sequencer) Cursor() int { return s.cursor }

// Backend returns the backend currently speaking.
func (s *Sequencer) Backend() Backend { return s.active }

// Typewriter returns the fallback backend.
func (s *Sequencer) Typewriter() *Typewriter { return s.fallback }

// Status returns a snapshot of the sequencer.
func (s *Sequencer) Status() Status {
	return Status{
		State:    s.state,
		Cursor:   s.cursor,
		Segments: len(s.segments),
		Backend:  s.active.Name(),
		Fallback: s.switched,
		Muted:    s.muted,
	}
}

func (s *Sequencer) stopActive() {
	s.token++
	s.finishedWhilePaused = false
	if s.state.Active() {
		s.active.Cancel()
	}
}

func (s *Sequencer) speak(index int) {
	s.token++
	token := s.token
	s.cursor = index
	s.setState(State{Kind: Speaking, Index: index})
	s.logger.Debug().Int("segment", index).Str("backend", s.active.Name()).Msg("Segment started")
	if s.events.OnSegmentStart != nil {
		s.events.OnSegmentStart(index)
	}
	s.utter(index, token)
}

func (s *Sequencer) utter(index int, token uint64) {
	params := s.params
	if s.muted {
		params.Volume = 0
	}
	u := Utterance{Text: s.segments[index].Text, Params: params}
	err := s.active.Speak(u, &segmentListener{s: s, token: token, index: index})
	if err != nil {
		s.sched.Post(func() { s.handleFailed(token, index, err) })
	}
}

func (s *Sequencer) advance() {
	next := s.state.Index + 1
	if next < len(s.segments) {
		s.speak(next)
		return
	}
	s.token++
	s.complete()
}

func (s *Sequencer) complete() {
	if len(s.segments) > 0 {
		s.cursor = len(s.segments) - 1
	}
	s.setState(State{Kind: Complete, Index: -1})
	s.logger.Debug().Int("segments", len(s.segments)).Msg("Sequence ended")
	if s.events.OnSequenceEnd != nil {
		s.events.OnSequenceEnd()
	}
}

func (s *Sequencer) current(token uint64, index int) bool {
	return token == s.token && s.state.Active() && s.state.Index == index
}

func (s *Sequencer) handleFinished(token uint64, index int) {
	if !s.current(token, index) {
		return
	}
	if s.state.Kind == Paused {
		s.finishedWhilePaused = true
		return
	}
	s.advance()
}

func (s *Sequencer) handleFailed(token uint64, index int, err error) {
	if !s.current(token, index) {
		return
	}

	if errors.Is(err, ErrSynthesisUnavailable) && !s.switched {
		s.switchToFallback(err)
		s.token++
		s.utter(index, s.token)
		if s.state.Kind == Paused {
			s.active.Pause()
		}
		return
	}

	s.logger.Warn().Err(err).Int("segment", index).Msg("Segment failed, skipping")
	if s.events.OnSegmentError != nil {
		s.events.OnSegmentError(index, err)
	}
	if s.state.Kind == Paused {
		s.finishedWhilePaused = true
		return
	}
	s.advance()
}

func (s *Sequencer) switchToFallback(cause error) {
	from := s.active.Name()
	s.active.Cancel()
	s.active = s.fallback
	s.switched = true
	s.logger.Warn().Err(cause).Str("from", from).Msg("Switching narration to typewriter")
	if s.events.OnFallback != nil {
		s.events.OnFallback(from, cause)
	}
}

func (s *Sequencer) setState(st State) {
	if st == s.state {
		return
	}
	s.state = st
	if s.events.OnChange != nil {
		s.events.OnChange(st)
	}
}

// segmentListener ties backend notifications to one utterance.
type segmentListener struct {
	s     *Sequencer
	token uint64
	index int
}

func (l *segmentListener) Started() {}

func (l *segmentListener) Finished() {
	l.s.sched.Post(func() { l.s.handleFinished(l.token, l.index) })
}

func (l *segmentListener) Failed(err error) {
	l.s.sched.Post(func() { l.s.handleFailed(l.token, l.index, err) })
}
