// Package narration drives an ordered list of text segments through a
// speech backend, one segment at a time.
package narration

import (
	"errors"
	"fmt"
)

var (
	// ErrSynthesis is a backend failure scoped to one segment.
	ErrSynthesis = errors.New("speech synthesis failed")
	// ErrSynthesisUnavailable means the backend cannot speak at all on this
	// platform. The sequencer switches to the typewriter for the session.
	ErrSynthesisUnavailable = errors.New("speech synthesis unavailable")
)

// Segment is one unit of narrated text.
type Segment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// NewSegments indexes texts in order.
func NewSegments(texts []string) []Segment {
	segs := make([]Segment, len(texts))
	for i, t := range texts {
		segs[i] = Segment{Index: i, Text: t}
	}
	return segs
}

// StateKind enumerates sequencer states.
type StateKind int

const (
	Idle StateKind = iota
	Speaking
	Paused
	Complete
)

func (k StateKind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Speaking:
		return "speaking"
	case Paused:
		return "paused"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// State is the sequencer state. Index is the active segment for Speaking
// and Paused and -1 otherwise.
type State struct {
	Kind  StateKind
	Index int
}

func (s State) String() string {
	if s.Kind == Speaking || s.Kind == Paused {
		return fmt.Sprintf("%s(%d)", s.Kind, s.Index)
	}
	return s.Kind.String()
}

// Active reports whether a segment is in progress.
func (s State) Active() bool {
	return s.Kind == Speaking || s.Kind == Paused
}

// Voice describes a voice offered by a backend.
type Voice struct {
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default,omitempty"`
}

// VoiceParams are applied to every utterance.
type VoiceParams struct {
	Voice  string  `json:"voice,omitempty"`
	Lang   string  `json:"lang"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
}

// DefaultVoiceParams returns neutral Spanish narration parameters.
func DefaultVoiceParams() VoiceParams {
	return VoiceParams{
		Lang:   "es-ES",
		Rate:   1.0,
		Pitch:  1.0,
		Volume: 1.0,
	}
}

// Utterance is one request to a backend.
type Utterance struct {
	Text   string
	Params VoiceParams
}

// UtteranceListener receives the outcome of one Speak call. Backends may
// call it from any goroutine.
type UtteranceListener interface {
	Started()
	Finished()
	Failed(err error)
}

// Backend is a speech provider. Only the sequencer calls it, from the
// event loop.
type Backend interface {
	Name() string
	Available() bool
	Voices() []Voice
	// Speak starts an utterance, replacing any current one. A synchronous
	// error means the utterance never started.
	Speak(u Utterance, l UtteranceListener) error
	Pause()
	Resume()
	Cancel()
}
