// Package media owns the lifecycle of one playable avatar resource: loading,
// load timeout, autoplay-policy recovery, error fallback and transport.
package media

import "time"

// LoadState is the load lifecycle of the current source.
type LoadState int

const (
	Unloaded LoadState = iota
	Loading
	Ready
	Failed
)

func (s LoadState) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Intent is the caller's desired transport state. It is never derived from
// what the resource itself reports.
type Intent int

const (
	Pause Intent = iota
	Play
)

func (i Intent) String() string {
	if i == Play {
		return "play"
	}
	return "pause"
}

// PlayPhase tracks an outstanding play request while the source is Ready.
type PlayPhase int

const (
	PhaseIdle PlayPhase = iota
	PhaseRequesting
	PhaseRetryingMuted
	PhasePlaying
)

func (p PlayPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRequesting:
		return "requesting"
	case PhaseRetryingMuted:
		return "retrying_muted"
	case PhasePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Kind distinguishes a moving avatar from a still image shown while the
// narration speaks.
type Kind string

const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
)

// Source identifies one playable asset. A Source is replaced, never
// mutated, when the asset changes.
type Source struct {
	URI           string `json:"uri"`
	FallbackImage string `json:"fallback_image,omitempty"`
	Muted         bool   `json:"muted"`
	Intent        Intent `json:"intent"`
	Kind          Kind   `json:"kind,omitempty"`
}

// Listener receives the resource's lifecycle signals. Implementations may
// be called from any goroutine.
type Listener interface {
	Loaded()
	Failed(err error)
	Ended()
}

// Resource is a playable media handle. Only the Machine calls its methods,
// always from the event loop.
type Resource interface {
	// Play starts playback and reports the outcome through done, possibly
	// from another goroutine. Autoplay-policy rejections wrap ErrAutoplayBlocked.
	Play(done func(error))
	Pause()
	SetMuted(muted bool)
	Position() time.Duration
	Seek(pos time.Duration)
	// Close releases the resource and detaches its listener.
	Close()
}

// Provider opens resources for sources.
type Provider interface {
	Open(src Source, listener Listener) (Resource, error)
}
