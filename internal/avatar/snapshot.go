// Package avatar is the composition root of the talking avatar. It merges
// the media machine and the narration sequencer into one Snapshot and
// relays transport intents to both.
package avatar

import (
	"reflect"

	"github.com/normanking/talkingavatar/internal/media"
	"github.com/normanking/talkingavatar/internal/narration"
)

// Mode selects what drives the captions.
type Mode string

const (
	// ModeNarrated drives captions and speech from the narration sequencer.
	ModeNarrated Mode = "narrated"
	// ModeEmbeddedAudio plays a video carrying its own audio; no captions.
	ModeEmbeddedAudio Mode = "embedded"
)

// ParseMode maps a config string to a Mode.
func ParseMode(s string) Mode {
	if s == string(ModeEmbeddedAudio) {
		return ModeEmbeddedAudio
	}
	return ModeNarrated
}

// Snapshot is the read-only presentation state. It is recomputed from the
// sub-states after every event and never mutated directly.
type Snapshot struct {
	Seq uint64 `json:"seq"`

	IsLoaded           bool `json:"isLoaded"`
	IsSpeaking         bool `json:"isSpeaking"`
	HasError           bool `json:"hasError"`
	ActiveSegmentIndex int  `json:"activeSegmentIndex"` // -1 when absent
	HasActiveSegment   bool `json:"hasActiveSegment"`
	IsMuted            bool `json:"isMuted"`

	Mode      Mode   `json:"mode"`
	Intent    string `json:"intent"`
	LoadState string `json:"loadState"`
	Source    string `json:"source,omitempty"`
	Kind      string `json:"kind,omitempty"`

	Narration        string   `json:"narration"`
	NarrationBackend string   `json:"narrationBackend,omitempty"`
	Captions         []string `json:"captions,omitempty"`
	VisibleSegments  int      `json:"visibleSegments"`
	SegmentCount     int      `json:"segmentCount"`
	HasSpoken        bool     `json:"hasSpoken"`

	ShowFallback        bool   `json:"showFallback"`
	FallbackImage       string `json:"fallbackImage,omitempty"`
	ShowErrorAffordance bool   `json:"showErrorAffordance"`
	ErrorKind           string `json:"errorKind,omitempty"`
	ErrorMessage        string `json:"errorMessage,omitempty"`
}

// NarrationActive reports whether narration is speaking.
func (s Snapshot) NarrationActive() bool {
	return s.Narration == narration.Speaking.String()
}

// Playing reports whether a transport toggle should pause.
func (s Snapshot) Playing() bool {
	return s.Intent == media.Play.String() || s.NarrationActive()
}

func (s Snapshot) sameAs(o Snapshot) bool {
	o.Seq = s.Seq
	return reflect.DeepEqual(s, o)
}

// IsSpeaking is the speaking rule: the caller wants playback, the source
// is ready and nothing failed.
func IsSpeaking(intent media.Intent, state media.LoadState, hasError bool) bool {
	return intent == media.Play && state == media.Ready && !hasError
}

// Inputs are everything a Snapshot is derived from.
type Inputs struct {
	Mode      Mode
	Media     media.Status
	Narration narration.Status
	Segments  []narration.Segment
	HasSpoken bool
}

// Derive computes the snapshot for in.
func Derive(in Inputs) Snapshot {
	m := in.Media
	snap := Snapshot{
		IsLoaded:           m.State == media.Ready,
		IsSpeaking:         IsSpeaking(m.Intent, m.State, m.HasError),
		HasError:           m.HasError,
		ActiveSegmentIndex: -1,
		IsMuted:            m.Muted,
		Mode:               in.Mode,
		Intent:             m.Intent.String(),
		LoadState:          m.State.String(),
		Source:             m.Source.URI,
		Kind:               string(m.Source.Kind),
		HasSpoken:          in.HasSpoken,
		FallbackImage:      m.Source.FallbackImage,
	}

	if in.Mode == ModeNarrated {
		snap.Narration = in.Narration.State.Kind.String()
		snap.NarrationBackend = in.Narration.Backend
		snap.SegmentCount = len(in.Segments)
		if len(in.Segments) > 0 {
			cursor := in.Narration.Cursor
			if cursor >= len(in.Segments) {
				cursor = len(in.Segments) - 1
			}
			snap.ActiveSegmentIndex = cursor
			snap.HasActiveSegment = true
			snap.Captions = make([]string, cursor+1)
			for i := 0; i <= cursor; i++ {
				snap.Captions[i] = in.Segments[i].Text
			}
			snap.VisibleSegments = cursor + 1
		}
	}

	snap.ShowFallback = m.FallbackVisible() && m.Source.FallbackImage != ""
	snap.ShowErrorAffordance = m.HasError
	if m.HasError {
		snap.ErrorKind = media.ErrorKind(m.Err)
		if m.Source.FallbackImage != "" {
			snap.ErrorMessage = "Video unavailable, showing image"
		} else {
			snap.ErrorMessage = "Media could not be loaded"
		}
	}
	return snap
}
