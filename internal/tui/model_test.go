package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/talkingavatar/internal/avatar"
)

type recorder struct {
	calls  []string
	rewind float64
}

func (r *recorder) RequestPlay()         { r.calls = append(r.calls, "play") }
func (r *recorder) RequestPause()        { r.calls = append(r.calls, "pause") }
func (r *recorder) RequestMuteToggle()   { r.calls = append(r.calls, "mute") }
func (r *recorder) RequestReset()        { r.calls = append(r.calls, "reset") }
func (r *recorder) RequestAvatarToggle() { r.calls = append(r.calls, "avatar") }
func (r *recorder) RequestRewind(s float64) {
	r.calls = append(r.calls, "rewind")
	r.rewind = s
}

func press(t *testing.T, m Model, k tea.KeyMsg) Model {
	t.Helper()
	next, cmd := m.Update(k)
	if cmd != nil {
		cmd()
	}
	return next.(Model)
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestToggleFollowsSnapshot(t *testing.T) {
	rec := &recorder{}
	m := New(rec, avatar.Snapshot{Intent: "pause"}, Options{})

	m = press(t, m, tea.KeyMsg{Type: tea.KeySpace})
	assert.Equal(t, []string{"play"}, rec.calls)

	next, _ := m.Update(SnapshotMsg(avatar.Snapshot{Seq: 1, Intent: "play"}))
	m = next.(Model)
	m = press(t, m, runes("p"))
	assert.Equal(t, []string{"play", "pause"}, rec.calls)

	// Narration still speaking counts as playing.
	next, _ = m.Update(SnapshotMsg(avatar.Snapshot{Seq: 2, Intent: "pause", Narration: "speaking"}))
	m = next.(Model)
	press(t, m, runes("p"))
	assert.Equal(t, []string{"play", "pause", "pause"}, rec.calls)
}

func TestTransportKeys(t *testing.T) {
	rec := &recorder{}
	m := New(rec, avatar.Snapshot{}, Options{RewindSeconds: 5})

	m = press(t, m, tea.KeyMsg{Type: tea.KeyLeft})
	m = press(t, m, runes("m"))
	m = press(t, m, runes("0"))
	m = press(t, m, runes("a"))

	assert.Equal(t, []string{"rewind", "mute", "reset", "avatar"}, rec.calls)
	assert.Equal(t, 5.0, rec.rewind)

	_, cmd := m.Update(runes("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestOlderSnapshotIgnored(t *testing.T) {
	m := New(&recorder{}, avatar.Snapshot{Seq: 5, IsMuted: true}, Options{})
	next, _ := m.Update(SnapshotMsg(avatar.Snapshot{Seq: 4}))
	assert.True(t, next.(Model).Snapshot().IsMuted)

	next, _ = m.Update(SnapshotMsg(avatar.Snapshot{Seq: 6}))
	assert.False(t, next.(Model).Snapshot().IsMuted)
}

func TestViewShowsStateAndCaptions(t *testing.T) {
	snap := avatar.Snapshot{
		Seq:                3,
		IsLoaded:           true,
		IsSpeaking:         true,
		IsMuted:            true,
		Mode:               avatar.ModeNarrated,
		Narration:          "speaking",
		ActiveSegmentIndex: 1,
		HasActiveSegment:   true,
		SegmentCount:       3,
		Captions:           []string{"Hola.", "Bienvenidos."},
		Source:             "clip.mp4",
		Kind:               "video",
	}
	m := New(&recorder{}, snap, Options{Title: "Demo"})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	view := next.(Model).View()

	assert.Contains(t, view, "Demo")
	assert.Contains(t, view, "READY")
	assert.Contains(t, view, "SPEAKING")
	assert.Contains(t, view, "MUTED")
	assert.Contains(t, view, "2/3")
	assert.Contains(t, view, "Hola.")
	assert.Contains(t, view, "Bienvenidos.")
	assert.Contains(t, view, "clip.mp4")
}

func TestViewShowsFallbackOnError(t *testing.T) {
	snap := avatar.Snapshot{
		HasError:            true,
		ShowFallback:        true,
		ShowErrorAffordance: true,
		FallbackImage:       "avatar.png",
		ErrorKind:           "load_timeout",
		ErrorMessage:        "Video unavailable, showing image",
	}
	view := New(&recorder{}, snap, Options{}).View()

	assert.Contains(t, view, "FAILED")
	assert.Contains(t, view, "avatar.png")
	assert.Contains(t, view, "Video unavailable, showing image")
	assert.Contains(t, view, "load_timeout")
	assert.NotContains(t, view, "SPEAKING")
}
