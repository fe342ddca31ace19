// Package tui is a terminal presentation adapter. It renders snapshots and
// turns key presses into transport requests; it never touches the media or
// the narration directly.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/normanking/talkingavatar/internal/avatar"
)

// SnapshotMsg delivers a new snapshot to the model.
type SnapshotMsg avatar.Snapshot

// Options configure the model.
type Options struct {
	Title         string
	RewindSeconds float64
}

// Model renders the avatar state.
type Model struct {
	cmds   avatar.Commands
	snap   avatar.Snapshot
	keys   KeyMap
	help   help.Model
	title  string
	rewind float64

	width, height int
}

// New creates a model that sends requests to cmds.
func New(cmds avatar.Commands, initial avatar.Snapshot, opts Options) Model {
	if opts.Title == "" {
		opts.Title = "Talking Avatar"
	}
	return Model{
		cmds:   cmds,
		snap:   initial,
		keys:   DefaultKeyMap,
		help:   help.New(),
		title:  opts.Title,
		rewind: opts.RewindSeconds,
	}
}

// Snapshot returns the snapshot being shown.
func (m Model) Snapshot() avatar.Snapshot { return m.snap }

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SnapshotMsg:
		if msg.Seq == 0 || msg.Seq >= m.snap.Seq {
			m.snap = avatar.Snapshot(msg)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Toggle):
			if m.snap.Playing() {
				return m, request(m.cmds.RequestPause)
			}
			return m, request(m.cmds.RequestPlay)
		case key.Matches(msg, m.keys.Rewind):
			seconds := m.rewind
			return m, request(func() { m.cmds.RequestRewind(seconds) })
		case key.Matches(msg, m.keys.Mute):
			return m, request(m.cmds.RequestMuteToggle)
		case key.Matches(msg, m.keys.Reset):
			return m, request(m.cmds.RequestReset)
		case key.Matches(msg, m.keys.Avatar):
			return m, request(m.cmds.RequestAvatarToggle)
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		}
	}
	return m, nil
}

// request runs fn off the update loop; remote commands block on HTTP.
func request(fn func()) tea.Cmd {
	return func() tea.Msg {
		fn()
		return nil
	}
}

func (m Model) View() string {
	s := m.snap
	var b strings.Builder

	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(m.badges())
	b.WriteString("\n\n")

	if s.ShowFallback {
		b.WriteString(CaptionStyle.Render(fmt.Sprintf("[image %s]", s.FallbackImage)))
		b.WriteString("\n")
	} else if s.Source != "" {
		b.WriteString(CaptionStyle.Render(fmt.Sprintf("[%s %s]", s.Kind, s.Source)))
		b.WriteString("\n")
	}
	if s.ShowErrorAffordance {
		b.WriteString(ErrorStyle.Render(s.ErrorMessage))
		if s.ErrorKind != "" {
			b.WriteString(CaptionStyle.Render(" (" + s.ErrorKind + ")"))
		}
		b.WriteString("\n")
	}

	if captions := m.captions(); captions != "" {
		b.WriteString("\n")
		b.WriteString(captions)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) badges() string {
	s := m.snap
	var out []string

	switch {
	case s.HasError:
		out = append(out, WarnBadgeStyle.Render("FAILED"))
	case s.IsLoaded:
		out = append(out, BadgeStyle.Render("READY"))
	default:
		out = append(out, BadgeStyle.Render(strings.ToUpper(orDefault(s.LoadState, "unloaded"))))
	}

	if s.IsSpeaking || s.NarrationActive() {
		out = append(out, ActiveBadgeStyle.Render("SPEAKING"))
	} else {
		out = append(out, BadgeStyle.Render("PAUSED"))
	}
	if s.IsMuted {
		out = append(out, WarnBadgeStyle.Render("MUTED"))
	}
	if s.Mode == avatar.ModeNarrated && s.SegmentCount > 0 {
		out = append(out, BadgeStyle.Render(fmt.Sprintf("%d/%d", s.ActiveSegmentIndex+1, s.SegmentCount)))
	}
	if s.NarrationBackend != "" {
		out = append(out, BadgeStyle.Render(s.NarrationBackend))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, out...)
}

func (m Model) captions() string {
	s := m.snap
	if len(s.Captions) == 0 {
		return ""
	}
	lines := make([]string, len(s.Captions))
	for i, text := range s.Captions {
		if i == s.ActiveSegmentIndex {
			lines[i] = ActiveCaptionStyle.Render(text)
		} else {
			lines[i] = CaptionStyle.Render(text)
		}
	}
	panel := PanelStyle
	if m.width > 4 {
		panel = panel.Width(m.width - 4)
	}
	return panel.Render(strings.Join(lines, "\n"))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Feed starts delivering snapshots to send and returns a function that
// stops it.
type Feed func(send func(avatar.Snapshot)) (stop func())

// Run shows m until the user quits or ctx is done.
func Run(ctx context.Context, m Model, feed Feed, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)
	p := tea.NewProgram(m, opts...)

	stop := feed(func(s avatar.Snapshot) { p.Send(SnapshotMsg(s)) })
	defer stop()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
