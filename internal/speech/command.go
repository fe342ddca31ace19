// Package speech provides a narration backend that speaks through the
// system synthesizer command (macOS 'say' or espeak-ng).
package speech

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/narration"
)

// Supported engines
const (
	EngineSay     = "say"
	EngineESpeak  = "espeak-ng"
	EngineESpeak1 = "espeak"
)

// DefaultWordsPerMinute is the natural speaking rate at Rate 1.0.
const DefaultWordsPerMinute = 175

// Config holds command backend configuration
type Config struct {
	// Engine is say, espeak-ng or espeak. Empty picks the first installed.
	Engine string `mapstructure:"engine"`
	// Path overrides the executable location.
	Path           string `mapstructure:"path"`
	WordsPerMinute int    `mapstructure:"words_per_minute"`
}

// CommandBackend runs one synthesizer process per utterance. Pause and
// resume stop and continue the process where the platform allows it.
type CommandBackend struct {
	engine string
	path   string
	wpm    int
	logger zerolog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	paused bool

	voicesOnce sync.Once
	voicesDone chan struct{}
	voices     []narration.Voice
}

// NewCommandBackend resolves the engine executable. The backend reports
// itself unavailable when none is installed.
func NewCommandBackend(cfg Config, logger zerolog.Logger) *CommandBackend {
	if cfg.WordsPerMinute <= 0 {
		cfg.WordsPerMinute = DefaultWordsPerMinute
	}

	engine, path := resolveEngine(cfg.Engine, cfg.Path)
	b := &CommandBackend{
		engine: engine,
		path:   path,
		wpm:    cfg.WordsPerMinute,
		logger: logger.With().Str("provider", "command-tts").Str("engine", engine).Logger(),
	}
	if path == "" {
		b.logger.Debug().Msg("No speech synthesizer found")
	}
	return b
}

func resolveEngine(engine, path string) (string, string) {
	candidates := []string{EngineESpeak, EngineESpeak1}
	if runtime.GOOS == "darwin" {
		candidates = append([]string{EngineSay}, candidates...)
	}
	if engine != "" {
		candidates = []string{engine}
	}

	for _, name := range candidates {
		if path != "" {
			return name, path
		}
		if p, err := exec.LookPath(name); err == nil {
			return name, p
		}
	}
	if len(candidates) > 0 {
		return candidates[0], ""
	}
	return "", ""
}

// Name returns the engine name
func (b *CommandBackend) Name() string {
	return b.engine
}

// Available reports whether the synthesizer executable exists
func (b *CommandBackend) Available() bool {
	return b.path != ""
}

// LoadVoices starts reading the voice list in the background and returns a
// channel closed once it is available. Speak never waits for it: until the
// list arrives, utterances without a voice use the engine default for
// their language.
func (b *CommandBackend) LoadVoices() <-chan struct{} {
	b.voicesOnce.Do(func() {
		b.voicesDone = make(chan struct{})
		if !b.Available() {
			close(b.voicesDone)
			return
		}
		go func() {
			defer close(b.voicesDone)
			b.voices = b.listVoices()
		}()
	})
	return b.voicesDone
}

// Voices lists the engine's voices, waiting for the list to be read.
func (b *CommandBackend) Voices() []narration.Voice {
	<-b.LoadVoices()
	return b.voices
}

// loadedVoices returns the voice list if it has already been read.
func (b *CommandBackend) loadedVoices() []narration.Voice {
	select {
	case <-b.LoadVoices():
		return b.voices
	default:
		return nil
	}
}

func (b *CommandBackend) listVoices() []narration.Voice {
	args := []string{"--voices"}
	if b.engine == EngineSay {
		args = []string{"-v", "?"}
	}
	out, err := exec.Command(b.path, args...).Output()
	if err != nil {
		b.logger.Warn().Err(err).Msg("Listing voices failed")
		return nil
	}
	if b.engine == EngineSay {
		return parseSayVoices(string(out))
	}
	return parseESpeakVoices(string(out))
}

// Speak starts the synthesizer for u, replacing any current utterance.
func (b *CommandBackend) Speak(u narration.Utterance, l narration.UtteranceListener) error {
	if !b.Available() {
		return narration.ErrSynthesisUnavailable
	}
	b.Cancel()

	args := b.args(u)
	cmd := exec.Command(b.path, args...)
	if err := cmd.Start(); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %w", narration.ErrSynthesisUnavailable, err)
		}
		return fmt.Errorf("%w: %w", narration.ErrSynthesis, err)
	}

	b.mu.Lock()
	b.cmd = cmd
	b.paused = false
	b.mu.Unlock()

	b.logger.Debug().
		Int("textLen", len(u.Text)).
		Str("lang", u.Params.Lang).
		Msg("Speaking segment")
	l.Started()

	go func() {
		err := cmd.Wait()

		b.mu.Lock()
		current := b.cmd == cmd
		if current {
			b.cmd = nil
			b.paused = false
		}
		b.mu.Unlock()

		if !current {
			return
		}
		if err != nil {
			l.Failed(fmt.Errorf("%w: %s: %w", narration.ErrSynthesis, b.engine, err))
			return
		}
		l.Finished()
	}()

	return nil
}

// Pause suspends the running synthesizer
func (b *CommandBackend) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil || b.paused {
		return
	}
	if err := suspend(b.cmd.Process); err != nil {
		b.logger.Warn().Err(err).Msg("Pause not supported")
		return
	}
	b.paused = true
}

// Resume continues a suspended synthesizer
func (b *CommandBackend) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil || !b.paused {
		return
	}
	if err := resume(b.cmd.Process); err != nil {
		b.logger.Warn().Err(err).Msg("Resume failed")
		return
	}
	b.paused = false
}

// Cancel kills the running synthesizer. Its completion is never reported.
func (b *CommandBackend) Cancel() {
	b.mu.Lock()
	cmd := b.cmd
	b.cmd = nil
	b.paused = false
	b.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func (b *CommandBackend) args(u narration.Utterance) []string {
	p := u.Params
	rate := p.Rate
	if rate <= 0 {
		rate = 1
	}
	wpm := int(float64(b.wpm) * rate)

	voice := p.Voice
	if voice == "" {
		if v, ok := narration.SelectVoice(b.loadedVoices(), p); ok {
			voice = v.Name
		}
	}

	if b.engine == EngineSay {
		var args []string
		if voice != "" {
			args = append(args, "-v", voice)
		}
		args = append(args, "-r", strconv.Itoa(wpm))
		text := u.Text
		if p.Volume < 1 {
			// Embedded speech command understood by the macOS synthesizer.
			text = fmt.Sprintf("[[volm %.2f]] %s", clamp(p.Volume, 0, 1), text)
		}
		return append(args, text)
	}

	if voice == "" {
		voice = p.Lang
	}
	args := []string{"-s", strconv.Itoa(wpm)}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	pitch := p.Pitch
	if pitch <= 0 {
		pitch = 1
	}
	args = append(args,
		"-p", strconv.Itoa(int(clamp(50*pitch, 0, 99))),
		"-a", strconv.Itoa(int(clamp(100*p.Volume, 0, 200))),
		"--", u.Text,
	)
	return args
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var _ narration.Backend = (*CommandBackend)(nil)
