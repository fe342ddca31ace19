// Package app assembles the avatar runtime from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/avatar"
	"github.com/normanking/talkingavatar/internal/bridge"
	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/config"
	"github.com/normanking/talkingavatar/internal/eventloop"
	"github.com/normanking/talkingavatar/internal/logging"
	"github.com/normanking/talkingavatar/internal/media"
	"github.com/normanking/talkingavatar/internal/metrics"
	"github.com/normanking/talkingavatar/internal/narration"
	"github.com/normanking/talkingavatar/internal/script"
	"github.com/normanking/talkingavatar/internal/speech"
)

// App owns one avatar runtime and its collaborators.
type App struct {
	cfg    *config.Config
	logs   *logging.Logger
	logger zerolog.Logger

	loop    *eventloop.Loop
	bus     *bus.EventBus
	seq     *narration.Sequencer
	runtime *avatar.Runtime
	metrics *metrics.Collector
	remote  *bridge.RemoteMedia

	source   media.Source
	segments []narration.Segment
	watcher  *script.Watcher
}

// New builds the runtime described by cfg. Nothing runs until Start.
func New(cfg *config.Config, logs *logging.Logger) (*App, error) {
	a := &App{
		cfg:    cfg,
		logs:   logs,
		logger: logs.Component("app"),
	}

	a.loop = eventloop.New(logs.Component("loop"))
	sched := a.loop.Scheduler()

	params := narration.VoiceParams{
		Voice:  cfg.Narration.Voice,
		Lang:   cfg.Narration.Lang,
		Rate:   cfg.Narration.Rate,
		Pitch:  cfg.Narration.Pitch,
		Volume: cfg.Narration.Volume,
	}
	a.source = media.Source{
		URI:           media.ResolveAsset(cfg.Media.AssetBase, cfg.Media.Source),
		FallbackImage: media.ResolveAsset(cfg.Media.AssetBase, cfg.Media.FallbackImage),
		Kind:          media.Kind(cfg.Media.Kind),
	}
	a.segments = narration.NewSegments(cfg.Narration.Segments)

	if path := cfg.Narration.ScriptPath; path != "" {
		sc, err := script.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load script: %w", err)
		}
		a.segments = sc.NarrationSegments()
		params = sc.ApplyVoice(params)
		if sc.Media != nil && sc.Media.Source != "" {
			a.source = a.scriptSource(sc.Media)
		}
		a.logger.Info().Str("path", path).Int("segments", len(a.segments)).Msg("Script loaded")
	}

	provider := a.provider(sched)
	machine := media.NewMachine(sched, provider, media.Config{LoadTimeout: cfg.Media.LoadTimeout}, logs.Component("media"))

	a.seq = narration.NewSequencer(sched, a.speechBackend(), narration.NewTypewriter(sched, cfg.Narration.CharsPerSecond), params, logs.Component("narration"))
	a.seq.SetSegments(a.segments)

	ctrl := avatar.NewController(machine, a.seq, avatar.ControllerConfig{
		Mode:    avatar.ParseMode(cfg.Narration.Mode),
		Rewind:  cfg.Media.Rewind,
		Avatars: a.avatars(),
	}, logs.Component("avatar"))

	a.bus = bus.NewEventBus()
	a.runtime = avatar.NewRuntime(a.loop, ctrl, a.bus, logs.Component("runtime"))

	a.metrics = metrics.New()
	a.metrics.Attach(a.bus)
	a.metrics.Track(a.runtime)
	return a, nil
}

func (a *App) provider(sched eventloop.Scheduler) media.Provider {
	if a.cfg.Media.Provider == "remote" {
		a.remote = bridge.NewRemoteMedia(bridge.RemoteMediaConfig{
			WriteWait:  a.cfg.Server.WriteWait,
			PingPeriod: a.cfg.Server.PingPeriod,
		}, a.logs.Component("remote-media"))
		return a.remote
	}
	return media.NewHeadlessProvider(sched, media.HeadlessConfig{
		BlockUnmutedAutoplay: a.cfg.Media.BlockUnmutedAutoplay,
		DefaultDuration:      a.cfg.Media.DefaultDuration,
	}, a.logs.Component("headless"))
}

// speechBackend returns nil when narration should use the typewriter.
func (a *App) speechBackend() narration.Backend {
	if a.cfg.Narration.Backend == "typewriter" {
		return nil
	}
	b := speech.NewCommandBackend(speech.Config{
		Engine:         a.cfg.Speech.Engine,
		Path:           a.cfg.Speech.Path,
		WordsPerMinute: a.cfg.Speech.WordsPerMinute,
	}, a.logs.Component("speech"))
	if !b.Available() {
		if a.cfg.Narration.Backend == "command" {
			a.logger.Warn().Msg("No speech synthesizer found, narration falls back to text")
		}
		return nil
	}
	b.LoadVoices()
	return b
}

func (a *App) scriptSource(ref *script.MediaRef) media.Source {
	kind := media.Kind(ref.Kind)
	if kind == "" {
		kind = media.Kind(a.cfg.Media.Kind)
	}
	return media.Source{
		URI:           media.ResolveAsset(a.cfg.Media.AssetBase, ref.Source),
		FallbackImage: media.ResolveAsset(a.cfg.Media.AssetBase, ref.FallbackImage),
		Kind:          kind,
	}
}

// avatars pairs the configured source with its still image, falling back
// to the fallback image when no image is configured.
func (a *App) avatars() avatar.Avatars {
	if a.source.Kind == media.KindImage {
		return avatar.Avatars{Image: a.source}
	}
	still := media.ResolveAsset(a.cfg.Media.AssetBase, a.cfg.Media.Image)
	if still == "" {
		still = a.source.FallbackImage
	}
	set := avatar.Avatars{Video: a.source}
	if still != "" {
		set.Image = media.Source{URI: still, FallbackImage: a.source.FallbackImage, Kind: media.KindImage}
	}
	return set
}

// Start runs the event loop, loads the configured source and, with
// autoplay on, starts playback.
func (a *App) Start(ctx context.Context) error {
	a.loop.Start(ctx)

	a.runtime.SetMuted(a.cfg.Media.Muted)
	if a.source.URI != "" {
		a.runtime.SetSource(a.source)
	}
	if a.cfg.Media.Autoplay {
		a.runtime.RequestPlay()
	}

	if path := a.cfg.Narration.ScriptPath; path != "" && a.cfg.Narration.WatchScript {
		w, err := script.NewWatcher(path, a.reloadScript, a.logs.Component("script"))
		if err != nil {
			return fmt.Errorf("watch script: %w", err)
		}
		a.watcher = w
	}
	return nil
}

// reloadScript swaps in an edited script. Narration restarts from the top
// on the next play.
func (a *App) reloadScript(sc *script.Script) {
	segments := sc.NarrationSegments()
	a.logger.Info().Int("segments", len(segments)).Msg("Script changed, reloading")

	a.loop.Post(func() {
		a.seq.SetParams(sc.ApplyVoice(a.seq.Params()))
	})
	a.runtime.SetScript(segments)
	if sc.Media != nil && sc.Media.Source != "" {
		src := a.scriptSource(sc.Media)
		if src != a.source {
			a.source = src
			a.runtime.SetAvatars(a.avatars())
			a.runtime.SetSource(src)
		}
	}
}

// Runtime returns the avatar runtime.
func (a *App) Runtime() *avatar.Runtime { return a.runtime }

// Metrics returns the metrics collector.
func (a *App) Metrics() *metrics.Collector { return a.metrics }

// Logs returns the logger.
func (a *App) Logs() *logging.Logger { return a.logs }

// Source returns the configured media source.
func (a *App) Source() media.Source { return a.source }

// Server builds the HTTP bridge for this runtime.
func (a *App) Server() *bridge.Server {
	return bridge.NewServer(bridge.Config{
		Addr:        a.cfg.Server.Addr,
		MetricsPath: a.cfg.Server.MetricsPath,
		WriteWait:   a.cfg.Server.WriteWait,
		PingPeriod:  a.cfg.Server.PingPeriod,
		Gatherer:    a.metrics.Registry,
	}, a.runtime, a.logs, a.remote, a.logs.Component("bridge"))
}

// Close stops narration, releases the media and shuts the loop down.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	if err := a.runtime.Close(ctx); err != nil && !errors.Is(err, eventloop.ErrStopped) {
		errs = append(errs, err)
	}
	a.loop.Stop()
	a.metrics.Detach()
	a.bus.Close()
	return errors.Join(errs...)
}
