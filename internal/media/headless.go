package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/eventloop"
)

// ProbeFunc inspects a source before it is reported loaded. A zero duration
// means the media has no natural end.
type ProbeFunc func(ctx context.Context, uri string) (time.Duration, error)

// HeadlessConfig configures the headless provider.
type HeadlessConfig struct {
	// BlockUnmutedAutoplay rejects every unmuted play with ErrAutoplayBlocked,
	// like a browser without a qualifying user gesture.
	BlockUnmutedAutoplay bool
	// DefaultDuration is used for videos whose duration cannot be probed.
	DefaultDuration time.Duration
	// Probe overrides the probe chosen from the source kind.
	Probe ProbeFunc
}

// HeadlessProvider plays sources against the scheduler clock without
// decoding them. Probing runs off the loop, so sched must accept Post from
// other goroutines (the event loop scheduler does).
type HeadlessProvider struct {
	sched  eventloop.Scheduler
	cfg    HeadlessConfig
	logger zerolog.Logger
}

// NewHeadlessProvider creates a headless provider.
func NewHeadlessProvider(sched eventloop.Scheduler, cfg HeadlessConfig, logger zerolog.Logger) *HeadlessProvider {
	return &HeadlessProvider{
		sched:  sched,
		cfg:    cfg,
		logger: logger.With().Str("component", "media.headless").Logger(),
	}
}

// Open starts probing src and returns its resource immediately.
func (p *HeadlessProvider) Open(src Source, listener Listener) (Resource, error) {
	if src.URI == "" {
		return nil, ErrNoSource
	}

	probe := p.cfg.Probe
	if probe == nil {
		probe = DefaultProbe(src.Kind)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &headlessResource{
		sched:    p.sched,
		listener: listener,
		block:    p.cfg.BlockUnmutedAutoplay,
		cancel:   cancel,
		muted:    true,
	}

	go func() {
		d, err := probe(ctx, src.URI)
		if err == nil && d == 0 && src.Kind != KindImage {
			d = p.cfg.DefaultDuration
		}
		if err != nil {
			p.logger.Debug().Err(err).Str("uri", src.URI).Msg("Probe failed")
		}
		p.sched.Post(func() { r.loaded(d, err) })
	}()

	return r, nil
}

// headlessResource is only touched on the event loop.
type headlessResource struct {
	sched    eventloop.Scheduler
	listener Listener
	block    bool
	cancel   context.CancelFunc

	ready     bool
	closed    bool
	playing   bool
	muted     bool
	duration  time.Duration
	pos       time.Duration
	startedAt time.Time
	endTimer  eventloop.Timer
}

func (r *headlessResource) loaded(d time.Duration, err error) {
	if r.closed {
		return
	}
	if err != nil {
		r.listener.Failed(err)
		return
	}
	r.duration = d
	r.ready = true
	r.listener.Loaded()
}

func (r *headlessResource) Play(done func(error)) {
	switch {
	case r.closed:
		done(errors.New("resource closed"))
		return
	case !r.ready:
		done(errors.New("resource not loaded"))
		return
	case r.block && !r.muted:
		done(ErrAutoplayBlocked)
		return
	}
	if !r.playing {
		if r.duration > 0 && r.pos >= r.duration {
			r.pos = 0
		}
		r.playing = true
		r.startedAt = r.sched.Now()
		r.armEnd()
	}
	done(nil)
}

func (r *headlessResource) Pause() {
	if !r.playing {
		return
	}
	r.pos = r.Position()
	r.playing = false
	r.stopEnd()
}

func (r *headlessResource) SetMuted(muted bool) { r.muted = muted }

func (r *headlessResource) Position() time.Duration {
	if !r.playing {
		return r.pos
	}
	pos := r.pos + r.sched.Now().Sub(r.startedAt)
	if r.duration > 0 && pos > r.duration {
		pos = r.duration
	}
	return pos
}

func (r *headlessResource) Seek(pos time.Duration) {
	if r.duration > 0 && pos > r.duration {
		pos = r.duration
	}
	r.pos = pos
	if r.playing {
		r.startedAt = r.sched.Now()
		r.stopEnd()
		r.armEnd()
	}
}

func (r *headlessResource) Close() {
	r.closed = true
	r.playing = false
	r.cancel()
	r.stopEnd()
}

func (r *headlessResource) armEnd() {
	if r.duration <= 0 {
		return
	}
	r.endTimer = r.sched.AfterFunc(r.duration-r.pos, func() {
		r.endTimer = nil
		r.pos = r.duration
		r.playing = false
		r.listener.Ended()
	})
}

func (r *headlessResource) stopEnd() {
	if r.endTimer != nil {
		r.endTimer.Stop()
		r.endTimer = nil
	}
}

// DefaultProbe picks ffprobe for videos when it is installed and a plain
// existence check otherwise.
func DefaultProbe(kind Kind) ProbeFunc {
	if kind == KindImage {
		return StatProbe
	}
	if _, err := exec.LookPath("ffprobe"); err == nil {
		return FFProbe
	}
	return StatProbe
}

// StatProbe checks that a local file exists. Remote URIs are accepted as is.
func StatProbe(_ context.Context, uri string) (time.Duration, error) {
	if isRemote(uri) {
		return 0, nil
	}
	info, err := os.Stat(localPath(uri))
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", uri)
	}
	return 0, nil
}

// FFProbe reads the container duration with ffprobe.
func FFProbe(ctx context.Context, uri string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_format",
		"-of", "json",
		localPath(uri),
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", uri, err)
	}
	return parseFFProbeDuration(output)
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseFFProbeDuration(data []byte) (time.Duration, error) {
	var ff ffprobeOutput
	if err := json.Unmarshal(data, &ff); err != nil {
		return 0, err
	}
	if ff.Format.Duration == "" {
		return 0, nil
	}
	secs, err := strconv.ParseFloat(ff.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", ff.Format.Duration, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func isRemote(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

func localPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

var _ Provider = (*HeadlessProvider)(nil)
