// Package metrics exposes avatar runtime counters to Prometheus. Counters
// come from the event bus; state gauges read the latest snapshot when
// scraped. The collector never touches the controller.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/normanking/talkingavatar/internal/avatar"
	"github.com/normanking/talkingavatar/internal/bus"
)

const namespace = "talkingavatar"

// Collector holds the avatar metrics on its own registry.
type Collector struct {
	Registry *prometheus.Registry

	MediaLoads        prometheus.Counter
	MediaFailures     *prometheus.CounterVec
	MediaEnded        prometheus.Counter
	AutoplayRetries   prometheus.Counter
	SegmentsStarted   prometheus.Counter
	SegmentErrors     prometheus.Counter
	SequencesEnded    prometheus.Counter
	NarrationFallback prometheus.Counter
	Commands          *prometheus.CounterVec
	Snapshots         prometheus.Counter

	Speaking      prometheus.GaugeFunc
	Loaded        prometheus.GaugeFunc
	Muted         prometheus.GaugeFunc
	Errored       prometheus.GaugeFunc
	ActiveSegment prometheus.GaugeFunc

	eventBus *bus.EventBus
	sub      bus.SubscriptionID

	mu     sync.Mutex
	source SnapshotSource
	last   avatar.Snapshot
}

// SnapshotSource provides the current snapshot.
type SnapshotSource interface {
	Snapshot() avatar.Snapshot
}

// New registers the avatar metrics on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	c := &Collector{
		Registry: reg,
		last:     avatar.Snapshot{ActiveSegmentIndex: -1},

		MediaLoads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_loads_total",
			Help:      "Media sources assigned",
		}),
		MediaFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_failures_total",
			Help:      "Media failures by kind",
		}, []string{"kind"}),
		MediaEnded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_ended_total",
			Help:      "Times playback reached the end",
		}),
		AutoplayRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_autoplay_retries_total",
			Help:      "Play requests retried muted after an autoplay block",
		}),
		SegmentsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "narration_segments_started_total",
			Help:      "Narration segments started",
		}),
		SegmentErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "narration_segment_errors_total",
			Help:      "Narration segments skipped after a synthesis error",
		}),
		SequencesEnded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "narration_sequences_completed_total",
			Help:      "Narration sequences completed",
		}),
		NarrationFallback: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "narration_fallbacks_total",
			Help:      "Switches to the typewriter backend",
		}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Transport commands received",
		}, []string{"command"}),
		Snapshots: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshots published",
		}),
	}

	gauge := func(name, help string, value func(avatar.Snapshot) float64) prometheus.GaugeFunc {
		return f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return value(c.current()) })
	}
	c.Speaking = gauge("speaking", "1 while the avatar is speaking",
		func(s avatar.Snapshot) float64 { return boolFloat(s.IsSpeaking) })
	c.Loaded = gauge("media_loaded", "1 while the media source is ready",
		func(s avatar.Snapshot) float64 { return boolFloat(s.IsLoaded) })
	c.Muted = gauge("muted", "1 while muted",
		func(s avatar.Snapshot) float64 { return boolFloat(s.IsMuted) })
	c.Errored = gauge("media_error", "1 while the media source is failed",
		func(s avatar.Snapshot) float64 { return boolFloat(s.HasError) })
	c.ActiveSegment = gauge("active_segment", "Index of the active narration segment, -1 when none",
		func(s avatar.Snapshot) float64 { return float64(s.ActiveSegmentIndex) })
	return c
}

// Attach subscribes the collector to every event on b. The bus drop count
// is exported as well.
func (c *Collector) Attach(b *bus.EventBus) {
	c.eventBus = b
	promauto.With(c.Registry).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_dropped_events_total",
		Help:      "Events dropped because a subscriber fell behind",
	}, func() float64 { return float64(b.Dropped()) })
	c.sub = b.SubscribeAll(c.Observe)
}

// Track makes the state gauges read src when scraped, so a snapshot event
// dropped on the bus cannot leave them stale.
func (c *Collector) Track(src SnapshotSource) {
	c.mu.Lock()
	c.source = src
	c.mu.Unlock()
}

func (c *Collector) current() avatar.Snapshot {
	c.mu.Lock()
	src, last := c.source, c.last
	c.mu.Unlock()
	if src != nil {
		return src.Snapshot()
	}
	return last
}

// Detach stops listening on the bus.
func (c *Collector) Detach() {
	if c.eventBus != nil {
		c.eventBus.Unsubscribe(c.sub)
	}
}

// Observe records one bus event.
func (c *Collector) Observe(e bus.Event) {
	switch e.Type {
	case bus.EventTypeSnapshot:
		if s, ok := avatar.SnapshotFromEvent(e); ok {
			c.ObserveSnapshot(s)
		}
	case bus.EventTypeMediaLoading:
		c.MediaLoads.Inc()
	case bus.EventTypeMediaFailed:
		kind, _ := e.Data["kind"].(string)
		if kind == "" {
			kind = "unknown"
		}
		c.MediaFailures.WithLabelValues(kind).Inc()
	case bus.EventTypeMediaEnded:
		c.MediaEnded.Inc()
	case bus.EventTypeMediaAutoplayRetry:
		c.AutoplayRetries.Inc()
	case bus.EventTypeSegmentStarted:
		c.SegmentsStarted.Inc()
	case bus.EventTypeSegmentFailed:
		c.SegmentErrors.Inc()
	case bus.EventTypeSequenceEnded:
		c.SequencesEnded.Inc()
	case bus.EventTypeNarrationFallback:
		c.NarrationFallback.Inc()
	case bus.EventTypeCommand:
		if name, ok := e.Data["command"].(string); ok {
			c.Commands.WithLabelValues(name).Inc()
		}
	}
}

// ObserveSnapshot counts a published snapshot and keeps it for the state
// gauges of an untracked collector.
func (c *Collector) ObserveSnapshot(s avatar.Snapshot) {
	c.Snapshots.Inc()
	c.mu.Lock()
	c.last = s
	c.mu.Unlock()
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
