// Package bridge exposes the avatar runtime over HTTP: a JSON API, a
// server-sent event stream of snapshots, a WebSocket presentation channel
// and a WebSocket media channel that lets a browser act as the playable
// resource.
package bridge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/avatar"
	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/logging"
)

// API paths.
const (
	PathHealth       = "/api/v1/health"
	PathSnapshot     = "/api/v1/avatar/snapshot"
	PathCommands     = "/api/v1/avatar/commands"
	PathEvents       = "/api/v1/avatar/events"
	PathLogs         = "/api/v1/logs"
	PathPresentation = "/ws/presentation"
	PathMedia        = "/ws/media"
)

// Runtime is what the bridge needs from the avatar runtime.
type Runtime interface {
	avatar.Commands
	Snapshot() avatar.Snapshot
	Subscribe(fn func(avatar.Snapshot)) bus.SubscriptionID
	Unsubscribe(id bus.SubscriptionID)
}

// LogSource serves recent log entries.
type LogSource interface {
	GetHistory(limit int) []logging.LogEntry
}

// Config configures the bridge server.
type Config struct {
	Addr        string
	MetricsPath string
	WriteWait   time.Duration
	PingPeriod  time.Duration
	// Gatherer is served on MetricsPath when set.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP bridge.
type Server struct {
	cfg      Config
	rt       Runtime
	logs     LogSource
	media    *RemoteMedia
	logger   zerolog.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer builds the router. media may be nil when the browser media
// channel is not used.
func NewServer(cfg Config, rt Runtime, logs LogSource, media *RemoteMedia, logger zerolog.Logger) *Server {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 30 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	s := &Server{
		cfg:    cfg,
		rt:     rt,
		logs:   logs,
		media:  media,
		logger: logger.With().Str("component", "bridge").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	s.routes(engine)
	s.engine = engine
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes(r *gin.Engine) {
	r.GET(PathHealth, s.health)

	api := r.Group("/api/v1/avatar")
	api.GET("/snapshot", s.snapshot)
	api.POST("/commands/:command", s.command)
	api.GET("/events", s.events)

	r.GET(PathLogs, s.history)
	r.GET(PathPresentation, s.presentation)
	if s.media != nil {
		r.GET(PathMedia, s.mediaPeer)
	}
	if s.cfg.Gatherer != nil {
		r.GET(s.cfg.MetricsPath, gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("Starting bridge server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("Request")
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "media_peer": s.media != nil && s.media.Connected()})
}

func (s *Server) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.rt.Snapshot())
}

type commandRequest struct {
	Seconds float64 `json:"seconds"`
}

func (s *Server) command(c *gin.Context) {
	var req commandRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	cmd := avatar.Command{Name: c.Param("command"), Seconds: req.Seconds}
	if err := avatar.Dispatch(s.rt, cmd); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, avatar.ErrUnknownCommand) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": cmd.Name})
}

// events streams snapshots as server-sent events, starting with the
// current one.
func (s *Server) events(c *gin.Context) {
	updates, cancel := s.follow()
	defer cancel()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.SSEvent(EventSnapshot, s.rt.Snapshot())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case snap := <-updates:
			c.SSEvent(EventSnapshot, snap)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// follow subscribes to snapshots through a small buffer. A subscriber that
// falls behind loses intermediate snapshots, never the latest.
func (s *Server) follow() (<-chan avatar.Snapshot, func()) {
	ch := make(chan avatar.Snapshot, 16)
	id := s.rt.Subscribe(func(snap avatar.Snapshot) {
		for {
			select {
			case ch <- snap:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	})
	return ch, func() { s.rt.Unsubscribe(id) }
}

func (s *Server) history(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	if s.logs == nil {
		c.JSON(http.StatusOK, []logging.LogEntry{})
		return
	}
	c.JSON(http.StatusOK, s.logs.GetHistory(limit))
}
