package bridge

import (
	"errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/media"
)

var (
	// ErrNoPeer is reported when a command needs a media peer and none is
	// connected.
	ErrNoPeer = errors.New("no media peer connected")
	// ErrPeerDisconnected fails the current resource when its peer goes away.
	ErrPeerDisconnected = errors.New("media peer disconnected")
)

// Media channel operations sent to the peer.
const (
	OpLoad  = "load"
	OpPlay  = "play"
	OpPause = "pause"
	OpMute  = "mute"
	OpSeek  = "seek"
	OpClose = "close"
)

// Media channel events received from the peer.
const (
	EvLoaded     = "loaded"
	EvError      = "error"
	EvEnded      = "ended"
	EvPlayResult = "play_result"
	EvPosition   = "position"
)

// MediaCommand is sent to the media peer.
type MediaCommand struct {
	Op       string  `json:"op"`
	ID       string  `json:"id"`
	URI      string  `json:"uri,omitempty"`
	Kind     string  `json:"kind,omitempty"`
	Muted    bool    `json:"muted"`
	Position float64 `json:"position,omitempty"` // seconds
	Request  uint64  `json:"request,omitempty"`
}

// MediaEvent is received from the media peer. ID names the resource the
// event belongs to; events for resources that were replaced are dropped.
type MediaEvent struct {
	Event           string  `json:"event"`
	ID              string  `json:"id"`
	Request         uint64  `json:"request,omitempty"`
	Position        float64 `json:"position,omitempty"` // seconds
	Error           string  `json:"error,omitempty"`
	AutoplayBlocked bool    `json:"autoplayBlocked,omitempty"`
}

// RemoteMediaConfig configures the media channel.
type RemoteMediaConfig struct {
	WriteWait  time.Duration
	PingPeriod time.Duration
}

// RemoteMedia is a media.Provider backed by a browser (or any WebSocket
// peer) that owns the real video element. One peer is served at a time;
// a new connection replaces the old one.
type RemoteMedia struct {
	cfg    RemoteMediaConfig
	logger zerolog.Logger

	mu        sync.Mutex
	peer      *mediaPeer
	current   *remoteResource
	resources map[string]*remoteResource
}

// NewRemoteMedia creates a provider with no peer.
func NewRemoteMedia(cfg RemoteMediaConfig, logger zerolog.Logger) *RemoteMedia {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 30 * time.Second
	}
	return &RemoteMedia{
		cfg:       cfg,
		logger:    logger.With().Str("component", "remote-media").Logger(),
		resources: make(map[string]*remoteResource),
	}
}

// Connected reports whether a peer is attached.
func (m *RemoteMedia) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peer != nil
}

// Open registers a resource and asks the peer to load it. Without a peer
// the load is sent when one connects.
func (m *RemoteMedia) Open(src media.Source, l media.Listener) (media.Resource, error) {
	r := &remoteResource{
		m:        m,
		id:       uuid.NewString(),
		src:      src,
		listener: l,
		muted:    true,
		pending:  make(map[uint64]func(error)),
	}
	m.mu.Lock()
	m.resources[r.id] = r
	m.current = r
	m.mu.Unlock()

	if !m.send(r.loadCommand()) {
		m.logger.Info().Str("uri", src.URI).Msg("No media peer yet, load deferred")
	}
	return r, nil
}

// Serve runs the media channel on conn until it closes.
func (m *RemoteMedia) Serve(conn *websocket.Conn) {
	peer := &mediaPeer{
		conn: conn,
		send: make(chan MediaCommand, 32),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	old := m.peer
	m.peer = peer
	current := m.current
	m.mu.Unlock()

	if old != nil {
		m.logger.Info().Msg("Replacing media peer")
		old.close()
	}
	m.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Media peer connected")

	go m.writer(peer)
	if current != nil {
		peer.enqueue(current.loadCommand())
	}

	for {
		var ev MediaEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Warn().Err(err).Msg("Media peer read error")
			}
			break
		}
		m.dispatch(ev)
	}

	m.mu.Lock()
	lost := m.peer == peer
	if lost {
		m.peer = nil
	}
	current = m.current
	m.mu.Unlock()

	peer.close()
	if lost && current != nil {
		m.logger.Warn().Str("id", current.id).Msg("Media peer lost")
		current.peerLost()
	}
}

func (m *RemoteMedia) dispatch(ev MediaEvent) {
	m.mu.Lock()
	r := m.resources[ev.ID]
	m.mu.Unlock()
	if r == nil {
		m.logger.Debug().Str("event", ev.Event).Str("id", ev.ID).Msg("Dropping event for unknown resource")
		return
	}

	switch ev.Event {
	case EvLoaded:
		r.listener.Loaded()
	case EvError:
		msg := ev.Error
		if msg == "" {
			msg = "media error"
		}
		r.listener.Failed(errors.New(msg))
	case EvEnded:
		r.listener.Ended()
	case EvPosition:
		r.setPosition(seconds(ev.Position))
	case EvPlayResult:
		done := r.take(ev.Request)
		if done == nil {
			return
		}
		switch {
		case ev.AutoplayBlocked:
			done(media.ErrAutoplayBlocked)
		case ev.Error != "":
			done(errors.New(ev.Error))
		default:
			done(nil)
		}
	default:
		m.logger.Debug().Str("event", ev.Event).Msg("Unknown media event")
	}
}

func (m *RemoteMedia) send(cmd MediaCommand) bool {
	m.mu.Lock()
	p := m.peer
	m.mu.Unlock()
	if p == nil {
		return false
	}
	return p.enqueue(cmd)
}

func (m *RemoteMedia) release(r *remoteResource) {
	m.mu.Lock()
	delete(m.resources, r.id)
	if m.current == r {
		m.current = nil
	}
	m.mu.Unlock()
}

func (m *RemoteMedia) writer(p *mediaPeer) {
	ticker := time.NewTicker(m.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		p.close()
	}()

	for {
		select {
		case cmd := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
			if err := p.conn.WriteJSON(cmd); err != nil {
				m.logger.Warn().Err(err).Str("op", cmd.Op).Msg("Media peer write failed")
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.done:
			return
		}
	}
}

func (s *Server) mediaPeer(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Media upgrade failed")
		return
	}
	s.media.Serve(conn)
}

type mediaPeer struct {
	conn *websocket.Conn
	send chan MediaCommand
	done chan struct{}
	once sync.Once
}

func (p *mediaPeer) enqueue(cmd MediaCommand) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- cmd:
		return true
	default:
		return false
	}
}

func (p *mediaPeer) close() {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

// remoteResource is one source on the peer. Its methods run on the event
// loop; position and pending play results are also touched by the peer
// reader.
type remoteResource struct {
	m        *RemoteMedia
	id       string
	src      media.Source
	listener media.Listener

	mu      sync.Mutex
	muted   bool
	pos     time.Duration
	nextReq uint64
	pending map[uint64]func(error)
}

func (r *remoteResource) loadCommand() MediaCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return MediaCommand{Op: OpLoad, ID: r.id, URI: r.src.URI, Kind: string(r.src.Kind), Muted: r.muted}
}

func (r *remoteResource) Play(done func(error)) {
	r.mu.Lock()
	r.nextReq++
	req := r.nextReq
	r.pending[req] = done
	muted := r.muted
	r.mu.Unlock()

	if !r.m.send(MediaCommand{Op: OpPlay, ID: r.id, Request: req, Muted: muted}) {
		if d := r.take(req); d != nil {
			d(ErrNoPeer)
		}
	}
}

func (r *remoteResource) Pause() {
	r.m.send(MediaCommand{Op: OpPause, ID: r.id})
}

func (r *remoteResource) SetMuted(muted bool) {
	r.mu.Lock()
	r.muted = muted
	r.mu.Unlock()
	r.m.send(MediaCommand{Op: OpMute, ID: r.id, Muted: muted})
}

func (r *remoteResource) Position() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

func (r *remoteResource) Seek(pos time.Duration) {
	r.setPosition(pos)
	r.m.send(MediaCommand{Op: OpSeek, ID: r.id, Position: pos.Seconds()})
}

func (r *remoteResource) Close() {
	r.m.release(r)
	r.m.send(MediaCommand{Op: OpClose, ID: r.id})
}

func (r *remoteResource) setPosition(pos time.Duration) {
	r.mu.Lock()
	r.pos = pos
	r.mu.Unlock()
}

func (r *remoteResource) take(req uint64) func(error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.pending[req]
	delete(r.pending, req)
	return done
}

func (r *remoteResource) peerLost() {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[uint64]func(error))
	r.mu.Unlock()

	for _, done := range pending {
		done(ErrPeerDisconnected)
	}
	r.listener.Failed(ErrPeerDisconnected)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

var _ media.Provider = (*RemoteMedia)(nil)
