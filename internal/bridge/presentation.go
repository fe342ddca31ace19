package bridge

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/normanking/talkingavatar/internal/avatar"
)

// EventSnapshot names snapshot messages on the SSE stream and the
// presentation channel.
const EventSnapshot = "snapshot"

// PresentationMessage is exchanged on the presentation channel. The server
// sends "snapshot" and "error" messages; clients send "command" messages.
// Snapshots may arrive out of order right after connecting; clients keep
// the one with the highest Seq.
type PresentationMessage struct {
	Type     string           `json:"type"`
	Snapshot *avatar.Snapshot `json:"snapshot,omitempty"`
	Command  string           `json:"command,omitempty"`
	Seconds  float64          `json:"seconds,omitempty"`
	Error    string           `json:"error,omitempty"`
}

const (
	msgCommand = "command"
	msgError   = "error"
)

// presentation upgrades to a WebSocket that pushes every snapshot and
// accepts transport commands.
func (s *Server) presentation(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Presentation upgrade failed")
		return
	}
	s.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Presentation client connected")

	updates, cancel := s.follow()
	out := make(chan PresentationMessage, 8)
	done := make(chan struct{})

	first := s.rt.Snapshot()
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
	if err := conn.WriteJSON(PresentationMessage{Type: EventSnapshot, Snapshot: &first}); err != nil {
		cancel()
		conn.Close()
		return
	}
	go s.presentationWriter(conn, updates, out, done)

	for {
		var msg PresentationMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("Presentation read error")
			}
			break
		}
		if msg.Type != msgCommand {
			reply(out, PresentationMessage{Type: msgError, Error: "unsupported message type " + msg.Type})
			continue
		}
		if err := avatar.Dispatch(s.rt, avatar.Command{Name: msg.Command, Seconds: msg.Seconds}); err != nil {
			reply(out, PresentationMessage{Type: msgError, Error: err.Error()})
		}
	}

	cancel()
	close(done)
	s.logger.Info().Msg("Presentation client disconnected")
}

// reply queues msg unless the writer is backed up.
func reply(out chan<- PresentationMessage, msg PresentationMessage) {
	select {
	case out <- msg:
	default:
	}
}

func (s *Server) presentationWriter(conn *websocket.Conn, updates <-chan avatar.Snapshot, out <-chan PresentationMessage, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	write := func(msg PresentationMessage) bool {
		data, err := json.Marshal(msg)
		if err != nil {
			return false
		}
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
		return conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	for {
		select {
		case snap := <-updates:
			if !write(PresentationMessage{Type: EventSnapshot, Snapshot: &snap}) {
				return
			}
		case msg := <-out:
			if !write(msg) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.cfg.WriteWait))
			return
		}
	}
}
