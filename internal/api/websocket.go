package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/dataprofiler/dashboard/internal/models"
)

// WebSocket message types for the status feed
const (
	MsgTypeStatus = "status"
	MsgTypePing   = "ping"
	MsgTypePong   = "pong"
)

// WSMessage is the envelope for every frame on the status socket
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   *statusResponse `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

const wsWriteWait = 5 * time.Second

// statusSocket pushes status snapshots to WebSocket clients
type statusSocket struct {
	engine         Engine
	upgrader       websocket.Upgrader
	maxMessageSize int64
}

func newStatusSocket(engine Engine, maxMessageSize int64) *statusSocket {
	if maxMessageSize <= 0 {
		maxMessageSize = 64 * 1024
	}
	return &statusSocket{
		engine: engine,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		maxMessageSize: maxMessageSize,
	}
}

func (s *statusSocket) serve(c echo.Context, project func(models.StatusSnapshot) statusResponse) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	ws.SetReadLimit(s.maxMessageSize)

	updates, unsubscribe := s.engine.Subscribe(32)
	defer unsubscribe()

	// Reads only answer pings; any read error ends the session.
	pings := make(chan struct{}, 4)
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			var msg WSMessage
			if err := ws.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("status socket read failed", "error", err)
				}
				return
			}
			if msg.Type == MsgTypePing {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	initial := project(s.engine.View())
	if err := s.send(ws, WSMessage{Type: MsgTypeStatus, Payload: &initial}); err != nil {
		return nil
	}

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				s.close(ws, "session closed")
				return nil
			}
			payload := project(snap)
			if err := s.send(ws, WSMessage{Type: MsgTypeStatus, Payload: &payload}); err != nil {
				return nil
			}
		case <-pings:
			if err := s.send(ws, WSMessage{Type: MsgTypePong}); err != nil {
				return nil
			}
		case <-s.engine.Done():
			s.close(ws, "session closed")
			return nil
		case <-gone:
			return nil
		}
	}
}

func (s *statusSocket) send(ws *websocket.Conn, msg WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.WriteJSON(msg)
}

func (s *statusSocket) close(ws *websocket.Conn, reason string) {
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
		time.Now().Add(wsWriteWait))
}
