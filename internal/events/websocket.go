package events

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport subscribes to a push stream served over WebSocket.
// Each text or binary frame is one message.
type WebSocketTransport struct {
	URL            string
	Header         http.Header
	Dialer         *websocket.Dialer
	MaxMessageSize int64
}

// Connect dials the WebSocket endpoint.
func (t *WebSocketTransport) Connect(ctx context.Context) (Stream, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  4 * 1024,
		}
	}
	conn, _, err := dialer.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		return nil, fmt.Errorf("dial events websocket: %w", err)
	}
	if t.MaxMessageSize > 0 {
		conn.SetReadLimit(t.MaxMessageSize)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Next() ([]byte, error) {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrStreamClosed
			}
			return nil, fmt.Errorf("read events websocket: %w", err)
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a close frame and releases the connection. Safe to call while
// Next is blocked in another goroutine.
func (s *wsStream) Close() error {
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}
