package live

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WebSocketSink writes messages as {"event": ..., "data": ...} JSON frames.
type WebSocketSink struct {
	conn *websocket.Conn
}

func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn}
}

func (s *WebSocketSink) Write(msg Message) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(wsFrame{Event: msg.Event, Data: msg.Data})
}

// ReadUntilClosed discards inbound frames so control frames are processed,
// and cancels once the peer goes away.
func (s *WebSocketSink) ReadUntilClosed(cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *WebSocketSink) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}
