package stream

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const wsWriteTimeout = 10 * time.Second

// WSWriter writes events as WebSocket text frames. It is safe for use by
// the turn goroutine and the connection's reader at the same time.
type WSWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSWriter(conn *websocket.Conn) *WSWriter {
	return &WSWriter{conn: conn}
}

func (s *WSWriter) Emit(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Str("type", string(ev.Type)).Msg("skipping unencodable event")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}
