package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

var ErrStreamingUnsupported = errors.New("streaming not supported")

// SSEWriter writes events as server-sent events, one data frame each
type SSEWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewSSEWriter sends the event-stream headers and the status line
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &SSEWriter{w: w, rc: http.NewResponseController(w)}
	if err := s.flush(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SSEWriter) Emit(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Str("type", string(ev.Type)).Msg("skipping unencodable event")
		return nil
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return s.flush()
}

func (s *SSEWriter) flush() error {
	if err := s.rc.Flush(); err != nil {
		if f, ok := s.w.(http.Flusher); ok {
			f.Flush()
			return nil
		}
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return nil
}
