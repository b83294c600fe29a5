package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"

	"github.com/Rrens/agent-bridge/internal/service"
	"github.com/Rrens/agent-bridge/internal/stream"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
)

// Client frame types
const (
	frameChat    = "chat"
	frameConfirm = "confirm"
	frameAbort   = "abort"
)

type clientFrame struct {
	Type string `json:"type"`
	ChatRequest
	CallID   string `json:"callId"`
	Approved bool   `json:"approved"`
}

// WSHandler serves chat turns over a WebSocket
type WSHandler struct {
	chatService *service.ChatService
	upgrader    websocket.Upgrader
}

// NewWSHandler creates a WebSocket handler accepting the given origins.
// An empty list or "*" accepts any origin.
func NewWSHandler(chatService *service.ChatService, allowedOrigins []string) *WSHandler {
	anyOrigin := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	return &WSHandler{
		chatService: chatService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return anyOrigin || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// Serve upgrades the connection and runs one turn at a time from its chat
// frames. Closing the socket cancels the running turn.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := stream.NewWSWriter(conn)
	var (
		abort context.CancelFunc
		done  chan struct{}
	)
	running := func() bool {
		if done == nil {
			return false
		}
		select {
		case <-done:
			return false
		default:
			return true
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("websocket read failed")
			}
			break
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn().Err(err).Msg("skipping malformed websocket frame")
			continue
		}

		switch frame.Type {
		case frameChat:
			if running() {
				out.Emit(stream.Error("a turn is already running on this connection"))
				continue
			}
			if err := validate.Struct(frame.ChatRequest); err != nil {
				out.Emit(stream.Error("invalid chat frame"))
				continue
			}
			req, err := frame.ChatRequest.toService()
			if err != nil {
				out.Emit(stream.Error(err.Error()))
				continue
			}
			turn, err := h.chatService.Begin(ctx, req)
			if err != nil {
				if statusFor(err) == http.StatusInternalServerError {
					logger.Error().Err(err).Msg("failed to start turn")
				}
				out.Emit(stream.Error(err.Error()))
				continue
			}

			turnCtx, turnCancel := context.WithCancel(ctx)
			abort = turnCancel
			done = make(chan struct{})
			go func(finished chan struct{}) {
				defer close(finished)
				defer turnCancel()
				turn.Run(turnCtx, out)
			}(done)

		case frameConfirm:
			if _, err := h.chatService.Confirm(frame.CallID, frame.Approved); err != nil {
				logger.Warn().Err(err).Str("call_id", frame.CallID).Msg("confirmation not applied")
			}

		case frameAbort:
			if abort != nil {
				abort()
			}

		default:
			logger.Warn().Str("frame_type", frame.Type).Msg("skipping unknown websocket frame")
		}
	}

	cancel()
	if done != nil {
		<-done
	}
}
