package handler

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/Rrens/agent-bridge/internal/api/response"
	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/service"
	"github.com/Rrens/agent-bridge/internal/stream"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

type inlineDataRequest struct {
	Data     string `json:"data" validate:"required,base64"`
	MimeType string `json:"mimeType" validate:"max=255"`
}

type partRequest struct {
	Text       string             `json:"text"`
	InlineData *inlineDataRequest `json:"inlineData"`
}

// ChatRequest is the body of a chat turn: a plain message or a part list
type ChatRequest struct {
	SessionID string        `json:"sessionId" validate:"max=128"`
	Message   string        `json:"message"`
	Parts     []partRequest `json:"parts" validate:"dive"`
}

func (c ChatRequest) toService() (service.ChatRequest, error) {
	req := service.ChatRequest{SessionID: c.SessionID, Message: c.Message}
	for i, p := range c.Parts {
		if p.InlineData == nil {
			req.Parts = append(req.Parts, domain.InboundPart{Text: p.Text})
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return req, errorf("part %d: invalid base64 data", i)
		}
		req.Parts = append(req.Parts, domain.InboundPart{
			Inline: &domain.InlineData{MIMEType: p.InlineData.MimeType, Data: data},
		})
	}
	return req, nil
}

// ChatHandler streams chat turns and takes tool-call decisions
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Stream runs one turn and streams its events as server-sent events. Errors
// found before the stream opens get a plain JSON response.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var input ChatRequest
	if !decode(w, r, &input) {
		return
	}
	req, err := input.toService()
	if err != nil {
		writeError(w, r, err)
		return
	}

	turn, err := h.chatService.Begin(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		turn.Abandon()
		writeError(w, r, err)
		return
	}

	res := turn.Run(r.Context(), sse)
	hlog.FromRequest(r).Debug().
		Str("session_id", turn.SessionID()).
		Str("state", res.State.String()).
		Msg("chat stream closed")
}

type confirmRequest struct {
	Approved *bool `json:"approved" validate:"required"`
}

// Confirm posts an approve or reject decision for a pending tool call
func (h *ChatHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")

	var input confirmRequest
	if !decode(w, r, &input) {
		return
	}

	applied, err := h.chatService.Confirm(callID, *input.Approved)
	if err != nil {
		if errors.Is(err, domain.ErrToolCallNotFound) {
			response.NotFound(w, "tool call not found")
			return
		}
		writeError(w, r, err)
		return
	}

	response.OK(w, map[string]any{
		"callId":       callID,
		"approved":     *input.Approved,
		"applied":      applied,
		"approvalMode": h.chatService.ApprovalMode(),
	})
}
