package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Rrens/agent-bridge/internal/attachment"
	"github.com/Rrens/agent-bridge/internal/config"
	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/session"
	"github.com/Rrens/agent-bridge/internal/stream"
	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTitle  = "New Chat"
	titleMaxRunes = 30
)

// ChatRequest is one user turn. Parts, when set, take precedence over Message.
type ChatRequest struct {
	SessionID string
	Message   string
	Parts     []domain.InboundPart
}

func (r ChatRequest) parts() []domain.InboundPart {
	if len(r.Parts) > 0 {
		return r.Parts
	}
	if r.Message == "" {
		return nil
	}
	return []domain.InboundPart{{Text: r.Message}}
}

func validParts(parts []domain.InboundPart) bool {
	for _, p := range parts {
		if !p.IsText() && len(p.Inline.Data) > 0 {
			return true
		}
		if p.IsText() && strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

// Title derives a session title from the first message of a session
func Title(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(text) <= titleMaxRunes {
		return text
	}
	return string([]rune(text)[:titleMaxRunes]) + "..."
}

// ChatService runs user turns
type ChatService struct {
	orchestrator  *session.Orchestrator
	store         domain.SessionStore
	ingestor      *attachment.Ingestor
	confirmations *session.Confirmations
	loop          session.LoopConfig
	clock         clockwork.Clock
}

// NewChatService creates a new chat service
func NewChatService(
	orchestrator *session.Orchestrator,
	store domain.SessionStore,
	ingestor *attachment.Ingestor,
	confirmations *session.Confirmations,
	cfg config.AgentConfig,
	clock clockwork.Clock,
) *ChatService {
	return &ChatService{
		orchestrator:  orchestrator,
		store:         store,
		ingestor:      ingestor,
		confirmations: confirmations,
		loop: session.LoopConfig{
			MaxTurns:            cfg.MaxTurns,
			ApprovalMode:        cfg.ApprovalMode,
			ConfirmationTimeout: cfg.ConfirmationTimeout,
		},
		clock: clock,
	}
}

// Turn is a user turn bound to a live session it holds exclusively until Run returns
type Turn struct {
	svc     *ChatService
	handle  *session.Handle
	release func()
	parts   []domain.InboundPart
	created bool
}

func (t *Turn) SessionID() string { return t.handle.ID }

// Created reports whether the turn started a new session
func (t *Turn) Created() bool { return t.created }

// Begin validates req and resolves its session. Nothing is streamed yet, so
// the caller can still answer with a plain error.
func (s *ChatService) Begin(ctx context.Context, req ChatRequest) (*Turn, error) {
	parts := req.parts()
	if !validParts(parts) {
		return nil, fmt.Errorf("%w: message is required", domain.ErrInvalidInput)
	}

	var firstText string
	for _, p := range parts {
		if p.IsText() && strings.TrimSpace(p.Text) != "" {
			firstText = p.Text
			break
		}
	}

	h, created, err := s.orchestrator.Resolve(ctx, req.SessionID, Title(firstText))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	release, err := s.orchestrator.AcquireTurn(ctx, h)
	if err != nil {
		return nil, err
	}

	return &Turn{svc: s, handle: h, release: release, parts: parts, created: created}, nil
}

// Abandon releases a turn that will not be run
func (t *Turn) Abandon() {
	t.release()
}

// Run streams the turn to emit and persists the exchange. It ends with a
// done event, an error event, or nothing when ctx is cancelled.
func (t *Turn) Run(ctx context.Context, emit stream.Emitter) session.Result {
	defer t.release()
	s := t.svc
	h := t.handle
	logger := log.With().Str("session_id", h.ID).Logger()

	if err := emit.Emit(stream.Session(h.ID, h.WorkDirName)); err != nil {
		return session.Result{State: session.StateAborted}
	}

	ingested := s.ingestor.Ingest(ctx, h.WorkDir, t.parts)

	messageID := ulid.Make().String()
	if err := emit.Emit(stream.MessageID(messageID)); err != nil {
		return session.Result{State: session.StateAborted}
	}

	result := session.NewLoop(h, emit, s.confirmations, s.loop, messageID).Run(ctx, ingested.Parts)
	logger.Info().
		Str("message_id", messageID).
		Str("state", result.State.String()).
		Int("turns", result.Turns).
		Err(result.Err).
		Msg("turn finished")

	persistErr := s.persist(context.WithoutCancel(ctx), h.ID, ingested.StoredContent(), result.Content)
	if persistErr != nil {
		logger.Error().Err(persistErr).Msg("failed to persist turn")
	}

	switch {
	case result.State == session.StateAborted:
	case result.State == session.StateError:
		emit.Emit(stream.Error(result.Err.Error()))
	case persistErr != nil:
		emit.Emit(stream.Error(persistErr.Error()))
	default:
		emit.Emit(stream.Done())
	}
	return result
}

func (s *ChatService) persist(ctx context.Context, sessionID, userContent, reply string) error {
	messages := []domain.StoredMessage{{
		ID:        ulid.Make().String(),
		Role:      domain.RoleUser,
		Content:   userContent,
		Timestamp: s.clock.Now().UTC(),
	}}
	if reply != "" {
		messages = append(messages, domain.StoredMessage{
			ID:        ulid.Make().String(),
			Role:      domain.RoleAssistant,
			Content:   reply,
			Timestamp: s.clock.Now().UTC(),
		})
	}

	for _, msg := range messages {
		ok, err := s.store.AppendMessage(ctx, sessionID, msg)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
		if !ok {
			return fmt.Errorf("failed to save message: %w", domain.ErrSessionNotFound)
		}
	}
	return nil
}

// Confirm posts a decision for a pending tool call. applied is false under
// the auto approval mode, where calls never wait.
func (s *ChatService) Confirm(callID string, approved bool) (applied bool, err error) {
	if s.loop.ApprovalMode != config.ApprovalConfirm {
		return false, nil
	}
	if err := s.confirmations.Resolve(callID, approved); err != nil {
		return false, err
	}
	return true, nil
}

// ApprovalMode returns the configured approval mode
func (s *ChatService) ApprovalMode() string {
	return s.loop.ApprovalMode
}
