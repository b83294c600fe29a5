package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/session"
	"github.com/rs/zerolog/log"
)

// SessionService manages session metadata and transcripts
type SessionService struct {
	store        domain.SessionStore
	orchestrator *session.Orchestrator
}

// NewSessionService creates a new session service
func NewSessionService(store domain.SessionStore, orchestrator *session.Orchestrator) *SessionService {
	return &SessionService{store: store, orchestrator: orchestrator}
}

// List returns all sessions, most recently updated first
func (s *SessionService) List(ctx context.Context) ([]domain.Session, error) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	return sessions, nil
}

// Get returns a session with its message log
func (s *SessionService) Get(ctx context.Context, id string) (*domain.SessionDetail, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.Messages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	if messages == nil {
		messages = []domain.StoredMessage{}
	}
	return &domain.SessionDetail{Session: *sess, Messages: messages}, nil
}

// Create starts an empty session. The agent client is built lazily by the first turn.
func (s *SessionService) Create(ctx context.Context, title string) (*domain.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	return s.orchestrator.CreateSession(ctx, title)
}

// Rename changes the title of a session
func (s *SessionService) Rename(ctx context.Context, id, title string) (*domain.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrInvalidInput)
	}
	return s.store.Update(ctx, id, domain.SessionUpdate{Title: &title})
}

// Delete removes a session, its working directory and its live client
func (s *SessionService) Delete(ctx context.Context, id string) error {
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if !deleted {
		return domain.ErrSessionNotFound
	}
	if s.orchestrator.Evict(id) {
		log.Info().Str("session_id", id).Msg("evicted live session")
	}
	return nil
}
