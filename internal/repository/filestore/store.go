// Package filestore is the flat-file session store: one index file holding all
// session metadata, rewritten wholesale on every mutation, plus one message log
// file per session.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/repository"
	"github.com/jonboulle/clockwork"
)

// Store implements domain.SessionStore on top of a repository.Layout
type Store struct {
	*repository.Layout

	clock clockwork.Clock
	mu    sync.Mutex
}

// NewStore creates a flat-file store
func NewStore(layout *repository.Layout, clock clockwork.Clock) *Store {
	return &Store{Layout: layout, clock: clock}
}

func (s *Store) loadIndex() ([]domain.Session, error) {
	var sessions []domain.Session
	err := repository.ReadJSON(s.Fs(), s.IndexPath(), &sessions)
	if errors.Is(err, repository.ErrNotFound) {
		return []domain.Session{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session index: %w", err)
	}
	return sessions, nil
}

func (s *Store) saveIndex(sessions []domain.Session) error {
	if err := repository.WriteJSON(s.Fs(), s.IndexPath(), sessions); err != nil {
		return fmt.Errorf("failed to save session index: %w", err)
	}
	return nil
}

func find(sessions []domain.Session, id string) int {
	for i := range sessions {
		if sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) List(ctx context.Context) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	i := find(sessions, id)
	if i < 0 {
		return nil, domain.ErrSessionNotFound
	}
	sess := sessions[i]
	return &sess, nil
}

func (s *Store) Create(ctx context.Context, id, workDir, title string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	if find(sessions, id) >= 0 {
		return nil, fmt.Errorf("session %s already exists", id)
	}
	if err := s.CreateWorkDir(workDir); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	sess := domain.Session{
		ID:        id,
		Title:     title,
		WorkDir:   workDir,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.saveIndex(append(sessions, sess)); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) Update(ctx context.Context, id string, upd domain.SessionUpdate) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	i := find(sessions, id)
	if i < 0 {
		return nil, domain.ErrSessionNotFound
	}
	if upd.Title != nil {
		sessions[i].Title = *upd.Title
	}
	if upd.RecordPath != nil {
		sessions[i].RecordPath = *upd.RecordPath
	}
	sessions[i].UpdatedAt = s.clock.Now().UTC()
	if err := s.saveIndex(sessions); err != nil {
		return nil, err
	}
	sess := sessions[i]
	return &sess, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadIndex()
	if err != nil {
		return false, err
	}
	i := find(sessions, id)
	if i < 0 {
		return false, nil
	}
	sess := sessions[i]
	if err := s.saveIndex(append(sessions[:i], sessions[i+1:]...)); err != nil {
		return false, err
	}
	if err := s.RemoveSessionData(sess.ID, sess.WorkDir); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Store) Messages(ctx context.Context, id string) ([]domain.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadMessages(id)
}

func (s *Store) loadMessages(id string) ([]domain.StoredMessage, error) {
	var msgs []domain.StoredMessage
	err := repository.ReadJSON(s.Fs(), s.MessagesPath(id), &msgs)
	if errors.Is(err, repository.ErrNotFound) {
		return []domain.StoredMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return msgs, nil
}

func (s *Store) AppendMessage(ctx context.Context, id string, msg domain.StoredMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadIndex()
	if err != nil {
		return false, err
	}
	i := find(sessions, id)
	if i < 0 {
		return false, nil
	}

	msgs, err := s.loadMessages(id)
	if err != nil {
		return false, err
	}
	if err := repository.WriteJSON(s.Fs(), s.MessagesPath(id), append(msgs, msg)); err != nil {
		return false, fmt.Errorf("failed to save messages: %w", err)
	}

	sessions[i].UpdatedAt = s.clock.Now().UTC()
	if err := s.saveIndex(sessions); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Layout.Ping()
}

func (s *Store) Close() error { return nil }
