package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Rrens/agent-bridge/internal/agent"
	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/history"
	"github.com/Rrens/agent-bridge/internal/record"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// TurnLocker excludes concurrent turns of one session across processes
type TurnLocker interface {
	Acquire(ctx context.Context, sessionID string) (release func(), ok bool, err error)
}

// Orchestrator resolves the session a turn runs in: a cached live handle,
// a handle rebuilt from the store, or a brand new session.
type Orchestrator struct {
	store    domain.SessionStore
	registry *Registry
	factory  agent.Factory
	fs       afero.Fs
	locker   TurnLocker
}

// NewOrchestrator wires the store and agent factory to the registry. fs is
// the filesystem holding the conversation records.
func NewOrchestrator(store domain.SessionStore, registry *Registry, factory agent.Factory, fs afero.Fs) *Orchestrator {
	return &Orchestrator{store: store, registry: registry, factory: factory, fs: fs}
}

// SetTurnLocker adds a lock taken next to the in-process one for every turn
func (o *Orchestrator) SetTurnLocker(l TurnLocker) {
	o.locker = l
}

func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Resolve returns the live handle for sessionID. An empty or unknown id
// starts a new session titled title; created reports that case.
func (o *Orchestrator) Resolve(ctx context.Context, sessionID, title string) (h *Handle, created bool, err error) {
	if sessionID != "" {
		if h, ok := o.registry.Get(sessionID); ok {
			return h, false, nil
		}

		h, err := o.registry.GetOrBuild(ctx, sessionID, func(ctx context.Context) (*Handle, error) {
			return o.rebuild(ctx, sessionID)
		})
		if err == nil {
			return h, false, nil
		}
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return nil, false, err
		}
		log.Info().Str("session_id", sessionID).Msg("unknown session, starting a new one")
	}

	sess, rec, err := o.create(ctx, title)
	if err != nil {
		return nil, false, err
	}
	h, err = o.build(ctx, sess, func(c agent.Client) error {
		return c.ResumeChat(nil, &agent.ResumeData{RecordPath: sess.RecordPath, Record: rec})
	})
	if err != nil {
		return nil, false, err
	}
	o.registry.Put(h)
	return h, true, nil
}

// CreateSession creates a session without building its agent client
func (o *Orchestrator) CreateSession(ctx context.Context, title string) (*domain.Session, error) {
	sess, _, err := o.create(ctx, title)
	return sess, err
}

func (o *Orchestrator) create(ctx context.Context, title string) (*domain.Session, *record.Record, error) {
	id := uuid.NewString()
	workDir := strings.ToLower(ulid.Make().String())

	if _, err := o.store.Create(ctx, id, workDir, title); err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	recordPath := o.store.RecordPath(id)
	rec, err := record.Seed(o.fs, recordPath, id, o.store.WorkDirPath(workDir), o.registry.Now())
	if err != nil {
		return nil, nil, err
	}

	sess, err := o.store.Update(ctx, id, domain.SessionUpdate{RecordPath: &recordPath})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to store record path: %w", err)
	}

	log.Info().Str("session_id", id).Str("work_dir", workDir).Msg("session created")
	return sess, rec, nil
}

// rebuild restores a persisted session, replaying its conversation record
// into the new client
func (o *Orchestrator) rebuild(ctx context.Context, id string) (*Handle, error) {
	sess, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	h, err := o.build(ctx, sess, func(c agent.Client) error {
		if sess.RecordPath == "" {
			return nil
		}
		rec, err := record.Load(o.fs, sess.RecordPath)
		if errors.Is(err, record.ErrNotFound) {
			log.Warn().Str("session_id", id).Str("path", sess.RecordPath).Msg("conversation record missing, resuming without history")
			return nil
		}
		if err != nil {
			return err
		}
		return c.ResumeChat(history.Reconstruct(rec.Messages), &agent.ResumeData{RecordPath: sess.RecordPath, Record: rec})
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("session_id", id).Msg("session resumed")
	return h, nil
}

func (o *Orchestrator) build(ctx context.Context, sess *domain.Session, seed func(agent.Client) error) (*Handle, error) {
	recordPath := sess.RecordPath
	if recordPath == "" {
		recordPath = o.store.RecordPath(sess.ID)
	}
	workDir := o.store.WorkDirPath(sess.WorkDir)

	client, executor, err := o.factory.NewSession(ctx, agent.SessionOptions{
		SessionID:  sess.ID,
		WorkDir:    workDir,
		RecordPath: recordPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent client: %w", err)
	}
	if err := client.Initialize(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize agent client: %w", err)
	}
	if err := seed(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to seed agent history: %w", err)
	}

	return &Handle{
		ID:          sess.ID,
		WorkDirName: sess.WorkDir,
		WorkDir:     workDir,
		Client:      client,
		Executor:    executor,
		CreatedAt:   o.registry.Now(),
	}, nil
}

// AcquireTurn claims h for one turn. It fails with domain.ErrSessionBusy
// while another turn of the session runs.
func (o *Orchestrator) AcquireTurn(ctx context.Context, h *Handle) (release func(), err error) {
	if !h.TryAcquire() {
		return nil, domain.ErrSessionBusy
	}
	if o.locker == nil {
		return h.Release, nil
	}

	unlock, ok, err := o.locker.Acquire(ctx, h.ID)
	if err != nil {
		h.Release()
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}
	if !ok {
		h.Release()
		return nil, domain.ErrSessionBusy
	}
	return func() {
		unlock()
		h.Release()
	}, nil
}

// Evict drops the live handle of id, if any
func (o *Orchestrator) Evict(id string) bool {
	return o.registry.Remove(id)
}
