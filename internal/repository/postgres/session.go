package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/agent-bridge/internal/config"
	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

// SessionStore implements domain.SessionStore on postgres
type SessionStore struct {
	*repository.Layout

	pool  *pgxpool.Pool
	clock clockwork.Clock
}

// Open migrates the schema, connects a pool and returns the store on top of it.
func Open(ctx context.Context, cfg config.PostgresConfig, layout *repository.Layout, clock clockwork.Clock) (*SessionStore, error) {
	if err := RunMigrations(cfg.DSN()); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SessionStore{Layout: layout, pool: pool, clock: clock}, nil
}

const sessionColumns = `id, title, work_dir, record_path, created_at, updated_at`

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	if err := row.Scan(&s.ID, &s.Title, &s.WorkDir, &s.RecordPath, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SessionStore) List(ctx context.Context) ([]domain.Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *SessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (r *SessionStore) Create(ctx context.Context, id, workDir, title string) (*domain.Session, error) {
	if err := r.CreateWorkDir(workDir); err != nil {
		return nil, err
	}

	now := r.clock.Now().UTC().Truncate(time.Microsecond)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, title, work_dir, record_path, created_at, updated_at)
		VALUES ($1, $2, $3, '', $4, $4)
	`, id, title, workDir, now)
	if err != nil {
		r.Fs().RemoveAll(r.WorkDirPath(workDir))
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &domain.Session{ID: id, Title: title, WorkDir: workDir, CreatedAt: now, UpdatedAt: now}, nil
}

func (r *SessionStore) Update(ctx context.Context, id string, upd domain.SessionUpdate) (*domain.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `
		UPDATE sessions
		SET title = COALESCE($2, title),
		    record_path = COALESCE($3, record_path),
		    updated_at = $4
		WHERE id = $1
		RETURNING `+sessionColumns,
		id, upd.Title, upd.RecordPath, r.clock.Now().UTC(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return s, nil
}

func (r *SessionStore) Delete(ctx context.Context, id string) (bool, error) {
	var workDir string
	err := r.pool.QueryRow(ctx, `DELETE FROM sessions WHERE id = $1 RETURNING work_dir`, id).Scan(&workDir)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	if err := r.RemoveSessionData(id, workDir); err != nil {
		return true, err
	}
	return true, nil
}

func (r *SessionStore) Messages(ctx context.Context, id string) ([]domain.StoredMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, role, content, created_at
		FROM session_messages
		WHERE session_id = $1
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	msgs := []domain.StoredMessage{}
	for rows.Next() {
		var (
			m    domain.StoredMessage
			role string
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = domain.Role(role)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *SessionStore) AppendMessage(ctx context.Context, id string, msg domain.StoredMessage) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE sessions SET updated_at = $2 WHERE id = $1`, id, r.clock.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO session_messages (id, session_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.ID, id, string(msg.Role), msg.Content, msg.Timestamp)
	if err != nil {
		return false, fmt.Errorf("failed to append message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit message: %w", err)
	}
	return true, nil
}

func (r *SessionStore) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *SessionStore) Close() error {
	r.pool.Close()
	return nil
}
