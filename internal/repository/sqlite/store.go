// Package sqlite is an embedded SQL session store. Metadata and message logs
// live in a single sqlite file; working directories and conversation records
// stay on disk under the storage root.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/repository"
	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"
)

// Store implements domain.SessionStore on sqlite
type Store struct {
	*repository.Layout

	db    *sql.DB
	clock clockwork.Clock
}

// Open opens (or creates) the database file at path and applies migrations
func Open(ctx context.Context, path string, layout *repository.Layout, clock clockwork.Clock) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{Layout: layout, db: db, clock: clock}, nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var (
		s                domain.Session
		created, updated int64
	)
	if err := row.Scan(&s.ID, &s.Title, &s.WorkDir, &s.RecordPath, &created, &updated); err != nil {
		return nil, err
	}
	s.CreatedAt = fromMillis(created)
	s.UpdatedAt = fromMillis(updated)
	return &s, nil
}

func (s *Store) List(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, work_dir, record_path, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, work_dir, record_path, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

func (s *Store) Create(ctx context.Context, id, workDir, title string) (*domain.Session, error) {
	if err := s.CreateWorkDir(workDir); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC().Truncate(time.Millisecond)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, work_dir, record_path, created_at, updated_at)
		VALUES (?, ?, ?, '', ?, ?)
	`, id, title, workDir, toMillis(now), toMillis(now))
	if err != nil {
		s.Fs().RemoveAll(s.WorkDirPath(workDir))
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &domain.Session{ID: id, Title: title, WorkDir: workDir, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) Update(ctx context.Context, id string, upd domain.SessionUpdate) (*domain.Session, error) {
	now := toMillis(s.clock.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET title = COALESCE(?, title),
		    record_path = COALESCE(?, record_path),
		    updated_at = ?
		WHERE id = ?
	`, upd.Title, upd.RecordPath, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return s.Get(ctx, id)
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	sess, err := s.Get(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	if err := s.RemoveSessionData(sess.ID, sess.WorkDir); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Store) Messages(ctx context.Context, id string) ([]domain.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	msgs := []domain.StoredMessage{}
	for rows.Next() {
		var (
			m  domain.StoredMessage
			ts int64
		)
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Timestamp = fromMillis(ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) AppendMessage(ctx context.Context, id string, msg domain.StoredMessage) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, toMillis(s.clock.Now()), id)
	if err != nil {
		return false, fmt.Errorf("failed to touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, id, string(msg.Role), msg.Content, toMillis(msg.Timestamp))
	if err != nil {
		return false, fmt.Errorf("failed to append message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit message: %w", err)
	}
	return true, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
