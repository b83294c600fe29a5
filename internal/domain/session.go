package domain

import (
	"context"
	"time"
)

// Session is the durable metadata of one conversation
type Session struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	WorkDir    string    `json:"workDir"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	RecordPath string    `json:"recordPath,omitempty"`
}

// SessionUpdate carries the mutable fields of a session. Nil fields are left untouched.
type SessionUpdate struct {
	Title      *string
	RecordPath *string
}

// SessionDetail is a session together with its message log
type SessionDetail struct {
	Session
	Messages []StoredMessage `json:"messages"`
}

// SessionStore persists session metadata, message logs and working directories.
// List returns sessions ordered by UpdatedAt, most recent first.
type SessionStore interface {
	List(ctx context.Context) ([]Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Create(ctx context.Context, id, workDir, title string) (*Session, error)
	Update(ctx context.Context, id string, upd SessionUpdate) (*Session, error)
	Delete(ctx context.Context, id string) (bool, error)
	Messages(ctx context.Context, id string) ([]StoredMessage, error)
	AppendMessage(ctx context.Context, id string, msg StoredMessage) (bool, error)

	// WorkDirPath resolves a working-directory name to its absolute path
	WorkDirPath(workDir string) string
	// RecordPath returns the fixed conversation record path for a session
	RecordPath(id string) string
	Ping(ctx context.Context) error
	Close() error
}
