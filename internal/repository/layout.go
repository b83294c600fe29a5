// Package repository holds the on-disk layout shared by every session store
// backend: working directories and the per-session log area live on the
// filesystem regardless of where metadata is kept.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	indexFile    = "sessions.json"
	logsDir      = "logs"
	workspaceDir = "workspaces"
	messagesFile = "messages.json"
	recordFile   = "chat.json"
)

// ErrNotFound is returned by ReadJSON when the file does not exist
var ErrNotFound = errors.New("not found")

// Layout resolves and manipulates paths below the storage root
type Layout struct {
	fs   afero.Fs
	root string
}

// NewLayout creates a layout rooted at root. The root is made absolute so that
// working-directory paths handed to tools are stable.
func NewLayout(fs afero.Fs, root string) (*Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := fs.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Layout{fs: fs, root: abs}, nil
}

func (l *Layout) Fs() afero.Fs { return l.fs }

func (l *Layout) Root() string { return l.root }

func (l *Layout) IndexPath() string {
	return filepath.Join(l.root, indexFile)
}

func (l *Layout) LogDir(id string) string {
	return filepath.Join(l.root, logsDir, id)
}

func (l *Layout) MessagesPath(id string) string {
	return filepath.Join(l.LogDir(id), messagesFile)
}

// RecordPath is the fixed conversation record location of a session
func (l *Layout) RecordPath(id string) string {
	return filepath.Join(l.LogDir(id), recordFile)
}

func (l *Layout) WorkDirPath(name string) string {
	return filepath.Join(l.root, workspaceDir, name)
}

// CreateWorkDir creates an empty working directory. It fails if the name is taken.
func (l *Layout) CreateWorkDir(name string) error {
	path := l.WorkDirPath(name)
	exists, err := afero.Exists(l.fs, path)
	if err != nil {
		return fmt.Errorf("failed to stat working directory: %w", err)
	}
	if exists {
		return fmt.Errorf("working directory %q already exists", name)
	}
	if err := l.fs.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}
	return nil
}

// RemoveSessionData deletes a session's working directory and log area
func (l *Layout) RemoveSessionData(id, workDir string) error {
	if workDir != "" {
		if err := l.fs.RemoveAll(l.WorkDirPath(workDir)); err != nil {
			return fmt.Errorf("failed to remove working directory: %w", err)
		}
	}
	if err := l.fs.RemoveAll(l.LogDir(id)); err != nil {
		return fmt.Errorf("failed to remove session logs: %w", err)
	}
	return nil
}

// Ping checks the storage root is reachable
func (l *Layout) Ping() error {
	if _, err := l.fs.Stat(l.root); err != nil {
		return fmt.Errorf("storage root unavailable: %w", err)
	}
	return nil
}

// ReadJSON decodes the file at path into v
func ReadJSON(fs afero.Fs, path string, v any) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteJSON replaces the file at path with the encoding of v.
// The content goes to a temp file first and is renamed into place.
func WriteJSON(fs afero.Fs, path string, v any) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
