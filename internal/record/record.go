// Package record reads and writes the conversation record: the agent-facing
// history file kept per session and used to resume the agent after restarts.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/agent-bridge/internal/repository"
	"github.com/google/generative-ai-go/genai"
	"github.com/spf13/afero"
)

// ErrNotFound is returned by Load when no record exists at the path
var ErrNotFound = errors.New("conversation record not found")

type EntryType string

const (
	EntryUser    EntryType = "user"
	EntryGemini  EntryType = "gemini"
	EntryInfo    EntryType = "info"
	EntryError   EntryType = "error"
	EntryWarning EntryType = "warning"
)

// Tool call statuses
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Record is the on-disk conversation record of one session
type Record struct {
	SessionID   string    `json:"sessionId"`
	ProjectHash string    `json:"projectHash"`
	StartTime   time.Time `json:"startTime"`
	LastUpdated time.Time `json:"lastUpdated"`
	Messages    []Entry   `json:"messages"`
}

// Entry is one turn entry of a record
type Entry struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Type      EntryType  `json:"type"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	Thoughts  []Thought  `json:"thoughts,omitempty"`
}

type ToolCall struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Args          map[string]any `json:"args"`
	Result        []Part         `json:"result,omitempty"`
	Status        string         `json:"status"`
	ResultDisplay string         `json:"resultDisplay,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

type Thought struct {
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// Part mirrors the agent wire shape of a content part
type Part struct {
	Text             string            `json:"text,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type FunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type FunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// FromGenai converts an agent part. ok is false for part kinds the record does not keep.
func FromGenai(p genai.Part) (Part, bool) {
	switch v := p.(type) {
	case genai.Text:
		return Part{Text: string(v)}, true
	case genai.Blob:
		return Part{InlineData: &InlineData{MIMEType: v.MIMEType, Data: v.Data}}, true
	case genai.FunctionCall:
		return Part{FunctionCall: &FunctionCall{Name: v.Name, Args: v.Args}}, true
	case genai.FunctionResponse:
		return Part{FunctionResponse: &FunctionResponse{Name: v.Name, Response: v.Response}}, true
	}
	return Part{}, false
}

// Genai converts back to an agent part; nil for an empty part
func (p Part) Genai() genai.Part {
	switch {
	case p.FunctionResponse != nil:
		return genai.FunctionResponse{Name: p.FunctionResponse.Name, Response: p.FunctionResponse.Response}
	case p.FunctionCall != nil:
		return genai.FunctionCall{Name: p.FunctionCall.Name, Args: p.FunctionCall.Args}
	case p.InlineData != nil:
		return genai.Blob{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data}
	case p.Text != "":
		return genai.Text(p.Text)
	}
	return nil
}

// ProjectHash derives the workspace identifier stored in a record
func ProjectHash(workDir string) string {
	sum := sha256.Sum256([]byte(workDir))
	return hex.EncodeToString(sum[:])
}

// New returns an empty record for a session
func New(sessionID, workDir string, now time.Time) *Record {
	return &Record{
		SessionID:   sessionID,
		ProjectHash: ProjectHash(workDir),
		StartTime:   now,
		LastUpdated: now,
		Messages:    []Entry{},
	}
}

// Load reads the record at path
func Load(fs afero.Fs, path string) (*Record, error) {
	var rec Record
	if err := repository.ReadJSON(fs, path, &rec); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load conversation record: %w", err)
	}
	return &rec, nil
}

// Save overwrites the record at path
func Save(fs afero.Fs, path string, rec *Record) error {
	if err := repository.WriteJSON(fs, path, rec); err != nil {
		return fmt.Errorf("failed to save conversation record: %w", err)
	}
	return nil
}

// Seed writes an empty record for a new session
func Seed(fs afero.Fs, path, sessionID, workDir string, now time.Time) (*Record, error) {
	rec := New(sessionID, workDir, now)
	if err := Save(fs, path, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
