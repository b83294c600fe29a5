package record

import (
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"
)

// Recorder appends turn entries to a record and writes it back to disk.
// It is owned by one agent client.
type Recorder struct {
	fs   afero.Fs
	path string
	now  func() time.Time

	mu  sync.Mutex
	rec *Record
}

// NewRecorder wraps rec, which is persisted to path on Save
func NewRecorder(fs afero.Fs, path string, rec *Record) *Recorder {
	return &Recorder{fs: fs, path: path, rec: rec, now: time.Now}
}

func (r *Recorder) Path() string { return r.path }

func (r *Recorder) append(e Entry) {
	e.ID = ulid.Make().String()
	e.Timestamp = r.now().UTC()
	r.rec.Messages = append(r.rec.Messages, e)
	r.rec.LastUpdated = e.Timestamp
}

// RecordUser appends the text of an outbound user message. Function
// responses are attached to the pending tool calls instead.
func (r *Recorder) RecordUser(parts []genai.Part) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var texts []string
	var responses []genai.FunctionResponse
	for _, p := range parts {
		switch v := p.(type) {
		case genai.Text:
			texts = append(texts, string(v))
		case genai.FunctionResponse:
			responses = append(responses, v)
		}
	}

	if len(responses) > 0 {
		r.attachResponses(responses)
	}
	if len(texts) > 0 {
		r.append(Entry{Type: EntryUser, Content: strings.Join(texts, "")})
	}
}

// attachResponses pairs responses with the unanswered calls of the latest
// agent entry, in order and by name.
func (r *Recorder) attachResponses(responses []genai.FunctionResponse) {
	for i := len(r.rec.Messages) - 1; i >= 0; i-- {
		e := &r.rec.Messages[i]
		if e.Type != EntryGemini || len(e.ToolCalls) == 0 {
			continue
		}
		next := 0
		for _, resp := range responses {
			for next < len(e.ToolCalls) && (e.ToolCalls[next].Result != nil || e.ToolCalls[next].Name != resp.Name) {
				next++
			}
			if next == len(e.ToolCalls) {
				return
			}
			tc := &e.ToolCalls[next]
			tc.Result = []Part{{FunctionResponse: &FunctionResponse{Name: resp.Name, Response: resp.Response}}}
			tc.Status = StatusSuccess
			if _, failed := resp.Response["error"]; failed {
				tc.Status = StatusError
			}
			next++
		}
		return
	}
}

// RecordModel appends one agent reply
func (r *Recorder) RecordModel(text string, calls []ToolCall, thoughts []Thought) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if text == "" && len(calls) == 0 && len(thoughts) == 0 {
		return
	}
	r.append(Entry{Type: EntryGemini, Content: text, ToolCalls: calls, Thoughts: thoughts})
}

// RecordNotice appends an info, warning or error entry
func (r *Recorder) RecordNotice(t EntryType, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.append(Entry{Type: t, Content: msg})
}

// Entries returns a copy of the recorded entries
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.rec.Messages))
	copy(out, r.rec.Messages)
	return out
}

// Save writes the whole record to disk
func (r *Recorder) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Save(r.fs, r.path, r.rec)
}
