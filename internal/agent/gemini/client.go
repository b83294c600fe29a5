// Package gemini implements the agent client on the Gemini API
package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Rrens/agent-bridge/internal/agent"
	"github.com/Rrens/agent-bridge/internal/record"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/generative-ai-go/genai"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var ErrNotInitialized = errors.New("agent client is not initialized")

const (
	roleUser  = "user"
	roleModel = "model"
)

// Client is one session's chat with the model. It keeps the conversation
// record at its record path in step with the chat history.
type Client struct {
	fs         afero.Fs
	clock      clockwork.Clock
	sessionID  string
	workDir    string
	recordPath string
	maxRetries int
	newChat    func() chatSession

	mu       sync.Mutex
	chat     chatSession
	recorder *record.Recorder
}

var _ agent.Client = (*Client)(nil)

// Initialize starts an empty chat and loads, or starts, the record
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := record.Load(c.fs, c.recordPath)
	switch {
	case errors.Is(err, record.ErrNotFound):
		rec = record.New(c.sessionID, c.workDir, c.clock.Now())
	case err != nil:
		return fmt.Errorf("failed to load conversation record: %w", err)
	}

	c.recorder = record.NewRecorder(c.fs, c.recordPath, rec)
	c.chat = c.newChat()
	return nil
}

// ResumeChat replaces the chat history. When resume carries a record the
// client continues appending to it.
func (c *Client) ResumeChat(history []*genai.Content, resume *agent.ResumeData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chat == nil {
		return ErrNotInitialized
	}

	if resume != nil && resume.Record != nil {
		path := resume.RecordPath
		if path == "" {
			path = c.recordPath
		}
		c.recordPath = path
		c.recorder = record.NewRecorder(c.fs, path, resume.Record)
	}

	c.chat.SetHistory(normalize(history))
	return nil
}

// errIncompleteCall answers a replayed function call the record holds no
// response for
const errIncompleteCall = "tool call did not complete"

// normalize shapes a replayed history the way the API accepts it: a model
// content with function calls is followed by their responses, and adjacent
// contents of one role are merged.
func normalize(history []*genai.Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for i, content := range history {
		if content == nil || len(content.Parts) == 0 {
			continue
		}
		out = appendContent(out, content)
		if content.Role == roleModel && hasFunctionCall(content) && !answeredAt(history, i+1) {
			out = appendContent(out, &genai.Content{Role: roleUser, Parts: incompleteResponses(content)})
		}
	}
	return out
}

func appendContent(out []*genai.Content, content *genai.Content) []*genai.Content {
	n := len(out)
	if n == 0 || out[n-1].Role != content.Role {
		return append(out, content)
	}
	parts := append(append([]genai.Part(nil), out[n-1].Parts...), content.Parts...)
	out[n-1] = &genai.Content{Role: content.Role, Parts: parts}
	return out
}

// answeredAt reports whether the first non-empty content from i on carries
// function responses
func answeredAt(history []*genai.Content, i int) bool {
	for ; i < len(history); i++ {
		content := history[i]
		if content == nil || len(content.Parts) == 0 {
			continue
		}
		if content.Role != roleUser {
			return false
		}
		for _, p := range content.Parts {
			switch p.(type) {
			case genai.FunctionResponse, *genai.FunctionResponse:
				return true
			}
		}
		return false
	}
	return false
}

func incompleteResponses(content *genai.Content) []genai.Part {
	var parts []genai.Part
	for _, p := range content.Parts {
		var name string
		switch v := p.(type) {
		case genai.FunctionCall:
			name = v.Name
		case *genai.FunctionCall:
			name = v.Name
		default:
			continue
		}
		parts = append(parts, genai.FunctionResponse{Name: name, Response: map[string]any{"error": errIncompleteCall}})
	}
	return parts
}

// History returns a copy of the chat history
func (c *Client) History() []*genai.Content {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chat == nil {
		return nil
	}
	return append([]*genai.Content(nil), c.chat.History()...)
}

// SendMessageStream sends parts as the next user content. Transient API
// failures are retried with exponential backoff; the history is rolled back
// before every attempt so the content is only sent once.
func (c *Client) SendMessageStream(ctx context.Context, parts []genai.Part, promptID string) (agent.Stream, error) {
	c.mu.Lock()
	chat, recorder := c.chat, c.recorder
	c.mu.Unlock()
	if chat == nil {
		return nil, ErrNotInitialized
	}

	recorder.RecordUser(parts)
	c.save(recorder)

	base := chat.History()
	base = base[:len(base):len(base)]

	// A trailing user content holds answered tool calls; it is sent as part
	// of this message so roles keep alternating.
	sendBase, outbound := base, parts
	if n := len(base); n > 0 && base[n-1].Role == roleUser {
		sendBase = base[: n-1 : n-1]
		outbound = append(append([]genai.Part(nil), base[n-1].Parts...), parts...)
	}

	var (
		it    responseIterator
		first *genai.GenerateContentResponse
		done  bool
	)
	op := func() error {
		chat.SetHistory(sendBase)
		it = chat.SendMessageStream(ctx, outbound...)
		resp, err := it.Next()
		if err == nil || isDone(err) {
			first, done = resp, isDone(err)
			return nil
		}
		if retryable(err) {
			log.Warn().Err(err).Str("session_id", c.sessionID).Str("prompt_id", promptID).Msg("agent request failed, retrying")
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = time.Minute
	var b backoff.BackOff = policy
	if c.maxRetries >= 0 {
		b = backoff.WithMaxRetries(policy, uint64(c.maxRetries))
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		chat.SetHistory(base)
		recorder.RecordNotice(record.EntryError, err.Error())
		c.save(recorder)
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	return &stream{
		client:   c,
		chat:     chat,
		recorder: recorder,
		base:     base,
		it:       it,
		first:    first,
		drained:  done,
		promptID: promptID,
	}, nil
}

// AnswerToolCalls appends responses as a user content after the agent
// reply whose function calls they answer. It does nothing when the history
// does not end with such a reply.
func (c *Client) AnswerToolCalls(responses []genai.Part) error {
	if len(responses) == 0 {
		return nil
	}
	c.mu.Lock()
	chat, recorder := c.chat, c.recorder
	c.mu.Unlock()
	if chat == nil {
		return ErrNotInitialized
	}

	history := chat.History()
	n := len(history)
	if n == 0 || history[n-1].Role != roleModel || !hasFunctionCall(history[n-1]) {
		return nil
	}
	chat.SetHistory(append(history[:n:n], &genai.Content{Role: roleUser, Parts: responses}))

	recorder.RecordUser(responses)
	c.save(recorder)
	return nil
}

func hasFunctionCall(content *genai.Content) bool {
	for _, p := range content.Parts {
		switch p.(type) {
		case genai.FunctionCall, *genai.FunctionCall:
			return true
		}
	}
	return false
}

func (c *Client) save(recorder *record.Recorder) {
	if err := recorder.Save(); err != nil {
		log.Error().Err(err).Str("session_id", c.sessionID).Str("path", recorder.Path()).Msg("failed to save conversation record")
	}
}

func (c *Client) Close() error {
	return nil
}
