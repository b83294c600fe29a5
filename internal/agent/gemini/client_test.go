package gemini

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/Rrens/agent-bridge/internal/agent"
	"github.com/Rrens/agent-bridge/internal/record"
	"github.com/google/generative-ai-go/genai"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type step struct {
	resp *genai.GenerateContentResponse
	err  error
}

type fakeChat struct {
	history []*genai.Content
	scripts [][]step
	sends   int
}

func (c *fakeChat) SendMessageStream(ctx context.Context, parts ...genai.Part) responseIterator {
	c.history = append(c.history, genai.NewUserContent(parts...))
	script := c.scripts[c.sends]
	c.sends++
	return &fakeIterator{chat: c, steps: script}
}

func (c *fakeChat) History() []*genai.Content     { return c.history }
func (c *fakeChat) SetHistory(h []*genai.Content) { c.history = h }

type fakeIterator struct {
	chat   *fakeChat
	steps  []step
	merged []genai.Part
	err    error
}

func (it *fakeIterator) Next() (*genai.GenerateContentResponse, error) {
	if it.err != nil {
		return nil, it.err
	}
	if len(it.steps) == 0 {
		it.err = iterator.Done
		if len(it.merged) > 0 {
			it.chat.history = append(it.chat.history, &genai.Content{Role: "model", Parts: it.merged})
		}
		return nil, iterator.Done
	}
	s := it.steps[0]
	it.steps = it.steps[1:]
	if s.err != nil {
		it.err = s.err
		return nil, s.err
	}
	it.merged = append(it.merged, s.resp.Candidates[0].Content.Parts...)
	return s.resp, nil
}

func chunk(reason genai.FinishReason, parts ...genai.Part) step {
	return step{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content:      &genai.Content{Role: "model", Parts: parts},
		FinishReason: reason,
	}}}}
}

func newTestClient(t *testing.T, chat *fakeChat) (*Client, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	c := newClient(fs, clockwork.NewFakeClock(), agent.SessionOptions{
		SessionID:  "s1",
		WorkDir:    "/data/workspaces/w1",
		RecordPath: "/data/logs/s1/chat.json",
	}, 2, func() chatSession { return chat })
	require.NoError(t, c.Initialize(context.Background()))
	return c, fs
}

func drain(t *testing.T, s agent.Stream) []agent.Event {
	t.Helper()
	var events []agent.Event
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestClient_StreamsAndRecords(t *testing.T) {
	chat := &fakeChat{scripts: [][]step{{
		chunk(genai.FinishReasonUnspecified, genai.Text("Let me look.")),
		chunk(genai.FinishReasonStop, genai.FunctionCall{Name: "list_directory", Args: map[string]any{"path": "."}}),
	}}}
	c, fs := newTestClient(t, chat)

	s, err := c.SendMessageStream(context.Background(), []genai.Part{genai.Text("what is here?")}, "p1")
	require.NoError(t, err)
	events := drain(t, s)

	require.Len(t, events, 3)
	assert.Equal(t, agent.EventContent, events[0].Type)
	assert.Equal(t, "Let me look.", events[0].Content)
	assert.Equal(t, agent.EventToolCallRequest, events[1].Type)
	assert.Equal(t, "list_directory", events[1].ToolCall.Name)
	assert.Equal(t, "p1", events[1].ToolCall.PromptID)
	assert.NotEmpty(t, events[1].ToolCall.CallID)
	assert.Equal(t, agent.EventFinished, events[2].Type)
	assert.Equal(t, "STOP", events[2].FinishReason)

	history := c.History()
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "model", history[1].Role)

	rec, err := record.Load(fs, "/data/logs/s1/chat.json")
	require.NoError(t, err)
	require.Len(t, rec.Messages, 2)
	assert.Equal(t, record.EntryUser, rec.Messages[0].Type)
	assert.Equal(t, "what is here?", rec.Messages[0].Content)
	assert.Equal(t, record.EntryGemini, rec.Messages[1].Type)
	require.Len(t, rec.Messages[1].ToolCalls, 1)
	assert.Equal(t, events[1].ToolCall.CallID, rec.Messages[1].ToolCalls[0].ID)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	chat := &fakeChat{scripts: [][]step{
		{{err: status.Error(codes.Unavailable, "overloaded")}},
		{chunk(genai.FinishReasonStop, genai.Text("ok"))},
	}}
	c, _ := newTestClient(t, chat)

	s, err := c.SendMessageStream(context.Background(), []genai.Part{genai.Text("hi")}, "p1")
	require.NoError(t, err)
	drain(t, s)

	assert.Equal(t, 2, chat.sends)
	history := c.History()
	require.Len(t, history, 2, "the user content is sent once")
}

func TestClient_PermanentFailureRollsBack(t *testing.T) {
	chat := &fakeChat{scripts: [][]step{
		{{err: status.Error(codes.InvalidArgument, "bad request")}},
	}}
	c, _ := newTestClient(t, chat)

	_, err := c.SendMessageStream(context.Background(), []genai.Part{genai.Text("hi")}, "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad request")
	assert.Equal(t, 1, chat.sends)
	assert.Empty(t, c.History())
}

func TestClient_MidStreamError(t *testing.T) {
	chat := &fakeChat{scripts: [][]step{{
		chunk(genai.FinishReasonUnspecified, genai.Text("partial")),
		{err: errors.New("connection reset")},
	}}}
	c, fs := newTestClient(t, chat)

	s, err := c.SendMessageStream(context.Background(), []genai.Part{genai.Text("hi")}, "p1")
	require.NoError(t, err)
	events := drain(t, s)

	require.Len(t, events, 2)
	assert.Equal(t, agent.EventContent, events[0].Type)
	assert.Equal(t, agent.EventError, events[1].Type)
	assert.EqualError(t, events[1].Err, "connection reset")
	assert.Empty(t, c.History())

	rec, err := record.Load(fs, "/data/logs/s1/chat.json")
	require.NoError(t, err)
	assert.Equal(t, record.EntryError, rec.Messages[len(rec.Messages)-1].Type)
}

func TestClient_ResumeChat(t *testing.T) {
	chat := &fakeChat{}
	c, _ := newTestClient(t, chat)

	prior := record.New("s1", "/data/workspaces/w1", clockwork.NewFakeClock().Now())
	history := []*genai.Content{
		genai.NewUserContent(genai.Text("hello")),
		{Role: "model", Parts: []genai.Part{genai.Text("hi there")}},
	}
	require.NoError(t, c.ResumeChat(history, &agent.ResumeData{RecordPath: "/data/logs/s1/other.json", Record: prior}))

	assert.Len(t, c.History(), 2)
	assert.Equal(t, "/data/logs/s1/other.json", c.recorder.Path())
}

func TestClient_NotInitialized(t *testing.T) {
	c := newClient(afero.NewMemMapFs(), clockwork.NewFakeClock(), agent.SessionOptions{}, 0, nil)
	_, err := c.SendMessageStream(context.Background(), nil, "p1")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, c.ResumeChat(nil, nil), ErrNotInitialized)
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(status.Error(codes.ResourceExhausted, "quota")))
	assert.False(t, retryable(status.Error(codes.PermissionDenied, "key")))
	assert.False(t, retryable(errors.New("plain")))
	assert.False(t, retryable(context.Canceled))
}
