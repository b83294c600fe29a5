// Package agenttest provides scriptable agent clients and tool executors
// for tests.
package agenttest

import (
	"context"
	"io"
	"sync"

	"github.com/Rrens/agent-bridge/internal/agent"
	"github.com/google/generative-ai-go/genai"
)

// Turn is the scripted outcome of one SendMessageStream call. A non-nil Err
// fails the call itself; otherwise Events are streamed in order.
type Turn struct {
	Events []agent.Event
	Err    error
}

// Reply is a turn streaming text chunks and finishing
func Reply(chunks ...string) Turn {
	var t Turn
	for _, c := range chunks {
		t.Events = append(t.Events, agent.Event{Type: agent.EventContent, Content: c})
	}
	t.Events = append(t.Events, Finished())
	return t
}

// CallTools is a turn requesting the given tool calls and finishing
func CallTools(calls ...agent.ToolCallRequest) Turn {
	var t Turn
	for i := range calls {
		call := calls[i]
		t.Events = append(t.Events, agent.Event{Type: agent.EventToolCallRequest, ToolCall: &call})
	}
	t.Events = append(t.Events, Finished())
	return t
}

func Finished() agent.Event {
	return agent.Event{Type: agent.EventFinished, FinishReason: "STOP"}
}

// Client is a fake agent client. Respond picks the turn for the n-th call,
// counting from zero; a nil Respond replies "ok".
type Client struct {
	Respond func(n int, parts []genai.Part) Turn

	mu          sync.Mutex
	sent        [][]genai.Part
	answered    [][]genai.Part
	history     []*genai.Content
	resume      *agent.ResumeData
	initialized bool
	drained     int
	closed      bool
}

var _ agent.Client = (*Client)(nil)

func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = true
	return nil
}

func (c *Client) SendMessageStream(ctx context.Context, parts []genai.Part, promptID string) (agent.Stream, error) {
	c.mu.Lock()
	n := len(c.sent)
	c.sent = append(c.sent, parts)
	c.mu.Unlock()

	turn := Reply("ok")
	if c.Respond != nil {
		turn = c.Respond(n, parts)
	}
	if turn.Err != nil {
		return nil, turn.Err
	}
	return &stream{client: c, events: turn.Events}, nil
}

func (c *Client) AnswerToolCalls(responses []genai.Part) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answered = append(c.answered, responses)
	return nil
}

func (c *Client) ResumeChat(history []*genai.Content, resume *agent.ResumeData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = history
	c.resume = resume
	return nil
}

func (c *Client) History() []*genai.Content {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Sent returns the parts of every SendMessageStream call
func (c *Client) Sent() [][]genai.Part {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]genai.Part(nil), c.sent...)
}

// Answered returns the responses of every AnswerToolCalls call
func (c *Client) Answered() [][]genai.Part {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]genai.Part(nil), c.answered...)
}

// Drained counts the streams read through to io.EOF
func (c *Client) Drained() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drained
}

func (c *Client) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) Resume() *agent.ResumeData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resume
}

type stream struct {
	client *Client
	events []agent.Event
	eof    bool
}

func (s *stream) Recv() (agent.Event, error) {
	if len(s.events) == 0 {
		if !s.eof {
			s.eof = true
			s.client.mu.Lock()
			s.client.drained++
			s.client.mu.Unlock()
		}
		return agent.Event{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *stream) Close() error { return nil }

// Executor is a fake tool executor. A nil Handle answers every call with
// an "ok" output.
type Executor struct {
	Handle func(ctx context.Context, req agent.ToolCallRequest) (*agent.ToolCallResponse, error)

	mu    sync.Mutex
	calls []agent.ToolCallRequest
}

var _ agent.ToolExecutor = (*Executor)(nil)

func (e *Executor) Execute(ctx context.Context, req agent.ToolCallRequest) (*agent.ToolCallResponse, error) {
	e.mu.Lock()
	e.calls = append(e.calls, req)
	e.mu.Unlock()

	if e.Handle != nil {
		return e.Handle(ctx, req)
	}
	return OK(req, "ok"), nil
}

func (e *Executor) Calls() []agent.ToolCallRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]agent.ToolCallRequest(nil), e.calls...)
}

// OK is a successful response carrying output
func OK(req agent.ToolCallRequest, output string) *agent.ToolCallResponse {
	return &agent.ToolCallResponse{
		CallID:        req.CallID,
		ResponseParts: []genai.Part{genai.FunctionResponse{Name: req.Name, Response: map[string]any{"output": output}}},
		ResultDisplay: output,
	}
}

// Factory hands out fake clients. NewClient builds the client of each
// session; a nil NewClient uses a default Client.
type Factory struct {
	NewClient func(opts agent.SessionOptions) *Client
	Executor  *Executor
	Err       error

	mu       sync.Mutex
	sessions []agent.SessionOptions
	clients  []*Client
}

var _ agent.Factory = (*Factory)(nil)

func (f *Factory) NewSession(ctx context.Context, opts agent.SessionOptions) (agent.Client, agent.ToolExecutor, error) {
	if f.Err != nil {
		return nil, nil, f.Err
	}
	c := &Client{}
	if f.NewClient != nil {
		c = f.NewClient(opts)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Executor == nil {
		f.Executor = &Executor{}
	}
	f.sessions = append(f.sessions, opts)
	f.clients = append(f.clients, c)
	return c, f.Executor, nil
}

func (f *Factory) Sessions() []agent.SessionOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.SessionOptions(nil), f.sessions...)
}

func (f *Factory) Clients() []*Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Client(nil), f.clients...)
}
