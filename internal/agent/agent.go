// Package agent defines the boundary between the turn loop and the external
// tool-using model: a streaming client bound to one session, and the tool
// executor that serves its tool calls.
package agent

import (
	"context"

	"github.com/Rrens/agent-bridge/internal/record"
	"github.com/google/generative-ai-go/genai"
)

type EventType int

const (
	EventContent EventType = iota
	EventThought
	EventToolCallRequest
	EventError
	EventFinished
)

func (t EventType) String() string {
	switch t {
	case EventContent:
		return "content"
	case EventThought:
		return "thought"
	case EventToolCallRequest:
		return "tool_call_request"
	case EventError:
		return "error"
	case EventFinished:
		return "finished"
	}
	return "unknown"
}

// Thought is a reasoning summary emitted by the agent
type Thought struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

// ToolCallRequest asks the executor to run one tool
type ToolCallRequest struct {
	CallID   string
	Name     string
	Args     map[string]any
	PromptID string
}

// ToolCallResponse is the outcome of one tool execution. ResponseParts are
// fed back to the agent; ResultDisplay is meant for people.
type ToolCallResponse struct {
	CallID        string
	ResponseParts []genai.Part
	ResultDisplay string
	Error         error
}

// Event is one item of an agent output stream
type Event struct {
	Type     EventType
	Content  string
	Thought  *Thought
	ToolCall *ToolCallRequest
	Err      error
	// FinishReason is set on EventFinished
	FinishReason string
}

// Stream yields agent events. Recv returns io.EOF once the stream is
// exhausted; the client does its end-of-turn bookkeeping on that final call,
// so consumers must keep reading until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// ResumeData points a client at the conversation record it maintains
type ResumeData struct {
	RecordPath string
	Record     *record.Record
}

// Client is a chat with the agent bound to one working directory.
//
// AnswerToolCalls closes out the function calls that end the history with
// responses that were never sent, for a turn that stopped before feeding
// them back. The responses go out together with the next message.
type Client interface {
	Initialize(ctx context.Context) error
	SendMessageStream(ctx context.Context, parts []genai.Part, promptID string) (Stream, error)
	AnswerToolCalls(responses []genai.Part) error
	ResumeChat(history []*genai.Content, resume *ResumeData) error
	History() []*genai.Content
	Close() error
}

// ToolExecutor runs tool calls. A returned error means the tool could not be
// invoked at all; a tool that ran and failed sets ToolCallResponse.Error.
type ToolExecutor interface {
	Execute(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error)
}

// SessionOptions binds a new client to a session
type SessionOptions struct {
	SessionID  string
	WorkDir    string
	RecordPath string
}

// Factory builds the client and tool executor of a session
type Factory interface {
	NewSession(ctx context.Context, opts SessionOptions) (Client, ToolExecutor, error)
}
