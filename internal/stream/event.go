// Package stream encodes turn events for the client, one JSON object per
// frame, over server-sent events or a WebSocket.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/Rrens/agent-bridge/internal/agent"
)

type Type string

const (
	TypeSession       Type = "session"
	TypeMessageID     Type = "messageId"
	TypeText          Type = "text"
	TypeThought       Type = "thought"
	TypeToolCall      Type = "tool_call"
	TypeToolExecuting Type = "tool_executing"
	TypeToolResult    Type = "tool_result"
	TypeError         Type = "error"
	TypeDone          Type = "done"
)

// Event is one outbound record. Only the fields of its Type are encoded.
type Event struct {
	Type Type

	SessionID string
	WorkDir   string
	MessageID string
	Content   string
	Thought   agent.Thought

	CallID               string
	Name                 string
	Args                 map[string]any
	RequiresConfirmation bool
	Success              bool
	Result               string
	Error                string

	Message string
}

func Session(sessionID, workDir string) Event {
	return Event{Type: TypeSession, SessionID: sessionID, WorkDir: workDir}
}

func MessageID(id string) Event {
	return Event{Type: TypeMessageID, MessageID: id}
}

func Text(content, messageID string) Event {
	return Event{Type: TypeText, Content: content, MessageID: messageID}
}

func Thought(t agent.Thought) Event {
	return Event{Type: TypeThought, Thought: t}
}

func ToolCall(callID, name string, args map[string]any, requiresConfirmation bool) Event {
	return Event{Type: TypeToolCall, CallID: callID, Name: name, Args: args, RequiresConfirmation: requiresConfirmation}
}

func ToolExecuting(callID, name string) Event {
	return Event{Type: TypeToolExecuting, CallID: callID, Name: name}
}

// ToolSucceeded reports a tool result with its display string
func ToolSucceeded(callID, name, result string) Event {
	return Event{Type: TypeToolResult, CallID: callID, Name: name, Success: true, Result: result}
}

// ToolFailed reports a failed tool call with its error string
func ToolFailed(callID, name, errMsg string) Event {
	return Event{Type: TypeToolResult, CallID: callID, Name: name, Error: errMsg}
}

func Error(message string) Event {
	return Event{Type: TypeError, Message: message}
}

func Done() Event {
	return Event{Type: TypeDone}
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypeSession:
		return json.Marshal(struct {
			Type      Type   `json:"type"`
			SessionID string `json:"sessionId"`
			WorkDir   string `json:"workDir"`
		}{e.Type, e.SessionID, e.WorkDir})
	case TypeMessageID:
		return json.Marshal(struct {
			Type      Type   `json:"type"`
			MessageID string `json:"messageId"`
		}{e.Type, e.MessageID})
	case TypeText:
		return json.Marshal(struct {
			Type      Type   `json:"type"`
			Content   string `json:"content"`
			MessageID string `json:"messageId"`
		}{e.Type, e.Content, e.MessageID})
	case TypeThought:
		return json.Marshal(struct {
			Type    Type          `json:"type"`
			Thought agent.Thought `json:"thought"`
		}{e.Type, e.Thought})
	case TypeToolCall:
		args := e.Args
		if args == nil {
			args = map[string]any{}
		}
		return json.Marshal(struct {
			Type                 Type           `json:"type"`
			ID                   string         `json:"id"`
			Name                 string         `json:"name"`
			Args                 map[string]any `json:"args"`
			RequiresConfirmation bool           `json:"requiresConfirmation"`
		}{e.Type, e.CallID, e.Name, args, e.RequiresConfirmation})
	case TypeToolExecuting:
		return json.Marshal(struct {
			Type       Type   `json:"type"`
			ToolCallID string `json:"toolCallId"`
			Name       string `json:"name"`
		}{e.Type, e.CallID, e.Name})
	case TypeToolResult:
		return json.Marshal(struct {
			Type       Type   `json:"type"`
			ToolCallID string `json:"toolCallId"`
			Name       string `json:"name"`
			Success    bool   `json:"success"`
			Result     string `json:"result,omitempty"`
			Error      string `json:"error,omitempty"`
		}{e.Type, e.CallID, e.Name, e.Success, e.Result, e.Error})
	case TypeError:
		return json.Marshal(struct {
			Type    Type   `json:"type"`
			Message string `json:"message"`
		}{e.Type, e.Message})
	case TypeDone:
		return json.Marshal(struct {
			Type Type `json:"type"`
		}{e.Type})
	}
	return nil, fmt.Errorf("unknown event type %q", e.Type)
}

// Emitter delivers events to one client in order. An error means the
// client is gone and the turn should stop producing.
type Emitter interface {
	Emit(ev Event) error
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(ev Event) error

func (f EmitterFunc) Emit(ev Event) error { return f(ev) }
