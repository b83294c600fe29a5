package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Rrens/agent-bridge/internal/agent"
	"github.com/Rrens/agent-bridge/internal/config"
	"github.com/Rrens/agent-bridge/internal/stream"
	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxTurns bounds the agent/tool cycles of one turn
const DefaultMaxTurns = 50

var (
	ErrMaxTurns = errors.New("maximum turns reached")
	// ErrToolCancelled answers a tool call the aborted turn never ran
	ErrToolCancelled = errors.New("tool call cancelled")
)

// State of the tool execution loop
type State int

const (
	StateStreaming State = iota
	StateExecutingTools
	StateDone
	StateAborted
	StateError
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateExecutingTools:
		return "executing_tools"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	case StateError:
		return "error"
	}
	return "unknown"
}

func (s State) terminal() bool {
	return s == StateDone || s == StateAborted || s == StateError
}

// LoopConfig tunes the tool execution loop
type LoopConfig struct {
	MaxTurns            int
	ApprovalMode        string
	ConfirmationTimeout time.Duration
}

func (c LoopConfig) requiresConfirmation() bool {
	return c.ApprovalMode == config.ApprovalConfirm
}

// Result is the outcome of one loop run. Content is every content delta of
// the run, in order, whatever the final state.
type Result struct {
	State   State
	Content string
	Turns   int
	Err     error
}

// Loop drives one user turn: it streams the agent's output to the emitter,
// runs the tool calls the agent requested and feeds their responses back
// until the agent stops asking for tools.
type Loop struct {
	handle        *Handle
	emit          stream.Emitter
	confirmations *Confirmations
	cfg           LoopConfig
	messageID     string
	logger        zerolog.Logger

	state   State
	turns   int
	request []genai.Part
	calls   []*agent.ToolCallRequest
	// owing is set while the agent history ends with function calls that
	// request has not yet delivered the responses of
	owing      bool
	registered map[string]struct{}
	content    strings.Builder
	err        error
}

// NewLoop prepares a loop for one turn of h. confirmations may be nil when
// the approval mode is auto.
func NewLoop(h *Handle, emit stream.Emitter, confirmations *Confirmations, cfg LoopConfig, messageID string) *Loop {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if confirmations == nil {
		cfg.ApprovalMode = config.ApprovalAuto
	}
	return &Loop{
		handle:        h,
		emit:          emit,
		confirmations: confirmations,
		cfg:           cfg,
		messageID:     messageID,
		registered:    make(map[string]struct{}),
		logger:        log.With().Str("session_id", h.ID).Str("message_id", messageID).Logger(),
	}
}

// Run sends parts and loops until a terminal state. ctx cancellation aborts
// the run.
func (l *Loop) Run(ctx context.Context, parts []genai.Part) Result {
	l.state = StateStreaming
	l.request = parts
	defer l.releaseConfirmations()

	for !l.state.terminal() {
		prev := l.state
		switch l.state {
		case StateStreaming:
			l.state = l.streaming(ctx)
		case StateExecutingTools:
			l.state = l.executingTools(ctx)
		}
		l.logger.Debug().Int("turn", l.turns).Str("from", prev.String()).Str("state", l.state.String()).Msg("loop transition")
	}

	if l.owing {
		l.settle()
	}
	return Result{State: l.state, Content: l.content.String(), Turns: l.turns, Err: l.err}
}

// settle hands the undelivered responses to the client so the next turn does
// not follow an unanswered function call.
func (l *Loop) settle() {
	if err := l.handle.Client.AnswerToolCalls(l.request); err != nil {
		l.logger.Warn().Err(err).Int("responses", len(l.request)).Msg("failed to answer pending tool calls")
		return
	}
	l.owing = false
}

func (l *Loop) fail(err error) State {
	l.err = err
	return StateError
}

// streaming runs one agent turn. The agent stream is always read to io.EOF
// before leaving the state, even after the finished event, unless the run
// is cancelled.
func (l *Loop) streaming(ctx context.Context) State {
	if ctx.Err() != nil {
		return StateAborted
	}
	if l.turns >= l.cfg.MaxTurns {
		return l.fail(fmt.Errorf("%w: stopped after %d turns", ErrMaxTurns, l.turns))
	}
	l.turns++
	l.calls = nil

	promptID := fmt.Sprintf("%s-%d", l.messageID, l.turns)
	s, err := l.handle.Client.SendMessageStream(ctx, l.request, promptID)
	if err != nil {
		if ctx.Err() != nil {
			return StateAborted
		}
		return l.fail(err)
	}
	defer s.Close()

	finished := false
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if ctx.Err() != nil {
			return StateAborted
		}
		if err != nil {
			return l.fail(err)
		}

		switch ev.Type {
		case agent.EventContent:
			l.content.WriteString(ev.Content)
			if !l.send(stream.Text(ev.Content, l.messageID)) {
				return StateAborted
			}
		case agent.EventThought:
			if ev.Thought != nil && !l.send(stream.Thought(*ev.Thought)) {
				return StateAborted
			}
		case agent.EventToolCallRequest:
			if ev.ToolCall == nil {
				continue
			}
			l.calls = append(l.calls, ev.ToolCall)
			confirm := l.cfg.requiresConfirmation()
			if confirm {
				l.confirmations.Register(ev.ToolCall.CallID)
				l.registered[ev.ToolCall.CallID] = struct{}{}
			}
			if !l.send(stream.ToolCall(ev.ToolCall.CallID, ev.ToolCall.Name, ev.ToolCall.Args, confirm)) {
				return StateAborted
			}
		case agent.EventError:
			err := ev.Err
			if err == nil {
				err = errors.New("agent reported an error")
			}
			return l.fail(err)
		case agent.EventFinished:
			finished = true
			l.logger.Debug().Int("turn", l.turns).Str("reason", ev.FinishReason).Msg("agent finished, draining stream")
		default:
			l.logger.Warn().Stringer("event", ev.Type).Msg("skipping unknown agent event")
		}
	}

	if !finished {
		l.logger.Debug().Int("turn", l.turns).Msg("agent stream ended without finish reason")
	}
	l.owing = len(l.calls) > 0
	if len(l.calls) == 0 {
		return StateDone
	}
	return StateExecutingTools
}

// executingTools runs the buffered calls in request order. A failing call
// is reported and answered with an error response; it does not stop the loop.
// When the run is aborted, the calls that did not run are answered as
// cancelled.
func (l *Loop) executingTools(ctx context.Context) State {
	responses := make([]genai.Part, 0, len(l.calls))
	abort := func(answered int) State {
		l.request = append(responses, cancelledResponses(l.calls[answered:])...)
		return StateAborted
	}

	for i, call := range l.calls {
		if ctx.Err() != nil {
			return abort(i)
		}

		if _, ok := l.registered[call.CallID]; ok {
			delete(l.registered, call.CallID)
			if _, err := l.confirmations.Await(ctx, call.CallID, l.cfg.ConfirmationTimeout); err != nil {
				if ctx.Err() != nil {
					return abort(i)
				}
				responses = append(responses, errorResponse(call.Name, err.Error()))
				if !l.send(stream.ToolFailed(call.CallID, call.Name, err.Error())) {
					return abort(i + 1)
				}
				continue
			}
		}

		if !l.send(stream.ToolExecuting(call.CallID, call.Name)) {
			return abort(i)
		}

		resp, err := l.handle.Executor.Execute(ctx, *call)
		if err != nil {
			if ctx.Err() != nil {
				return abort(i)
			}
			resp = &agent.ToolCallResponse{CallID: call.CallID, Error: err, ResultDisplay: err.Error()}
		}

		parts := resp.ResponseParts
		var ev stream.Event
		if resp.Error != nil {
			msg := resp.Error.Error()
			l.logger.Info().Str("tool", call.Name).Str("call_id", call.CallID).Err(resp.Error).Msg("tool call failed")
			if len(parts) == 0 {
				parts = []genai.Part{errorResponse(call.Name, msg)}
			}
			ev = stream.ToolFailed(call.CallID, call.Name, msg)
		} else {
			if len(parts) == 0 {
				parts = []genai.Part{genai.FunctionResponse{
					Name:     call.Name,
					Response: map[string]any{"output": resp.ResultDisplay},
				}}
			}
			ev = stream.ToolSucceeded(call.CallID, call.Name, resp.ResultDisplay)
		}
		responses = append(responses, parts...)
		if !l.send(ev) {
			return abort(i + 1)
		}
	}

	l.request = responses
	return StateStreaming
}

func cancelledResponses(calls []*agent.ToolCallRequest) []genai.Part {
	parts := make([]genai.Part, 0, len(calls))
	for _, call := range calls {
		parts = append(parts, errorResponse(call.Name, ErrToolCancelled.Error()))
	}
	return parts
}

func errorResponse(name, msg string) genai.Part {
	return genai.FunctionResponse{Name: name, Response: map[string]any{"error": msg}}
}

// send emits ev and reports whether the client is still there
func (l *Loop) send(ev stream.Event) bool {
	if err := l.emit.Emit(ev); err != nil {
		l.logger.Debug().Err(err).Str("type", string(ev.Type)).Msg("client went away")
		return false
	}
	return true
}

func (l *Loop) releaseConfirmations() {
	for id := range l.registered {
		l.confirmations.Cancel(id)
	}
}
