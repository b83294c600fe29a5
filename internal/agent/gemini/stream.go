package gemini

import (
	"errors"
	"io"
	"strings"

	"github.com/Rrens/agent-bridge/internal/agent"
	"github.com/Rrens/agent-bridge/internal/record"
	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

func isDone(err error) bool {
	return errors.Is(err, iterator.Done)
}

// stream turns response chunks into agent events. The reply is recorded
// once the underlying iterator reports iterator.Done, which is also when
// the chat session appends it to its history.
type stream struct {
	client   *Client
	chat     chatSession
	recorder *record.Recorder
	base     []*genai.Content
	it       responseIterator
	first    *genai.GenerateContentResponse
	drained  bool
	promptID string

	pending []agent.Event
	closed  bool
	text    strings.Builder
	calls   []record.ToolCall
}

func (s *stream) Recv() (agent.Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.closed {
			return agent.Event{}, io.EOF
		}

		resp, err := s.next()
		switch {
		case isDone(err):
			s.finish()
		case err != nil:
			s.fail(err)
		default:
			s.translate(resp)
		}
	}
}

func (s *stream) next() (*genai.GenerateContentResponse, error) {
	if s.first != nil {
		resp := s.first
		s.first = nil
		return resp, nil
	}
	if s.drained {
		return nil, iterator.Done
	}
	return s.it.Next()
}

func (s *stream) translate(resp *genai.GenerateContentResponse) {
	if resp == nil || len(resp.Candidates) == 0 {
		return
	}
	cand := resp.Candidates[0]

	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				if v == "" {
					continue
				}
				s.text.WriteString(string(v))
				s.pending = append(s.pending, agent.Event{Type: agent.EventContent, Content: string(v)})
			case genai.FunctionCall:
				req := &agent.ToolCallRequest{
					CallID:   uuid.NewString(),
					Name:     v.Name,
					Args:     v.Args,
					PromptID: s.promptID,
				}
				s.calls = append(s.calls, record.ToolCall{
					ID:        req.CallID,
					Name:      v.Name,
					Args:      v.Args,
					Timestamp: s.client.clock.Now().UTC(),
				})
				s.pending = append(s.pending, agent.Event{Type: agent.EventToolCallRequest, ToolCall: req})
			}
		}
	}

	if cand.FinishReason != genai.FinishReasonUnspecified {
		s.pending = append(s.pending, agent.Event{Type: agent.EventFinished, FinishReason: cand.FinishReason.String()})
	}
}

func (s *stream) finish() {
	s.closed = true
	s.recorder.RecordModel(s.text.String(), s.calls, nil)
	s.client.save(s.recorder)
}

// fail drops the unanswered user content from the chat history so the
// next send starts from a consistent conversation.
func (s *stream) fail(err error) {
	s.closed = true
	s.chat.SetHistory(s.base)
	s.recorder.RecordNotice(record.EntryError, err.Error())
	s.client.save(s.recorder)
	s.pending = append(s.pending, agent.Event{Type: agent.EventError, Err: err})
}

// Close abandons the stream. An undrained reply is not kept.
func (s *stream) Close() error {
	if !s.closed {
		s.closed = true
		s.chat.SetHistory(s.base)
	}
	return nil
}
