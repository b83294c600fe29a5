package gemini

import (
	"context"

	"github.com/google/generative-ai-go/genai"
)

// responseIterator yields the chunks of one streamed reply. It returns
// iterator.Done after the last chunk.
type responseIterator interface {
	Next() (*genai.GenerateContentResponse, error)
}

// chatSession is the part of genai.ChatSession the client drives. The
// session appends the outbound content to its history on send and the
// merged reply once the iterator is exhausted.
type chatSession interface {
	SendMessageStream(ctx context.Context, parts ...genai.Part) responseIterator
	History() []*genai.Content
	SetHistory(history []*genai.Content)
}

type genaiChat struct {
	cs *genai.ChatSession
}

func (c *genaiChat) SendMessageStream(ctx context.Context, parts ...genai.Part) responseIterator {
	return c.cs.SendMessageStream(ctx, parts...)
}

func (c *genaiChat) History() []*genai.Content {
	return c.cs.History
}

func (c *genaiChat) SetHistory(history []*genai.Content) {
	c.cs.History = history
}
