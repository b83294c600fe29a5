// Package history turns a conversation record back into the role/part
// sequence used to seed a resumed agent chat.
package history

import (
	"strings"

	"github.com/Rrens/agent-bridge/internal/record"
	"github.com/google/generative-ai-go/genai"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// commandPrefixes mark local command invocations typed into the chat. Only
// the first character counts: "  /etc is empty?" is conversation.
var commandPrefixes = []string{"/", "?"}

func isCommand(text string) bool {
	for _, p := range commandPrefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

// Reconstruct converts record entries to agent history. Every model entry that
// carries function calls is followed by one user entry holding the matching
// function responses, so call/response pairing survives the replay.
func Reconstruct(entries []record.Entry) []*genai.Content {
	out := make([]*genai.Content, 0, len(entries))

	for _, e := range entries {
		switch e.Type {
		case record.EntryUser:
			if e.Content == "" || isCommand(e.Content) {
				continue
			}
			out = append(out, &genai.Content{Role: RoleUser, Parts: []genai.Part{genai.Text(e.Content)}})

		case record.EntryGemini:
			if len(e.ToolCalls) == 0 {
				if e.Content == "" {
					continue
				}
				out = append(out, &genai.Content{Role: RoleModel, Parts: []genai.Part{genai.Text(e.Content)}})
				continue
			}

			model := &genai.Content{Role: RoleModel}
			if e.Content != "" {
				model.Parts = append(model.Parts, genai.Text(e.Content))
			}
			var responses []genai.Part
			for _, tc := range e.ToolCalls {
				model.Parts = append(model.Parts, genai.FunctionCall{Name: tc.Name, Args: tc.Args})
				for _, rp := range tc.Result {
					if rp.FunctionResponse == nil {
						continue
					}
					responses = append(responses, rp.Genai())
				}
			}
			out = append(out, model)
			if len(responses) > 0 {
				out = append(out, &genai.Content{Role: RoleUser, Parts: responses})
			}

		default:
			// info, error and warning entries are administrative
		}
	}

	return out
}
