package record_test

import (
	"testing"
	"time"

	"github.com/Rrens/agent-bridge/internal/record"
	"github.com/google/generative-ai-go/genai"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedAndLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := record.Seed(fs, "/data/logs/s1/chat.json", "s1", "/data/workspaces/w1", now)
	require.NoError(t, err)

	rec, err := record.Load(fs, "/data/logs/s1/chat.json")
	require.NoError(t, err)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, record.ProjectHash("/data/workspaces/w1"), rec.ProjectHash)
	assert.Len(t, rec.ProjectHash, 64)
	assert.True(t, rec.StartTime.Equal(now))
	assert.Empty(t, rec.Messages)

	_, err = record.Load(fs, "/data/logs/none/chat.json")
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestRecorder_PairsResponsesWithCalls(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/logs/s1/chat.json"
	rec := record.New("s1", "/w", time.Now())
	r := record.NewRecorder(fs, path, rec)

	r.RecordUser([]genai.Part{genai.Text("list files")})
	r.RecordModel("checking", []record.ToolCall{
		{ID: "c1", Name: "list_directory", Args: map[string]any{"path": "."}},
		{ID: "c2", Name: "read_file", Args: map[string]any{"path": "a.txt"}},
	}, nil)
	r.RecordUser([]genai.Part{
		genai.FunctionResponse{Name: "list_directory", Response: map[string]any{"output": "a.txt"}},
		genai.FunctionResponse{Name: "read_file", Response: map[string]any{"error": "denied"}},
	})
	require.NoError(t, r.Save())

	loaded, err := record.Load(fs, path)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 2)

	user := loaded.Messages[0]
	assert.Equal(t, record.EntryUser, user.Type)
	assert.Equal(t, "list files", user.Content)

	model := loaded.Messages[1]
	assert.Equal(t, record.EntryGemini, model.Type)
	require.Len(t, model.ToolCalls, 2)
	assert.Equal(t, record.StatusSuccess, model.ToolCalls[0].Status)
	assert.Equal(t, record.StatusError, model.ToolCalls[1].Status)
	require.Len(t, model.ToolCalls[0].Result, 1)
	assert.Equal(t, "a.txt", model.ToolCalls[0].Result[0].FunctionResponse.Response["output"])
}

func TestPart_RoundTripGenai(t *testing.T) {
	parts := []genai.Part{
		genai.Text("hi"),
		genai.Blob{MIMEType: "image/png", Data: []byte{1, 2}},
		genai.FunctionCall{Name: "glob", Args: map[string]any{"pattern": "*.go"}},
		genai.FunctionResponse{Name: "glob", Response: map[string]any{"output": "main.go"}},
	}
	for _, p := range parts {
		rp, ok := record.FromGenai(p)
		require.True(t, ok)
		assert.Equal(t, p, rp.Genai())
	}
	assert.Nil(t, record.Part{}.Genai())
}
