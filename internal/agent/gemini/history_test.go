package gemini

import (
	"context"
	"testing"

	"github.com/Rrens/agent-bridge/internal/agent"
	"github.com/Rrens/agent-bridge/internal/agent/agenttest"
	"github.com/Rrens/agent-bridge/internal/record"
	"github.com/Rrens/agent-bridge/internal/session"
	evstream "github.com/Rrens/agent-bridge/internal/stream"
	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = evstream.EmitterFunc(func(evstream.Event) error { return nil })

func runTurn(ctx context.Context, c *Client, exec agent.ToolExecutor, cfg session.LoopConfig, text string) session.Result {
	h := &session.Handle{ID: "s1", WorkDir: "/data/workspaces/w1", Client: c, Executor: exec}
	return session.NewLoop(h, discard, nil, cfg, "m1").Run(ctx, []genai.Part{genai.Text(text)})
}

func assertAlternates(t *testing.T, history []*genai.Content) {
	t.Helper()
	require.NotEmpty(t, history)
	for i, content := range history {
		want := roleUser
		if i%2 == 1 {
			want = roleModel
		}
		require.Equal(t, want, content.Role, "history[%d]", i)
	}
}

func TestLoop_HistoryStaysPairedAfterTurnBudget(t *testing.T) {
	chat := &fakeChat{scripts: [][]step{
		{chunk(genai.FinishReasonStop, genai.FunctionCall{Name: "glob", Args: map[string]any{"pattern": "*"}})},
		{chunk(genai.FinishReasonStop, genai.Text("Sorry, I ran out of steps."))},
	}}
	c, fs := newTestClient(t, chat)
	cfg := session.LoopConfig{MaxTurns: 1}

	res := runTurn(context.Background(), c, &agenttest.Executor{}, cfg, "find everything")
	require.Equal(t, session.StateError, res.State)
	require.ErrorIs(t, res.Err, session.ErrMaxTurns)

	history := c.History()
	require.Len(t, history, 3)
	assertAlternates(t, history[:2])
	require.Equal(t, roleUser, history[2].Role)
	fr, ok := history[2].Parts[0].(genai.FunctionResponse)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"output": "ok"}, fr.Response)

	res = runTurn(context.Background(), c, &agenttest.Executor{}, cfg, "thanks")
	require.Equal(t, session.StateDone, res.State)

	history = c.History()
	require.Len(t, history, 4)
	assertAlternates(t, history)
	require.Len(t, history[2].Parts, 2)
	assert.IsType(t, genai.FunctionResponse{}, history[2].Parts[0])
	assert.Equal(t, genai.Text("thanks"), history[2].Parts[1])

	rec, err := record.Load(fs, "/data/logs/s1/chat.json")
	require.NoError(t, err)
	var calls []record.ToolCall
	for _, e := range rec.Messages {
		calls = append(calls, e.ToolCalls...)
	}
	require.Len(t, calls, 1)
	assert.NotNil(t, calls[0].Result, "the record pairs the call with its response")
	assert.Equal(t, record.StatusSuccess, calls[0].Status)
}

func TestLoop_HistoryStaysPairedAfterCancel(t *testing.T) {
	chat := &fakeChat{scripts: [][]step{
		{chunk(genai.FinishReasonStop,
			genai.FunctionCall{Name: "glob", Args: map[string]any{"pattern": "*"}},
			genai.FunctionCall{Name: "read_file", Args: map[string]any{"path": "a.txt"}},
		)},
		{chunk(genai.FinishReasonStop, genai.Text("ok"))},
	}}
	c, _ := newTestClient(t, chat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := &agenttest.Executor{Handle: func(ctx context.Context, req agent.ToolCallRequest) (*agent.ToolCallResponse, error) {
		cancel()
		return agenttest.OK(req, "a.txt"), nil
	}}

	res := runTurn(ctx, c, exec, session.LoopConfig{}, "look around")
	require.Equal(t, session.StateAborted, res.State)
	require.Len(t, exec.Calls(), 1)

	res = runTurn(context.Background(), c, exec, session.LoopConfig{}, "never mind")
	require.Equal(t, session.StateDone, res.State)

	history := c.History()
	require.Len(t, history, 4)
	assertAlternates(t, history)
	parts := history[2].Parts
	require.Len(t, parts, 3)
	glob := parts[0].(genai.FunctionResponse)
	assert.Equal(t, map[string]any{"output": "a.txt"}, glob.Response)
	read := parts[1].(genai.FunctionResponse)
	assert.Equal(t, "read_file", read.Name)
	assert.Equal(t, map[string]any{"error": session.ErrToolCancelled.Error()}, read.Response)
	assert.Equal(t, genai.Text("never mind"), parts[2])
}

func TestClient_ResumeChatNormalizesHistory(t *testing.T) {
	chat := &fakeChat{}
	c, _ := newTestClient(t, chat)

	call := genai.FunctionCall{Name: "glob", Args: map[string]any{"pattern": "*"}}
	answered := genai.FunctionResponse{Name: "glob", Response: map[string]any{"output": "a.txt"}}
	require.NoError(t, c.ResumeChat([]*genai.Content{
		genai.NewUserContent(genai.Text("list")),
		{Role: roleModel, Parts: []genai.Part{call}},
		genai.NewUserContent(genai.Text("hello?")),
		{Role: roleModel, Parts: []genai.Part{genai.Text("hi")}},
		{Role: roleModel, Parts: []genai.Part{call}},
		genai.NewUserContent(answered),
		genai.NewUserContent(genai.Text("and now?")),
	}, nil))

	history := c.History()
	require.Len(t, history, 5)
	assertAlternates(t, history)

	require.Len(t, history[2].Parts, 2)
	fr := history[2].Parts[0].(genai.FunctionResponse)
	assert.Equal(t, map[string]any{"error": errIncompleteCall}, fr.Response)
	assert.Equal(t, genai.Text("hello?"), history[2].Parts[1])

	assert.Equal(t, []genai.Part{genai.Text("hi"), call}, history[3].Parts)
	assert.Equal(t, []genai.Part{answered, genai.Text("and now?")}, history[4].Parts)
}
