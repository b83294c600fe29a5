package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/agent-bridge/internal/agent"
	"github.com/Rrens/agent-bridge/internal/agent/agenttest"
	"github.com/Rrens/agent-bridge/internal/attachment"
	"github.com/Rrens/agent-bridge/internal/config"
	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/repository"
	"github.com/Rrens/agent-bridge/internal/repository/filestore"
	"github.com/Rrens/agent-bridge/internal/security"
	"github.com/Rrens/agent-bridge/internal/service"
	"github.com/Rrens/agent-bridge/internal/session"
	"github.com/Rrens/agent-bridge/internal/stream"
	"github.com/google/generative-ai-go/genai"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type collector struct {
	mu     sync.Mutex
	events []stream.Event
}

func (c *collector) Emit(ev stream.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) types() []stream.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]stream.Type, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	fs       afero.Fs
	clock    *clockwork.FakeClock
	store    *filestore.Store
	factory  *agenttest.Factory
	chat     *service.ChatService
	sessions *service.SessionService
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	layout, err := repository.NewLayout(fs, "/data")
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	store := filestore.NewStore(layout, clock)
	factory := &agenttest.Factory{}
	orch := session.NewOrchestrator(store, session.NewRegistry(session.DefaultTTL, clock), factory, fs)

	cfg := config.AgentConfig{
		MaxTurns:            session.DefaultMaxTurns,
		ApprovalMode:        mode,
		ConfirmationTimeout: time.Minute,
	}
	return &fixture{
		fs:       fs,
		clock:    clock,
		store:    store,
		factory:  factory,
		chat:     service.NewChatService(orch, store, attachment.NewIngestor(fs, clock), session.NewConfirmations(clock), cfg, clock),
		sessions: service.NewSessionService(store, orch),
	}
}

func (f *fixture) run(t *testing.T, req service.ChatRequest) (*collector, session.Result, string) {
	t.Helper()
	turn, err := f.chat.Begin(context.Background(), req)
	require.NoError(t, err)
	c := &collector{}
	res := turn.Run(context.Background(), c)
	return c, res, turn.SessionID()
}

func TestChat_NewSessionHello(t *testing.T) {
	f := newFixture(t, config.ApprovalAuto)
	f.factory.NewClient = func(opts agent.SessionOptions) *agenttest.Client {
		return &agenttest.Client{Respond: func(n int, parts []genai.Part) agenttest.Turn {
			return agenttest.Reply("Hi", " there")
		}}
	}

	c, res, id := f.run(t, service.ChatRequest{Message: "hello"})
	assert.Equal(t, session.StateDone, res.State)
	assert.Equal(t, []stream.Type{
		stream.TypeSession, stream.TypeMessageID, stream.TypeText, stream.TypeText, stream.TypeDone,
	}, c.types())
	assert.Equal(t, id, c.events[0].SessionID)

	detail, err := f.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "hello", detail.Title)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, domain.RoleUser, detail.Messages[0].Role)
	assert.Equal(t, "hello", detail.Messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, detail.Messages[1].Role)
	assert.Equal(t, "Hi there", detail.Messages[1].Content)
}

func TestChat_FollowUpReusesSessionAndTouchesIt(t *testing.T) {
	f := newFixture(t, config.ApprovalAuto)
	ctx := context.Background()

	_, _, id := f.run(t, service.ChatRequest{Message: "hello"})
	before, err := f.store.Get(ctx, id)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	c, res, again := f.run(t, service.ChatRequest{SessionID: id, Message: "more"})
	assert.Equal(t, session.StateDone, res.State)
	assert.Equal(t, id, again)
	assert.Equal(t, id, c.events[0].SessionID)
	assert.Len(t, f.factory.Clients(), 1)

	after, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))

	msgs, err := f.store.Messages(ctx, id)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestChat_ImageAttachment(t *testing.T) {
	f := newFixture(t, config.ApprovalAuto)

	_, res, id := f.run(t, service.ChatRequest{Parts: []domain.InboundPart{
		{Inline: &domain.InlineData{MIMEType: "image/png", Data: pngHeader}},
		{Text: "what is this"},
	}})
	assert.Equal(t, session.StateDone, res.State)

	sess, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "what is this", sess.Title)

	entries, err := afero.ReadDir(f.fs, f.store.WorkDirPath(sess.WorkDir))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	name := entries[0].Name()
	assert.Equal(t, ".png", filepath.Ext(name))

	msgs, err := f.store.Messages(context.Background(), id)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.True(t, strings.HasPrefix(msgs[0].Content, "@"+name))

	sent := f.factory.Clients()[0].Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, genai.Text("@"+name), sent[0][0])
}

func TestChat_EmptyMessageRejected(t *testing.T) {
	f := newFixture(t, config.ApprovalAuto)

	_, err := f.chat.Begin(context.Background(), service.ChatRequest{Message: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.chat.Begin(context.Background(), service.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, f.factory.Clients())
}

func TestChat_BusySession(t *testing.T) {
	f := newFixture(t, config.ApprovalAuto)
	ctx := context.Background()

	first, err := f.chat.Begin(ctx, service.ChatRequest{Message: "one"})
	require.NoError(t, err)

	_, err = f.chat.Begin(ctx, service.ChatRequest{SessionID: first.SessionID(), Message: "two"})
	assert.ErrorIs(t, err, domain.ErrSessionBusy)

	first.Abandon()
	second, err := f.chat.Begin(ctx, service.ChatRequest{SessionID: first.SessionID(), Message: "two"})
	require.NoError(t, err)
	second.Abandon()
}

func TestChat_AgentErrorEmitsErrorEvent(t *testing.T) {
	f := newFixture(t, config.ApprovalAuto)
	f.factory.NewClient = func(opts agent.SessionOptions) *agenttest.Client {
		return &agenttest.Client{Respond: func(n int, parts []genai.Part) agenttest.Turn {
			return agenttest.Turn{Err: errors.New("quota exceeded")}
		}}
	}

	c, res, id := f.run(t, service.ChatRequest{Message: "hello"})
	assert.Equal(t, session.StateError, res.State)
	types := c.types()
	assert.Equal(t, stream.TypeError, types[len(types)-1])
	assert.NotContains(t, types, stream.TypeDone)
	assert.Contains(t, c.events[len(c.events)-1].Message, "quota exceeded")

	// the user message is kept; there is no reply to store
	msgs, err := f.store.Messages(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
}

func TestChat_CancelledTurnEndsSilently(t *testing.T) {
	f := newFixture(t, config.ApprovalAuto)

	turn, err := f.chat.Begin(context.Background(), service.ChatRequest{Message: "hello"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &collector{}
	res := turn.Run(ctx, c)
	assert.Equal(t, session.StateAborted, res.State)
	assert.NotContains(t, c.types(), stream.TypeDone)
	assert.NotContains(t, c.types(), stream.TypeError)

	// the session is free again
	next, err := f.chat.Begin(context.Background(), service.ChatRequest{SessionID: turn.SessionID(), Message: "again"})
	require.NoError(t, err)
	next.Abandon()
}

func TestChat_ConfirmUnderAutoMode(t *testing.T) {
	f := newFixture(t, config.ApprovalAuto)

	applied, err := f.chat.Confirm("anything", true)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestChat_ConfirmUnknownCall(t *testing.T) {
	f := newFixture(t, config.ApprovalConfirm)

	_, err := f.chat.Confirm("missing", true)
	assert.ErrorIs(t, err, domain.ErrToolCallNotFound)
}

func TestTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", service.DefaultTitle},
		{"  ", service.DefaultTitle},
		{"hello", "hello"},
		{"multi\nline  text", "multi line text"},
		{strings.Repeat("a", 30), strings.Repeat("a", 30)},
		{strings.Repeat("a", 31), strings.Repeat("a", 30) + "..."},
		{strings.Repeat("é", 40), strings.Repeat("é", 30) + "..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, service.Title(tt.in))
	}
}

func TestSessions_CreateListRename(t *testing.T) {
	f := newFixture(t, config.ApprovalAuto)
	ctx := context.Background()

	created, err := f.sessions.Create(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, service.DefaultTitle, created.Title)
	assert.Empty(t, f.factory.Clients())

	f.clock.Advance(time.Second)
	renamed, err := f.sessions.Rename(ctx, created.ID, "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", renamed.Title)

	_, err = f.sessions.Rename(ctx, created.ID, " ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.sessions.Rename(ctx, "missing", "x")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	list, err := f.sessions.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Renamed", list[0].Title)

	detail, err := f.sessions.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.NotNil(t, detail.Messages)
	assert.Empty(t, detail.Messages)
}

func TestSessions_Delete(t *testing.T) {
	f := newFixture(t, config.ApprovalAuto)
	ctx := context.Background()

	_, _, id := f.run(t, service.ChatRequest{Message: "hello"})
	sess, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	workDir := f.store.WorkDirPath(sess.WorkDir)

	require.NoError(t, f.sessions.Delete(ctx, id))

	list, err := f.sessions.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = f.sessions.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	exists, err := afero.Exists(f.fs, workDir)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.True(t, f.factory.Clients()[0].Closed())

	assert.ErrorIs(t, f.sessions.Delete(ctx, id), domain.ErrSessionNotFound)
}

func TestAuth_LoginAndRefresh(t *testing.T) {
	hash, err := security.HashPassword("s3cret")
	require.NoError(t, err)
	jwtManager := security.NewJWTManager("test-secret", 15*time.Minute, time.Hour)
	auth := service.NewAuthService("admin", hash, jwtManager)

	pair, err := auth.Login(domain.Credentials{Username: "admin", Password: "s3cret"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	claims, err := jwtManager.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)

	_, err = auth.Login(domain.Credentials{Username: "admin", Password: "wrong"})
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
	_, err = auth.Login(domain.Credentials{Username: "root", Password: "s3cret"})
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)

	refreshed, err := auth.Refresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)

	_, err = auth.Refresh(pair.AccessToken)
	assert.Error(t, err)
}
