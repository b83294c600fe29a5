package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/agent-bridge/internal/agent"
	"github.com/Rrens/agent-bridge/internal/agent/agenttest"
	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/record"
	"github.com/Rrens/agent-bridge/internal/repository"
	"github.com/Rrens/agent-bridge/internal/repository/filestore"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	fs      afero.Fs
	clock   *clockwork.FakeClock
	store   *filestore.Store
	factory *agenttest.Factory
	orch    *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	layout, err := repository.NewLayout(fs, "/data")
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	store := filestore.NewStore(layout, clock)
	factory := &agenttest.Factory{}
	return &fixture{
		fs:      fs,
		clock:   clock,
		store:   store,
		factory: factory,
		orch:    NewOrchestrator(store, NewRegistry(DefaultTTL, clock), factory, fs),
	}
}

// restart simulates a process restart: same storage, empty registry
func (f *fixture) restart() {
	f.factory = &agenttest.Factory{}
	f.orch = NewOrchestrator(f.store, NewRegistry(DefaultTTL, f.clock), f.factory, f.fs)
}

func TestOrchestrator_NewSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, created, err := f.orch.Resolve(ctx, "", "hello")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, h.ID)

	sess, err := f.store.Get(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", sess.Title)
	assert.Equal(t, h.WorkDirName, sess.WorkDir)
	assert.Equal(t, f.store.RecordPath(h.ID), sess.RecordPath)
	assert.Equal(t, f.store.WorkDirPath(sess.WorkDir), h.WorkDir)

	entries, err := afero.ReadDir(f.fs, h.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	rec, err := record.Load(f.fs, sess.RecordPath)
	require.NoError(t, err)
	assert.Equal(t, h.ID, rec.SessionID)
	assert.Empty(t, rec.Messages)

	client := f.factory.Clients()[0]
	assert.True(t, client.Initialized())
	require.NotNil(t, client.Resume())
	assert.Equal(t, sess.RecordPath, client.Resume().RecordPath)
	assert.Empty(t, client.History())

	opts := f.factory.Sessions()[0]
	assert.Equal(t, h.WorkDir, opts.WorkDir)
	assert.Equal(t, sess.RecordPath, opts.RecordPath)
}

func TestOrchestrator_CachedHandleIsReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _, err := f.orch.Resolve(ctx, "", "hi")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	second, created, err := f.orch.Resolve(ctx, first.ID, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, second)
	assert.Len(t, f.factory.Sessions(), 1)
}

func TestOrchestrator_UnknownIDStartsNewSession(t *testing.T) {
	f := newFixture(t)

	h, created, err := f.orch.Resolve(context.Background(), "does-not-exist", "hi")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, "does-not-exist", h.ID)
}

func TestOrchestrator_ResumesFromRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, _, err := f.orch.Resolve(ctx, "", "hi")
	require.NoError(t, err)

	rec, err := record.Load(f.fs, f.store.RecordPath(h.ID))
	require.NoError(t, err)
	rec.Messages = []record.Entry{
		{Type: record.EntryUser, Content: "/help"},
		{Type: record.EntryUser, Content: "list files"},
		{Type: record.EntryGemini, ToolCalls: []record.ToolCall{{
			ID:     "c1",
			Name:   "list_directory",
			Result: []record.Part{{FunctionResponse: &record.FunctionResponse{Name: "list_directory", Response: map[string]any{"output": "a.txt"}}}},
		}}},
		{Type: record.EntryGemini, Content: "There is a.txt"},
		{Type: record.EntryInfo, Content: "saved"},
	}
	require.NoError(t, record.Save(f.fs, f.store.RecordPath(h.ID), rec))

	f.restart()
	resumed, created, err := f.orch.Resolve(ctx, h.ID, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, h.ID, resumed.ID)
	assert.Equal(t, h.WorkDir, resumed.WorkDir)

	client := f.factory.Clients()[0]
	history := client.History()
	require.Len(t, history, 4)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "model", history[1].Role)
	assert.Equal(t, "user", history[2].Role)
	assert.Equal(t, "model", history[3].Role)
	require.NotNil(t, client.Resume())
	assert.Len(t, client.Resume().Record.Messages, 5)
}

func TestOrchestrator_ExpiredHandleIsRebuilt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _, err := f.orch.Resolve(ctx, "", "hi")
	require.NoError(t, err)

	f.clock.Advance(DefaultTTL + time.Minute)
	second, created, err := f.orch.Resolve(ctx, first.ID, "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.NotSame(t, first, second)
	assert.Len(t, f.factory.Sessions(), 2)
	assert.True(t, f.factory.Clients()[0].Closed())
}

func TestOrchestrator_TurnOutlivingTTLKeepsExclusion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _, err := f.orch.Resolve(ctx, "", "hi")
	require.NoError(t, err)
	release, err := f.orch.AcquireTurn(ctx, first)
	require.NoError(t, err)

	f.clock.Advance(DefaultTTL + time.Second)
	second, _, err := f.orch.Resolve(ctx, first.ID, "")
	require.NoError(t, err)
	assert.Same(t, first, second, "the running turn's handle stays live")
	_, err = f.orch.AcquireTurn(ctx, second)
	assert.ErrorIs(t, err, domain.ErrSessionBusy)
	assert.Len(t, f.factory.Sessions(), 1)

	release()
	third, _, err := f.orch.Resolve(ctx, first.ID, "")
	require.NoError(t, err)
	assert.NotSame(t, first, third, "expired once the turn is over")
	assert.True(t, f.factory.Clients()[0].Closed())
	assert.Len(t, f.factory.Sessions(), 2)
}

func TestOrchestrator_ConcurrentResumeBuildsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, _, err := f.orch.Resolve(ctx, "", "hi")
	require.NoError(t, err)
	f.restart()

	var wg sync.WaitGroup
	handles := make([]*Handle, 16)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, _, err := f.orch.Resolve(ctx, h.ID, "")
			assert.NoError(t, err)
			handles[i] = got
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.factory.Sessions(), 1)
	for _, got := range handles {
		assert.Same(t, handles[0], got)
	}
}

func TestOrchestrator_FactoryFailure(t *testing.T) {
	f := newFixture(t)
	f.factory.Err = errors.New("no api key")

	_, _, err := f.orch.Resolve(context.Background(), "", "hi")
	assert.ErrorContains(t, err, "no api key")
}

type stubLocker struct {
	ok       bool
	released int
}

func (l *stubLocker) Acquire(ctx context.Context, sessionID string) (func(), bool, error) {
	if !l.ok {
		return nil, false, nil
	}
	return func() { l.released++ }, true, nil
}

func TestOrchestrator_AcquireTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h, _, err := f.orch.Resolve(ctx, "", "hi")
	require.NoError(t, err)

	release, err := f.orch.AcquireTurn(ctx, h)
	require.NoError(t, err)
	_, err = f.orch.AcquireTurn(ctx, h)
	assert.ErrorIs(t, err, domain.ErrSessionBusy)
	release()

	locker := &stubLocker{ok: false}
	f.orch.SetTurnLocker(locker)
	_, err = f.orch.AcquireTurn(ctx, h)
	assert.ErrorIs(t, err, domain.ErrSessionBusy)
	assert.False(t, h.Busy())

	locker.ok = true
	release, err = f.orch.AcquireTurn(ctx, h)
	require.NoError(t, err)
	release()
	assert.Equal(t, 1, locker.released)
	assert.False(t, h.Busy())
}

func TestOrchestrator_Evict(t *testing.T) {
	f := newFixture(t)
	h, _, err := f.orch.Resolve(context.Background(), "", "hi")
	require.NoError(t, err)

	assert.True(t, f.orch.Evict(h.ID))
	assert.False(t, f.orch.Evict(h.ID))
	assert.True(t, f.factory.Clients()[0].Closed())
	_, ok := f.orch.Registry().Get(h.ID)
	assert.False(t, ok)
}

var _ agent.Factory = (*agenttest.Factory)(nil)
