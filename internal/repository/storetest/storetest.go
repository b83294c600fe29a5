// Package storetest holds the behavior every domain.SessionStore backend
// shares. Backend packages call Run from their tests.
package storetest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/repository"
	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Opener returns a store on layout that reads time from clock. The store is
// closed by the suite.
type Opener func(t *testing.T, layout *repository.Layout, clock clockwork.Clock) domain.SessionStore

type suite struct {
	store  domain.SessionStore
	fs     afero.Fs
	clock  *clockwork.FakeClock
	prefix string
}

func setup(t *testing.T, open Opener) *suite {
	t.Helper()
	fs := afero.NewMemMapFs()
	layout, err := repository.NewLayout(fs, "/data")
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	store := open(t, layout, clock)
	t.Cleanup(func() { store.Close() })

	// ids are unique per run so backends on a shared server see no collisions
	return &suite{store: store, fs: fs, clock: clock, prefix: ulid.Make().String()}
}

func (s *suite) id(name string) string {
	return s.prefix + "-" + name
}

// ours keeps the sessions this run created, in list order
func (s *suite) ours(sessions []domain.Session) []string {
	var ids []string
	for _, sess := range sessions {
		if strings.HasPrefix(sess.ID, s.prefix+"-") {
			ids = append(ids, sess.ID)
		}
	}
	return ids
}

func (s *suite) create(t *testing.T, name, title string) *domain.Session {
	t.Helper()
	sess, err := s.store.Create(context.Background(), s.id(name), s.id("wd-"+name), title)
	require.NoError(t, err)
	t.Cleanup(func() { s.store.Delete(context.Background(), sess.ID) })
	return sess
}

// Run exercises the store returned by open
func Run(t *testing.T, open Opener) {
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, setup(t, open)) })
	t.Run("ListOrderedByRecency", func(t *testing.T) { testListOrder(t, setup(t, open)) })
	t.Run("DuplicateWorkDir", func(t *testing.T) { testDuplicateWorkDir(t, setup(t, open)) })
	t.Run("MissingSession", func(t *testing.T) { testMissingSession(t, setup(t, open)) })
	t.Run("Ping", func(t *testing.T) {
		s := setup(t, open)
		assert.NoError(t, s.store.Ping(context.Background()))
	})
}

func testLifecycle(t *testing.T, s *suite) {
	ctx := context.Background()

	created := s.create(t, "s1", "first")
	assert.Equal(t, "first", created.Title)
	exists, _ := afero.DirExists(s.fs, s.store.WorkDirPath(created.WorkDir))
	assert.True(t, exists)

	got, err := s.store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.WorkDir, got.WorkDir)
	assert.Empty(t, got.RecordPath)

	s.clock.Advance(time.Minute)
	for _, m := range []domain.StoredMessage{
		{ID: s.id("m1"), Role: domain.RoleUser, Content: "hello", Timestamp: s.clock.Now()},
		{ID: s.id("m2"), Role: domain.RoleAssistant, Content: "hi there", Timestamp: s.clock.Now()},
	} {
		ok, err := s.store.AppendMessage(ctx, created.ID, m)
		require.NoError(t, err)
		require.True(t, ok)
	}

	got, err = s.store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(created.UpdatedAt), "appending touches updatedAt")

	msgs, err := s.store.Messages(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hi there", msgs[1].Content)

	title := "renamed"
	updated, err := s.store.Update(ctx, created.ID, domain.SessionUpdate{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.Empty(t, updated.RecordPath)

	path := s.store.RecordPath(created.ID)
	updated, err = s.store.Update(ctx, created.ID, domain.SessionUpdate{RecordPath: &path})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.Equal(t, path, updated.RecordPath)

	ok, err := s.store.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	exists, _ = afero.DirExists(s.fs, s.store.WorkDirPath(created.WorkDir))
	assert.False(t, exists)
	msgs, err = s.store.Messages(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func testListOrder(t *testing.T, s *suite) {
	ctx := context.Background()

	older := s.create(t, "old", "old")
	s.clock.Advance(time.Minute)
	newer := s.create(t, "new", "new")

	sessions, err := s.store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{newer.ID, older.ID}, s.ours(sessions))

	s.clock.Advance(time.Minute)
	ok, err := s.store.AppendMessage(ctx, older.ID, domain.StoredMessage{
		ID: s.id("m1"), Role: domain.RoleUser, Content: "bump", Timestamp: s.clock.Now(),
	})
	require.NoError(t, err)
	require.True(t, ok)

	sessions, err = s.store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{older.ID, newer.ID}, s.ours(sessions))
}

func testDuplicateWorkDir(t *testing.T, s *suite) {
	ctx := context.Background()

	first := s.create(t, "a", "a")
	_, err := s.store.Create(ctx, s.id("b"), first.WorkDir, "b")
	assert.Error(t, err)

	_, err = s.store.Get(ctx, s.id("b"))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	exists, _ := afero.DirExists(s.fs, s.store.WorkDirPath(first.WorkDir))
	assert.True(t, exists, "the failed create leaves the existing working directory alone")
}

func testMissingSession(t *testing.T, s *suite) {
	ctx := context.Background()
	ghost := s.id("ghost")

	_, err := s.store.Get(ctx, ghost)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	ok, err := s.store.AppendMessage(ctx, ghost, domain.StoredMessage{ID: s.id("m")})
	require.NoError(t, err)
	assert.False(t, ok)

	title := "x"
	_, err = s.store.Update(ctx, ghost, domain.SessionUpdate{Title: &title})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	ok, err = s.store.Delete(ctx, ghost)
	require.NoError(t, err)
	assert.False(t, ok)
}
