package filestore_test

import (
	"context"
	"testing"
	"time"

	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/repository"
	"github.com/Rrens/agent-bridge/internal/repository/filestore"
	"github.com/Rrens/agent-bridge/internal/repository/storetest"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*filestore.Store, afero.Fs, *clockwork.FakeClock) {
	t.Helper()
	fs := afero.NewMemMapFs()
	layout, err := repository.NewLayout(fs, "/data")
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return filestore.NewStore(layout, clock), fs, clock
}

func TestStore_Suite(t *testing.T) {
	storetest.Run(t, func(t *testing.T, layout *repository.Layout, clock clockwork.Clock) domain.SessionStore {
		return filestore.NewStore(layout, clock)
	})
}

func TestStore_CreateThenGet(t *testing.T) {
	store, fs, _ := newStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "s1", "wd-1", "hello")
	require.NoError(t, err)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "wd-1", got.WorkDir)
	assert.Equal(t, "hello", got.Title)

	entries, err := afero.ReadDir(fs, store.WorkDirPath(got.WorkDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_CreateDuplicateWorkDir(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "s1", "wd", "a")
	require.NoError(t, err)
	_, err = store.Create(ctx, "s2", "wd", "b")
	assert.Error(t, err)
}

func TestStore_ListOrderedByRecency(t *testing.T) {
	store, _, clock := newStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "old", "wd-old", "old")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = store.Create(ctx, "new", "wd-new", "new")
	require.NoError(t, err)

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "new", sessions[0].ID)

	clock.Advance(time.Minute)
	ok, err := store.AppendMessage(ctx, "old", domain.StoredMessage{ID: "m1", Role: domain.RoleUser, Content: "hi"})
	require.NoError(t, err)
	require.True(t, ok)

	sessions, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "old", sessions[0].ID)
}

func TestStore_AppendMessage(t *testing.T) {
	store, _, clock := newStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "s1", "wd", "t")
	require.NoError(t, err)

	clock.Advance(time.Second)
	for _, c := range []string{"one", "two"} {
		ok, err := store.AppendMessage(ctx, "s1", domain.StoredMessage{ID: c, Role: domain.RoleUser, Content: c})
		require.NoError(t, err)
		assert.True(t, ok)
	}

	msgs, err := store.Messages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(created.UpdatedAt))

	ok, err := store.AppendMessage(ctx, "missing", domain.StoredMessage{ID: "x"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Update(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "s1", "wd", "t")
	require.NoError(t, err)

	title := "renamed"
	record := store.RecordPath("s1")
	got, err := store.Update(ctx, "s1", domain.SessionUpdate{Title: &title, RecordPath: &record})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, record, got.RecordPath)

	_, err = store.Update(ctx, "nope", domain.SessionUpdate{Title: &title})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestStore_Delete(t *testing.T) {
	store, fs, _ := newStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "s1", "wd", "t")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, "s1", domain.StoredMessage{ID: "m"})
	require.NoError(t, err)

	ok, err := store.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	exists, _ := afero.DirExists(fs, store.WorkDirPath("wd"))
	assert.False(t, exists)
	exists, _ = afero.Exists(fs, store.MessagesPath("s1"))
	assert.False(t, exists)

	ok, err = store.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}
