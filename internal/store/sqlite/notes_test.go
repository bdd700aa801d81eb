package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/maloquacious/noto/internal/ids"
	"github.com/maloquacious/noto/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func openNotesStore(t *testing.T) (*SQLiteStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := openTestStore(t, WithClock(clock.now))
	require.NoError(t, s.Migrate(context.Background()))
	return s, clock
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s, _ := openNotesStore(t)

	n, err := s.Create(ctx, store.CreateNoteInput{Title: "hello", Content: "world"})
	require.NoError(t, err)
	assert.True(t, ids.Valid(n.ID))
	assert.Equal(t, int64(1_700_000_000), n.CreatedAt)
	assert.Equal(t, n.CreatedAt, n.UpdatedAt)

	got, err := s.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestGetMissing(t *testing.T) {
	s, _ := openNotesStore(t)
	_, err := s.Get(context.Background(), ids.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s, clock := openNotesStore(t)

	n, err := s.Create(ctx, store.CreateNoteInput{Title: "a", Content: "b"})
	require.NoError(t, err)

	clock.advance(time.Minute)
	updated, err := s.Update(ctx, n.ID, store.UpdateNoteInput{Content: strPtr("c"), Starred: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, "a", updated.Title)
	assert.Equal(t, "c", updated.Content)
	assert.True(t, updated.Starred)
	assert.Equal(t, n.CreatedAt, updated.CreatedAt)
	assert.Equal(t, n.CreatedAt+60, updated.UpdatedAt)

	got, err := s.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	_, err = s.Update(ctx, ids.New(), store.UpdateNoteInput{Title: strPtr("x")})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSoftDeleteKeepsRow(t *testing.T) {
	ctx := context.Background()
	s, clock := openNotesStore(t)

	keep, err := s.Create(ctx, store.CreateNoteInput{Title: "keep"})
	require.NoError(t, err)
	gone, err := s.Create(ctx, store.CreateNoteInput{Title: "gone"})
	require.NoError(t, err)

	clock.advance(time.Hour)
	require.NoError(t, s.Delete(ctx, gone.ID))

	got, err := s.Get(ctx, gone.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
	assert.Equal(t, clock.t.Unix(), *got.DeletedAt)

	live, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, keep.ID, live[0].ID)

	deleted, err := s.ListDeleted(ctx)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, gone.ID, deleted[0].ID)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	restored, err := s.Restore(ctx, gone.ID)
	require.NoError(t, err)
	assert.Nil(t, restored.DeletedAt)

	assert.ErrorIs(t, s.Delete(ctx, ids.New()), store.ErrNotFound)
}

func TestListStarredAndOrder(t *testing.T) {
	ctx := context.Background()
	s, clock := openNotesStore(t)

	older, err := s.Create(ctx, store.CreateNoteInput{Title: "older"})
	require.NoError(t, err)
	clock.advance(time.Second)
	newer, err := s.Create(ctx, store.CreateNoteInput{Title: "newer"})
	require.NoError(t, err)
	clock.advance(time.Second)
	trashed, err := s.Create(ctx, store.CreateNoteInput{Title: "trashed"})
	require.NoError(t, err)

	for _, id := range []string{older.ID, trashed.ID} {
		_, err := s.Update(ctx, id, store.UpdateNoteInput{Starred: boolPtr(true)})
		require.NoError(t, err)
	}
	require.NoError(t, s.Delete(ctx, trashed.ID))

	starred, err := s.ListStarred(ctx)
	require.NoError(t, err)
	require.Len(t, starred, 1)
	assert.Equal(t, older.ID, starred[0].ID)

	live, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, live, 2)
	// older was touched last by the starring update
	assert.Equal(t, older.ID, live[0].ID)
	assert.Equal(t, newer.ID, live[1].ID)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	s, _ := openNotesStore(t)

	n, err := s.Create(ctx, store.CreateNoteInput{Title: "bye"})
	require.NoError(t, err)
	require.NoError(t, s.Purge(ctx, n.ID))

	_, err = s.Get(ctx, n.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.Purge(ctx, n.ID), store.ErrNotFound)
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	s, _ := openNotesStore(t)

	deletedAt := int64(50)
	in := store.Note{ID: ids.New(), Title: "remote", Content: "x", Starred: true, CreatedAt: 10, UpdatedAt: 20, DeletedAt: &deletedAt}
	got, err := s.Upsert(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, in, got)

	in.Title = "remote v2"
	in.CreatedAt = 99
	in.UpdatedAt = 30
	in.DeletedAt = nil
	got, err = s.Upsert(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "remote v2", got.Title)
	assert.Equal(t, int64(10), got.CreatedAt, "created_at is kept on conflict")
	assert.Equal(t, int64(30), got.UpdatedAt)
	assert.Nil(t, got.DeletedAt)
}
