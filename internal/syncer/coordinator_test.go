package syncer

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/maloquacious/noto/internal/store"
	"github.com/maloquacious/noto/internal/store/sqlite"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRemote is an in-memory NoteRepository standing in for the cloud mirror.
type memRemote struct {
	mu    sync.Mutex
	notes map[string]store.Note
	fail  error
	calls int
}

func newMemRemote() *memRemote {
	return &memRemote{notes: map[string]store.Note{}}
}

func (r *memRemote) setFail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

func (r *memRemote) get(id string) (store.Note, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notes[id]
	return n, ok
}

func (r *memRemote) check() error {
	r.calls++
	return r.fail
}

func (r *memRemote) filter(keep func(store.Note) bool) ([]store.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return nil, err
	}
	var out []store.Note
	for _, n := range r.notes {
		if keep(n) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

func (r *memRemote) List(ctx context.Context) ([]store.Note, error) {
	return r.filter(func(n store.Note) bool { return n.DeletedAt == nil })
}

func (r *memRemote) ListDeleted(ctx context.Context) ([]store.Note, error) {
	return r.filter(func(n store.Note) bool { return n.DeletedAt != nil })
}

func (r *memRemote) ListStarred(ctx context.Context) ([]store.Note, error) {
	return r.filter(func(n store.Note) bool { return n.Starred && n.DeletedAt == nil })
}

func (r *memRemote) ListAll(ctx context.Context) ([]store.Note, error) {
	return r.filter(func(store.Note) bool { return true })
}

func (r *memRemote) Get(ctx context.Context, id string) (store.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return store.Note{}, err
	}
	n, ok := r.notes[id]
	if !ok {
		return store.Note{}, store.ErrNotFound
	}
	return n, nil
}

func (r *memRemote) Create(ctx context.Context, in store.CreateNoteInput) (store.Note, error) {
	return store.Note{}, errors.New("not used")
}

func (r *memRemote) Update(ctx context.Context, id string, in store.UpdateNoteInput) (store.Note, error) {
	return store.Note{}, errors.New("not used")
}

func (r *memRemote) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	n, ok := r.notes[id]
	if !ok {
		return store.ErrNotFound
	}
	ts := int64(999)
	n.DeletedAt = &ts
	r.notes[id] = n
	return nil
}

func (r *memRemote) Restore(ctx context.Context, id string) (store.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return store.Note{}, err
	}
	n, ok := r.notes[id]
	if !ok {
		return store.Note{}, store.ErrNotFound
	}
	n.DeletedAt = nil
	r.notes[id] = n
	return n, nil
}

func (r *memRemote) Purge(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	if _, ok := r.notes[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.notes, id)
	return nil
}

func (r *memRemote) Upsert(ctx context.Context, n store.Note) (store.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return store.Note{}, err
	}
	r.notes[n.ID] = n
	return n, nil
}

type fixture struct {
	local  *sqlite.SQLiteStore
	remote *memRemote
	coord  *Coordinator
	file   *QueueFile
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	local := sqlite.New(filepath.Join(dir, store.DefaultDBFile))
	require.NoError(t, local.Open())
	t.Cleanup(func() { local.Close() })
	require.NoError(t, local.Migrate(context.Background()))

	file := NewQueueFile(filepath.Join(dir, "sync.yaml"))
	opts = append([]Option{WithClock(func() time.Time { return time.UnixMilli(42_000) })}, opts...)
	coord, err := New(local, file, opts...)
	require.NoError(t, err)

	return &fixture{local: local, remote: newMemRemote(), coord: coord, file: file}
}

func TestWritesWithoutRemoteAreNotQueued(t *testing.T) {
	f := newFixture(t, WithoutBackgroundDrain())
	ctx := context.Background()

	n, err := f.coord.Create(ctx, store.CreateNoteInput{Title: "local only"})
	require.NoError(t, err)
	require.NoError(t, f.coord.Delete(ctx, n.ID))

	assert.Empty(t, f.coord.Queue())
	assert.False(t, f.coord.Status().CloudEnabled)
	assert.NoError(t, f.coord.ProcessQueue(ctx))
}

func TestProcessQueuePushesInOrder(t *testing.T) {
	f := newFixture(t, WithoutBackgroundDrain())
	f.coord.SetRemote(f.remote)
	ctx := context.Background()

	n, err := f.coord.Create(ctx, store.CreateNoteInput{Title: "draft"})
	require.NoError(t, err)
	title := "final"
	_, err = f.coord.Update(ctx, n.ID, store.UpdateNoteInput{Title: &title})
	require.NoError(t, err)
	require.NoError(t, f.coord.Delete(ctx, n.ID))

	queue := f.coord.Queue()
	require.Len(t, queue, 3)
	assert.Equal(t, []OpType{OpCreate, OpUpdate, OpDelete}, []OpType{queue[0].Type, queue[1].Type, queue[2].Type})
	assert.Equal(t, int64(42_000), queue[0].Timestamp)

	require.NoError(t, f.coord.ProcessQueue(ctx))

	remote, ok := f.remote.get(n.ID)
	require.True(t, ok)
	assert.Equal(t, "final", remote.Title)
	assert.NotNil(t, remote.DeletedAt)

	st := f.coord.Status()
	assert.Equal(t, 0, st.Pending)
	require.NotNil(t, st.LastSyncAt)
	assert.Equal(t, int64(42_000), *st.LastSyncAt)
	assert.Empty(t, st.Error)
}

func TestFailingOperationIsDroppedAfterMaxRetries(t *testing.T) {
	f := newFixture(t, WithoutBackgroundDrain())
	f.coord.SetRemote(f.remote)
	f.remote.setFail(errors.New("boom"))
	ctx := context.Background()

	_, err := f.coord.Create(ctx, store.CreateNoteInput{Title: "stuck"})
	require.NoError(t, err)

	for i := 0; i < MaxRetries; i++ {
		require.NoError(t, f.coord.ProcessQueue(ctx))
		queue := f.coord.Queue()
		require.Len(t, queue, 1)
		assert.Equal(t, i+1, queue[0].RetryCount)
	}

	require.NoError(t, f.coord.ProcessQueue(ctx))
	assert.Empty(t, f.coord.Queue())
	assert.Contains(t, f.coord.Status().Error, "failed to sync after 5 retries: create")
}

func TestRemoteRecoveryClearsQueue(t *testing.T) {
	f := newFixture(t, WithoutBackgroundDrain())
	f.coord.SetRemote(f.remote)
	f.remote.setFail(errors.New("offline"))
	ctx := context.Background()

	n, err := f.coord.Create(ctx, store.CreateNoteInput{Title: "later"})
	require.NoError(t, err)
	require.NoError(t, f.coord.ProcessQueue(ctx))
	require.Len(t, f.coord.Queue(), 1)

	f.remote.setFail(nil)
	require.NoError(t, f.coord.ProcessQueue(ctx))
	assert.Empty(t, f.coord.Queue())
	_, ok := f.remote.get(n.ID)
	assert.True(t, ok)
}

func TestPurgeOfUnsyncedNoteIsHarmless(t *testing.T) {
	f := newFixture(t, WithoutBackgroundDrain())
	f.coord.SetRemote(f.remote)
	ctx := context.Background()

	n, err := f.coord.Create(ctx, store.CreateNoteInput{Title: "short lived"})
	require.NoError(t, err)
	require.NoError(t, f.coord.Purge(ctx, n.ID))

	require.NoError(t, f.coord.ProcessQueue(ctx))
	assert.Empty(t, f.coord.Queue())
	_, ok := f.remote.get(n.ID)
	assert.False(t, ok)
}

func TestQueueSurvivesRestart(t *testing.T) {
	f := newFixture(t, WithoutBackgroundDrain())
	f.coord.SetRemote(f.remote)
	ctx := context.Background()

	n, err := f.coord.Create(ctx, store.CreateNoteInput{Title: "persist me"})
	require.NoError(t, err)
	require.NoError(t, f.coord.Close())

	again, err := New(f.local, f.file, WithoutBackgroundDrain())
	require.NoError(t, err)
	queue := again.Queue()
	require.Len(t, queue, 1)
	assert.Equal(t, n.ID, queue[0].NoteID)
	assert.Equal(t, OpCreate, queue[0].Type)
}

func TestBackgroundDrain(t *testing.T) {
	f := newFixture(t)
	f.coord.SetRemote(f.remote)
	ctx := context.Background()

	n, err := f.coord.Create(ctx, store.CreateNoteInput{Title: "async"})
	require.NoError(t, err)
	f.coord.Wait()

	_, ok := f.remote.get(n.ID)
	assert.True(t, ok)
	assert.Empty(t, f.coord.Queue())
}

func TestPullKeepsNewest(t *testing.T) {
	f := newFixture(t, WithoutBackgroundDrain())
	f.coord.SetRemote(f.remote)
	ctx := context.Background()

	stale, err := f.local.Upsert(ctx, store.Note{ID: "11111111-1111-4111-8111-111111111111", Title: "local old", CreatedAt: 1, UpdatedAt: 10})
	require.NoError(t, err)
	fresh, err := f.local.Upsert(ctx, store.Note{ID: "22222222-2222-4222-8222-222222222222", Title: "local new", CreatedAt: 1, UpdatedAt: 50})
	require.NoError(t, err)

	f.remote.notes[stale.ID] = store.Note{ID: stale.ID, Title: "cloud new", CreatedAt: 1, UpdatedAt: 20}
	f.remote.notes[fresh.ID] = store.Note{ID: fresh.ID, Title: "cloud old", CreatedAt: 1, UpdatedAt: 40}
	f.remote.notes["33333333-3333-4333-8333-333333333333"] = store.Note{ID: "33333333-3333-4333-8333-333333333333", Title: "cloud only", CreatedAt: 5, UpdatedAt: 5}

	require.NoError(t, f.coord.Pull(ctx))

	got, err := f.local.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, "cloud new", got.Title)

	got, err = f.local.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, "local new", got.Title)

	got, err = f.local.Get(ctx, "33333333-3333-4333-8333-333333333333")
	require.NoError(t, err)
	assert.Equal(t, "cloud only", got.Title)

	assert.Empty(t, f.coord.Queue(), "pulled notes are not pushed back")
}

func TestPullFailureMarksOffline(t *testing.T) {
	f := newFixture(t, WithoutBackgroundDrain())
	f.coord.SetRemote(f.remote)
	f.remote.setFail(errors.New("unreachable"))

	assert.Error(t, f.coord.Pull(context.Background()))
	st := f.coord.Status()
	assert.False(t, st.Online)
	assert.Equal(t, "failed to sync from cloud", st.Error)
}

type pingRemote struct {
	*memRemote
	err error
}

func (r pingRemote) Ping(ctx context.Context) error { return r.err }

func TestCheckRemote(t *testing.T) {
	f := newFixture(t, WithoutBackgroundDrain())
	ctx := context.Background()

	f.coord.SetRemote(f.remote)
	assert.NoError(t, f.coord.CheckRemote(ctx), "remotes without Ping are not checked")

	f.coord.SetRemote(pingRemote{memRemote: f.remote, err: errors.New("bad token")})
	require.Error(t, f.coord.CheckRemote(ctx))
	st := f.coord.Status()
	assert.False(t, st.Online)
	assert.Contains(t, st.Error, "bad token")

	f.coord.SetRemote(pingRemote{memRemote: f.remote})
	require.NoError(t, f.coord.CheckRemote(ctx))
	st = f.coord.Status()
	assert.True(t, st.Online)
	assert.Empty(t, st.Error)
}

func TestEmptyQueueDrainLeavesStateAlone(t *testing.T) {
	f := newFixture(t, WithoutBackgroundDrain())
	f.coord.SetRemote(f.remote)

	require.NoError(t, f.coord.ProcessQueue(context.Background()))
	assert.Nil(t, f.coord.Status().LastSyncAt)
	assert.NoFileExists(t, f.file.path)
}

// slowRemote blocks ListAll until release is closed.
type slowRemote struct {
	*memRemote
	started chan struct{}
	release chan struct{}
}

func (r slowRemote) ListAll(ctx context.Context) ([]store.Note, error) {
	close(r.started)
	<-r.release
	return r.memRemote.ListAll(ctx)
}

func TestCloseWaitsForBackgroundSync(t *testing.T) {
	f := newFixture(t, WithoutBackgroundDrain())
	remote := slowRemote{memRemote: f.remote, started: make(chan struct{}), release: make(chan struct{})}
	f.coord.SetRemote(remote)

	f.coord.SyncInBackground(context.Background())
	<-remote.started

	closed := make(chan struct{})
	go func() {
		assert.NoError(t, f.coord.Close())
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a sync was still using the store")
	case <-time.After(50 * time.Millisecond):
	}

	close(remote.release)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after the sync finished")
	}
	assert.NotNil(t, f.coord.Status().LastSyncAt)
}

func TestQueueFileMissingIsEmpty(t *testing.T) {
	st, err := NewQueueFile(filepath.Join(t.TempDir(), "none.yaml")).Load()
	require.NoError(t, err)
	assert.Empty(t, st.Queue)
	assert.Nil(t, st.LastSyncAt)
}
