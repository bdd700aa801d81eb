// Package syncer keeps the local notes table authoritative and mirrors writes to a remote.
//
// Writes land in the local store first. When a remote is configured the write is queued and
// the queue is drained in the background; failures stay queued until MaxRetries is exceeded.
package syncer

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/maloquacious/noto/internal/ids"
	"github.com/maloquacious/noto/internal/logger"
	"github.com/maloquacious/noto/internal/store"
	"github.com/pkg/errors"
)

// MaxRetries is how many times a failing operation is retried before it is dropped.
const MaxRetries = 5

// Status is a snapshot of the coordinator.
type Status struct {
	CloudEnabled bool   `json:"cloud_enabled"`
	Online       bool   `json:"online"`
	Syncing      bool   `json:"syncing"`
	LastSyncAt   *int64 `json:"last_sync_at"`
	Error        string `json:"error,omitempty"`
	Pending      int    `json:"pending"`
}

// Coordinator implements store.NoteRepository over a local store and an optional remote.
type Coordinator struct {
	local store.NoteRepository
	file  *QueueFile
	log   logger.Logger
	now   func() time.Time

	// background drains run after every queued write when true
	background bool
	wg         sync.WaitGroup

	mu      sync.Mutex
	remote  store.NoteRepository
	state   State
	online  bool
	syncing bool
	lastErr string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(log logger.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithoutBackgroundDrain leaves draining to explicit ProcessQueue calls.
func WithoutBackgroundDrain() Option {
	return func(c *Coordinator) { c.background = false }
}

// New loads the persisted queue from file and returns a Coordinator with no remote.
func New(local store.NoteRepository, file *QueueFile, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		local:      local,
		file:       file,
		log:        logger.Discard(),
		now:        time.Now,
		background: true,
		online:     true,
	}
	for _, opt := range opts {
		opt(c)
	}
	st, err := file.Load()
	if err != nil {
		return nil, err
	}
	c.state = st
	return c, nil
}

// SetRemote enables cloud sync, or disables it when r is nil.
func (c *Coordinator) SetRemote(r store.NoteRepository) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = r
	c.online = true
}

// Pinger is implemented by remotes that can check their connection and credentials.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckRemote pings the remote, when it is a Pinger, and records the outcome in Status.
func (c *Coordinator) CheckRemote(ctx context.Context) error {
	c.mu.Lock()
	p, ok := c.remote.(Pinger)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	err := p.Ping(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.online = false
		c.lastErr = "cloud connection failed: " + err.Error()
		return errors.Wrap(err, "cloud connection failed")
	}
	c.online = true
	c.lastErr = ""
	return nil
}

// Status returns a snapshot of the sync state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		CloudEnabled: c.remote != nil,
		Online:       c.online,
		Syncing:      c.syncing,
		LastSyncAt:   c.state.LastSyncAt,
		Error:        c.lastErr,
		Pending:      len(c.state.Queue),
	}
}

// Queue returns a copy of the pending operations.
func (c *Coordinator) Queue() []Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Operation(nil), c.state.Queue...)
}

// saveLocked persists the state; c.mu must be held.
func (c *Coordinator) saveLocked() {
	if err := c.file.Save(c.state); err != nil {
		c.log.Error("sync: %v", err)
	}
}

func (c *Coordinator) enqueue(t OpType, noteID string) {
	c.mu.Lock()
	if c.remote == nil {
		c.mu.Unlock()
		return
	}
	c.state.Queue = append(c.state.Queue, Operation{
		ID:        ids.New(),
		Type:      t,
		NoteID:    noteID,
		Timestamp: c.now().UnixMilli(),
	})
	c.saveLocked()
	c.mu.Unlock()

	if c.background {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.ProcessQueue(context.Background()); err != nil {
				c.log.Warn("sync: %v", err)
			}
		}()
	}
}

// SyncInBackground runs Sync on the coordinator's own goroutine group, so Close waits for it.
func (c *Coordinator) SyncInBackground(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Sync(ctx); err != nil {
			c.log.Warn("sync: %v", err)
		}
	}()
}

// Wait blocks until background drains and syncs have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close waits for background drains and syncs, then persists the state.
func (c *Coordinator) Close() error {
	c.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Save(c.state)
}

func (c *Coordinator) beginSync() (store.NoteRepository, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil || c.syncing {
		return nil, false
	}
	c.syncing = true
	return c.remote, true
}

func (c *Coordinator) endSync(ok bool, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncing = false
	if ok {
		ts := c.now().UnixMilli()
		c.state.LastSyncAt = &ts
	}
	if errMsg != "" || ok {
		c.lastErr = errMsg
	}
	c.saveLocked()
}

// ProcessQueue pushes queued operations to the remote in order. It is a no-op when the queue
// is empty, no remote is set or a drain is already running.
func (c *Coordinator) ProcessQueue(ctx context.Context) error {
	c.mu.Lock()
	empty := len(c.state.Queue) == 0
	c.mu.Unlock()
	if empty {
		return nil
	}

	remote, ok := c.beginSync()
	if !ok {
		return nil
	}

	var errMsg string
	for _, op := range c.Queue() {
		if err := ctx.Err(); err != nil {
			c.endSync(false, "")
			return err
		}
		err := c.push(ctx, remote, op)
		c.mu.Lock()
		switch {
		case err == nil:
			c.online = true
			c.dequeueLocked(op.ID)
		case op.RetryCount >= MaxRetries:
			errMsg = fmt.Sprintf("failed to sync after %d retries: %s", MaxRetries, op.Type)
			c.log.Error("sync: dropping %s of note %s: %v", op.Type, op.NoteID, err)
			c.dequeueLocked(op.ID)
		default:
			c.log.Warn("sync: %s of note %s failed: %v", op.Type, op.NoteID, err)
			var netErr net.Error
			if errors.As(err, &netErr) {
				c.online = false
			}
			c.bumpRetryLocked(op.ID)
		}
		c.mu.Unlock()
	}

	c.endSync(true, errMsg)
	return nil
}

func (c *Coordinator) push(ctx context.Context, remote store.NoteRepository, op Operation) error {
	switch op.Type {
	case OpCreate, OpUpdate:
		n, err := c.local.Get(ctx, op.NoteID)
		if errors.Is(err, store.ErrNotFound) {
			// purged locally before it reached the remote
			return nil
		}
		if err != nil {
			return err
		}
		_, err = remote.Upsert(ctx, n)
		return err
	case OpDelete:
		return ignoreNotFound(remote.Delete(ctx, op.NoteID))
	case OpRestore:
		_, err := remote.Restore(ctx, op.NoteID)
		return ignoreNotFound(err)
	case OpPurge:
		return ignoreNotFound(remote.Purge(ctx, op.NoteID))
	}
	return errors.Errorf("unknown operation type %q", op.Type)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (c *Coordinator) dequeueLocked(id string) {
	q := c.state.Queue[:0]
	for _, op := range c.state.Queue {
		if op.ID != id {
			q = append(q, op)
		}
	}
	c.state.Queue = q
}

func (c *Coordinator) bumpRetryLocked(id string) {
	for i := range c.state.Queue {
		if c.state.Queue[i].ID == id {
			c.state.Queue[i].RetryCount++
		}
	}
}

// Pull copies remote notes into the local store when they are missing locally or newer.
func (c *Coordinator) Pull(ctx context.Context) error {
	remote, ok := c.beginSync()
	if !ok {
		return nil
	}

	pulled, err := c.pull(ctx, remote)
	if err != nil {
		c.mu.Lock()
		c.online = false
		c.mu.Unlock()
		c.endSync(false, "failed to sync from cloud")
		return err
	}
	c.log.Info("sync: pulled %d notes from cloud", pulled)
	c.endSync(true, "")
	return nil
}

func (c *Coordinator) pull(ctx context.Context, remote store.NoteRepository) (int, error) {
	cloudNotes, err := remote.ListAll(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list cloud notes")
	}
	localNotes, err := c.local.ListAll(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list local notes")
	}
	byID := make(map[string]store.Note, len(localNotes))
	for _, n := range localNotes {
		byID[n.ID] = n
	}

	pulled := 0
	for _, cn := range cloudNotes {
		ln, ok := byID[cn.ID]
		if ok && cn.UpdatedAt <= ln.UpdatedAt {
			continue
		}
		if _, err := c.local.Upsert(ctx, cn); err != nil {
			return pulled, errors.Wrapf(err, "store cloud note %s", cn.ID)
		}
		pulled++
	}
	return pulled, nil
}

// Sync drains the queue and then pulls newer remote notes.
func (c *Coordinator) Sync(ctx context.Context) error {
	if err := c.ProcessQueue(ctx); err != nil {
		return err
	}
	return c.Pull(ctx)
}

func (c *Coordinator) List(ctx context.Context) ([]store.Note, error) {
	return c.local.List(ctx)
}

func (c *Coordinator) ListDeleted(ctx context.Context) ([]store.Note, error) {
	return c.local.ListDeleted(ctx)
}

func (c *Coordinator) ListStarred(ctx context.Context) ([]store.Note, error) {
	return c.local.ListStarred(ctx)
}

func (c *Coordinator) ListAll(ctx context.Context) ([]store.Note, error) {
	return c.local.ListAll(ctx)
}

func (c *Coordinator) Get(ctx context.Context, id string) (store.Note, error) {
	return c.local.Get(ctx, id)
}

func (c *Coordinator) Create(ctx context.Context, in store.CreateNoteInput) (store.Note, error) {
	n, err := c.local.Create(ctx, in)
	if err != nil {
		return store.Note{}, err
	}
	c.enqueue(OpCreate, n.ID)
	return n, nil
}

func (c *Coordinator) Update(ctx context.Context, id string, in store.UpdateNoteInput) (store.Note, error) {
	n, err := c.local.Update(ctx, id, in)
	if err != nil {
		return store.Note{}, err
	}
	c.enqueue(OpUpdate, id)
	return n, nil
}

func (c *Coordinator) Delete(ctx context.Context, id string) error {
	if err := c.local.Delete(ctx, id); err != nil {
		return err
	}
	c.enqueue(OpDelete, id)
	return nil
}

func (c *Coordinator) Restore(ctx context.Context, id string) (store.Note, error) {
	n, err := c.local.Restore(ctx, id)
	if err != nil {
		return store.Note{}, err
	}
	c.enqueue(OpRestore, id)
	return n, nil
}

func (c *Coordinator) Purge(ctx context.Context, id string) error {
	if err := c.local.Purge(ctx, id); err != nil {
		return err
	}
	c.enqueue(OpPurge, id)
	return nil
}

// Upsert writes locally and queues the note for the remote.
func (c *Coordinator) Upsert(ctx context.Context, n store.Note) (store.Note, error) {
	out, err := c.local.Upsert(ctx, n)
	if err != nil {
		return store.Note{}, err
	}
	c.enqueue(OpUpdate, n.ID)
	return out, nil
}

var _ store.NoteRepository = (*Coordinator)(nil)
