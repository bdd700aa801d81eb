package store

import (
	"context"

	"github.com/pkg/errors"
)

// StoreState represents the initialization state of the datastore.
type StoreState int

const (
	StateMissing         StoreState = iota // File doesn't exist
	StateUninitialized                     // File exists but no schema
	StateVersionMismatch                   // Schema exists but migrations are pending
	StateReady                             // Initialized and fully migrated
)

func (s StoreState) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateUninitialized:
		return "uninitialized"
	case StateVersionMismatch:
		return "version-mismatch"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

var (
	ErrNotFound = errors.New("note not found")
	ErrNotOpen  = errors.New("database not opened")
)

// Note is a row of the notes table.
// Timestamps are epoch seconds; a nil DeletedAt means the note is not soft-deleted.
type Note struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Starred   bool   `json:"starred"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	DeletedAt *int64 `json:"deleted_at"`
}

// CreateNoteInput holds the fields of a new note.
type CreateNoteInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// UpdateNoteInput is a partial update; nil fields keep their current value.
type UpdateNoteInput struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
	Starred *bool   `json:"starred,omitempty"`
}

// Apply returns n with the patch applied. It does not touch timestamps.
func (in UpdateNoteInput) Apply(n Note) Note {
	if in.Title != nil {
		n.Title = *in.Title
	}
	if in.Content != nil {
		n.Content = *in.Content
	}
	if in.Starred != nil {
		n.Starred = *in.Starred
	}
	return n
}

// Store defines the noto datastore contract.
// Implementations must be safe for concurrent use.
type Store interface {
	// Open opens the datastore connection
	Open() error

	// Close closes the datastore connection
	Close() error

	// Migrate applies every pending schema migration
	Migrate(ctx context.Context) error

	// CheckState returns the current state of the datastore
	CheckState() (StoreState, error)

	// GetSchemaVersion returns the highest applied migration version
	GetSchemaVersion() (int, error)
}

// NoteRepository is implemented by the local SQLite store and the cloud mirror.
type NoteRepository interface {
	List(ctx context.Context) ([]Note, error)
	ListDeleted(ctx context.Context) ([]Note, error)
	ListStarred(ctx context.Context) ([]Note, error)
	ListAll(ctx context.Context) ([]Note, error)
	Get(ctx context.Context, id string) (Note, error)
	Create(ctx context.Context, in CreateNoteInput) (Note, error)
	Update(ctx context.Context, id string, in UpdateNoteInput) (Note, error)
	Delete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) (Note, error)
	Purge(ctx context.Context, id string) error
	Upsert(ctx context.Context, n Note) (Note, error)
}
