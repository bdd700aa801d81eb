package sqlite

import (
	"context"
	"database/sql"

	"github.com/maloquacious/noto/internal/ids"
	"github.com/maloquacious/noto/internal/store"
	"github.com/pkg/errors"
)

const noteColumns = `id, title, content, starred, created_at, updated_at, deleted_at`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (store.Note, error) {
	var (
		n         store.Note
		starred   int64
		deletedAt sql.NullInt64
	)
	if err := row.Scan(&n.ID, &n.Title, &n.Content, &starred, &n.CreatedAt, &n.UpdatedAt, &deletedAt); err != nil {
		return store.Note{}, err
	}
	n.Starred = starred != 0
	if deletedAt.Valid {
		v := deletedAt.Int64
		n.DeletedAt = &v
	}
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func (s *SQLiteStore) list(ctx context.Context, where, order string) ([]store.Note, error) {
	if s.db == nil {
		return nil, store.ErrNotOpen
	}
	query := `SELECT ` + noteColumns + ` FROM notes`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY ` + order

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query notes")
	}
	defer rows.Close()

	notes := []store.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan note")
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read notes")
	}
	return notes, nil
}

// List returns notes that are not soft-deleted, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]store.Note, error) {
	return s.list(ctx, `deleted_at IS NULL`, `updated_at DESC`)
}

// ListDeleted returns soft-deleted notes, most recently deleted first.
func (s *SQLiteStore) ListDeleted(ctx context.Context) ([]store.Note, error) {
	return s.list(ctx, `deleted_at IS NOT NULL`, `deleted_at DESC`)
}

// ListStarred returns starred notes that are not soft-deleted.
func (s *SQLiteStore) ListStarred(ctx context.Context) ([]store.Note, error) {
	return s.list(ctx, `starred = 1 AND deleted_at IS NULL`, `updated_at DESC`)
}

// ListAll returns every note, soft-deleted ones included.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]store.Note, error) {
	return s.list(ctx, "", `updated_at DESC`)
}

// Get returns the note with the given id whether or not it is soft-deleted.
func (s *SQLiteStore) Get(ctx context.Context, id string) (store.Note, error) {
	if s.db == nil {
		return store.Note{}, store.ErrNotOpen
	}
	return getNote(ctx, s.db, id)
}

func getNote(ctx context.Context, q queryer, id string) (store.Note, error) {
	n, err := scanNote(q.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return store.Note{}, errors.Wrapf(store.ErrNotFound, "id %s", id)
	}
	if err != nil {
		return store.Note{}, errors.Wrapf(err, "failed to get note %s", id)
	}
	return n, nil
}

// Create inserts a new note with a fresh UUID.
func (s *SQLiteStore) Create(ctx context.Context, in store.CreateNoteInput) (store.Note, error) {
	if s.db == nil {
		return store.Note{}, store.ErrNotOpen
	}
	now := s.now().Unix()
	n := store.Note{
		ID:        ids.New(),
		Title:     in.Title,
		Content:   in.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (id, title, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.Title, n.Content, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return store.Note{}, errors.Wrap(err, "failed to create note")
	}
	return n, nil
}

// Update applies a partial update and bumps updated_at.
func (s *SQLiteStore) Update(ctx context.Context, id string, in store.UpdateNoteInput) (store.Note, error) {
	if s.db == nil {
		return store.Note{}, store.ErrNotOpen
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Note{}, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	existing, err := getNote(ctx, tx, id)
	if err != nil {
		return store.Note{}, err
	}
	n := in.Apply(existing)
	n.UpdatedAt = s.now().Unix()

	_, err = tx.ExecContext(ctx,
		`UPDATE notes SET title = ?, content = ?, starred = ?, updated_at = ? WHERE id = ?`,
		n.Title, n.Content, boolInt(n.Starred), n.UpdatedAt, id,
	)
	if err != nil {
		return store.Note{}, errors.Wrapf(err, "failed to update note %s", id)
	}
	if err := tx.Commit(); err != nil {
		return store.Note{}, errors.Wrap(err, "failed to commit transaction")
	}
	return n, nil
}

func (s *SQLiteStore) execOne(ctx context.Context, id, query string, args ...any) error {
	if s.db == nil {
		return store.ErrNotOpen
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "failed to write note %s", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		return errors.Wrapf(store.ErrNotFound, "id %s", id)
	}
	return nil
}

// Delete soft-deletes a note by stamping deleted_at. The row stays in the table.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.execOne(ctx, id, `UPDATE notes SET deleted_at = ? WHERE id = ?`, s.now().Unix(), id)
}

// Restore clears deleted_at.
func (s *SQLiteStore) Restore(ctx context.Context, id string) (store.Note, error) {
	if err := s.execOne(ctx, id, `UPDATE notes SET deleted_at = NULL WHERE id = ?`, id); err != nil {
		return store.Note{}, err
	}
	return s.Get(ctx, id)
}

// Purge removes the row. Only reachable from an explicit user request.
func (s *SQLiteStore) Purge(ctx context.Context, id string) error {
	return s.execOne(ctx, id, `DELETE FROM notes WHERE id = ?`, id)
}

// Upsert writes n as-is, keeping created_at of an existing row.
func (s *SQLiteStore) Upsert(ctx context.Context, n store.Note) (store.Note, error) {
	if s.db == nil {
		return store.Note{}, store.ErrNotOpen
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (`+noteColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            title = excluded.title,
            content = excluded.content,
            starred = excluded.starred,
            updated_at = excluded.updated_at,
            deleted_at = excluded.deleted_at`,
		n.ID, n.Title, n.Content, boolInt(n.Starred), n.CreatedAt, n.UpdatedAt, nullInt(n.DeletedAt),
	)
	if err != nil {
		return store.Note{}, errors.Wrapf(err, "failed to upsert note %s", n.ID)
	}
	return s.Get(ctx, n.ID)
}

var _ store.NoteRepository = (*SQLiteStore)(nil)
