package sqlite

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/maloquacious/noto/internal/logger"
	"github.com/maloquacious/noto/internal/store"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

var ErrSchemaDrift = errors.New("notes table does not match the expected schema")

// SQLiteStore implements the Store and NoteRepository interfaces using modernc.org/sqlite.
type SQLiteStore struct {
	dbPath     string
	db         *sql.DB
	migrations []Migration
	log        logger.Logger
	now        func() time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the logger used for migration progress.
func WithLogger(log logger.Logger) Option {
	return func(s *SQLiteStore) { s.log = log }
}

// WithMigrations replaces the default migration list.
func WithMigrations(migrations []Migration) Option {
	return func(s *SQLiteStore) { s.migrations = migrations }
}

// WithClock sets the time source for note timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// New creates a new SQLiteStore.
func New(dbPath string, opts ...Option) *SQLiteStore {
	s := &SQLiteStore{
		dbPath:     dbPath,
		migrations: Migrations,
		log:        logger.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the SQLite database with safe defaults.
func (s *SQLiteStore) Open() error {
	return s.open(s.dbPath, []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	})
}

// OpenReadOnly opens an existing database without write access. Nothing is created,
// and the journal mode is left as it is.
func (s *SQLiteStore) OpenReadOnly() error {
	return s.open("file:"+s.dbPath+"?mode=ro", []string{
		"PRAGMA busy_timeout=5000",
	})
}

func (s *SQLiteStore) open(dsn string, pragmas []string) error {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	// PRAGMAs are per connection; one connection keeps them in force for every query.
	db.SetMaxOpenConns(1)

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return errors.Wrapf(err, "failed to set pragma %q", pragma)
		}
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

func (s *SQLiteStore) migrator() (*Migrator, error) {
	if s.db == nil {
		return nil, store.ErrNotOpen
	}
	return NewMigrator(s.db, s.migrations, s.log)
}

// Migrate applies every pending migration.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	return m.Migrate(ctx)
}

// MigrateTo applies pending migrations up to and including version target.
func (s *SQLiteStore) MigrateTo(ctx context.Context, target int) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	return m.MigrateTo(ctx, target)
}

// MigrationStatus reports the applied version and the pending migrations.
func (s *SQLiteStore) MigrationStatus(ctx context.Context) (MigrationStatus, error) {
	m, err := s.migrator()
	if err != nil {
		return MigrationStatus{}, err
	}
	return m.Status(ctx)
}

// CheckState returns the current state of the datastore.
func (s *SQLiteStore) CheckState() (store.StoreState, error) {
	if s.db == nil {
		return store.StateMissing, store.ErrNotOpen
	}

	// Check if schema_migrations table exists
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'`).Scan(&count)
	if err != nil {
		return store.StateUninitialized, errors.Wrap(err, "failed to check schema_migrations table")
	}

	if count == 0 {
		return store.StateUninitialized, nil
	}

	version, err := s.GetSchemaVersion()
	if err != nil {
		return store.StateUninitialized, errors.Wrap(err, "failed to get schema version")
	}

	if version != s.migrations[len(s.migrations)-1].Version {
		return store.StateVersionMismatch, nil
	}

	return store.StateReady, nil
}

// GetSchemaVersion returns the highest applied migration version, 0 if none.
func (s *SQLiteStore) GetSchemaVersion() (int, error) {
	if s.db == nil {
		return 0, store.ErrNotOpen
	}

	var version sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, errors.Wrap(err, "failed to query schema version")
	}

	return int(version.Int64), nil
}

// Columns returns the sorted column names of table.
func (s *SQLiteStore) Columns(ctx context.Context, table string) ([]string, error) {
	if s.db == nil {
		return nil, store.ErrNotOpen
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read columns of %s", table)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "failed to scan column name")
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read columns")
	}
	sort.Strings(cols)
	return cols, nil
}

// VerifySchema checks that the notes table has exactly the fully migrated column set.
func (s *SQLiteStore) VerifySchema(ctx context.Context) error {
	got, err := s.Columns(ctx, "notes")
	if err != nil {
		return err
	}
	want := append([]string(nil), NotesColumns...)
	sort.Strings(want)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		return errors.Wrapf(ErrSchemaDrift, "have columns [%s], want [%s]", strings.Join(got, ", "), strings.Join(want, ", "))
	}
	return nil
}
