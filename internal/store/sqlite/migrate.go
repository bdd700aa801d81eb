package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/maloquacious/noto/internal/logger"
	"github.com/maloquacious/noto/internal/store"
	"github.com/pkg/errors"
)

var (
	ErrInvalidMigrations = errors.New("invalid migration list")
	ErrPartialSchema     = errors.New("schema partially migrated outside this tool")
)

// MigrationStatus summarizes how far a database is behind a migration list.
type MigrationStatus struct {
	Current  int
	Baseline int
	Latest   int
	Pending  []Migration
}

// Migrator applies a migration list to a database, at most once per version and in order.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
	log        logger.Logger
	now        func() time.Time
}

// NewMigrator validates migrations and returns a Migrator for db.
// Versions must start at 1 and increase by exactly 1.
func NewMigrator(db *sql.DB, migrations []Migration, log logger.Logger) (*Migrator, error) {
	if db == nil {
		return nil, store.ErrNotOpen
	}
	if err := validate(migrations); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Migrator{db: db, migrations: migrations, log: log, now: time.Now}, nil
}

func validate(migrations []Migration) error {
	if len(migrations) == 0 {
		return errors.Wrap(ErrInvalidMigrations, "no migrations")
	}
	for i, m := range migrations {
		if m.Version != i+1 {
			return errors.Wrapf(ErrInvalidMigrations, "migration at index %d has version %d, want %d", i, m.Version, i+1)
		}
		if strings.TrimSpace(m.Description) == "" {
			return errors.Wrapf(ErrInvalidMigrations, "migration %d has no description", m.Version)
		}
		if len(m.Statements) == 0 {
			return errors.Wrapf(ErrInvalidMigrations, "migration %d has no statements", m.Version)
		}
		for _, stmt := range m.Statements {
			if strings.TrimSpace(stmt) == "" {
				return errors.Wrapf(ErrInvalidMigrations, "migration %d has an empty statement", m.Version)
			}
		}
	}
	return nil
}

// Current returns the highest recorded version, or 0 for a database with no migrations.
// It never writes to the database.
func (m *Migrator) Current(ctx context.Context) (int, error) {
	ok, err := tableExists(ctx, m.db, "schema_migrations")
	if err != nil || !ok {
		return 0, err
	}
	var version sql.NullInt64
	if err := m.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, errors.Wrap(err, "query schema version")
	}
	return int(version.Int64), nil
}

// Status reports the current version and the migrations still to apply. For a database that
// predates schema_migrations, Baseline is the version its notes table is already at and
// Pending starts after it.
func (m *Migrator) Status(ctx context.Context) (MigrationStatus, error) {
	current, err := m.Current(ctx)
	if err != nil {
		return MigrationStatus{}, err
	}
	st := MigrationStatus{Current: current, Latest: m.latest()}
	from := current
	if current == 0 {
		if st.Baseline, err = detectBaseline(ctx, m.db); err != nil {
			return MigrationStatus{}, err
		}
		from = st.Baseline
	}
	for _, mig := range m.migrations {
		if mig.Version > from {
			st.Pending = append(st.Pending, mig)
		}
	}
	return st, nil
}

// Migrate applies every pending migration.
func (m *Migrator) Migrate(ctx context.Context) error {
	return m.MigrateTo(ctx, m.latest())
}

// MigrateTo applies pending migrations up to and including target.
// The first failing step is rolled back and aborts the run; earlier steps stay committed.
func (m *Migrator) MigrateTo(ctx context.Context, target int) error {
	if target < 0 || target > m.latest() {
		return errors.Errorf("target version %d out of range [0, %d]", target, m.latest())
	}
	if _, err := m.db.ExecContext(ctx, migrationTableSchema); err != nil {
		return errors.Wrap(err, "ensure migration table")
	}
	current, err := m.Current(ctx)
	if err != nil {
		return err
	}
	if current == 0 {
		if current, err = m.adopt(ctx); err != nil {
			return err
		}
	}
	if current > m.latest() {
		return errors.Errorf("database schema version %d is newer than this build (%d)", current, m.latest())
	}
	if current >= target {
		m.log.Debug("schema at version %d, nothing to apply", current)
		return nil
	}

	tolerated := 0
	for _, mig := range m.migrations[current:target] {
		if mig.Destructive && tolerated != 0 {
			return errors.Wrapf(ErrPartialSchema, "migration %d not applied: migration %d found its change already in place", mig.Version, tolerated)
		}
		skipped, err := m.apply(ctx, mig)
		if err != nil {
			return err
		}
		if skipped && tolerated == 0 {
			tolerated = mig.Version
		}
		m.log.Info("applied migration %d: %s", mig.Version, mig.Description)
	}
	return nil
}

// adopt records the baseline of a database whose notes table was migrated before
// schema_migrations existed, so its history is never replayed.
func (m *Migrator) adopt(ctx context.Context) (int, error) {
	baseline, err := detectBaseline(ctx, m.db)
	if err != nil || baseline == 0 {
		return 0, err
	}
	if baseline > m.latest() {
		return baseline, nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin adopt")
	}
	defer tx.Rollback()
	for _, mig := range m.migrations[:baseline] {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
			mig.Version, mig.Description, m.now().Unix(),
		); err != nil {
			return 0, errors.Wrapf(err, "record migration %d", mig.Version)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "commit adopt")
	}
	m.log.Info("adopted existing notes table at schema version %d", baseline)
	return baseline, nil
}

// apply runs mig in one transaction. skipped reports whether a statement found its change
// already in place.
func (m *Migrator) apply(ctx context.Context, mig Migration) (skipped bool, err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrapf(err, "begin migration %d", mig.Version)
	}
	defer tx.Rollback()

	for _, stmt := range mig.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if !IsAlreadyAppliedError(err) {
				return false, errors.Wrapf(err, "exec migration %d (%s)", mig.Version, mig.Description)
			}
			m.log.Warn("migration %d: tolerated %v", mig.Version, err)
			skipped = true
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
		mig.Version, mig.Description, m.now().Unix(),
	); err != nil {
		return false, errors.Wrapf(err, "record migration %d", mig.Version)
	}

	if err := tx.Commit(); err != nil {
		return false, errors.Wrapf(err, "commit migration %d", mig.Version)
	}
	return skipped, nil
}

func (m *Migrator) latest() int {
	return m.migrations[len(m.migrations)-1].Version
}

// IsAlreadyAppliedError reports whether err only says that a DDL change is already in place.
func IsAlreadyAppliedError(err error) bool {
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "duplicate column name")
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, errors.Wrapf(err, "look up table %s", name)
	}
	return n > 0, nil
}

// detectBaseline returns the version an existing notes table is at when schema_migrations has
// no record of it: the last successful entry of the desktop app's _sqlx_migrations table, or
// else the version implied by the notes columns. It returns 0 when there is no notes table.
func detectBaseline(ctx context.Context, db *sql.DB) (int, error) {
	ok, err := tableExists(ctx, db, "notes")
	if err != nil || !ok {
		return 0, err
	}

	ok, err = tableExists(ctx, db, "_sqlx_migrations")
	if err != nil {
		return 0, err
	}
	if ok {
		var version sql.NullInt64
		if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM _sqlx_migrations WHERE success = 1`).Scan(&version); err != nil {
			return 0, errors.Wrap(err, "query _sqlx_migrations")
		}
		if version.Int64 > 0 {
			return int(version.Int64), nil
		}
	}

	rows, err := db.QueryContext(ctx, `SELECT name, type FROM pragma_table_info('notes')`)
	if err != nil {
		return 0, errors.Wrap(err, "read notes columns")
	}
	defer rows.Close()
	types := map[string]string{}
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return 0, errors.Wrap(err, "scan notes column")
		}
		types[name] = strings.ToUpper(typ)
	}
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "read notes columns")
	}
	return notesVersion(types), nil
}

// notesVersion maps a notes column set (name to declared type) to the migration that produces it.
func notesVersion(types map[string]string) int {
	has := func(col string) bool {
		_, ok := types[col]
		return ok
	}
	switch {
	case types["id"] == "TEXT":
		return 6
	case has("starred") && !has("pinned"):
		return 5
	case has("starred"):
		return 4
	case has("deleted_at"):
		return 3
	case has("pinned"):
		return 2
	}
	return 1
}
