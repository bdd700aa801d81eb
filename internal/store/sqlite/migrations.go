package sqlite

// Migration is one forward-only schema change. Statements run in order inside a single
// transaction, together with the schema_migrations row that records the version.
//
// A Destructive step drops or rewrites existing data. It never runs after an earlier step of
// the same run found its change already in place.
type Migration struct {
	Version     int
	Description string
	Statements  []string
	Destructive bool
}

// Migrations is the full history of the notes schema. Append only: released versions are
// already recorded in users' databases and must never change.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "create notes table",
		Statements: []string{`CREATE TABLE IF NOT EXISTS notes (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        title TEXT NOT NULL DEFAULT '',
        content TEXT NOT NULL DEFAULT '',
        created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
        updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
    )`},
	},
	{
		Version:     2,
		Description: "add pinned column",
		Statements:  []string{`ALTER TABLE notes ADD COLUMN pinned INTEGER NOT NULL DEFAULT 0`},
	},
	{
		Version:     3,
		Description: "add deleted_at column for soft delete",
		Statements:  []string{`ALTER TABLE notes ADD COLUMN deleted_at INTEGER DEFAULT NULL`},
	},
	{
		Version:     4,
		Description: "add starred column",
		Statements:  []string{`ALTER TABLE notes ADD COLUMN starred INTEGER NOT NULL DEFAULT 0`},
	},
	{
		Version:     5,
		Description: "remove pinned column",
		Statements:  []string{`ALTER TABLE notes DROP COLUMN pinned`},
		Destructive: true,
	},
	{
		Version:     6,
		Description: "migrate note ids to uuid",
		Destructive: true,
		Statements: []string{
			`CREATE TABLE notes_new (
        id TEXT PRIMARY KEY NOT NULL,
        title TEXT NOT NULL DEFAULT '',
        content TEXT NOT NULL DEFAULT '',
        starred INTEGER NOT NULL DEFAULT 0,
        created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
        updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
        deleted_at INTEGER DEFAULT NULL
    )`,
			`INSERT INTO notes_new (id, title, content, starred, created_at, updated_at, deleted_at)
    SELECT ` + uuidExpr + `, title, content, starred, created_at, updated_at, deleted_at
    FROM notes`,
			`DROP TABLE notes`,
			`ALTER TABLE notes_new RENAME TO notes`,
		},
	},
}

// LatestVersion returns the highest version in Migrations.
func LatestVersion() int {
	return Migrations[len(Migrations)-1].Version
}
