package sqlite

// migrationTableSchema holds one row per applied migration version.
const migrationTableSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at INTEGER NOT NULL
);
`

// NotesColumns is the column set of the notes table once every migration is applied.
var NotesColumns = []string{"id", "title", "content", "starred", "created_at", "updated_at", "deleted_at"}

// uuidExpr builds a UUID v4 shaped string from random blobs: 8-4-4-4-12 lowercase hex,
// version nibble 4, variant nibble one of 8, 9, a, b.
const uuidExpr = `lower(hex(randomblob(4))) || '-' ||
        lower(hex(randomblob(2))) || '-4' ||
        substr(lower(hex(randomblob(2))), 2) || '-' ||
        substr('89ab', 1 + (random() & 3), 1) ||
        substr(lower(hex(randomblob(2))), 2) || '-' ||
        lower(hex(randomblob(6)))`
