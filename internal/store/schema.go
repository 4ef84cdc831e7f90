package store

import "database/sql"

const ddl = `
PRAGMA journal_mode=WAL;
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS collections (
    name         TEXT PRIMARY KEY,
    dims         INTEGER NOT NULL,
    created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_indexed DATETIME
);

CREATE TABLE IF NOT EXISTS points (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    collection TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
    point_id   TEXT NOT NULL,
    payload    TEXT NOT NULL DEFAULT '{}',
    UNIQUE(collection, point_id)
);

CREATE INDEX IF NOT EXISTS idx_points_collection ON points(collection);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Init creates the base tables. Per-collection vector tables are created
// lazily in EnsureCollection.
func Init(db *sql.DB) error {
	_, err := db.Exec(ddl)
	return err
}
