package database

// schemaMigrationsTable tracks which schema versions have been applied.
const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// initialSchema creates the archives table.
//
// date_created is stored as an ISO "YYYY-MM-DD" string (always the first of
// the month) so that lexicographic comparison in SQL matches chronological
// order.
const initialSchema = `
CREATE TABLE IF NOT EXISTS archives (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project TEXT NOT NULL,
	language TEXT NOT NULL,
	flavor TEXT NOT NULL,
	date_created TEXT NOT NULL,
	file_name TEXT NOT NULL,
	sha256 TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(project, language, flavor, date_created)
);

CREATE INDEX IF NOT EXISTS idx_archives_reference
	ON archives(project, language, flavor);
CREATE INDEX IF NOT EXISTS idx_archives_file_name
	ON archives(file_name);
`
