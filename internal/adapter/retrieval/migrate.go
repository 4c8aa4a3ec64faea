package retrieval

import "database/sql"

// migrate creates the schema if it doesn't exist.
func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS entries (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			chunk_no   INTEGER NOT NULL,
			content    TEXT NOT NULL,
			embedding  BLOB,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS entries_title ON entries(title, chunk_no);

		CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
			title, content, content=entries, content_rowid=rowid
		);

		CREATE TRIGGER IF NOT EXISTS entries_ai AFTER INSERT ON entries BEGIN
			INSERT INTO entries_fts(rowid, title, content) VALUES (new.rowid, new.title, new.content);
		END;

		CREATE TRIGGER IF NOT EXISTS entries_ad AFTER DELETE ON entries BEGIN
			INSERT INTO entries_fts(entries_fts, rowid, title, content) VALUES ('delete', old.rowid, old.title, old.content);
		END;

		CREATE TRIGGER IF NOT EXISTS entries_au AFTER UPDATE ON entries BEGIN
			INSERT INTO entries_fts(entries_fts, rowid, title, content) VALUES ('delete', old.rowid, old.title, old.content);
			INSERT INTO entries_fts(rowid, title, content) VALUES (new.rowid, new.title, new.content);
		END;
	`
	_, err := db.Exec(schema)
	return err
}
