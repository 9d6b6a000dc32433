package sqlite

// Schema creates the history tables and their secondary indexes.
// Both tables grow without bound over the life of the process, so every
// filterable column is indexed on both; queries never fall back to
// full scans.
const Schema = `
CREATE TABLE IF NOT EXISTS operation_history (
	id                TEXT PRIMARY KEY,
	timestamp         TEXT NOT NULL,
	operation_type    TEXT NOT NULL,
	user_id           TEXT,
	session_id        TEXT NOT NULL,
	component         TEXT NOT NULL,
	details           TEXT NOT NULL,
	success           INTEGER NOT NULL,
	execution_time_ms REAL,
	error_message     TEXT,
	metadata          TEXT,
	created_at        TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_history_timestamp ON operation_history(timestamp);
CREATE INDEX IF NOT EXISTS idx_history_operation_type ON operation_history(operation_type);
CREATE INDEX IF NOT EXISTS idx_history_session ON operation_history(session_id);
CREATE INDEX IF NOT EXISTS idx_history_component ON operation_history(component);
CREATE INDEX IF NOT EXISTS idx_history_success ON operation_history(success);
CREATE INDEX IF NOT EXISTS idx_history_user_session ON operation_history(user_id, session_id);

CREATE TABLE IF NOT EXISTS operation_history_archive (
	id                TEXT PRIMARY KEY,
	timestamp         TEXT NOT NULL,
	operation_type    TEXT NOT NULL,
	user_id           TEXT,
	session_id        TEXT NOT NULL,
	component         TEXT NOT NULL,
	details           TEXT NOT NULL,
	success           INTEGER NOT NULL,
	execution_time_ms REAL,
	error_message     TEXT,
	metadata          TEXT,
	archived_at       TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_archive_timestamp ON operation_history_archive(timestamp);
CREATE INDEX IF NOT EXISTS idx_archive_operation_type ON operation_history_archive(operation_type);
CREATE INDEX IF NOT EXISTS idx_archive_session ON operation_history_archive(session_id);
CREATE INDEX IF NOT EXISTS idx_archive_component ON operation_history_archive(component);
CREATE INDEX IF NOT EXISTS idx_archive_success ON operation_history_archive(success);
CREATE INDEX IF NOT EXISTS idx_archive_user_session ON operation_history_archive(user_id, session_id);
`
