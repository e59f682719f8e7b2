package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS pages (
	key          TEXT PRIMARY KEY,
	body         BLOB NOT NULL,
	content_type TEXT NOT NULL,
	revision     TEXT NOT NULL DEFAULT '',
	captured_at  INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL DEFAULT 0,
	last_access  INTEGER NOT NULL,
	size         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pages_lru ON pages(last_access);

CREATE TABLE IF NOT EXISTS mutations (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	op_id         TEXT NOT NULL UNIQUE,
	entity_type   TEXT NOT NULL,
	entity_key    TEXT NOT NULL,
	kind          TEXT NOT NULL,
	payload       BLOB,
	base_revision TEXT NOT NULL DEFAULT '',
	local_time    INTEGER NOT NULL,
	attempts      INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	dead_reason   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_mutations_status_seq ON mutations(status, seq);

CREATE TABLE IF NOT EXISTS discards (
	op_id           TEXT PRIMARY KEY,
	entity_type     TEXT NOT NULL,
	entity_key      TEXT NOT NULL,
	kind            TEXT NOT NULL,
	reason          TEXT NOT NULL,
	local_time      INTEGER NOT NULL,
	remote_revision TEXT NOT NULL DEFAULT '',
	remote_time     INTEGER NOT NULL DEFAULT 0,
	recorded_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cursors (
	collection TEXT PRIMARY KEY,
	revision   INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`
