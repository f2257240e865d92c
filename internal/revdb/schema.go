package revdb

// SchemaVersion is the schema version this package writes.
const SchemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS revisions (
	object_id   TEXT NOT NULL,
	rev_id      INTEGER NOT NULL,
	base_rev_id INTEGER NOT NULL,
	data        BLOB NOT NULL,
	md5         TEXT NOT NULL DEFAULT '',
	user_id     TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL CHECK (state IN ('local', 'ack')),
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (object_id, rev_id)
);
CREATE INDEX IF NOT EXISTS idx_revisions_state ON revisions(object_id, state, rev_id);

CREATE TABLE IF NOT EXISTS snapshots (
	object_id   TEXT NOT NULL,
	rev_id      INTEGER NOT NULL,
	base_rev_id INTEGER NOT NULL,
	data        BLOB NOT NULL,
	timestamp   INTEGER NOT NULL,
	PRIMARY KEY (object_id, rev_id)
);
`

// Migration is one schema upgrade step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations run in order on databases older than their version.
var Migrations = []Migration{
	{
		Version:     2,
		Description: "objects registry",
		SQL: `CREATE TABLE IF NOT EXISTS objects (
			object_id  TEXT PRIMARY KEY,
			kind       TEXT NOT NULL DEFAULT 'text',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		INSERT OR IGNORE INTO objects (object_id) SELECT DISTINCT object_id FROM revisions;`,
	},
}
