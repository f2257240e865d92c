// Package revdb stores revision logs and snapshots in a single SQLite file.
// It implements revision.Persistence and revision.SnapshotDiskCache.
package revdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const dbFileName = "revsync.db"

var lockTimeout = 2 * time.Second

// DB wraps the revision database connection.
type DB struct {
	conn *sql.DB
	path string
	lock *dirLock
}

// Open opens the database in dataDir, creating the directory and schema as
// needed. The data directory stays locked against other processes until
// Close.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lock := newDirLock(dataDir)
	if err := lock.acquire(lockTimeout); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, dbFileName)
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		lock.release()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		lock.release()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	db, err := newDB(conn)
	if err != nil {
		conn.Close()
		lock.release()
		return nil, err
	}
	db.path = dbPath
	db.lock = lock
	return db, nil
}

// New wraps an already open connection and brings its schema up to date.
func New(conn *sql.DB) (*DB, error) {
	conn.SetMaxOpenConns(1)
	return newDB(conn)
}

func newDB(conn *sql.DB) (*DB, error) {
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	db := &DB{conn: conn}
	if _, err := db.RunMigrations(); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Path is the database file, empty for wrapped connections.
func (db *DB) Path() string { return db.path }

// Close checkpoints the WAL, closes the connection and releases the data
// dir lock.
func (db *DB) Close() error {
	if db.path != "" {
		db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	err := db.conn.Close()
	if db.lock != nil {
		db.lock.release()
	}
	return err
}

// RunMigrations applies pending migrations and returns how many ran.
func (db *DB) RunMigrations() (int, error) {
	if _, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_info (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_info: %w", err)
	}

	current := db.SchemaVersion()
	if current >= SchemaVersion {
		return 0, nil
	}

	n := 0
	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		if _, err := db.conn.Exec(m.SQL); err != nil {
			return n, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if err := db.setSchemaVersion(m.Version); err != nil {
			return n, fmt.Errorf("set version %d: %w", m.Version, err)
		}
		n++
	}
	if err := db.setSchemaVersion(SchemaVersion); err != nil {
		return n, err
	}
	return n, nil
}

// SchemaVersion reads the stored schema version, 0 when unset.
func (db *DB) SchemaVersion() int {
	var version string
	if err := db.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&version); err != nil {
		return 0
	}
	var v int
	fmt.Sscanf(version, "%d", &v)
	return v
}

func (db *DB) setSchemaVersion(version int) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		fmt.Sprintf("%d", version))
	return err
}
