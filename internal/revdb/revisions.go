package revdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/marcus/revsync/internal/revision"
)

var _ revision.Persistence = (*DB)(nil)

const revisionColumns = `object_id, base_rev_id, rev_id, data, md5, user_id, state`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (revision.Record, error) {
	var rec revision.Record
	var state string
	err := row.Scan(
		&rec.Revision.ObjectID, &rec.Revision.BaseRevID, &rec.Revision.RevID,
		&rec.Revision.Bytes, &rec.Revision.MD5, &rec.Revision.UserID, &state,
	)
	rec.State = revision.State(state)
	rec.WriteToDisk = true
	return rec, err
}

func (db *DB) queryRecords(ctx context.Context, query string, args ...any) ([]revision.Record, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []revision.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LoadRecords returns all records of the object ordered by rev id.
func (db *DB) LoadRecords(ctx context.Context, objectID string) ([]revision.Record, error) {
	recs, err := db.queryRecords(ctx,
		`SELECT `+revisionColumns+` FROM revisions WHERE object_id = ? ORDER BY rev_id`, objectID)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	return recs, nil
}

func insertRevision(ctx context.Context, tx *sql.Tx, rev revision.Revision, state revision.State) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO revisions (`+revisionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rev.ObjectID, rev.BaseRevID, rev.RevID, rev.Bytes, rev.MD5, rev.UserID, string(state))
	if err != nil {
		return fmt.Errorf("insert revision %d: %w", rev.RevID, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO objects (object_id) VALUES (?)`, rev.ObjectID)
	return err
}

func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AddAckRevision upserts rev as acknowledged.
func (db *DB) AddAckRevision(ctx context.Context, rev revision.Revision) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		return insertRevision(ctx, tx, rev, revision.StateAck)
	})
}

// AddLocalRevision inserts rev as pending. rev.RevID must be ahead of every
// stored id of the object.
func (db *DB) AddLocalRevision(ctx context.Context, rev revision.Revision) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		var maxID sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(rev_id) FROM revisions WHERE object_id = ?`, rev.ObjectID).Scan(&maxID); err != nil {
			return fmt.Errorf("max rev id: %w", err)
		}
		if maxID.Valid && rev.RevID <= maxID.Int64 {
			return fmt.Errorf("revision %d behind %d: %w", rev.RevID, maxID.Int64, revision.ErrNonMonotonic)
		}
		return insertRevision(ctx, tx, rev, revision.StateLocal)
	})
}

// AckRevision marks a pending revision acknowledged.
func (db *DB) AckRevision(ctx context.Context, objectID string, revID int64) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE revisions SET state = 'ack' WHERE object_id = ? AND rev_id = ? AND state = 'local'`,
		objectID, revID)
	if err != nil {
		return fmt.Errorf("ack revision %d: %w", revID, err)
	}
	return nil
}

// Reset replaces the object's log with revs in one transaction.
func (db *DB) Reset(ctx context.Context, objectID string, revs []revision.Revision) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM revisions WHERE object_id = ?`, objectID); err != nil {
			return fmt.Errorf("clear revisions: %w", err)
		}
		for _, rev := range revs {
			rev.ObjectID = objectID
			if err := insertRevision(ctx, tx, rev, revision.StateAck); err != nil {
				return err
			}
		}
		return nil
	})
}

// RevisionsInRange returns the revisions whose ids fall in r.
func (db *DB) RevisionsInRange(ctx context.Context, objectID string, r revision.Range) ([]revision.Revision, error) {
	recs, err := db.queryRecords(ctx,
		`SELECT `+revisionColumns+` FROM revisions WHERE object_id = ? AND rev_id BETWEEN ? AND ? ORDER BY rev_id`,
		objectID, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("revisions in %s: %w", r, err)
	}
	out := make([]revision.Revision, len(recs))
	for i, rec := range recs {
		out[i] = rec.Revision
	}
	return out, nil
}

// CompactLaggingRevisions merges the pending revisions after the oldest keep
// into one pending revision, in one transaction.
func (db *DB) CompactLaggingRevisions(ctx context.Context, objectID string, keep int, c revision.Compactor) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+revisionColumns+` FROM revisions WHERE object_id = ? AND state = 'local' ORDER BY rev_id LIMIT -1 OFFSET ?`,
			objectID, keep)
		if err != nil {
			return fmt.Errorf("query pending: %w", err)
		}
		var revs []revision.Revision
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan revision: %w", err)
			}
			revs = append(revs, rec.Revision)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(revs) < 2 {
			return nil
		}

		merged, err := revision.MergeRevisions(objectID, revs[len(revs)-1].UserID, revs, c)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM revisions WHERE object_id = ? AND state = 'local' AND rev_id BETWEEN ? AND ?`,
			objectID, revs[0].RevID, revs[len(revs)-1].RevID); err != nil {
			return fmt.Errorf("delete lagging revisions: %w", err)
		}
		return insertRevision(ctx, tx, merged, revision.StateLocal)
	})
}

// NextLocalRecord returns the oldest pending record, or nil.
func (db *DB) NextLocalRecord(ctx context.Context, objectID string) (*revision.Record, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+revisionColumns+` FROM revisions WHERE object_id = ? AND state = 'local' ORDER BY rev_id LIMIT 1`,
		objectID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next local record: %w", err)
	}
	return &rec, nil
}

// PendingCount counts pending revisions.
func (db *DB) PendingCount(ctx context.Context, objectID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM revisions WHERE object_id = ? AND state = 'local'`, objectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// Get returns one record, or nil.
func (db *DB) Get(ctx context.Context, objectID string, revID int64) (*revision.Record, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+revisionColumns+` FROM revisions WHERE object_id = ? AND rev_id = ?`, objectID, revID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get revision %d: %w", revID, err)
	}
	return &rec, nil
}

// ObjectInfo is a row of the objects registry.
type ObjectInfo struct {
	ObjectID string
	Kind     string
	Revs     int
	Pending  int
}

// RegisterObject records objectID in the registry. Existing entries are kept.
func (db *DB) RegisterObject(ctx context.Context, objectID, kind string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO objects (object_id, kind) VALUES (?, ?)`, objectID, kind)
	if err != nil {
		return fmt.Errorf("register object %s: %w", objectID, err)
	}
	return nil
}

// Objects lists registered objects with revision counts.
func (db *DB) Objects(ctx context.Context) ([]ObjectInfo, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT o.object_id, o.kind,
			(SELECT COUNT(*) FROM revisions r WHERE r.object_id = o.object_id),
			(SELECT COUNT(*) FROM revisions r WHERE r.object_id = o.object_id AND r.state = 'local')
		FROM objects o ORDER BY o.object_id`)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	var out []ObjectInfo
	for rows.Next() {
		var o ObjectInfo
		if err := rows.Scan(&o.ObjectID, &o.Kind, &o.Revs, &o.Pending); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
