package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS metadata (
	id          INTEGER PRIMARY KEY,
	idea_number TEXT,
	status      TEXT,
	title       TEXT,
	cause       TEXT,
	solution    TEXT
)`

// SQLiteStore implements Store on a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the metadata database at path and ensures
// the table exists. Parent directories are created as needed.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init schema: %v", ErrStoreFailure, err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the record stored at slot.
func (s *SQLiteStore) Get(ctx context.Context, slot int64) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, idea_number, status, title, cause, solution
		FROM metadata WHERE id = ?`, slot)

	var rec Record
	err := row.Scan(&rec.Slot, &rec.IdeaNumber, &rec.Status, &rec.Title, &rec.Cause, &rec.Solution)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return rec, nil
}

// PutIfAbsent inserts rec at its slot id unless one is already stored there.
func (s *SQLiteStore) PutIfAbsent(ctx context.Context, rec Record) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO metadata (id, idea_number, status, title, cause, solution)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Slot, rec.IdeaNumber, rec.Status, rec.Title, rec.Cause, rec.Solution)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return n > 0, nil
}

// Begin opens a batch insert transaction.
func (s *SQLiteStore) Begin(ctx context.Context) (Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin batch: %v", ErrStoreFailure, err)
	}
	return &sqliteBatch{tx: tx}, nil
}

type sqliteBatch struct {
	tx   *sql.Tx
	done bool
}

// PutIfAbsent stages rec inside the transaction. INSERT OR IGNORE sees
// earlier staged rows, so duplicate slots within one batch are rejected
// the same way as committed ones.
func (b *sqliteBatch) PutIfAbsent(ctx context.Context, rec Record) (bool, error) {
	res, err := b.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO metadata (id, idea_number, status, title, cause, solution)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Slot, rec.IdeaNumber, rec.Status, rec.Title, rec.Cause, rec.Solution)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return n > 0, nil
}

// Commit makes the staged inserts durable.
func (b *sqliteBatch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit batch: %v", ErrStoreFailure, err)
	}
	b.done = true
	return nil
}

// Rollback discards the staged inserts.
func (b *sqliteBatch) Rollback() error {
	if b.done {
		return nil
	}
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: rollback batch: %v", ErrStoreFailure, err)
	}
	return nil
}

// MaxSlot returns the highest stored slot id, or 0 when the table is empty.
func (s *SQLiteStore) MaxSlot(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM metadata`).Scan(&max); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metadata`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}
	return n, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
