package metadata

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "metadata.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(slot int64) Record {
	return Record{
		Slot:       slot,
		IdeaNumber: "I-100",
		Status:     "resolved",
		Title:      "Pump leak",
		Cause:      "seal worn",
		Solution:   "replace seal",
	}
}

func TestSQLitePutIfAbsentAndGet(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	inserted, err := store.PutIfAbsent(ctx, testRecord(1))
	if err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}
	if !inserted {
		t.Error("first insert should report inserted=true")
	}

	// Same slot again: skipped, not an error.
	inserted, err = store.PutIfAbsent(ctx, testRecord(1))
	if err != nil {
		t.Fatalf("second PutIfAbsent failed: %v", err)
	}
	if inserted {
		t.Error("duplicate insert should report inserted=false")
	}

	rec, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec != testRecord(1) {
		t.Errorf("Get returned %+v, want %+v", rec, testRecord(1))
	}
}

func TestSQLiteGetNotFound(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.Get(ctx, 99)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on empty store: got %v, want ErrNotFound", err)
	}
}

func TestSQLiteMaxSlotAndCount(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	max, err := store.MaxSlot(ctx)
	if err != nil {
		t.Fatalf("MaxSlot failed: %v", err)
	}
	if max != 0 {
		t.Errorf("empty store MaxSlot = %d, want 0", max)
	}

	for slot := int64(1); slot <= 3; slot++ {
		if _, err := store.PutIfAbsent(ctx, testRecord(slot)); err != nil {
			t.Fatalf("PutIfAbsent(%d) failed: %v", slot, err)
		}
	}

	max, err = store.MaxSlot(ctx)
	if err != nil {
		t.Fatalf("MaxSlot failed: %v", err)
	}
	if max != 3 {
		t.Errorf("MaxSlot = %d, want 3", max)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Count = %d, want 3", count)
	}
}

func TestSQLiteBatchCommit(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	batch, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	inserted, err := batch.PutIfAbsent(ctx, testRecord(1))
	if err != nil {
		t.Fatalf("batch PutIfAbsent failed: %v", err)
	}
	if !inserted {
		t.Error("first staged insert should report inserted=true")
	}

	// A duplicate slot inside the same batch is rejected.
	inserted, err = batch.PutIfAbsent(ctx, testRecord(1))
	if err != nil {
		t.Fatalf("duplicate staged insert failed: %v", err)
	}
	if inserted {
		t.Error("duplicate staged insert should report inserted=false")
	}

	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	// Rollback after Commit is a no-op.
	if err := batch.Rollback(); err != nil {
		t.Fatalf("Rollback after Commit failed: %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Count = %d after commit, want 1", count)
	}
}

func TestSQLiteBatchRollbackDiscardsInserts(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	batch, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	for slot := int64(1); slot <= 3; slot++ {
		if _, err := batch.PutIfAbsent(ctx, testRecord(slot)); err != nil {
			t.Fatalf("batch PutIfAbsent(%d) failed: %v", slot, err)
		}
	}
	if err := batch.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Count = %d after rollback, want 0", count)
	}
	if _, err := store.Get(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after rollback: got %v, want ErrNotFound", err)
	}
}

func TestSQLiteReopenKeepsRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "metadata.db")

	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if _, err := store.PutIfAbsent(ctx, testRecord(7)); err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	rec, err := reopened.Get(ctx, 7)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if rec.Title != "Pump leak" {
		t.Errorf("reopened record title = %q, want %q", rec.Title, "Pump leak")
	}
}
