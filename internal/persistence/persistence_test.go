package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ahmad-codex/precog/internal/core"
	"github.com/ahmad-codex/precog/internal/persistence"
	"github.com/ahmad-codex/precog/internal/record"
	"github.com/ahmad-codex/precog/internal/testutil"
)

func testRecord(seq uint64) record.Record {
	return record.Record{
		Sequence:  seq,
		Type:      record.TypeDeposit,
		Asset:     1,
		Symbol:    "USDC",
		Account:   uuid.New(),
		Amount:    1000,
		Unit:      500,
		CycleID:   3,
		Intent:    uuid.New(),
		Timestamp: time.Now().UTC(),
	}
}

func TestRecordWriter_BatchInsert(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	w := persistence.NewRecordWriter(db)
	batch := []record.Record{testRecord(1), testRecord(2), testRecord(3)}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBatch(ctx, tx, batch); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	seq, err := w.LatestSequence(ctx)
	if err != nil {
		t.Fatalf("LatestSequence: %v", err)
	}
	if seq != 3 {
		t.Errorf("latest sequence = %d, want 3", seq)
	}

	// Same batch again must be a no-op on the sequence key.
	tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBatch(ctx, tx, batch); err != nil {
		t.Fatalf("retried WriteBatch: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_log.records`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("record count after retry = %d, want 3", count)
	}
}

func TestSnapshotStore_SaveAndLoad(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := persistence.NewSnapshotStore(db, nil)

	empty, err := store.LoadLatest(ctx)
	if err != nil {
		t.Fatalf("LoadLatest on empty table: %v", err)
	}
	if empty != nil {
		t.Fatal("expected nil snapshot on empty table")
	}

	state := &core.SnapshotState{Sequence: 42}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	state = &core.SnapshotState{Sequence: 99}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.LoadLatest(ctx)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if loaded == nil || loaded.Sequence != 99 {
		t.Fatalf("loaded snapshot = %+v, want sequence 99", loaded)
	}
}

func TestWorker_FlushesOnBatchSize(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	input := make(chan record.Record, 16)
	worker := persistence.NewWorker(db, input, 2, 50*time.Millisecond, nil)
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	for i := uint64(1); i <= 5; i++ {
		input <- testRecord(i)
	}

	deadline := time.After(5 * time.Second)
	for {
		w := persistence.NewRecordWriter(db)
		seq, err := w.LatestSequence(context.Background())
		if err != nil {
			t.Fatalf("LatestSequence: %v", err)
		}
		if seq == 5 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("records not flushed, latest sequence %d", seq)
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
