package rockyardtxn

// transaction_snapshot_test.go implements tests for transaction snapshots.

import (
	"errors"
	"testing"
)

func TestTransactionSnapshotFrozenView(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()

	mustPut(t, db, "db", "before")

	txn := db.BeginTransaction(nil, nil)
	defer txn.Close()
	if err := txn.Put(nil, []byte("own"), []byte("1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ts := txn.Snapshot()
	defer ts.Release()

	// Changes on both sides after creation stay invisible.
	if err := txn.Put(nil, []byte("own"), []byte("2")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := txn.Put(nil, []byte("late"), []byte("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	mustPut(t, db, "db", "after")

	expectValue(t, ts, nil, "own", "1")
	expectNotFound(t, ts, nil, "late")
	expectValue(t, ts, nil, "db", "before")

	expectValue(t, txn, nil, "own", "2")
	expectValue(t, txn, nil, "db", "after")

	res := ts.MultiGet(nil, [][]byte{[]byte("late"), []byte("own"), []byte("db")})
	if res[0].Found || string(res[1].Value) != "1" || string(res[2].Value) != "before" {
		t.Fatalf("MultiGet = %+v", res)
	}
}

func TestTransactionSnapshotNotTracked(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()

	mustPut(t, db, "k", "0")

	txn := db.BeginTransaction(nil, &TransactionOptions{ValidateReads: true})
	defer txn.Close()
	ts := txn.Snapshot()
	defer ts.Release()

	expectValue(t, ts, nil, "k", "0")
	ts.MultiGet(nil, [][]byte{[]byte("k"), []byte("x")})
	if txn.NumKeys() != 0 {
		t.Fatalf("NumKeys = %d after snapshot reads, want 0", txn.NumKeys())
	}
	mustPut(t, db, "k", "1")
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit = %v; snapshot reads are not validated", err)
	}
}

func TestTransactionSnapshotSharesTransactionSnapshot(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()

	mustPut(t, db, "k", "0")
	txn := db.BeginTransaction(nil, &TransactionOptions{SetSnapshot: true})
	defer txn.Close()
	mustPut(t, db, "k", "1")

	ts := txn.Snapshot()
	defer ts.Release()
	if ts.Sequence() != txn.GetSnapshot().Sequence() {
		t.Fatalf("Sequence = %d, want the transaction's %d", ts.Sequence(), txn.GetSnapshot().Sequence())
	}
	expectValue(t, ts, nil, "k", "0")

	// The transaction snapshot is re-taken on rollback; the transaction
	// snapshot's view is unaffected.
	if err := txn.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	expectValue(t, ts, nil, "k", "0")
}

func TestTransactionSnapshotRelease(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()

	txn := db.BeginTransaction(nil, nil)
	defer txn.Close()
	ts := txn.Snapshot()
	if n, _ := db.GetIntProperty(PropertyNumSnapshots); n != 1 {
		t.Fatalf("num-snapshots = %d, want 1", n)
	}

	ts.Release()
	ts.Release()
	if n, _ := db.GetIntProperty(PropertyNumSnapshots); n != 0 {
		t.Fatalf("num-snapshots = %d after release, want 0", n)
	}
	if _, err := ts.Get(nil, nil, []byte("k")); !errors.Is(err, ErrSnapshotReleased) {
		t.Fatalf("Get after Release = %v, want ErrSnapshotReleased", err)
	}
	for _, r := range ts.MultiGet(nil, [][]byte{[]byte("a"), []byte("b")}) {
		if !errors.Is(r.Err, ErrSnapshotReleased) {
			t.Fatalf("MultiGet after Release = %v, want ErrSnapshotReleased", r.Err)
		}
	}
	if it := ts.NewIterator(nil, nil); !errors.Is(it.Error(), ErrSnapshotReleased) {
		t.Fatalf("NewIterator after Release: error = %v", it.Error())
	}
}

func TestTransactionSnapshotClosedTransaction(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()

	txn := db.BeginTransaction(nil, nil)
	ts := txn.Snapshot()
	defer ts.Release()
	txn.Close()

	if _, err := ts.Get(nil, nil, []byte("k")); !errors.Is(err, ErrTransactionClosed) {
		t.Fatalf("Get after parent Close = %v, want ErrTransactionClosed", err)
	}

	late := txn.Snapshot()
	defer late.Release()
	if _, err := late.Get(nil, nil, []byte("k")); !errors.Is(err, ErrTransactionClosed) {
		t.Fatalf("Get on snapshot of closed transaction = %v, want ErrTransactionClosed", err)
	}
}

func TestTransactionSnapshotIterator(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()

	mustPut(t, db, "a", "1")
	txn := db.BeginTransaction(nil, nil)
	defer txn.Close()
	_ = txn.Put(nil, []byte("b"), []byte("2"))
	ts := txn.Snapshot()
	defer ts.Release()
	_ = txn.Put(nil, []byte("c"), []byte("3"))
	mustPut(t, db, "d", "4")

	it := ts.NewIterator(nil, nil)
	defer it.Close()
	var keys []string
	for it.SeekToLast(); it.Valid(); it.Prev() {
		keys = append(keys, string(it.Key()))
	}
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Fatalf("reverse iteration = %v, want [b a]", keys)
	}
}

func TestTransactionSnapshotBatchedMultiGet(t *testing.T) {
	stats := NewStatistics()
	opts := DefaultOptions()
	opts.Statistics = stats
	db, cleanup := createTestDB(t, opts)
	defer cleanup()

	for _, k := range []string{"a", "b", "c"} {
		mustPut(t, db, k, "db")
	}
	txn := db.BeginTransaction(nil, nil)
	defer txn.Close()
	_ = txn.Put(nil, []byte("a"), []byte("txn"))
	_ = txn.Delete(nil, []byte("b"))
	_ = txn.Put(nil, []byte("d"), []byte("txn"))

	ts := txn.Snapshot()
	defer ts.Release()
	_ = txn.Put(nil, []byte("c"), []byte("late"))
	mustPut(t, db, "e", "late")

	keys := keysOf("a", "b", "c", "d", "e")
	want := []*string{str("txn"), nil, str("db"), str("txn"), nil}
	expectResults(t, ts.BatchedMultiGetCF(nil, nil, keys, true), want)
	expectResults(t, ts.BatchedMultiGetCF(nil, nil, keys, false), want)

	if got := stats.GetTickerCount(TickerNumberMultiGetCalls); got != 2 {
		t.Fatalf("TickerNumberMultiGetCalls = %d, want 2", got)
	}
	if txn.NumKeys() != 4 {
		t.Fatalf("NumKeys = %d, want only the 4 written keys", txn.NumKeys())
	}

	ts.Release()
	for i, r := range ts.BatchedMultiGetCF(nil, nil, keys, true) {
		if !errors.Is(r.Err, ErrSnapshotReleased) {
			t.Fatalf("result[%d] after Release = %v, want ErrSnapshotReleased", i, r.Err)
		}
	}
}
