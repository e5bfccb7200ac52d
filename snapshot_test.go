package rockyardtxn

// snapshot_test.go implements tests for snapshot.

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestSnapshotIsolation(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()

	mustPut(t, db, "a", "1")
	mustPut(t, db, "b", "1")

	snap := db.GetSnapshot()
	defer snap.Release()
	if snap.Sequence() != db.LatestSequenceNumber() {
		t.Fatalf("Sequence = %d, want %d", snap.Sequence(), db.LatestSequenceNumber())
	}

	mustPut(t, db, "a", "2")
	if err := db.Delete(nil, nil, []byte("b")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	mustPut(t, db, "c", "new")

	expectValue(t, snap, nil, "a", "1")
	expectValue(t, snap, nil, "b", "1")
	expectNotFound(t, snap, nil, "c")

	// The same view through ReadOptions.
	ro := DefaultReadOptions()
	ro.Snapshot = snap
	expectValue(t, db, ro, "a", "1")

	expectValue(t, db, nil, "a", "2")
	expectNotFound(t, db, nil, "b")

	// A later snapshot does not see writes made after it.
	later := db.GetSnapshot()
	defer later.Release()
	mustPut(t, db, "d", "after")
	expectNotFound(t, later, nil, "d")
	expectValue(t, later, nil, "c", "new")
}

func TestSnapshotDoesNotMutateCallerOptions(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()

	mustPut(t, db, "k", "v")
	snap := db.GetSnapshot()
	defer snap.Release()

	ro := DefaultReadOptions()
	expectValue(t, snap, ro, "k", "v")
	if ro.Snapshot != nil {
		t.Fatal("snapshot read attached the snapshot to the caller's options")
	}
}

func TestSnapshotReleaseIdempotent(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()

	mustPut(t, db, "k", "v")
	snap := db.GetSnapshot()
	other := db.GetSnapshot()
	defer other.Release()

	if n, _ := db.GetIntProperty(PropertyNumSnapshots); n != 2 {
		t.Fatalf("num-snapshots = %d, want 2", n)
	}

	snap.Release()
	snap.Release()
	db.ReleaseSnapshot(snap)
	if !snap.IsReleased() {
		t.Fatal("IsReleased = false after Release")
	}
	if n, _ := db.GetIntProperty(PropertyNumSnapshots); n != 1 {
		t.Fatalf("num-snapshots = %d after repeated release, want 1", n)
	}

	if _, err := snap.Get(nil, nil, []byte("k")); !errors.Is(err, ErrSnapshotReleased) {
		t.Fatalf("Get on released snapshot = %v, want ErrSnapshotReleased", err)
	}
	ro := DefaultReadOptions()
	ro.Snapshot = snap
	if _, err := db.Get(ro, nil, []byte("k")); !errors.Is(err, ErrSnapshotReleased) {
		t.Fatalf("Get with released snapshot = %v, want ErrSnapshotReleased", err)
	}
	if !errors.Is(ErrSnapshotReleased, ErrInvalidArgument) {
		t.Fatal("ErrSnapshotReleased should be an InvalidArgument error")
	}
}

func TestSnapshotConcurrentRelease(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()

	snap := db.GetSnapshot()
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap.Release()
		}()
	}
	wg.Wait()
	if n := db.snapshots.len(); n != 0 {
		t.Fatalf("%d snapshots left after concurrent release", n)
	}
}

func TestSnapshotForeignDB(t *testing.T) {
	db1, cleanup1 := createTestDB(t, nil)
	defer cleanup1()
	db2, cleanup2 := createTestDB(t, nil)
	defer cleanup2()

	snap := db1.GetSnapshot()
	defer snap.Release()

	ro := DefaultReadOptions()
	ro.Snapshot = snap
	if _, err := db2.Get(ro, nil, []byte("k")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Get with foreign snapshot = %v, want InvalidArgument", err)
	}
}

func TestSnapshotUnreachableIsReleased(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()

	func() {
		_ = db.GetSnapshot()
	}()

	deadline := time.Now().Add(5 * time.Second)
	for db.snapshots.len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("unreachable snapshot was never released")
		}
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOldestSnapshotTime(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()

	if v, ok := db.GetIntProperty(PropertyOldestSnapshotTime); !ok || v != 0 {
		t.Fatalf("oldest-snapshot-time = %d, %v; want 0 with no snapshots", v, ok)
	}
	snap := db.GetSnapshot()
	defer snap.Release()
	v, ok := db.GetIntProperty(PropertyOldestSnapshotTime)
	if !ok || int64(v) != snap.CreatedAt().Unix() {
		t.Fatalf("oldest-snapshot-time = %d, want %d", v, snap.CreatedAt().Unix())
	}
}

func TestSnapshotConcurrentWriters(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()

	for i := range 50 {
		mustPut(t, db, fmt.Sprintf("k%02d", i), "0")
	}
	snap := db.GetSnapshot()
	defer snap.Release()

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				key := []byte(fmt.Sprintf("k%02d", i))
				if err := db.Put(nil, nil, key, []byte(fmt.Sprint(w+1))); err != nil {
					t.Errorf("Put failed: %v", err)
					return
				}
			}
		}()
	}
	for i := range 50 {
		expectValue(t, snap, nil, fmt.Sprintf("k%02d", i), "0")
	}
	wg.Wait()
	for i := range 50 {
		expectValue(t, snap, nil, fmt.Sprintf("k%02d", i), "0")
	}
}
