package main

import (
	"io"
	"path/filepath"
	"testing"
	"time"
)

func testConfig(t *testing.T) config {
	return config{
		duration:           300 * time.Millisecond,
		accounts:           20,
		initialBalance:     100,
		threads:            8,
		auditors:           2,
		reopenPeriod:       100 * time.Millisecond,
		dbPath:             filepath.Join(t.TempDir(), "db"),
		seed:               42,
		walCompression:     "snappy",
		rowCacheSize:       1 << 20,
		getForUpdateWeight: 40,
		validateWeight:     30,
		savepointWeight:    10,
	}
}

func TestStressShortRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress run in short mode")
	}
	stats, err := run(testConfig(t), io.Discard)
	if err != nil {
		t.Fatalf("stress run failed: %v (%s)", err, stats)
	}
	if stats.commits.Load() == 0 {
		t.Fatalf("no transfer committed: %s", stats)
	}
	if stats.snapshotAudits.Load()+stats.txnAudits.Load()+stats.iterAudits.Load() == 0 {
		t.Fatalf("no audit ran: %s", stats)
	}
}

func TestStressResumesExistingDB(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress run in short mode")
	}
	cfg := testConfig(t)
	cfg.keepDB = true
	cfg.reopenPeriod = 0
	cfg.duration = 100 * time.Millisecond

	for i := range 2 {
		if stats, err := run(cfg, io.Discard); err != nil {
			t.Fatalf("run %d failed: %v (%s)", i, err, stats)
		}
	}
}

func TestBalanceEncoding(t *testing.T) {
	v, err := decodeBalance(encodeBalance(12345))
	if err != nil || v != 12345 {
		t.Fatalf("decodeBalance = %d, %v", v, err)
	}
	if _, err := decodeBalance([]byte{1, 2}); err == nil {
		t.Fatal("short balance decoded")
	}
}
