package rockyardtxn

// metrics_test.go implements tests for metrics.

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricName(t *testing.T) {
	tests := map[string]string{
		"rocksdb.txn.commit":               "txn_commit",
		"rocksdb.num-running-transactions": "num_running_transactions",
		"plain":                            "plain",
	}
	for in, want := range tests {
		if got := metricName(in); got != want {
			t.Errorf("metricName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatisticsCollector(t *testing.T) {
	stats := NewStatistics()
	opts := DefaultOptions()
	opts.Statistics = stats
	db, cleanup := createTestDB(t, opts)
	defer cleanup()

	mustPut(t, db, "k", "v")
	txn := db.BeginTransaction(nil, nil)
	_ = txn.Put(nil, []byte("t"), []byte("v"))
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	txn.Close()

	c := NewStatisticsCollector(stats, "rockyard")
	if n := testutil.CollectAndCount(c); n != int(TickerEnumMax)+int(HistogramEnumMax) {
		t.Fatalf("collected %d metrics, want %d", n, int(TickerEnumMax)+int(HistogramEnumMax))
	}

	want := `
# HELP rockyard_txn_commit_total Ticker rocksdb.txn.commit.
# TYPE rockyard_txn_commit_total counter
rockyard_txn_commit_total 1
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(want), "rockyard_txn_commit_total"); err != nil {
		t.Fatalf("CollectAndCompare: %v", err)
	}

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
}

func TestDBCollector(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()

	mustPut(t, db, "a", "1")
	mustPut(t, db, "b", "2")
	snap := db.GetSnapshot()
	defer snap.Release()

	c := NewDBCollector(db, "rockyard")
	if n := testutil.CollectAndCount(c); n != len(dbGaugeProperties) {
		t.Fatalf("collected %d metrics, want %d", n, len(dbGaugeProperties))
	}

	want := `
# HELP rockyard_latest_sequence_number Property rocksdb.latest-sequence-number.
# TYPE rockyard_latest_sequence_number gauge
rockyard_latest_sequence_number 2
# HELP rockyard_num_snapshots Property rocksdb.num-snapshots.
# TYPE rockyard_num_snapshots gauge
rockyard_num_snapshots 1
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(want),
		"rockyard_latest_sequence_number", "rockyard_num_snapshots"); err != nil {
		t.Fatalf("CollectAndCompare: %v", err)
	}

	// A closed database exports nothing.
	db.Close()
	if n := testutil.CollectAndCount(c); n != 0 {
		t.Fatalf("collected %d metrics from a closed database", n)
	}
}
