package rockyardtxn

// statistics_test.go implements tests for statistics.

import (
	"strings"
	"sync"
	"testing"
)

func TestStatisticsTickers(t *testing.T) {
	s := NewStatistics()
	s.RecordTick(TickerBytesWritten, 10)
	s.RecordTick(TickerBytesWritten, 5)
	if got := s.GetTickerCount(TickerBytesWritten); got != 15 {
		t.Fatalf("GetTickerCount = %d, want 15", got)
	}
	s.SetTickerCount(TickerBytesWritten, 3)
	if got := s.GetTickerCount(TickerBytesWritten); got != 3 {
		t.Fatalf("after SetTickerCount = %d, want 3", got)
	}

	// Out-of-range tickers are ignored.
	s.RecordTick(TickerEnumMax, 1)
	s.RecordTick(-1, 1)
	if got := s.GetTickerCount(TickerEnumMax); got != 0 {
		t.Fatalf("GetTickerCount(out of range) = %d", got)
	}
	if TickerEnumMax.String() != "unknown" {
		t.Fatalf("String(out of range) = %q", TickerEnumMax.String())
	}
}

func TestStatisticsHistogram(t *testing.T) {
	s := NewStatistics()
	if d := s.GetHistogramData(HistogramDBGet); d.Count != 0 {
		t.Fatalf("empty histogram = %+v", d)
	}
	for _, v := range []uint64{4, 1, 7} {
		s.MeasureTime(HistogramDBGet, v)
	}
	d := s.GetHistogramData(HistogramDBGet)
	if d.Count != 3 || d.Sum != 12 || d.Min != 1 || d.Max != 7 || d.Average != 4 {
		t.Fatalf("histogram = %+v", d)
	}

	s.Reset()
	if d := s.GetHistogramData(HistogramDBGet); d.Count != 0 {
		t.Fatalf("histogram after Reset = %+v", d)
	}
}

func TestStatisticsConcurrent(t *testing.T) {
	s := NewStatistics()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 1000 {
				s.RecordTick(TickerNumberKeysRead, 1)
				s.MeasureTime(HistogramDBWrite, uint64(i))
			}
		}()
	}
	wg.Wait()
	if got := s.GetTickerCount(TickerNumberKeysRead); got != 8000 {
		t.Fatalf("ticker = %d, want 8000", got)
	}
	d := s.GetHistogramData(HistogramDBWrite)
	if d.Count != 8000 || d.Min != 0 || d.Max != 999 {
		t.Fatalf("histogram = %+v", d)
	}
}

func TestStatisticsString(t *testing.T) {
	s := NewStatistics()
	s.RecordTick(TickerTxnCommit, 2)
	s.MeasureTime(HistogramTxnCommit, 10)
	out := s.String()
	if !strings.Contains(out, "rocksdb.txn.commit : 2") {
		t.Fatalf("String missing ticker:\n%s", out)
	}
	if !strings.Contains(out, "rocksdb.txn.commit.micros") {
		t.Fatalf("String missing histogram:\n%s", out)
	}
	if strings.Contains(out, "rocksdb.txn.rollback") {
		t.Fatalf("String lists zero tickers:\n%s", out)
	}
}

func TestStatisticsWiring(t *testing.T) {
	stats := NewStatistics()
	opts := DefaultOptions()
	opts.Statistics = stats
	db, cleanup := createTestDB(t, opts)
	defer cleanup()

	mustPut(t, db, "k", "value")
	expectValue(t, db, nil, "k", "value")
	expectNotFound(t, db, nil, "missing")

	wo := DefaultWriteOptions()
	wo.DisableWAL = true
	if err := db.Put(wo, nil, []byte("k2"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	txn := db.BeginTransaction(nil, nil)
	_ = txn.Put(nil, []byte("t"), []byte("v"))
	if err := txn.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	txn.Close()

	for ticker, want := range map[TickerType]uint64{
		TickerNumberKeysWritten: 2,
		TickerNumberKeysRead:    2,
		TickerWriteWithWAL:      1,
		TickerWriteWithoutWAL:   1,
		TickerTxnRollback:       1,
	} {
		if got := stats.GetTickerCount(ticker); got != want {
			t.Errorf("%s = %d, want %d", ticker, got, want)
		}
	}
	if stats.GetTickerCount(TickerWALFileBytes) == 0 {
		t.Error("WAL bytes not counted")
	}
	if d := stats.GetHistogramData(HistogramDBGet); d.Count != 2 {
		t.Errorf("db.get histogram count = %d, want 2", d.Count)
	}
}
