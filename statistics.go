package rockyardtxn

// statistics.go implements the Statistics interface for collecting database metrics.
// Reference: RocksDB v10.7.5 include/rocksdb/statistics.h

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// TickerType represents different types of counters.
type TickerType int

const (
	// TickerBytesWritten is the total bytes of keys and values written.
	TickerBytesWritten TickerType = iota
	// TickerBytesRead is the total bytes of values returned by point reads.
	TickerBytesRead
	// TickerNumberKeysWritten is the count of keys written.
	TickerNumberKeysWritten
	// TickerNumberKeysRead is the count of keys read.
	TickerNumberKeysRead
	// TickerNumberDBSeekFound is the count of point reads that found the key.
	TickerNumberDBSeekFound
	// TickerNumberDBSeekNotFound is the count of point reads that did not find the key.
	TickerNumberDBSeekNotFound
	// TickerNumberSeek is the count of Iterator.Seek() calls.
	TickerNumberSeek
	// TickerNumberSeekNext is the count of Iterator.Next() calls.
	TickerNumberSeekNext
	// TickerNumberSeekPrev is the count of Iterator.Prev() calls.
	TickerNumberSeekPrev
	// TickerWALFileBytes is the total bytes written to the WAL.
	TickerWALFileBytes
	// TickerWALFileSynced is the count of WAL syncs.
	TickerWALFileSynced
	// TickerWriteWithWAL is the count of writes that went through the WAL.
	TickerWriteWithWAL
	// TickerWriteWithoutWAL is the count of writes that skipped the WAL.
	TickerWriteWithoutWAL
	// TickerRowCacheHit is the count of row cache hits.
	TickerRowCacheHit
	// TickerRowCacheMiss is the count of row cache misses.
	TickerRowCacheMiss
	// TickerNumberMultiGetCalls is the count of multi-get calls.
	TickerNumberMultiGetCalls
	// TickerNumberMultiGetKeysRead is the count of keys requested by multi-get.
	TickerNumberMultiGetKeysRead
	// TickerNumberMultiGetKeysFound is the count of multi-get keys found.
	TickerNumberMultiGetKeysFound
	// TickerNumberMultiGetBytesRead is the total bytes returned by multi-get.
	TickerNumberMultiGetBytesRead
	// TickerNumberMergeFailures is the count of merge operation failures.
	TickerNumberMergeFailures
	// TickerChecksumMismatch is the count of reads that failed checksum verification.
	TickerChecksumMismatch
	// TickerTxnCommit is the count of committed transactions.
	TickerTxnCommit
	// TickerTxnConflict is the count of commits rejected by validation.
	TickerTxnConflict
	// TickerTxnRollback is the count of transaction rollbacks.
	TickerTxnRollback
	// TickerTxnSavepointRollback is the count of rollbacks to a savepoint.
	TickerTxnSavepointRollback

	// TickerEnumMax is the maximum ticker type for sizing arrays.
	TickerEnumMax
)

var tickerNames = [TickerEnumMax]string{
	"rocksdb.bytes.written",
	"rocksdb.bytes.read",
	"rocksdb.number.keys.written",
	"rocksdb.number.keys.read",
	"rocksdb.db.seek.found",
	"rocksdb.db.seek.notfound",
	"rocksdb.number.db.seek",
	"rocksdb.number.db.next",
	"rocksdb.number.db.prev",
	"rocksdb.wal.bytes",
	"rocksdb.wal.synced",
	"rocksdb.write.wal",
	"rocksdb.write.nowal",
	"rocksdb.row.cache.hit",
	"rocksdb.row.cache.miss",
	"rocksdb.number.multiget.get",
	"rocksdb.number.multiget.keys.read",
	"rocksdb.number.multiget.keys.found",
	"rocksdb.number.multiget.bytes.read",
	"rocksdb.number.merge.failures",
	"rocksdb.checksum.mismatch",
	"rocksdb.txn.commit",
	"rocksdb.txn.conflict",
	"rocksdb.txn.rollback",
	"rocksdb.txn.savepoint.rollback",
}

// String returns the name of the ticker type.
func (t TickerType) String() string {
	if t >= 0 && t < TickerEnumMax {
		return tickerNames[t]
	}
	return "unknown"
}

// HistogramType represents different types of histograms.
type HistogramType int

const (
	// HistogramDBGet is the histogram for point read latency in microseconds.
	HistogramDBGet HistogramType = iota
	// HistogramDBWrite is the histogram for write latency in microseconds.
	HistogramDBWrite
	// HistogramDBMultiGet is the histogram for multi-get latency in microseconds.
	HistogramDBMultiGet
	// HistogramTxnCommit is the histogram for commit latency in microseconds.
	HistogramTxnCommit
	// HistogramBytesPerMultiGet is the histogram of bytes returned per multi-get.
	HistogramBytesPerMultiGet

	// HistogramEnumMax is the maximum histogram type for sizing arrays.
	HistogramEnumMax
)

var histogramNames = [HistogramEnumMax]string{
	"rocksdb.db.get.micros",
	"rocksdb.db.write.micros",
	"rocksdb.db.multiget.micros",
	"rocksdb.txn.commit.micros",
	"rocksdb.bytes.per.multiget",
}

// String returns the name of the histogram type.
func (h HistogramType) String() string {
	if h >= 0 && h < HistogramEnumMax {
		return histogramNames[h]
	}
	return "unknown"
}

// HistogramData contains histogram statistics.
type HistogramData struct {
	Average float64
	Max     float64
	Min     float64
	Count   uint64
	Sum     uint64
}

// Statistics collects and reports database metrics.
type Statistics interface {
	// GetTickerCount returns the current value of a ticker.
	GetTickerCount(tickerType TickerType) uint64

	// RecordTick increments a ticker by count.
	RecordTick(tickerType TickerType, count uint64)

	// SetTickerCount sets the ticker to a specific value.
	SetTickerCount(tickerType TickerType, count uint64)

	// GetHistogramData returns histogram statistics.
	GetHistogramData(histogramType HistogramType) HistogramData

	// MeasureTime records a value to a histogram.
	MeasureTime(histogramType HistogramType, value uint64)

	// Reset clears all statistics.
	Reset()

	// String returns a formatted string of all statistics.
	String() string
}

// statisticsImpl is the default implementation of Statistics.
type statisticsImpl struct {
	tickers    [TickerEnumMax]atomic.Uint64
	histograms [HistogramEnumMax]histogramImpl
}

type histogramImpl struct {
	min   atomic.Uint64
	max   atomic.Uint64
	sum   atomic.Uint64
	count atomic.Uint64
}

func (h *histogramImpl) reset() {
	h.min.Store(^uint64(0))
	h.max.Store(0)
	h.sum.Store(0)
	h.count.Store(0)
}

// NewStatistics creates a new Statistics instance.
func NewStatistics() Statistics {
	s := &statisticsImpl{}
	for i := range s.histograms {
		s.histograms[i].reset()
	}
	return s
}

// GetTickerCount returns the current value of a ticker.
func (s *statisticsImpl) GetTickerCount(tickerType TickerType) uint64 {
	if tickerType < 0 || tickerType >= TickerEnumMax {
		return 0
	}
	return s.tickers[tickerType].Load()
}

// RecordTick increments a ticker by count.
func (s *statisticsImpl) RecordTick(tickerType TickerType, count uint64) {
	if tickerType < 0 || tickerType >= TickerEnumMax {
		return
	}
	s.tickers[tickerType].Add(count)
}

// SetTickerCount sets the ticker to a specific value.
func (s *statisticsImpl) SetTickerCount(tickerType TickerType, count uint64) {
	if tickerType < 0 || tickerType >= TickerEnumMax {
		return
	}
	s.tickers[tickerType].Store(count)
}

// GetHistogramData returns histogram statistics.
func (s *statisticsImpl) GetHistogramData(histogramType HistogramType) HistogramData {
	if histogramType < 0 || histogramType >= HistogramEnumMax {
		return HistogramData{}
	}
	h := &s.histograms[histogramType]
	count := h.count.Load()
	if count == 0 {
		return HistogramData{}
	}
	sum := h.sum.Load()
	return HistogramData{
		Count:   count,
		Sum:     sum,
		Min:     float64(h.min.Load()),
		Max:     float64(h.max.Load()),
		Average: float64(sum) / float64(count),
	}
}

// MeasureTime records a value to a histogram.
func (s *statisticsImpl) MeasureTime(histogramType HistogramType, value uint64) {
	if histogramType < 0 || histogramType >= HistogramEnumMax {
		return
	}
	h := &s.histograms[histogramType]
	h.count.Add(1)
	h.sum.Add(value)

	for {
		old := h.min.Load()
		if value >= old || h.min.CompareAndSwap(old, value) {
			break
		}
	}
	for {
		old := h.max.Load()
		if value <= old || h.max.CompareAndSwap(old, value) {
			break
		}
	}
}

// Reset clears all statistics.
func (s *statisticsImpl) Reset() {
	for i := range s.tickers {
		s.tickers[i].Store(0)
	}
	for i := range s.histograms {
		s.histograms[i].reset()
	}
}

// String returns a formatted string of all non-zero statistics.
func (s *statisticsImpl) String() string {
	var b strings.Builder
	b.WriteString("TICKERS:\n")
	for i := range TickerEnumMax {
		if count := s.GetTickerCount(i); count > 0 {
			fmt.Fprintf(&b, "  %s : %d\n", i, count)
		}
	}
	b.WriteString("\nHISTOGRAMS:\n")
	for i := range HistogramEnumMax {
		data := s.GetHistogramData(i)
		if data.Count == 0 {
			continue
		}
		fmt.Fprintf(&b, "  %s :\n    Count: %d\n    Avg: %.2f\n    Min: %.2f\n    Max: %.2f\n",
			i, data.Count, data.Average, data.Min, data.Max)
	}
	return b.String()
}

// recordTick is a nil-safe helper used throughout the DB.
func recordTick(s Statistics, t TickerType, n uint64) {
	if s != nil && n > 0 {
		s.RecordTick(t, n)
	}
}

// measureTime is a nil-safe helper used throughout the DB.
func measureTime(s Statistics, h HistogramType, v uint64) {
	if s != nil {
		s.MeasureTime(h, v)
	}
}
