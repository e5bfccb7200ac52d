// Transaction stress test for RockyardTxn
//
// This tool runs a bank workload against the database and checks that the
// total balance never changes. Workers move money between random accounts
// with optimistic transactions and retry on conflict; auditors sum every
// balance through a snapshot, a transaction snapshot or an iterator, all of
// which must see a consistent total at any moment.
//
// Features:
// - Transfers with Get, GetForUpdate or validated reads
// - Snapshot audits through MultiGet and BatchedMultiGetCF
// - Transaction snapshot audits
// - Iterator audits
// - Savepoint rollbacks inside transfers
// - Database reopening (persistence checks)
//
// Reference: RocksDB v10.7.5
//   - db_stress_tool/db_stress.cc
//   - db_stress_tool/multi_ops_txns_stress.cc
//
// Usage: go run ./cmd/stresstest [flags]
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aalhour/rockyardtxn"
	"github.com/aalhour/rockyardtxn/internal/logging"
)

type config struct {
	duration       time.Duration
	accounts       int
	initialBalance uint64
	threads        int
	auditors       int
	reopenPeriod   time.Duration
	dbPath         string
	keepDB         bool
	verbose        bool
	seed           int64
	sync           bool
	walCompression string
	rowCacheSize   int

	// Operation weights
	getForUpdateWeight int
	validateWeight     int
	savepointWeight    int
}

func parseFlags() config {
	var c config
	flag.DurationVar(&c.duration, "duration", 30*time.Second, "Test duration")
	flag.IntVar(&c.accounts, "accounts", 100, "Number of accounts")
	flag.Uint64Var(&c.initialBalance, "balance", 1000, "Initial balance of every account")
	flag.IntVar(&c.threads, "threads", 16, "Number of transfer threads")
	flag.IntVar(&c.auditors, "auditors", 2, "Number of audit threads")
	flag.DurationVar(&c.reopenPeriod, "reopen", 10*time.Second, "Period between database reopens (0 to disable)")
	flag.StringVar(&c.dbPath, "db", "", "Database path (default: temp directory)")
	flag.BoolVar(&c.keepDB, "keep", false, "Keep database after test")
	flag.BoolVar(&c.verbose, "v", false, "Verbose output")
	flag.Int64Var(&c.seed, "seed", 0, "Random seed (0 for time-based)")
	flag.BoolVar(&c.sync, "sync", false, "Sync every commit")
	flag.StringVar(&c.walCompression, "wal-compression", "none", "WAL compression: none, snappy, lz4, zstd")
	flag.IntVar(&c.rowCacheSize, "row-cache", 0, "Row cache size in bytes (0 to disable)")
	flag.IntVar(&c.getForUpdateWeight, "get-for-update", 40, "Percent of transfers that read with GetForUpdate")
	flag.IntVar(&c.validateWeight, "validate-reads", 30, "Percent of transfers that validate plain reads")
	flag.IntVar(&c.savepointWeight, "savepoint", 10, "Percent of transfers that roll back to a savepoint first")
	flag.Parse()
	return c
}

// Stats tracks operation counts
type Stats struct {
	commits        atomic.Uint64
	conflicts      atomic.Uint64
	insufficient   atomic.Uint64
	savepoints     atomic.Uint64
	snapshotAudits atomic.Uint64
	txnAudits      atomic.Uint64
	iterAudits     atomic.Uint64
	reopens        atomic.Uint64
	errors         atomic.Uint64
	auditFail      atomic.Uint64
}

func (s *Stats) String() string {
	return fmt.Sprintf("commits=%d conflicts=%d insufficient=%d savepoints=%d audits(snapshot=%d txn=%d iter=%d) reopens=%d errors=%d audit_failures=%d",
		s.commits.Load(), s.conflicts.Load(), s.insufficient.Load(), s.savepoints.Load(),
		s.snapshotAudits.Load(), s.txnAudits.Load(), s.iterAudits.Load(),
		s.reopens.Load(), s.errors.Load(), s.auditFail.Load())
}

var errInsufficientFunds = errors.New("insufficient funds")

func main() {
	cfg := parseFlags()
	stats, err := run(cfg, os.Stdout)
	fmt.Println(stats)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("PASSED")
}

func accountKey(i int) []byte {
	return fmt.Appendf(nil, "acct%06d", i)
}

func encodeBalance(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeBalance(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("balance has %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// harness owns the database and lets workers share it across reopens.
type harness struct {
	cfg   config
	opts  *rockyardtxn.Options
	stats *Stats
	total uint64

	mu sync.RWMutex // held exclusively while reopening
	db *rockyardtxn.DB
}

func run(cfg config, out io.Writer) (*Stats, error) {
	if cfg.seed == 0 {
		cfg.seed = time.Now().UnixNano()
	}
	fmt.Fprintf(out, "seed=%d accounts=%d threads=%d duration=%s\n", cfg.seed, cfg.accounts, cfg.threads, cfg.duration)

	dir := cfg.dbPath
	if dir == "" {
		tmp, err := os.MkdirTemp("", "rockyardtxn-stress-")
		if err != nil {
			return nil, err
		}
		dir = tmp
	}
	if !cfg.keepDB {
		defer os.RemoveAll(dir)
	}

	opts := rockyardtxn.DefaultOptions()
	opts.CreateIfMissing = true
	opts.RowCacheSize = cfg.rowCacheSize
	opts.Statistics = rockyardtxn.NewStatistics()
	if cfg.verbose {
		opts.Logger = logging.NewDefaultLogger(logging.LevelInfo)
	} else {
		opts.Logger = logging.Discard
	}
	h := &harness{cfg: cfg, opts: opts, stats: &Stats{}, total: uint64(cfg.accounts) * cfg.initialBalance}
	if err := h.open(dir); err != nil {
		return h.stats, err
	}
	if cfg.walCompression != "" && cfg.walCompression != "none" {
		if err := h.db.SetOptions(map[string]string{rockyardtxn.OptionWALCompression: cfg.walCompression}); err != nil {
			return h.stats, err
		}
	}
	defer func() { _ = h.db.Close() }()

	if err := h.load(); err != nil {
		return h.stats, err
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := range cfg.threads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.transferLoop(rand.New(rand.NewSource(cfg.seed+int64(i))), stop)
		}()
	}
	for i := range cfg.auditors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.auditLoop(rand.New(rand.NewSource(cfg.seed-int64(i)-1)), stop)
		}()
	}
	if cfg.reopenPeriod > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.reopenLoop(dir, stop)
		}()
	}

	time.Sleep(cfg.duration)
	close(stop)
	wg.Wait()

	if err := h.audit(auditMultiGet, nil); err != nil {
		return h.stats, fmt.Errorf("final audit: %w", err)
	}
	if err := h.reopen(dir); err != nil {
		return h.stats, err
	}
	if err := h.audit(auditIterator, nil); err != nil {
		return h.stats, fmt.Errorf("audit after reopen: %w", err)
	}
	if cfg.verbose {
		v, _ := h.db.GetProperty(rockyardtxn.PropertyStats)
		fmt.Fprintln(out, v)
	}
	if n := h.stats.auditFail.Load(); n > 0 {
		return h.stats, fmt.Errorf("%d audits saw a wrong total", n)
	}
	if n := h.stats.errors.Load(); n > 0 {
		return h.stats, fmt.Errorf("%d unexpected errors", n)
	}
	return h.stats, nil
}

func (h *harness) open(dir string) error {
	db, err := rockyardtxn.Open(dir, h.opts)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	h.db = db
	return nil
}

func (h *harness) reopen(dir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.db.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := h.open(dir); err != nil {
		return err
	}
	h.stats.reopens.Add(1)
	return nil
}

func (h *harness) reopenLoop(dir string, stop <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.reopenPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := h.reopen(dir); err != nil {
				fmt.Fprintf(os.Stderr, "reopen failed: %v\n", err)
				h.stats.errors.Add(1)
				return
			}
		}
	}
}

func (h *harness) writeOptions() *rockyardtxn.WriteOptions {
	wo := rockyardtxn.DefaultWriteOptions()
	wo.Sync = h.cfg.sync
	return wo
}

// load creates every account unless a previous run already did.
func (h *harness) load() error {
	if _, err := h.db.Get(nil, nil, accountKey(0)); err == nil {
		return h.audit(auditMultiGet, nil)
	}
	wb := rockyardtxn.NewWriteBatch()
	for i := range h.cfg.accounts {
		wb.Put(nil, accountKey(i), encodeBalance(h.cfg.initialBalance))
	}
	return h.db.Write(h.writeOptions(), wb)
}

func (h *harness) transferLoop(rng *rand.Rand, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		from, to := rng.Intn(h.cfg.accounts), rng.Intn(h.cfg.accounts)
		if from == to {
			continue
		}
		amount := uint64(rng.Intn(50) + 1)
		err := h.transfer(rng, from, to, amount)
		switch {
		case err == nil:
			h.stats.commits.Add(1)
		case rockyardtxn.IsConflict(err):
			h.stats.conflicts.Add(1)
		case errors.Is(err, errInsufficientFunds):
			h.stats.insufficient.Add(1)
		default:
			h.stats.errors.Add(1)
			fmt.Fprintf(os.Stderr, "transfer %d->%d: %v\n", from, to, err)
		}
	}
}

func (h *harness) transfer(rng *rand.Rand, from, to int, amount uint64) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	topts := rockyardtxn.DefaultTransactionOptions()
	topts.ValidateReads = rng.Intn(100) < h.cfg.validateWeight
	topts.SetSnapshot = rng.Intn(2) == 0
	txn := h.db.BeginTransaction(h.writeOptions(), topts)
	defer txn.Close()

	forUpdate := rng.Intn(100) < h.cfg.getForUpdateWeight
	read := func(i int) (uint64, error) {
		var v []byte
		var err error
		if forUpdate {
			v, err = txn.GetForUpdate(nil, nil, accountKey(i), true)
		} else {
			v, err = txn.Get(nil, nil, accountKey(i))
		}
		if err != nil {
			return 0, err
		}
		return decodeBalance(v)
	}

	if rng.Intn(100) < h.cfg.savepointWeight {
		// Scribble on the buffer and undo it.
		if err := txn.SetSavepoint(); err != nil {
			return err
		}
		if err := txn.Put(nil, accountKey(from), encodeBalance(0)); err != nil {
			return err
		}
		if err := txn.RollbackToSavepoint(); err != nil {
			return err
		}
		h.stats.savepoints.Add(1)
	}

	fromBal, err := read(from)
	if err != nil {
		return err
	}
	toBal, err := read(to)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return errInsufficientFunds
	}
	if err := txn.Put(nil, accountKey(from), encodeBalance(fromBal-amount)); err != nil {
		return err
	}
	if err := txn.Put(nil, accountKey(to), encodeBalance(toBal+amount)); err != nil {
		return err
	}
	return txn.Commit()
}

type auditKind int

const (
	auditMultiGet auditKind = iota
	auditBatched
	auditTxnSnapshot
	auditIterator
)

func (h *harness) auditLoop(rng *rand.Rand, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		kind := auditKind(rng.Intn(4))
		if err := h.audit(kind, rng); err != nil {
			h.stats.auditFail.Add(1)
			fmt.Fprintf(os.Stderr, "audit: %v\n", err)
		}
	}
}

// audit sums every balance through one consistent view.
func (h *harness) audit(kind auditKind, rng *rand.Rand) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	keys := make([][]byte, h.cfg.accounts)
	for i := range keys {
		keys[i] = accountKey(i)
	}

	var sum uint64
	addAll := func(results []rockyardtxn.Result) error {
		for i, r := range results {
			if r.Err != nil {
				return fmt.Errorf("account %d: %w", i, r.Err)
			}
			if !r.Found {
				return fmt.Errorf("account %d missing", i)
			}
			v, err := decodeBalance(r.Value)
			if err != nil {
				return err
			}
			sum += v
		}
		return nil
	}

	switch kind {
	case auditMultiGet, auditBatched:
		snap := h.db.GetSnapshot()
		defer snap.Release()
		var results []rockyardtxn.Result
		if kind == auditMultiGet {
			results = snap.MultiGet(nil, keys)
		} else {
			results = snap.BatchedMultiGetCF(nil, nil, keys, true)
		}
		if err := addAll(results); err != nil {
			return err
		}
		h.stats.snapshotAudits.Add(1)

	case auditTxnSnapshot:
		txn := h.db.BeginTransaction(nil, nil)
		defer txn.Close()
		// A buffered write that is never committed must not leak.
		if rng != nil {
			_ = txn.Put(nil, accountKey(rng.Intn(h.cfg.accounts)), encodeBalance(h.total+1))
			if err := txn.Rollback(); err != nil {
				return err
			}
		}
		ts := txn.Snapshot()
		defer ts.Release()
		if err := addAll(ts.MultiGet(nil, keys)); err != nil {
			return err
		}
		h.stats.txnAudits.Add(1)

	case auditIterator:
		it := h.db.NewIterator(nil, nil)
		defer it.Close()
		n := 0
		for it.SeekToFirst(); it.Valid(); it.Next() {
			v, err := decodeBalance(it.Value())
			if err != nil {
				return err
			}
			sum += v
			n++
		}
		if err := it.Error(); err != nil {
			return err
		}
		if n != h.cfg.accounts {
			return fmt.Errorf("iterator saw %d accounts, want %d", n, h.cfg.accounts)
		}
		h.stats.iterAudits.Add(1)
	}

	if sum != h.total {
		return fmt.Errorf("total = %d, want %d", sum, h.total)
	}
	return nil
}
