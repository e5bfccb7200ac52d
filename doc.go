/*
Package rockyardtxn provides a pure-Go embedded key/value store with
snapshots and optimistic transactions.

Writes are logged to a write-ahead log and applied to per-column-family
memtables; every write gets a sequence number. A Snapshot pins a sequence
number and reads through it see the database exactly as it was then.

An optimistic Transaction buffers its writes and records the keys it
depends on. Nothing is locked while it runs. Commit validates, under the
database write lock, that no tracked key changed since it was read, then
applies the buffered writes atomically. A lost race surfaces as an error
matching ErrConflict and the caller retries.

# Usage

	db, err := rockyardtxn.Open(path, opts)
	...
	txn := db.BeginTransaction(nil, nil)
	defer txn.Close()
	v, err := txn.GetForUpdate(nil, nil, []byte("balance"), true)
	...
	_ = txn.Put(nil, []byte("balance"), newValue)
	if err := txn.Commit(); rockyardtxn.IsConflict(err) {
		// retry
	}

For runnable examples, see the repository's examples directory.

# Reads

DB, Snapshot, Transaction and TransactionSnapshot all implement Reader:
Get, MultiGet, MultiGetCF, BatchedMultiGetCF and NewIterator. Multi-gets
return one Result per key in input order; a failure on one key does not
affect the others.

# Concurrency

A DB, Snapshot, Transaction and TransactionSnapshot are safe for concurrent
use by multiple goroutines. Individual Iterator instances are not; each
goroutine should use its own iterator.

Reference: RocksDB v10.7.5 include/rocksdb/utilities/optimistic_transaction_db.h
*/
package rockyardtxn
