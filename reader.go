package rockyardtxn

// Reader is the read surface shared by the database, snapshots,
// transactions and transaction snapshots. Code written against Reader
// works on any of them.
type Reader interface {
	// Get returns the value of key in cf, or an error matching ErrNotFound.
	Get(ro *ReadOptions, cf ColumnFamilyHandle, key []byte) ([]byte, error)

	// MultiGet reads keys from the default column family, one Result per
	// key in input order.
	MultiGet(ro *ReadOptions, keys [][]byte) []Result

	// MultiGetCF reads (column family, key) pairs.
	MultiGetCF(ro *ReadOptions, keys []KeyCF) []Result

	// BatchedMultiGetCF reads keys from one column family in one pass.
	BatchedMultiGetCF(ro *ReadOptions, cf ColumnFamilyHandle, keys [][]byte, sortedInput bool) []Result

	// NewIterator iterates cf.
	NewIterator(ro *ReadOptions, cf ColumnFamilyHandle) Iterator
}

var (
	_ Reader = (*DB)(nil)
	_ Reader = (*Snapshot)(nil)
	_ Reader = (*Transaction)(nil)
	_ Reader = (*TransactionSnapshot)(nil)
)
