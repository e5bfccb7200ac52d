package rockyardtxn

// merge_operator.go implements merge operators and the resolution of merge
// operands during reads.
//
// A Merge write records an operand instead of a value. Reads fold every
// visible operand, oldest first, over the newest visible base value (or
// nil when the key was absent or deleted).
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/merge_operator.h

import (
	"bytes"

	"github.com/aalhour/rockyardtxn/internal/encoding"
)

// MergeOperator is the interface for user-defined merge operations.
type MergeOperator interface {
	// Name returns a unique identifier for this merge operator.
	Name() string

	// FullMerge applies operands, oldest first, to existingValue, which is
	// nil when the key has no base value. Returning ok=false fails the read
	// with a Corruption error.
	FullMerge(key []byte, existingValue []byte, operands [][]byte) (newValue []byte, ok bool)

	// PartialMerge combines two adjacent operands into one. Returning
	// ok=false means they cannot be combined.
	PartialMerge(key []byte, leftOperand, rightOperand []byte) (newOperand []byte, ok bool)
}

// AssociativeMergeOperator is a simplified interface for associative operations.
// Use this when merging is associative: Merge(Merge(a, b), c) == Merge(a, Merge(b, c)).
type AssociativeMergeOperator interface {
	Name() string

	// Merge merges value into existingValue. A nil existingValue is the
	// identity element.
	Merge(key []byte, existingValue, value []byte) ([]byte, bool)
}

// AssociativeMergeOperatorAdapter wraps an AssociativeMergeOperator to implement MergeOperator.
type AssociativeMergeOperatorAdapter struct {
	Op AssociativeMergeOperator
}

// Name returns the name of the underlying operator.
func (a *AssociativeMergeOperatorAdapter) Name() string {
	return a.Op.Name()
}

// FullMerge folds Merge over the operands.
func (a *AssociativeMergeOperatorAdapter) FullMerge(key []byte, existingValue []byte, operands [][]byte) ([]byte, bool) {
	result := existingValue
	for _, op := range operands {
		var ok bool
		if result, ok = a.Op.Merge(key, result, op); !ok {
			return nil, false
		}
	}
	return result, true
}

// PartialMerge implements MergeOperator using Merge.
func (a *AssociativeMergeOperatorAdapter) PartialMerge(key []byte, left, right []byte) ([]byte, bool) {
	return a.Op.Merge(key, left, right)
}

// UInt64AddOperator treats values as little-endian uint64 counters and adds them.
type UInt64AddOperator struct{}

// Name returns the name of this merge operator.
func (o *UInt64AddOperator) Name() string {
	return "UInt64AddOperator"
}

// FullMerge adds all operands to the existing value.
func (o *UInt64AddOperator) FullMerge(_ []byte, existingValue []byte, operands [][]byte) ([]byte, bool) {
	var sum uint64
	if existingValue != nil {
		if len(existingValue) != 8 {
			return nil, false
		}
		sum = encoding.DecodeFixed64(existingValue)
	}
	for _, op := range operands {
		if len(op) != 8 {
			return nil, false
		}
		sum += encoding.DecodeFixed64(op)
	}
	return encoding.AppendFixed64(nil, sum), true
}

// PartialMerge adds two operands together.
func (o *UInt64AddOperator) PartialMerge(_ []byte, left, right []byte) ([]byte, bool) {
	if len(left) != 8 || len(right) != 8 {
		return nil, false
	}
	return encoding.AppendFixed64(nil, encoding.DecodeFixed64(left)+encoding.DecodeFixed64(right)), true
}

// EncodeUint64 encodes v the way UInt64AddOperator expects operands.
func EncodeUint64(v uint64) []byte {
	return encoding.AppendFixed64(nil, v)
}

// DecodeUint64 decodes a UInt64AddOperator value. It returns false if b is
// not 8 bytes long.
func DecodeUint64(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return encoding.DecodeFixed64(b), true
}

// StringAppendOperator concatenates values with a delimiter.
type StringAppendOperator struct {
	Delimiter string
}

// Name returns the name of this merge operator.
func (o *StringAppendOperator) Name() string {
	return "StringAppendOperator"
}

// FullMerge concatenates all operands with the delimiter.
func (o *StringAppendOperator) FullMerge(_ []byte, existingValue []byte, operands [][]byte) ([]byte, bool) {
	result := append([]byte(nil), existingValue...)
	for _, op := range operands {
		result = o.join(result, op)
	}
	return result, true
}

// PartialMerge concatenates two operands with the delimiter.
func (o *StringAppendOperator) PartialMerge(_ []byte, left, right []byte) ([]byte, bool) {
	return o.join(append([]byte(nil), left...), right), true
}

func (o *StringAppendOperator) join(dst, op []byte) []byte {
	if len(dst) > 0 && len(op) > 0 {
		dst = append(dst, o.Delimiter...)
	}
	return append(dst, op...)
}

// MaxOperator keeps the bytewise-largest value.
type MaxOperator struct{}

// Name returns the name of this merge operator.
func (o *MaxOperator) Name() string {
	return "MaxOperator"
}

// FullMerge returns the maximum of all values.
func (o *MaxOperator) FullMerge(_ []byte, existingValue []byte, operands [][]byte) ([]byte, bool) {
	best := existingValue
	for _, op := range operands {
		if best == nil || bytes.Compare(op, best) > 0 {
			best = op
		}
	}
	return append([]byte(nil), best...), true
}

// PartialMerge returns the maximum of two operands.
func (o *MaxOperator) PartialMerge(_ []byte, left, right []byte) ([]byte, bool) {
	if bytes.Compare(left, right) >= 0 {
		return append([]byte(nil), left...), true
	}
	return append([]byte(nil), right...), true
}

// fullMerge folds operands (oldest first) over base. A nil op is reported
// as ErrMergeOperatorNotSet; a failed merge as Corruption.
func fullMerge(op MergeOperator, stats Statistics, key, base []byte, operands [][]byte) ([]byte, error) {
	if op == nil {
		return nil, ErrMergeOperatorNotSet
	}
	v, ok := op.FullMerge(key, base, operands)
	if !ok {
		recordTick(stats, TickerNumberMergeFailures, 1)
		return nil, newError(CodeCorruption, "merge operator failed")
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

// reverseOperands returns a copy of ops in reverse order.
func reverseOperands(ops [][]byte) [][]byte {
	out := make([][]byte, len(ops))
	for i, op := range ops {
		out[len(ops)-1-i] = op
	}
	return out
}
