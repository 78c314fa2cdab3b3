package interp

import "github.com/notargets/interp/distvec"

// Scalar is the fixed-per-build numeric type of an operator's weights
// and vector components, per spec.md §3.
type Scalar = distvec.Scalar

// rowStore is an append-only, struct-of-arrays staging container: one
// of the two ("local" / "remote") that spec.md §3 describes. Growth
// is geometric because it rides Go's append() doubling, giving the
// amortised O(1) per appended entry the spec requires without any
// bespoke growth bookkeeping.
//
// Grounded on the teacher's PartitionedArray/PartitionBuffer
// preference for struct-of-arrays layouts (partitions/partition.go),
// carried through to this staging role because §9 of the spec calls
// out struct-of-arrays specifically to avoid padding in the
// redistribution wire layout.
type rowStore[S Scalar] struct {
	outGlobal []int // one entry per staged row
	rowPtr    []int // len = numRows()+1, cumulative fan-in per row
	inGlobal  []int // packed, indexed by rowPtr
	weight    []S   // packed, indexed by rowPtr
}

func newRowStore[S Scalar]() *rowStore[S] {
	return &rowStore[S]{rowPtr: []int{0}}
}

func (s *rowStore[S]) numRows() int { return len(s.outGlobal) }

// addRow appends one row record. in and w must already be filtered to
// valid, in-range entries; duplicate (outGlobal, inGlobal) pairs
// across separate addRow calls are expected and are resolved later,
// during CSR build (spec.md §4.1: "No aggregation, sorting, or
// normalisation happens here").
func (s *rowStore[S]) addRow(outGlobal int, in []int, w []S) {
	s.outGlobal = append(s.outGlobal, outGlobal)
	s.inGlobal = append(s.inGlobal, in...)
	s.weight = append(s.weight, w...)
	s.rowPtr = append(s.rowPtr, len(s.inGlobal))
}

// entries returns the [in, w) slice pair for staged row i.
func (s *rowStore[S]) entries(i int) ([]int, []S) {
	start, end := s.rowPtr[i], s.rowPtr[i+1]
	return s.inGlobal[start:end], s.weight[start:end]
}

// merge appends every row of other onto s, in order.
func (s *rowStore[S]) merge(other *rowStore[S]) {
	for i := 0; i < other.numRows(); i++ {
		in, w := other.entries(i)
		s.addRow(other.outGlobal[i], in, w)
	}
}
