// Package interp implements the distributed block-sparse
// interpolation/restriction operator used between levels of a
// parallel multigrid solver: staging of user-supplied rows,
// redistribution to the owning rank, CSR assembly and normalisation,
// and block-size-specialised apply kernels overlapped with halo
// exchange.
//
// Grounded on the teacher's runner/solver lifecycle style (construct,
// stage, finalize, run) and on partitions/partition_builder.go's
// build-then-freeze pattern for the redistribution and CSR-build
// phases.
package interp

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/notargets/interp/comm"
	"github.com/notargets/interp/distvec"
	"github.com/notargets/interp/halo"
	"github.com/notargets/interp/indexmap"
)

// dumpThreshold is the magnitude below which a diag entry is omitted
// from Dump's listing, per spec.md §4.5.
const dumpThreshold = 1e-12

// Interp is the finalisable, then read-only, block-sparse operator
// P: input map -> output map. Construct with New, stage rows with
// AddRow, call Finalize exactly once, then Apply/ApplyTranspose any
// number of times.
type Interp[S Scalar] struct {
	inMap  *indexmap.IndexMap
	outMap *indexmap.IndexMap
	c      comm.Communicator

	local  *rowStore[S]
	remote *rowStore[S]

	finalized bool
	n         int
	diag      *csrMatrix[S]
	offd      *csrMatrix[S]
	extIdx    []int
	halo      *halo.Exchange[S]
	xExt      []S
	kernels   kernelSet[S]
}

// New constructs an operator from an input and an output index map,
// sharing the same underlying communicator c. The two maps must be
// composable (spec.md §3): same comm identity, same block size.
func New[S Scalar](inMap, outMap *indexmap.IndexMap, c comm.Communicator) (*Interp[S], error) {
	if !indexmap.Composable(inMap, outMap) {
		return nil, &ConfigurationError{Msg: fmt.Sprintf(
			"input and output index maps are not composable: comm %q vs %q, block size %d vs %d",
			inMap.Comm(), outMap.Comm(), inMap.BlockSize(), outMap.BlockSize())}
	}
	return &Interp[S]{
		inMap:  inMap,
		outMap: outMap,
		c:      c,
		local:  newRowStore[S](),
		remote: newRowStore[S](),
	}, nil
}

// AddRow stages one interpolation row (outGlobal, inGlobal[·], w[·])
// of fan-in k, per spec.md §4.1. It may be called any number of times
// before Finalize. A negative k or an out-of-range outGlobal is a
// RoutingAnomaly: logged and returned, never fatal. Individual
// out-of-range inGlobal entries are dropped silently.
func (op *Interp[S]) AddRow(outGlobal int, w []S, inGlobal []int, k int) error {
	if op.finalized {
		return &UsageError{Msg: "AddRow called after Finalize"}
	}
	if k < 0 {
		logRoutingAnomaly("negative fan-in k=%d for outGlobal=%d", k, outGlobal)
		return &RoutingAnomaly{Msg: fmt.Sprintf("negative fan-in k=%d for outGlobal=%d", k, outGlobal)}
	}
	if !op.outMap.InRange(outGlobal) {
		logRoutingAnomaly("outGlobal %d out of range [0,%d)", outGlobal, op.outMap.GlobalCount())
		return &RoutingAnomaly{Msg: fmt.Sprintf("outGlobal %d out of range [0,%d)", outGlobal, op.outMap.GlobalCount())}
	}
	if len(inGlobal) != k || len(w) != k {
		return &UsageError{Msg: fmt.Sprintf("AddRow: k=%d but len(inGlobal)=%d, len(w)=%d", k, len(inGlobal), len(w))}
	}

	in := make([]int, 0, k)
	wt := make([]S, 0, k)
	for i, g := range inGlobal {
		if op.inMap.InRange(g) {
			in = append(in, g)
			wt = append(wt, w[i])
		}
	}

	if op.outMap.Owner(outGlobal) == op.outMap.Rank() {
		op.local.addRow(outGlobal, in, wt)
	} else {
		op.remote.addRow(outGlobal, in, wt)
	}
	return nil
}

// Finalize runs the redistribution protocol and CSR build described
// in spec.md §4.2–§4.3. It is collective on the operator's
// communicator and must be called exactly once.
func (op *Interp[S]) Finalize(ctx context.Context) error {
	if op.finalized {
		return &UsageError{Msg: "Finalize called twice"}
	}

	incoming, err := redistribute[S](ctx, op.remote, op.outMap, op.c)
	if err != nil {
		return &TransportError{Err: err}
	}

	combined := newRowStore[S]()
	combined.merge(op.local)
	combined.merge(incoming)

	diag, offd, extIdx := buildCSR[S](combined, op.outMap, op.inMap)

	h, err := halo.New[S](ctx, op.inMap, extIdx, op.c)
	if err != nil {
		return &TransportError{Err: err}
	}

	normalize(diag, offd)

	op.diag, op.offd, op.extIdx = diag, offd, extIdx
	op.halo = h
	op.xExt = make([]S, h.BufferLen())
	op.n = op.outMap.OwnedCount()
	op.kernels = dispatchKernel[S](op.inMap.BlockSize())
	op.local, op.remote = nil, nil
	op.finalized = true
	return nil
}

// Apply computes y := P x, per spec.md §4.4.
func (op *Interp[S]) Apply(ctx context.Context, x, y *distvec.Vector[S]) error {
	if !op.finalized {
		return &UsageError{Msg: "Apply called before Finalize"}
	}
	y.Zero()
	return op.applyCore(ctx, x, y)
}

// ApplyAdd computes y := z + P x. If y and z are the same vector, the
// copy is skipped.
func (op *Interp[S]) ApplyAdd(ctx context.Context, x, z, y *distvec.Vector[S]) error {
	if !op.finalized {
		return &UsageError{Msg: "ApplyAdd called before Finalize"}
	}
	if z != y {
		if err := y.CopyFrom(z); err != nil {
			return err
		}
	}
	return op.applyCore(ctx, x, y)
}

func (op *Interp[S]) applyCore(ctx context.Context, x, y *distvec.Vector[S]) error {
	op.halo.BeginForward(ctx, x, op.xExt)
	op.kernels.multAdd(op.diag.rowp, op.diag.cols, op.diag.w, x.Local(), y.Local())
	if err := op.halo.EndForward(); err != nil {
		return &TransportError{Err: err}
	}
	op.kernels.multAdd(op.offd.rowp, op.offd.cols, op.offd.w, op.xExt, y.Local())
	return nil
}

// ApplyTranspose computes y := P^T x, per spec.md §4.4.
func (op *Interp[S]) ApplyTranspose(ctx context.Context, x, y *distvec.Vector[S]) error {
	if !op.finalized {
		return &UsageError{Msg: "ApplyTranspose called before Finalize"}
	}
	y.Zero()
	return op.applyTransposeCore(ctx, x, y)
}

// ApplyTransposeAdd computes y := z + P^T x. If y and z are the same
// vector, the copy is skipped.
func (op *Interp[S]) ApplyTransposeAdd(ctx context.Context, x, z, y *distvec.Vector[S]) error {
	if !op.finalized {
		return &UsageError{Msg: "ApplyTransposeAdd called before Finalize"}
	}
	if z != y {
		if err := y.CopyFrom(z); err != nil {
			return err
		}
	}
	return op.applyTransposeCore(ctx, x, y)
}

func (op *Interp[S]) applyTransposeCore(ctx context.Context, x, y *distvec.Vector[S]) error {
	for i := range op.xExt {
		op.xExt[i] = 0
	}
	op.kernels.multTransposeAdd(op.offd.rowp, op.offd.cols, op.offd.w, x.Local(), op.xExt)
	op.halo.BeginReverse(ctx, op.xExt, y)
	op.kernels.multTransposeAdd(op.diag.rowp, op.diag.cols, op.diag.w, x.Local(), y.Local())
	if err := op.halo.EndReverse(); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

// Dump writes a human-readable listing of diag's rows to path, one
// line per entry with the real part of its weight, omitting entries
// whose weight has absolute real part at or below 1e-12. It never traverses offd, per spec.md §4.5.
func (op *Interp[S]) Dump(path string) error {
	if !op.finalized {
		return &UsageError{Msg: "Dump called before Finalize"}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n := op.diag.numRows()
	for i := 0; i < n; i++ {
		for j := op.diag.rowp[i]; j < op.diag.rowp[i+1]; j++ {
			if math.Abs(realPart(op.diag.w[j])) <= dumpThreshold {
				continue
			}
			if _, err := fmt.Fprintf(f, "row %d: col %d weight %v\n", i, op.diag.cols[j], realPart(op.diag.w[j])); err != nil {
				return err
			}
		}
	}
	return nil
}

// realPart extracts the real component of a Scalar value generically.
func realPart[S Scalar](v S) float64 {
	switch x := any(v).(type) {
	case float64:
		return x
	case complex128:
		return real(x)
	default:
		panic(fmt.Sprintf("interp: unsupported scalar type %T", v))
	}
}

// ExtIdx returns the sorted, deduplicated table of non-local input
// global indices the operator's off-diagonal block references. Valid
// only after Finalize.
func (op *Interp[S]) ExtIdx() []int { return op.extIdx }

// N returns the local owned-output row count. Valid only after
// Finalize.
func (op *Interp[S]) N() int { return op.n }
