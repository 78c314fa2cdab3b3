package interp

import (
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// sparseView wraps a *sparse.CSR just enough to satisfy
// gonum.org/v1/gonum/mat.Matrix, mirroring
// Notargets-gocfd/utils/sparse.go's CSR wrapper but pared down to the
// read-only viewing role DiagMatrixOf/OffdMatrixOf need — no Assign,
// Equate, or IndexedAssign machinery, since these views are built
// once from an already-finalised operator and never written to
// again.
type sparseView struct {
	m *sparse.CSR
}

func (v sparseView) Dims() (r, c int)    { return v.m.Dims() }
func (v sparseView) At(i, j int) float64 { return v.m.At(i, j) }
func (v sparseView) T() mat.Matrix       { return mat.Transpose{Matrix: v} }

// buildSparseView materialises a csrMatrix[float64] block into a
// gonum-compatible sparse view via github.com/james-bowman/sparse's
// DOK-then-CSR construction path.
func buildSparseView(m *csrMatrix[float64], nRows, nCols int) mat.Matrix {
	dok := sparse.NewDOK(nRows, nCols)
	n := m.numRows()
	for i := 0; i < n; i++ {
		for j := m.rowp[i]; j < m.rowp[i+1]; j++ {
			dok.Set(i, m.cols[j], m.w[j])
		}
	}
	return sparseView{m: dok.ToCSR()}
}

// DiagMatrixOf returns a read-only gonum mat.Matrix view of op's
// finalised diagonal block. Only float64-instantiated operators
// support this view, since github.com/james-bowman/sparse itself is
// float64-only (§4 ADDED in SPEC_FULL.md); op must already be
// finalised.
func DiagMatrixOf(op *Interp[float64]) (mat.Matrix, error) {
	if !op.finalized {
		return nil, &UsageError{Msg: "DiagMatrixOf called before Finalize"}
	}
	return buildSparseView(op.diag, op.n, op.inMap.OwnedCount()), nil
}

// OffdMatrixOf returns a read-only gonum mat.Matrix view of op's
// finalised off-diagonal block, with columns indexed by position in
// extIdx rather than by global input index.
func OffdMatrixOf(op *Interp[float64]) (mat.Matrix, error) {
	if !op.finalized {
		return nil, &UsageError{Msg: "OffdMatrixOf called before Finalize"}
	}
	return buildSparseView(op.offd, op.n, len(op.extIdx)), nil
}
