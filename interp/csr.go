package interp

import (
	"sort"

	"github.com/notargets/interp/indexmap"
)

// csrMatrix is a finalised, immutable CSR block: rowp has length
// n+1; cols/w share indexing into [rowp[i], rowp[i+1]) per row.
type csrMatrix[S Scalar] struct {
	rowp []int
	cols []int
	w    []S
}

// numRows returns n.
func (m *csrMatrix[S]) numRows() int { return len(m.rowp) - 1 }

// buildCSR implements finalize's phase B, spec.md §4.3: a two-pass
// sizing/placement build of diag and offd, per-row sort+uniquify+sum,
// extIdx construction over the distinct offd columns, and diag
// column translation to local form. Row normalisation (§4.3 step 9)
// is applied by the caller once the halo exchange has been
// constructed over extIdx.
//
// Grounded on other_examples/SpecterOps-DAWGS__csr.go's prefix-sum,
// two-pass CSRDigraphBuilder.Build(), generalised from directed-graph
// adjacency lists to diag/offd interpolation rows.
func buildCSR[S Scalar](rows *rowStore[S], outMap, inMap *indexmap.IndexMap) (diag, offd *csrMatrix[S], extIdx []int) {
	n := outMap.OwnedCount()
	outBase := outMap.OwnerBegin(outMap.Rank())
	inBegin := inMap.OwnerBegin(inMap.Rank())
	inEnd := inMap.OwnerBegin(inMap.Rank() + 1)

	diagRowp := make([]int, n+1)
	offdRowp := make([]int, n+1)

	for r := 0; r < rows.numRows(); r++ {
		i := rows.outGlobal[r] - outBase
		in, _ := rows.entries(r)
		for _, g := range in {
			if g >= inBegin && g < inEnd {
				diagRowp[i+1]++
			} else {
				offdRowp[i+1]++
			}
		}
	}
	for i := 0; i < n; i++ {
		diagRowp[i+1] += diagRowp[i]
		offdRowp[i+1] += offdRowp[i]
	}

	diagCols := make([]int, diagRowp[n])
	diagW := make([]S, diagRowp[n])
	offdCols := make([]int, offdRowp[n])
	offdW := make([]S, offdRowp[n])

	diagCursor := append([]int(nil), diagRowp[:n]...)
	offdCursor := append([]int(nil), offdRowp[:n]...)

	for r := 0; r < rows.numRows(); r++ {
		i := rows.outGlobal[r] - outBase
		in, w := rows.entries(r)
		for j, g := range in {
			if g >= inBegin && g < inEnd {
				p := diagCursor[i]
				diagCols[p] = g
				diagW[p] = w[j]
				diagCursor[i]++
			} else {
				p := offdCursor[i]
				offdCols[p] = g
				offdW[p] = w[j]
				offdCursor[i]++
			}
		}
	}

	diagRowp, diagCols, diagW = sortUniqueSum(diagRowp, diagCols, diagW)
	offdRowp, offdCols, offdW = sortUniqueSum(offdRowp, offdCols, offdW)

	extIdx = distinctSorted(offdCols)
	for i, g := range offdCols {
		offdCols[i] = sort.SearchInts(extIdx, g)
	}

	for i := range diagCols {
		diagCols[i] -= inBegin
	}

	diag = &csrMatrix[S]{rowp: diagRowp, cols: diagCols, w: diagW}
	offd = &csrMatrix[S]{rowp: offdRowp, cols: offdCols, w: offdW}
	return diag, offd, extIdx
}

// sortUniqueSum sorts each row's columns ascending, summing the
// weights of duplicate columns within the row (spec.md §4.3 step 5).
// It returns a freshly compacted rowp/cols/w triple since duplicate
// removal shrinks each row.
func sortUniqueSum[S Scalar](rowp []int, cols []int, w []S) ([]int, []int, []S) {
	n := len(rowp) - 1
	newRowp := make([]int, n+1)
	newCols := make([]int, 0, len(cols))
	newW := make([]S, 0, len(w))

	for i := 0; i < n; i++ {
		start, end := rowp[i], rowp[i+1]
		idx := make([]int, end-start)
		for k := range idx {
			idx[k] = start + k
		}
		sort.Slice(idx, func(a, b int) bool { return cols[idx[a]] < cols[idx[b]] })

		newRowp[i] = len(newCols)
		curCol := -1
		for _, k := range idx {
			c := cols[k]
			if c == curCol {
				newW[len(newW)-1] += w[k]
			} else {
				newCols = append(newCols, c)
				newW = append(newW, w[k])
				curCol = c
			}
		}
	}
	newRowp[n] = len(newCols)
	return newRowp, newCols, newW
}

// distinctSorted returns the sorted, deduplicated set of vals.
func distinctSorted(vals []int) []int {
	cp := append([]int(nil), vals...)
	sort.Ints(cp)
	out := cp[:0]
	for i, v := range cp {
		if i == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return append([]int(nil), out...)
}

// normalize divides each row's weights by its sum, per spec.md §4.3
// step 9. Rows summing to zero (no contributions) are left alone.
func normalize[S Scalar](diag, offd *csrMatrix[S]) {
	n := diag.numRows()
	for i := 0; i < n; i++ {
		var s S
		for j := diag.rowp[i]; j < diag.rowp[i+1]; j++ {
			s += diag.w[j]
		}
		for j := offd.rowp[i]; j < offd.rowp[i+1]; j++ {
			s += offd.w[j]
		}
		if s == 0 {
			continue
		}
		for j := diag.rowp[i]; j < diag.rowp[i+1]; j++ {
			diag.w[j] /= s
		}
		for j := offd.rowp[i]; j < offd.rowp[i+1]; j++ {
			offd.w[j] /= s
		}
	}
}
