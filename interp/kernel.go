package interp

// kernelFunc computes one of the two inner products of spec.md §4.4
// over a finalised CSR block, accumulating into y.
type kernelFunc[S Scalar] func(rowp, cols []int, w []S, x, y []S)

// kernelSet holds the pair of kernels dispatched for one block size,
// selected once at Finalize time (§4.4, "a dispatch table selects the
// kernel at construction").
type kernelSet[S Scalar] struct {
	multAdd          kernelFunc[S]
	multTransposeAdd kernelFunc[S]
}

// dispatchKernel returns the kernel pair for block size b: a
// hand-unrolled specialisation for b ∈ {1,2,3,5,6}, or the generic
// loop otherwise. Every specialisation performs the exact same
// per-(i,j,k) accumulation as the generic kernel, in the exact same
// order, so that I4 (bitwise agreement) holds by construction —
// unrolling the k loop is not the same as reassociating it.
//
// Grounded, in shape only, on
// other_examples/ajroetker-go-highway__matmul_blocked.go's pattern of
// a generic path plus constant-size specialisations chosen by a
// dispatch step; the SIMD library that file depends on is not used
// here (see DESIGN.md).
func dispatchKernel[S Scalar](b int) kernelSet[S] {
	switch b {
	case 1:
		return kernelSet[S]{multAddB1[S], multTransposeAddB1[S]}
	case 2:
		return kernelSet[S]{multAddB2[S], multTransposeAddB2[S]}
	case 3:
		return kernelSet[S]{multAddB3[S], multTransposeAddB3[S]}
	case 5:
		return kernelSet[S]{multAddB5[S], multTransposeAddB5[S]}
	case 6:
		return kernelSet[S]{multAddB6[S], multTransposeAddB6[S]}
	default:
		return kernelSet[S]{
			multAdd:          func(rowp, cols []int, w, x, y []S) { multAddGeneric(b, rowp, cols, w, x, y) },
			multTransposeAdd: func(rowp, cols []int, w, x, y []S) { multTransposeAddGeneric(b, rowp, cols, w, x, y) },
		}
	}
}

// multAddGeneric computes y[b*i+k] += w[j]*x[b*cols[j]+k] for all
// i∈[0,nr), j∈[rowp[i],rowp[i+1]), k∈[0,b).
func multAddGeneric[S Scalar](b int, rowp, cols []int, w, x, y []S) {
	n := len(rowp) - 1
	for i := 0; i < n; i++ {
		for j := rowp[i]; j < rowp[i+1]; j++ {
			c, wj := cols[j], w[j]
			for k := 0; k < b; k++ {
				y[b*i+k] += wj * x[b*c+k]
			}
		}
	}
}

// multTransposeAddGeneric computes y[b*cols[j]+k] += w[j]*x[b*i+k]
// for all i∈[0,nr), j∈[rowp[i],rowp[i+1]), k∈[0,b).
func multTransposeAddGeneric[S Scalar](b int, rowp, cols []int, w, x, y []S) {
	n := len(rowp) - 1
	for i := 0; i < n; i++ {
		for j := rowp[i]; j < rowp[i+1]; j++ {
			c, wj := cols[j], w[j]
			for k := 0; k < b; k++ {
				y[b*c+k] += wj * x[b*i+k]
			}
		}
	}
}

func multAddB1[S Scalar](rowp, cols []int, w, x, y []S) {
	n := len(rowp) - 1
	for i := 0; i < n; i++ {
		for j := rowp[i]; j < rowp[i+1]; j++ {
			y[i] += w[j] * x[cols[j]]
		}
	}
}

func multTransposeAddB1[S Scalar](rowp, cols []int, w, x, y []S) {
	n := len(rowp) - 1
	for i := 0; i < n; i++ {
		for j := rowp[i]; j < rowp[i+1]; j++ {
			y[cols[j]] += w[j] * x[i]
		}
	}
}

func multAddB2[S Scalar](rowp, cols []int, w, x, y []S) {
	n := len(rowp) - 1
	for i := 0; i < n; i++ {
		yi := y[2*i : 2*i+2 : 2*i+2]
		for j := rowp[i]; j < rowp[i+1]; j++ {
			c, wj := cols[j], w[j]
			xc := x[2*c : 2*c+2 : 2*c+2]
			yi[0] += wj * xc[0]
			yi[1] += wj * xc[1]
		}
	}
}

func multTransposeAddB2[S Scalar](rowp, cols []int, w, x, y []S) {
	n := len(rowp) - 1
	for i := 0; i < n; i++ {
		xi := x[2*i : 2*i+2 : 2*i+2]
		for j := rowp[i]; j < rowp[i+1]; j++ {
			c, wj := cols[j], w[j]
			yc := y[2*c : 2*c+2 : 2*c+2]
			yc[0] += wj * xi[0]
			yc[1] += wj * xi[1]
		}
	}
}

func multAddB3[S Scalar](rowp, cols []int, w, x, y []S) {
	n := len(rowp) - 1
	for i := 0; i < n; i++ {
		yi := y[3*i : 3*i+3 : 3*i+3]
		for j := rowp[i]; j < rowp[i+1]; j++ {
			c, wj := cols[j], w[j]
			xc := x[3*c : 3*c+3 : 3*c+3]
			yi[0] += wj * xc[0]
			yi[1] += wj * xc[1]
			yi[2] += wj * xc[2]
		}
	}
}

func multTransposeAddB3[S Scalar](rowp, cols []int, w, x, y []S) {
	n := len(rowp) - 1
	for i := 0; i < n; i++ {
		xi := x[3*i : 3*i+3 : 3*i+3]
		for j := rowp[i]; j < rowp[i+1]; j++ {
			c, wj := cols[j], w[j]
			yc := y[3*c : 3*c+3 : 3*c+3]
			yc[0] += wj * xi[0]
			yc[1] += wj * xi[1]
			yc[2] += wj * xi[2]
		}
	}
}

func multAddB5[S Scalar](rowp, cols []int, w, x, y []S) {
	n := len(rowp) - 1
	for i := 0; i < n; i++ {
		yi := y[5*i : 5*i+5 : 5*i+5]
		for j := rowp[i]; j < rowp[i+1]; j++ {
			c, wj := cols[j], w[j]
			xc := x[5*c : 5*c+5 : 5*c+5]
			yi[0] += wj * xc[0]
			yi[1] += wj * xc[1]
			yi[2] += wj * xc[2]
			yi[3] += wj * xc[3]
			yi[4] += wj * xc[4]
		}
	}
}

func multTransposeAddB5[S Scalar](rowp, cols []int, w, x, y []S) {
	n := len(rowp) - 1
	for i := 0; i < n; i++ {
		xi := x[5*i : 5*i+5 : 5*i+5]
		for j := rowp[i]; j < rowp[i+1]; j++ {
			c, wj := cols[j], w[j]
			yc := y[5*c : 5*c+5 : 5*c+5]
			yc[0] += wj * xi[0]
			yc[1] += wj * xi[1]
			yc[2] += wj * xi[2]
			yc[3] += wj * xi[3]
			yc[4] += wj * xi[4]
		}
	}
}

func multAddB6[S Scalar](rowp, cols []int, w, x, y []S) {
	n := len(rowp) - 1
	for i := 0; i < n; i++ {
		yi := y[6*i : 6*i+6 : 6*i+6]
		for j := rowp[i]; j < rowp[i+1]; j++ {
			c, wj := cols[j], w[j]
			xc := x[6*c : 6*c+6 : 6*c+6]
			yi[0] += wj * xc[0]
			yi[1] += wj * xc[1]
			yi[2] += wj * xc[2]
			yi[3] += wj * xc[3]
			yi[4] += wj * xc[4]
			yi[5] += wj * xc[5]
		}
	}
}

func multTransposeAddB6[S Scalar](rowp, cols []int, w, x, y []S) {
	n := len(rowp) - 1
	for i := 0; i < n; i++ {
		xi := x[6*i : 6*i+6 : 6*i+6]
		for j := rowp[i]; j < rowp[i+1]; j++ {
			c, wj := cols[j], w[j]
			yc := y[6*c : 6*c+6 : 6*c+6]
			yc[0] += wj * xi[0]
			yc[1] += wj * xi[1]
			yc[2] += wj * xi[2]
			yc[3] += wj * xi[3]
			yc[4] += wj * xi[4]
			yc[5] += wj * xi[5]
		}
	}
}
