// Package distvec provides the DistributedVector collaborator: a
// vector whose components live across ranks according to an
// indexmap.IndexMap, exposing only the contiguous local storage that
// spec.md §6 requires ("obtain a pointer to the contiguous local
// storage, zero entries, copy values from another vector").
//
// Grounded on partitions.PartitionedArray from the teacher, adapted
// from "contiguous storage per mesh partition" to "contiguous storage
// per owned block of an IndexMap".
package distvec

import (
	"fmt"

	"github.com/notargets/interp/indexmap"
	"gonum.org/v1/gonum/floats"
)

// Scalar is the fixed-per-build numeric type of every vector
// component and operator weight, per spec.md §3.
type Scalar interface {
	float64 | complex128
}

// Vector is a distributed vector of Scalar over an IndexMap: locally
// it owns b*localCount contiguous components.
type Vector[S Scalar] struct {
	Map   *indexmap.IndexMap
	local []S
}

// New allocates a zeroed vector local to Map's owning rank.
func New[S Scalar](m *indexmap.IndexMap) *Vector[S] {
	return &Vector[S]{Map: m, local: make([]S, m.BlockSize()*m.OwnedCount())}
}

// Local returns the contiguous local storage, length b*localCount.
// Mutating the returned slice mutates the vector.
func (v *Vector[S]) Local() []S { return v.local }

// Zero sets every local component to the zero value.
func (v *Vector[S]) Zero() {
	for i := range v.local {
		v.local[i] = 0
	}
}

// CopyFrom copies src's local storage into v. src and v must share
// the same IndexMap (same shape); this is enforced by comparing
// lengths since IndexMap itself carries no identity beyond its
// contents.
func (v *Vector[S]) CopyFrom(src *Vector[S]) error {
	if len(src.local) != len(v.local) {
		return fmt.Errorf("distvec: CopyFrom shape mismatch: %d != %d", len(src.local), len(v.local))
	}
	copy(v.local, src.local)
	return nil
}

// DotReal computes the local (per-rank) real inner product sum(a[i]*b[i])
// for real Scalar instantiations; used by test code to check the
// adjoint identity (spec.md §8 I6) without duplicating a reduction
// per test.
func DotReal(a, b *Vector[float64]) float64 {
	return floats.Dot(a.local, b.local)
}
