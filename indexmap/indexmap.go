// Package indexmap describes how a global index space is partitioned
// contiguously across a group of ranks.
//
// An IndexMap owns no data of its own; it is a small immutable
// description shared by every collaborator that needs to translate
// between global indices and (rank, local index) pairs — the
// interpolation operator's input map, its output map, and the halo
// exchange all hold a reference to one.
package indexmap

import (
	"fmt"
	"sort"
)

// IndexMap is an immutable contiguous partition of the global index
// range [0, M) across P ranks, with a fixed block size b applied
// uniformly to every index.
type IndexMap struct {
	comm        string // opaque communicator identity; composable maps need equal Comm and equal block size
	size        int    // number of ranks P
	rank        int    // this process's rank
	blockSize   int    // b >= 1
	ownerBegin  []int  // length P+1; ownerBegin[r] is the first global index owned by rank r, ownerBegin[P] = M
}

// New builds an IndexMap that partitions [0, m) into size contiguous
// blocks as evenly as possible, with this process at rank.
//
// comm identifies the communicator this map belongs to; two IndexMaps
// are composable only when their comm strings are equal (this stands
// in for "identical or congruent communicator" from the spec — a real
// MPI binding would compare group handles instead of strings).
func New(comm string, rank, size, m, blockSize int) (*IndexMap, error) {
	if size <= 0 || rank < 0 || rank >= size {
		return nil, fmt.Errorf("indexmap: invalid rank/size %d/%d", rank, size)
	}
	if blockSize < 1 {
		return nil, fmt.Errorf("indexmap: block size must be >= 1, got %d", blockSize)
	}
	if m < 0 {
		return nil, fmt.Errorf("indexmap: negative global size %d", m)
	}

	ownerBegin := make([]int, size+1)
	base := m / size
	rem := m % size
	cursor := 0
	for r := 0; r < size; r++ {
		ownerBegin[r] = cursor
		share := base
		if r < rem {
			share++
		}
		cursor += share
	}
	ownerBegin[size] = m

	return &IndexMap{
		comm:       comm,
		size:       size,
		rank:       rank,
		blockSize:  blockSize,
		ownerBegin: ownerBegin,
	}, nil
}

// NewFromOwnerBegin builds an IndexMap from an explicit, already
// computed ownerBegin table of length size+1. Useful for tests that
// need an uneven partition, and for hosts that already know their
// distribution (e.g. from a prior graph partitioning step upstream
// of this module).
func NewFromOwnerBegin(comm string, rank int, blockSize int, ownerBegin []int) (*IndexMap, error) {
	size := len(ownerBegin) - 1
	if size <= 0 || rank < 0 || rank >= size {
		return nil, fmt.Errorf("indexmap: invalid ownerBegin table for rank %d", rank)
	}
	if blockSize < 1 {
		return nil, fmt.Errorf("indexmap: block size must be >= 1, got %d", blockSize)
	}
	for r := 0; r < size; r++ {
		if ownerBegin[r+1] < ownerBegin[r] {
			return nil, fmt.Errorf("indexmap: ownerBegin not monotone at rank %d", r)
		}
	}
	cp := make([]int, len(ownerBegin))
	copy(cp, ownerBegin)
	return &IndexMap{comm: comm, size: size, rank: rank, blockSize: blockSize, ownerBegin: cp}, nil
}

// Comm returns the opaque communicator identity.
func (m *IndexMap) Comm() string { return m.comm }

// BlockSize returns b.
func (m *IndexMap) BlockSize() int { return m.blockSize }

// Rank returns this process's rank within the map's communicator.
func (m *IndexMap) Rank() int { return m.rank }

// Size returns the number of ranks P.
func (m *IndexMap) Size() int { return m.size }

// GlobalCount returns M, the size of the global index space.
func (m *IndexMap) GlobalCount() int { return m.ownerBegin[m.size] }

// OwnerBegin returns ownerBegin[r], the first global index owned by
// rank r. r may range over [0, P] inclusive; OwnerBegin(P) == M.
func (m *IndexMap) OwnerBegin(r int) int { return m.ownerBegin[r] }

// OwnerBeginTable returns the full ownerBegin[0..P] table. The
// returned slice must not be mutated by the caller.
func (m *IndexMap) OwnerBeginTable() []int { return m.ownerBegin }

// LocalCount returns the number of indices owned by rank r.
func (m *IndexMap) LocalCount(r int) int { return m.ownerBegin[r+1] - m.ownerBegin[r] }

// OwnedCount returns the number of indices owned by this rank.
func (m *IndexMap) OwnedCount() int { return m.LocalCount(m.rank) }

// Owner returns the rank owning global index g, or -1 if g is out of
// range [0, M).
func (m *IndexMap) Owner(g int) int {
	if g < 0 || g >= m.ownerBegin[m.size] {
		return -1
	}
	// ownerBegin is strictly the sorted set of block starts; find the
	// last r with ownerBegin[r] <= g.
	r := sort.Search(m.size, func(r int) bool { return m.ownerBegin[r+1] > g })
	return r
}

// InRange reports whether g is a valid global index for this map.
func (m *IndexMap) InRange(g int) bool { return g >= 0 && g < m.ownerBegin[m.size] }

// Composable reports whether two maps share a communicator and block
// size, per spec.md §3: "For an input index map and an output index
// map to be composable, they must share comm ... and share b."
func Composable(a, b *IndexMap) bool {
	return a.comm == b.comm && a.blockSize == b.blockSize
}
