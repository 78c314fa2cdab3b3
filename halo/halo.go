// Package halo implements the HaloExchange collaborator required by
// spec.md §6: given an input IndexMap and a sorted, deduplicated
// table of non-local global indices, it fetches those components
// (forward) and scatter-adds contributions back to their owners
// (reverse).
//
// Grounded on partitions.PartitionBuffer / partitions.RemotePartition
// from the teacher (SendOffset/RecvOffset bookkeeping grouped by
// remote rank) and other_examples/Notargets-gocca__halo_exchange.go's
// per-partition send/recv shape, generalised from mesh faces to
// block-scalar components.
package halo

import (
	"context"
	"fmt"
	"sort"

	"github.com/notargets/interp/comm"
	"github.com/notargets/interp/distvec"
	"github.com/notargets/interp/indexmap"
	"golang.org/x/sync/errgroup"
)

// peerRange is a contiguous run of extIdx positions [Start, End) all
// owned by Peer. Because extIdx is sorted ascending and ownership
// ranges are contiguous blocks of the global space, grouping by owner
// is a single linear scan — no per-entry bucketing is needed.
type peerRange struct {
	Peer       int
	Start, End int // positions into extIdx / extBuf, in units of "index", not bytes
}

// Exchange is the finalised halo-exchange object: it knows, once and
// for all, which peers to talk to and in what order, so every
// apply-time call only packs/unpacks and moves bytes.
type Exchange[S distvec.Scalar] struct {
	inputMap  *indexmap.IndexMap
	extIdx    []int
	blockSize int
	c         comm.Communicator

	wantFrom []peerRange   // grouped by owner rank, ascending; positions index extIdx/extBuf
	provide  map[int][]int // peer -> local indices (in this rank's OWN input-local numbering) that peer requested from us, in request-arrival order

	fwd *errgroup.Group
	rev *errgroup.Group

	// revPeers/revPending/revDst hold the state a BeginReverse/
	// EndReverse pair needs to defer the scatter-add until after the
	// transfer has completed: BeginReverse only posts sends and
	// buffers each peer's raw received values; EndReverse performs
	// the actual accumulation into revDst once e.rev.Wait() returns.
	revPeers   []int
	revPending [][]S
	revDst     *distvec.Vector[S]
}

// New constructs a halo exchange for inputMap's owning rank, over the
// sorted deduplicated table extIdx of remote global input indices.
// This is collective on c: every rank must call New even if its own
// extIdx is empty, because the construction protocol tells every
// other rank which of its locally owned indices are needed remotely.
func New[S distvec.Scalar](ctx context.Context, inputMap *indexmap.IndexMap, extIdx []int, c comm.Communicator) (*Exchange[S], error) {
	for i := 1; i < len(extIdx); i++ {
		if extIdx[i] <= extIdx[i-1] {
			return nil, fmt.Errorf("halo: extIdx must be strictly increasing")
		}
	}

	size := c.Size()
	wantFrom := groupByOwner(inputMap, extIdx)

	sendCounts := make([]int, size)
	for _, pr := range wantFrom {
		sendCounts[pr.Peer] = pr.End - pr.Start
	}

	recvCounts, err := c.AllToAll(ctx, sendCounts)
	if err != nil {
		return nil, fmt.Errorf("halo: setup AllToAll failed: %w", err)
	}

	sendDispls := make([]int, size)
	off := 0
	for r := 0; r < size; r++ {
		sendDispls[r] = off
		off += sendCounts[r]
	}
	sendPayload := make([]byte, 8*off)
	for _, pr := range wantFrom {
		vals := extIdx[pr.Start:pr.End]
		copy(sendPayload[8*sendDispls[pr.Peer]:], comm.EncodeInts(vals))
	}
	sendByteCounts := make([]int, size)
	sendByteDispls := make([]int, size)
	recvByteCounts := make([]int, size)
	recvByteDispls := make([]int, size)
	boff := 0
	for r := 0; r < size; r++ {
		sendByteCounts[r] = 8 * sendCounts[r]
		sendByteDispls[r] = 8 * sendDispls[r]
		recvByteCounts[r] = 8 * recvCounts[r]
		recvByteDispls[r] = boff
		boff += recvByteCounts[r]
	}

	recvPayload, err := c.AllToAllv(ctx, sendPayload, sendByteCounts, sendByteDispls, recvByteCounts, recvByteDispls)
	if err != nil {
		return nil, fmt.Errorf("halo: setup AllToAllv failed: %w", err)
	}

	provide := make(map[int][]int)
	ownerBase := inputMap.OwnerBegin(inputMap.Rank())
	for r := 0; r < size; r++ {
		if recvCounts[r] == 0 {
			continue
		}
		globals, err := comm.DecodeInts(recvPayload[recvByteDispls[r] : recvByteDispls[r]+recvByteCounts[r]])
		if err != nil {
			return nil, fmt.Errorf("halo: decoding request from rank %d: %w", r, err)
		}
		locals := make([]int, len(globals))
		for i, g := range globals {
			locals[i] = g - ownerBase
		}
		provide[r] = locals
	}

	return &Exchange[S]{
		inputMap:  inputMap,
		extIdx:    extIdx,
		blockSize: inputMap.BlockSize(),
		c:         c,
		wantFrom:  wantFrom,
		provide:   provide,
	}, nil
}

// groupByOwner scans extIdx (sorted ascending) once, producing
// contiguous [Start,End) runs of positions owned by the same rank.
func groupByOwner(m *indexmap.IndexMap, extIdx []int) []peerRange {
	var groups []peerRange
	start := 0
	for start < len(extIdx) {
		owner := m.Owner(extIdx[start])
		end := start + 1
		for end < len(extIdx) && m.Owner(extIdx[end]) == owner {
			end++
		}
		groups = append(groups, peerRange{Peer: owner, Start: start, End: end})
		start = end
	}
	return groups
}

const (
	tagForward = 100
	tagReverse = 101
)

// BeginForward starts filling extBuf (length b*len(extIdx)) with the
// components of x named by extIdx. It returns immediately; call
// EndForward to block until the transfer completes. Per spec.md §4.4,
// only the diagonal kernel may touch x or the output vector while a
// forward halo is in flight — extBuf itself must not be read until
// EndForward returns.
func (e *Exchange[S]) BeginForward(ctx context.Context, x *distvec.Vector[S], extBuf []S) {
	b := e.blockSize
	eg, ctx := errgroup.WithContext(ctx)
	for peer, locals := range e.provide {
		peer, locals := peer, locals
		eg.Go(func() error {
			payload := make([]S, len(locals)*b)
			for i, li := range locals {
				copy(payload[i*b:(i+1)*b], x.Local()[li*b:(li+1)*b])
			}
			return e.c.Send(ctx, peer, tagForward, distvec.PackScalars(payload))
		})
	}
	for _, pr := range e.wantFrom {
		pr := pr
		eg.Go(func() error {
			buf, err := e.c.Recv(ctx, pr.Peer, tagForward)
			if err != nil {
				return err
			}
			n := pr.End - pr.Start
			vals := distvec.UnpackScalars[S](buf, n*b)
			copy(extBuf[pr.Start*b:pr.End*b], vals)
			return nil
		})
	}
	e.fwd = eg
}

// EndForward blocks until the transfer started by BeginForward
// completes, or returns a *comm.TransportError.
func (e *Exchange[S]) EndForward() error {
	if e.fwd == nil {
		return nil
	}
	err := e.fwd.Wait()
	e.fwd = nil
	return err
}

// BeginReverse starts transferring xExt (length b*len(extIdx)) toward
// the ranks that own the corresponding global input indices. It only
// posts sends and buffers each peer's raw received values — it never
// touches dst. Per spec.md §4.4, only the diagonal transpose kernel
// may write dst while a reverse halo is in flight; the scatter-add
// into dst happens in EndReverse, strictly after the transfer
// completes, exactly as BeginForward/EndForward only ever write to
// the private extBuf and never to a shared vector while in flight.
// combine is always ADD, per spec.md §6 ("combine ∈ {ADD}").
func (e *Exchange[S]) BeginReverse(ctx context.Context, xExt []S, dst *distvec.Vector[S]) {
	b := e.blockSize
	eg, ctx := errgroup.WithContext(ctx)
	for _, pr := range e.wantFrom {
		pr := pr
		eg.Go(func() error {
			payload := xExt[pr.Start*b : pr.End*b]
			return e.c.Send(ctx, pr.Peer, tagReverse, distvec.PackScalars(payload))
		})
	}
	peers := make([]int, 0, len(e.provide))
	for peer := range e.provide {
		peers = append(peers, peer)
	}
	sort.Ints(peers)
	pending := make([][]S, len(peers))
	for idx, peer := range peers {
		idx, peer := idx, peer
		locals := e.provide[peer]
		eg.Go(func() error {
			buf, err := e.c.Recv(ctx, peer, tagReverse)
			if err != nil {
				return err
			}
			pending[idx] = distvec.UnpackScalars[S](buf, len(locals)*b)
			return nil
		})
	}
	e.rev = eg
	e.revPeers = peers
	e.revPending = pending
	e.revDst = dst
}

// EndReverse blocks until the transfer started by BeginReverse
// completes, then scatter-adds every peer's buffered values into dst.
// This ordering — accumulate only after the wait — is what keeps it
// safe for the diagonal transpose kernel to write dst concurrently
// with the transfer itself.
func (e *Exchange[S]) EndReverse() error {
	if e.rev == nil {
		return nil
	}
	err := e.rev.Wait()
	peers, pending, dst := e.revPeers, e.revPending, e.revDst
	e.rev, e.revPeers, e.revPending, e.revDst = nil, nil, nil, nil
	if err != nil {
		return err
	}

	b := e.blockSize
	local := dst.Local()
	for idx, peer := range peers {
		locals := e.provide[peer]
		vals := pending[idx]
		for i, li := range locals {
			for k := 0; k < b; k++ {
				local[li*b+k] += vals[i*b+k]
			}
		}
	}
	return nil
}

// BufferLen returns b*len(extIdx), the required length of the halo
// buffer passed to BeginForward/BeginReverse.
func (e *Exchange[S]) BufferLen() int { return e.blockSize * len(e.extIdx) }
