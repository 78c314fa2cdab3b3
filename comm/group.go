// Package comm provides the in-process message-passing collaborator
// that stands in for a real MPI communicator. spec.md treats the
// message layer as an external system ("Wire format is whatever the
// underlying message layer provides; the operator imposes no
// additional framing") — the example pack carries no real MPI
// binding, so Group implements the same collective shapes
// (all-to-all, all-to-all-v, point-to-point) with one goroutine per
// rank and buffered channels.
package comm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// TransportError wraps a failure reported by the message layer. Per
// spec.md §7 it is always fatal. It is returned only on the rank where
// the failure occurred; the other ranks of the Group are not notified.
type TransportError struct {
	Rank int
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("comm: transport error on rank %d: %v", e.Rank, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// endpoint is one rank's private view of a Group: its inbox channels,
// keyed by (peer, tag).
type endpoint struct {
	rank  int
	inbox map[int]chan message
	mu    sync.Mutex
}

type message struct {
	from int
	tag  int
	data []byte
}

// Group is a fixed-size set of in-process ranks that can run
// collectives against each other. It is created once via NewGroup and
// handed out per rank via Rank(); all ranks must call into their
// collectives in the same order (the same requirement a real MPI
// communicator has).
type Group struct {
	size      int
	endpoints []*endpoint
	barrierMu sync.Mutex
	barrierN  int
	barrierC  chan struct{}
}

// NewGroup creates size in-process ranks. Call Rank(r) to obtain the
// Communicator for rank r.
func NewGroup(size int) *Group {
	if size < 1 {
		panic("comm: group size must be >= 1")
	}
	g := &Group{size: size, endpoints: make([]*endpoint, size)}
	for r := 0; r < size; r++ {
		g.endpoints[r] = &endpoint{rank: r, inbox: make(map[int]chan message)}
	}
	g.barrierC = make(chan struct{})
	return g
}

func (g *Group) chanFor(dst, src, tag int) chan message {
	ep := g.endpoints[dst]
	key := src*1_000_003 + tag
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ch, ok := ep.inbox[key]
	if !ok {
		ch = make(chan message, 1)
		ep.inbox[key] = ch
	}
	return ch
}

// Communicator is the capability spec.md's "message layer" must
// provide; interp and halo program against this interface so a host
// could substitute a real MPI binding without touching either
// package.
type Communicator interface {
	Rank() int
	Size() int
	Barrier(ctx context.Context) error
	Send(ctx context.Context, dest, tag int, buf []byte) error
	Recv(ctx context.Context, src, tag int) ([]byte, error)
	AllToAllv(ctx context.Context, sendBuf []byte, sendCounts, sendDispls []int,
		recvCounts, recvDispls []int) ([]byte, error)
	AllToAll(ctx context.Context, sendCounts []int) (recvCounts []int, err error)
}

// rankHandle is the Communicator implementation bound to one rank of
// a Group.
type rankHandle struct {
	g    *Group
	rank int
}

// Rank returns the Communicator for rank r of the group.
func (g *Group) Rank(r int) Communicator {
	if r < 0 || r >= g.size {
		panic("comm: rank out of range")
	}
	return &rankHandle{g: g, rank: r}
}

func (h *rankHandle) Rank() int { return h.rank }
func (h *rankHandle) Size() int { return h.g.size }

func (h *rankHandle) Send(ctx context.Context, dest, tag int, buf []byte) error {
	if dest < 0 || dest >= h.g.size {
		return &TransportError{Rank: h.rank, Err: fmt.Errorf("send to out-of-range rank %d", dest)}
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	ch := h.g.chanFor(dest, h.rank, tag)
	select {
	case ch <- message{from: h.rank, tag: tag, data: cp}:
		return nil
	case <-ctx.Done():
		return &TransportError{Rank: h.rank, Err: ctx.Err()}
	}
}

func (h *rankHandle) Recv(ctx context.Context, src, tag int) ([]byte, error) {
	if src < 0 || src >= h.g.size {
		return nil, &TransportError{Rank: h.rank, Err: fmt.Errorf("recv from out-of-range rank %d", src)}
	}
	ch := h.g.chanFor(h.rank, src, tag)
	select {
	case m := <-ch:
		return m.data, nil
	case <-ctx.Done():
		return nil, &TransportError{Rank: h.rank, Err: ctx.Err()}
	}
}

// Barrier blocks until every rank in the group has called Barrier.
func (h *rankHandle) Barrier(ctx context.Context) error {
	g := h.g
	g.barrierMu.Lock()
	c := g.barrierC
	g.barrierN++
	last := g.barrierN == g.size
	if last {
		g.barrierN = 0
		g.barrierC = make(chan struct{})
	}
	g.barrierMu.Unlock()

	if last {
		close(c)
		return nil
	}
	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return &TransportError{Rank: h.rank, Err: ctx.Err()}
	}
}

// AllToAll exchanges one int count per (sender, receiver) pair: after
// the call, recvCounts[r] holds the count rank r sent to this rank.
// Implemented as P point-to-point sends run under an errgroup so a
// single transport failure fails the whole collective.
func (h *rankHandle) AllToAll(ctx context.Context, sendCounts []int) ([]int, error) {
	if len(sendCounts) != h.g.size {
		return nil, &TransportError{Rank: h.rank, Err: fmt.Errorf("AllToAll: sendCounts length %d != group size %d", len(sendCounts), h.g.size)}
	}
	eg, ctx := errgroup.WithContext(ctx)
	for peer := 0; peer < h.g.size; peer++ {
		peer := peer
		eg.Go(func() error {
			buf := encodeInts([]int{sendCounts[peer]})
			return h.Send(ctx, peer, tagAllToAllCounts, buf)
		})
	}
	recvCounts := make([]int, h.g.size)
	for peer := 0; peer < h.g.size; peer++ {
		peer := peer
		eg.Go(func() error {
			buf, err := h.Recv(ctx, peer, tagAllToAllCounts)
			if err != nil {
				return err
			}
			vals, err := decodeInts(buf)
			if err != nil {
				return &TransportError{Rank: h.rank, Err: err}
			}
			recvCounts[peer] = vals[0]
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return recvCounts, nil
}

// AllToAllv scatters sendBuf, sliced per peer by sendCounts/sendDispls
// (in bytes), and gathers the peers' contributions into a buffer laid
// out by recvCounts/recvDispls (in bytes). Every rank must already
// know recvCounts (typically from a prior AllToAll of counts), per
// spec.md §4.2 step 3.
func (h *rankHandle) AllToAllv(ctx context.Context, sendBuf []byte, sendCounts, sendDispls []int,
	recvCounts, recvDispls []int) ([]byte, error) {

	size := h.g.size
	if len(sendCounts) != size || len(sendDispls) != size || len(recvCounts) != size || len(recvDispls) != size {
		return nil, &TransportError{Rank: h.rank, Err: fmt.Errorf("AllToAllv: count/displacement tables must have length %d", size)}
	}

	total := 0
	for _, c := range recvCounts {
		total += c
	}
	recvBuf := make([]byte, total)

	eg, ctx := errgroup.WithContext(ctx)
	for peer := 0; peer < size; peer++ {
		peer := peer
		if sendCounts[peer] == 0 {
			continue
		}
		start, end := sendDispls[peer], sendDispls[peer]+sendCounts[peer]
		payload := sendBuf[start:end]
		eg.Go(func() error {
			return h.Send(ctx, peer, tagAllToAllv, payload)
		})
	}
	for peer := 0; peer < size; peer++ {
		peer := peer
		if recvCounts[peer] == 0 {
			continue
		}
		eg.Go(func() error {
			buf, err := h.Recv(ctx, peer, tagAllToAllv)
			if err != nil {
				return err
			}
			if len(buf) != recvCounts[peer] {
				return &TransportError{Rank: h.rank, Err: fmt.Errorf("AllToAllv: expected %d bytes from rank %d, got %d", recvCounts[peer], peer, len(buf))}
			}
			copy(recvBuf[recvDispls[peer]:recvDispls[peer]+recvCounts[peer]], buf)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return recvBuf, nil
}

const (
	tagAllToAllCounts = 1
	tagAllToAllv      = 2
)
