package interp

import (
	"context"

	"github.com/notargets/interp/comm"
	"github.com/notargets/interp/distvec"
	"github.com/notargets/interp/indexmap"
)

// byteTables turns per-rank element counts into the byte-oriented
// count/displacement tables comm.Communicator.AllToAllv expects, for
// an element of elemSize bytes.
func byteTables(sendCounts, recvCounts []int, elemSize int) (sendByteCounts, sendByteDispls, recvByteCounts, recvByteDispls []int) {
	size := len(sendCounts)
	sendByteCounts = make([]int, size)
	sendByteDispls = make([]int, size)
	recvByteCounts = make([]int, size)
	recvByteDispls = make([]int, size)
	so, ro := 0, 0
	for r := 0; r < size; r++ {
		sendByteCounts[r] = sendCounts[r] * elemSize
		sendByteDispls[r] = so
		so += sendByteCounts[r]
		recvByteCounts[r] = recvCounts[r] * elemSize
		recvByteDispls[r] = ro
		ro += recvByteCounts[r]
	}
	return
}

// redistribute implements finalize's phase A, spec.md §4.2: every row
// staged remotely is routed to the rank owning its outGlobal via one
// AllToAll of row counts followed by four AllToAllv transfers
// (outGlobal, per-row fan-in, inGlobal, weight). The returned
// rowStore holds the rows this rank received, already filtered of any
// row whose outGlobal turns out not to be locally owned (§4.2,
// "defensive policy").
//
// Grounded on partitions.PartitionBuilder's offset/displacement
// bookkeeping (partition_builder.go), generalised from mesh-element
// buffers to interpolation-row buffers.
func redistribute[S Scalar](ctx context.Context, remote *rowStore[S], outMap *indexmap.IndexMap, c comm.Communicator) (*rowStore[S], error) {
	size := c.Size()
	nRows := remote.numRows()

	dest := make([]int, nRows)
	rowSendCounts := make([]int, size)
	entrySendCounts := make([]int, size)
	for i := 0; i < nRows; i++ {
		d := outMap.Owner(remote.outGlobal[i])
		dest[i] = d
		rowSendCounts[d]++
		entrySendCounts[d] += remote.rowPtr[i+1] - remote.rowPtr[i]
	}

	// Reorder the remote staging buffer via a temporary copy so rows
	// destined for the same rank become contiguous (§4.2 step 2), a
	// counting sort keyed by destination rank.
	rowDispl := make([]int, size)
	off := 0
	for r := 0; r < size; r++ {
		rowDispl[r] = off
		off += rowSendCounts[r]
	}
	rowCursor := append([]int(nil), rowDispl...)
	order := make([]int, nRows)
	for i := 0; i < nRows; i++ {
		d := dest[i]
		order[rowCursor[d]] = i
		rowCursor[d]++
	}

	entryDispl := make([]int, size)
	off = 0
	for r := 0; r < size; r++ {
		entryDispl[r] = off
		off += entrySendCounts[r]
	}
	totalEntries := off
	entryCursor := append([]int(nil), entryDispl...)

	sendOutGlobal := make([]int, nRows)
	sendFanin := make([]int, nRows)
	sendInGlobal := make([]int, totalEntries)
	sendWeight := make([]S, totalEntries)

	for pos, i := range order {
		sendOutGlobal[pos] = remote.outGlobal[i]
		in, w := remote.entries(i)
		fanin := len(in)
		sendFanin[pos] = fanin
		d := dest[i]
		start := entryCursor[d]
		copy(sendInGlobal[start:start+fanin], in)
		copy(sendWeight[start:start+fanin], w)
		entryCursor[d] += fanin
	}

	rowRecvCounts, err := c.AllToAll(ctx, rowSendCounts)
	if err != nil {
		return nil, err
	}

	rSendByteCounts, rSendByteDispls, rRecvByteCounts, rRecvByteDispls := byteTables(rowSendCounts, rowRecvCounts, 8)

	outGlobalBuf, err := c.AllToAllv(ctx, comm.EncodeInts(sendOutGlobal), rSendByteCounts, rSendByteDispls, rRecvByteCounts, rRecvByteDispls)
	if err != nil {
		return nil, err
	}
	faninBuf, err := c.AllToAllv(ctx, comm.EncodeInts(sendFanin), rSendByteCounts, rSendByteDispls, rRecvByteCounts, rRecvByteDispls)
	if err != nil {
		return nil, err
	}

	recvOutGlobal, err := comm.DecodeInts(outGlobalBuf)
	if err != nil {
		return nil, err
	}
	recvFanin, err := comm.DecodeInts(faninBuf)
	if err != nil {
		return nil, err
	}

	// The sender already knows entrySendCounts; the receiver must
	// derive its entry counts from the fan-in array it just received,
	// grouped by which rank each row came from.
	entryRecvCounts := make([]int, size)
	pos := 0
	for r := 0; r < size; r++ {
		for i := 0; i < rowRecvCounts[r]; i++ {
			entryRecvCounts[r] += recvFanin[pos]
			pos++
		}
	}

	eSendByteCounts, eSendByteDispls, eRecvByteCounts, eRecvByteDispls := byteTables(entrySendCounts, entryRecvCounts, 8)
	inGlobalBuf, err := c.AllToAllv(ctx, comm.EncodeInts(sendInGlobal), eSendByteCounts, eSendByteDispls, eRecvByteCounts, eRecvByteDispls)
	if err != nil {
		return nil, err
	}
	recvInGlobal, err := comm.DecodeInts(inGlobalBuf)
	if err != nil {
		return nil, err
	}

	elemSize := distvec.ScalarSize[S]()
	wSendByteCounts, wSendByteDispls, wRecvByteCounts, wRecvByteDispls := byteTables(entrySendCounts, entryRecvCounts, elemSize)
	weightBuf, err := c.AllToAllv(ctx, distvec.PackScalars(sendWeight), wSendByteCounts, wSendByteDispls, wRecvByteCounts, wRecvByteDispls)
	if err != nil {
		return nil, err
	}
	totalRecv := 0
	for _, n := range entryRecvCounts {
		totalRecv += n
	}
	recvWeight := distvec.UnpackScalars[S](weightBuf, totalRecv)

	incoming := newRowStore[S]()
	entryOff := 0
	for i, g := range recvOutGlobal {
		fanin := recvFanin[i]
		in := recvInGlobal[entryOff : entryOff+fanin]
		w := recvWeight[entryOff : entryOff+fanin]
		entryOff += fanin
		if outMap.Owner(g) != outMap.Rank() {
			logRoutingAnomaly("received redistributed row for outGlobal %d, not owned by rank %d; discarding", g, outMap.Rank())
			continue
		}
		incoming.addRow(g, in, w)
	}
	return incoming, nil
}
