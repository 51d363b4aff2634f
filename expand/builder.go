package expand

import (
	"fmt"
	"sort"
	"time"

	"github.com/notargets/LatticeHalo/comm"
)

// Message tags of the halo exchange
const (
	tagPlanMeta    = 8
	tagPlanOffsets = 9
	tagPlanData    = 10
	tagDirectData  = 11
)

const metaBytes = 3 * 8

// demand is what this node needs from one owner: the global offsets it asks
// for and, in the same order, the local halo offsets they land in
type demand struct {
	gOffsets []int64
	offsets  []int
}

// BuildPlan negotiates the communication plan for marks with every other
// node. It is collective: all nodes of n.Comm must call it at the same
// point, each with its own marking of the same kind.
//
// Every node only knows what it needs. The demand is grouped by owning node,
// a sum-reduction tells each node how many peers will ask it for data, the
// peers announce their request sizes and then send the global offsets they
// want. Both sides turn their offset lists into coalesced pack runs.
//
// Transport failures are returned. An inconsistent negotiation or a
// requested site this node cannot resolve panics with *InvariantError.
func BuildPlan(n *Node, marks *CommMarks) (*CommPlan, error) {
	start := time.Now()
	geo := marks.Geo
	me := n.ID()
	numNode := n.Geon.NumNode
	c := n.Comm

	// Round 1: group local demand by owner and count requesters per node
	demands := make(map[int]*demand)
	for offset, v := range marks.Data {
		if v == 0 || geo.IsLocal(geo.CoordinateFromOffset(offset)) {
			continue
		}
		gOffset, owner := geo.GOffsetIDNodeFromOffset(offset)
		if owner < 0 || owner >= numNode {
			invariant(me, "offset %d resolves to node %d outside [0, %d)", offset, owner, numNode)
		}
		d, ok := demands[owner]
		if !ok {
			d = &demand{}
			demands[owner] = d
		}
		d.gOffsets = append(d.gOffsets, int64(gOffset))
		d.offsets = append(d.offsets, offset)
	}
	owners := sortedKeys(demands)

	plan := &CommPlan{}
	peerCounts := make([]int64, numNode)
	for _, owner := range owners {
		size := len(demands[owner].offsets)
		plan.RecvMsgInfos = append(plan.RecvMsgInfos, CommMsgInfo{
			IDNode:    owner,
			BufferIdx: plan.TotalRecvSize,
			Size:      size,
		})
		plan.TotalRecvSize += size
		peerCounts[owner]++
	}
	if err := comm.AllReduceInt64(c, peerCounts); err != nil {
		return nil, fmt.Errorf("node %d: plan demand reduction: %w", me, err)
	}
	numRequesters := int(peerCounts[me])

	// Round 2: announce request sizes, learn who asks this node for what
	sreqs := make([]*comm.Request, 0, len(owners))
	for _, owner := range owners {
		meta := []int64{int64(me), 0, int64(len(demands[owner].offsets))}
		sreqs = append(sreqs, c.Isend(owner, tagPlanMeta, comm.AsBytes(meta)))
	}
	requested := make(map[int][]int64, numRequesters)
	for i := 0; i < numRequesters; i++ {
		meta := make([]int64, 3)
		st, err := comm.Recv(c, comm.AnySource, tagPlanMeta, comm.AsBytes(meta))
		if err != nil {
			return nil, fmt.Errorf("node %d: plan metadata receive: %w", me, err)
		}
		id, size := int(meta[0]), int(meta[2])
		switch {
		case st.Count != metaBytes:
			invariant(me, "metadata from node %d is %d bytes", st.Source, st.Count)
		case id != st.Source:
			invariant(me, "metadata from node %d claims to be from node %d", st.Source, id)
		case size <= 0:
			invariant(me, "node %d requests %d elements", id, size)
		}
		if _, dup := requested[id]; dup {
			invariant(me, "node %d announced its request twice", id)
		}
		requested[id] = make([]int64, size)
	}
	if err := comm.WaitAll(sreqs); err != nil {
		return nil, fmt.Errorf("node %d: plan metadata send: %w", me, err)
	}

	// Round 3: ship global offset lists
	sreqs = sreqs[:0]
	for _, owner := range owners {
		sreqs = append(sreqs, c.Isend(owner, tagPlanOffsets, comm.AsBytes(demands[owner].gOffsets)))
	}
	requesters := sortedKeys(requested)
	rreqs := make([]*comm.Request, 0, len(requesters))
	for _, id := range requesters {
		gOffsets := requested[id]
		plan.SendMsgInfos = append(plan.SendMsgInfos, CommMsgInfo{
			IDNode:    id,
			BufferIdx: plan.TotalSendSize,
			Size:      len(gOffsets),
		})
		plan.TotalSendSize += len(gOffsets)
		rreqs = append(rreqs, c.Irecv(id, tagPlanOffsets, comm.AsBytes(gOffsets)))
	}
	for k, r := range rreqs {
		st, err := r.Wait()
		if err != nil {
			return nil, fmt.Errorf("node %d: plan offsets from node %d: %w", me, requesters[k], err)
		}
		if want := len(requested[requesters[k]]) * 8; st.Count != want {
			invariant(me, "node %d sent %d offset bytes, announced %d", requesters[k], st.Count, want)
		}
	}
	if err := comm.WaitAll(sreqs); err != nil {
		return nil, fmt.Errorf("node %d: plan offsets send: %w", me, err)
	}

	// Receive side runs: the halo offsets were recorded with the demand
	for k, owner := range owners {
		msg := plan.RecvMsgInfos[k]
		runs := CompressRuns(demands[owner].offsets, msg.BufferIdx)
		if covered := runLength(runs); covered != msg.Size {
			invariant(me, "recv runs for node %d cover %d elements, message has %d", owner, covered, msg.Size)
		}
		plan.RecvPackInfos = append(plan.RecvPackInfos, runs...)
	}

	// Send side runs: resolve what the requesters asked for in our layout
	for k, id := range requesters {
		msg := plan.SendMsgInfos[k]
		gOffsets := requested[id]
		offsets := make([]int, len(gOffsets))
		for i, gOffset := range gOffsets {
			offset, err := geo.OffsetFromGOffset(int(gOffset))
			if err != nil {
				invariant(me, "node %d requested global offset %d: %v", id, gOffset, err)
			}
			if !geo.IsLocal(geo.CoordinateFromOffset(offset)) {
				invariant(me, "node %d requested global offset %d, which this node does not own", id, gOffset)
			}
			offsets[i] = offset
		}
		runs := CompressRuns(offsets, msg.BufferIdx)
		if covered := runLength(runs); covered != msg.Size {
			invariant(me, "send runs for node %d cover %d elements, message has %d", id, covered, msg.Size)
		}
		plan.SendPackInfos = append(plan.SendPackInfos, runs...)
	}

	elapsed := time.Since(start)
	n.Metrics.recordBuild(me, elapsed)
	n.Log.Debug().
		Int("send_elems", plan.TotalSendSize).
		Int("recv_elems", plan.TotalRecvSize).
		Int("send_peers", len(plan.SendMsgInfos)).
		Int("recv_peers", len(plan.RecvMsgInfos)).
		Int("send_runs", len(plan.SendPackInfos)).
		Int("recv_runs", len(plan.RecvPackInfos)).
		Dur("elapsed", elapsed).
		Msg("built communication plan")
	return plan, nil
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func runLength(runs []CommPackInfo) int {
	n := 0
	for _, r := range runs {
		n += r.Size
	}
	return n
}
