package expand

import (
	"fmt"
	"sort"

	"github.com/notargets/LatticeHalo/lattice"
)

// CommPackInfo is one contiguous run: Size elements at local Offset map to
// Size elements at BufferIdx of a flat send or receive buffer
type CommPackInfo struct {
	Offset    int
	BufferIdx int
	Size      int
}

// CommMsgInfo is one point-to-point message of Size elements exchanged
// with node IDNode, starting at BufferIdx of the flat buffer
type CommMsgInfo struct {
	IDNode    int
	BufferIdx int
	Size      int
}

// CommPlan is everything a node needs to refresh one marking of one
// geometry: the messages it sends and receives and the runs that move data
// between the field and the flat buffers. Plans are immutable once built.
type CommPlan struct {
	TotalSendSize int
	SendMsgInfos  []CommMsgInfo
	SendPackInfos []CommPackInfo
	TotalRecvSize int
	RecvMsgInfos  []CommMsgInfo
	RecvPackInfos []CommPackInfo
}

// CommPlanKey identifies a plan in the cache
type CommPlanKey struct {
	StrategyID string
	Tag        string
	Geo        lattice.Geometry
}

// InvariantError is the panic value raised when negotiation state is
// inconsistent between nodes or a halo slot cannot be resolved. Neither can
// be recovered without rebuilding on every node.
type InvariantError struct {
	Node int
	Msg  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("node %d: plan invariant violated: %s", e.Node, e.Msg)
}

func invariant(node int, format string, args ...any) {
	panic(&InvariantError{Node: node, Msg: fmt.Sprintf(format, args...)})
}

// CompressRuns turns a list of local offsets, destined for consecutive
// buffer slots starting at bufferIdx, into pack runs. A new offset extends
// the previous run when it directly follows it in both the field and the
// buffer.
func CompressRuns(offsets []int, bufferIdx int) []CommPackInfo {
	var runs []CommPackInfo
	for _, offset := range offsets {
		if n := len(runs); n > 0 {
			last := &runs[n-1]
			if offset == last.Offset+last.Size && bufferIdx == last.BufferIdx+last.Size {
				last.Size++
				bufferIdx++
				continue
			}
		}
		runs = append(runs, CommPackInfo{Offset: offset, BufferIdx: bufferIdx, Size: 1})
		bufferIdx++
	}
	return runs
}

// Messages is the number of point-to-point messages one refresh posts
func (p *CommPlan) Messages() int {
	return len(p.SendMsgInfos) + len(p.RecvMsgInfos)
}

// VerifyPlan checks the per-node sum invariants of a plan and that every run
// stays inside its buffer and inside a field of elementCount elements
func VerifyPlan(p *CommPlan, elementCount int) error {
	check := func(kind string, total int, msgs []CommMsgInfo, packs []CommPackInfo) error {
		sum := 0
		for i, m := range msgs {
			if m.BufferIdx != sum {
				return fmt.Errorf("%s message %d to node %d starts at %d, expected %d",
					kind, i, m.IDNode, m.BufferIdx, sum)
			}
			if m.Size <= 0 {
				return fmt.Errorf("%s message %d to node %d is empty", kind, i, m.IDNode)
			}
			sum += m.Size
		}
		if sum != total {
			return fmt.Errorf("%s messages cover %d elements, total is %d", kind, sum, total)
		}
		sum = 0
		for i, r := range packs {
			if r.Size <= 0 || r.BufferIdx < 0 || r.BufferIdx+r.Size > total {
				return fmt.Errorf("%s run %d %+v outside buffer of %d", kind, i, r, total)
			}
			if r.Offset < 0 || r.Offset+r.Size > elementCount {
				return fmt.Errorf("%s run %d %+v outside field of %d elements", kind, i, r, elementCount)
			}
			sum += r.Size
		}
		if sum != total {
			return fmt.Errorf("%s runs cover %d elements, total is %d", kind, sum, total)
		}
		return nil
	}
	if err := check("send", p.TotalSendSize, p.SendMsgInfos, p.SendPackInfos); err != nil {
		return err
	}
	return check("recv", p.TotalRecvSize, p.RecvMsgInfos, p.RecvPackInfos)
}

// VerifySymmetry checks, given the plans of every node indexed by node id,
// that each node sends to every peer exactly what that peer expects to
// receive from it
func VerifySymmetry(plans []*CommPlan) error {
	numNode := len(plans)
	sends := make(map[[2]int]int)
	recvs := make(map[[2]int]int)
	for id, p := range plans {
		for _, m := range p.SendMsgInfos {
			if m.IDNode < 0 || m.IDNode >= numNode {
				return fmt.Errorf("node %d sends to unknown node %d", id, m.IDNode)
			}
			sends[[2]int{id, m.IDNode}] += m.Size
		}
		for _, m := range p.RecvMsgInfos {
			if m.IDNode < 0 || m.IDNode >= numNode {
				return fmt.Errorf("node %d receives from unknown node %d", id, m.IDNode)
			}
			recvs[[2]int{m.IDNode, id}] += m.Size
		}
	}
	pairs := make([][2]int, 0, len(sends)+len(recvs))
	for pair := range sends {
		pairs = append(pairs, pair)
	}
	for pair := range recvs {
		if _, ok := sends[pair]; !ok {
			pairs = append(pairs, pair)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	for _, pair := range pairs {
		if sends[pair] != recvs[pair] {
			return fmt.Errorf("node %d sends %d elements to node %d, which expects %d",
				pair[0], sends[pair], pair[1], recvs[pair])
		}
	}
	return nil
}
