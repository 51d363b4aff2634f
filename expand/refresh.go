package expand

import (
	"fmt"

	"github.com/notargets/LatticeHalo/comm"
	"github.com/notargets/LatticeHalo/field"
)

// Refresher fills the halo of a field from the owning nodes. Refresh is
// collective over the node's transport.
type Refresher[M any] interface {
	Refresh(f *field.Field[M]) error
}

// PlanRefresher refreshes the halo slots selected by Strategy using a
// negotiated, cached communication plan
type PlanRefresher[M any] struct {
	Node     *Node
	Strategy MarkStrategy
	Tag      string
	Packer   Packer[M] // HostPacker when nil
}

// NewPlanRefresher looks up strategyID in the registry
func NewPlanRefresher[M any](n *Node, strategyID, tag string) (*PlanRefresher[M], error) {
	s, err := LookupStrategy(strategyID)
	if err != nil {
		return nil, err
	}
	return &PlanRefresher[M]{Node: n, Strategy: s, Tag: tag}, nil
}

func (r *PlanRefresher[M]) Refresh(f *field.Field[M]) error {
	plan, err := r.Node.Plan(r.Strategy, r.Tag, f.Geo)
	if err != nil {
		return err
	}
	return RefreshWithPlan(r.Node, f, plan, r.Packer)
}

// RefreshWithPlan executes plan on f: pack, exchange, unpack. The exchange
// is bracketed by barriers. A nil packer selects HostPacker.
func RefreshWithPlan[M any](n *Node, f *field.Field[M], plan *CommPlan, packer Packer[M]) error {
	if packer == nil {
		packer = HostPacker[M]{}
	}
	c := n.Comm
	sendBuf := make([]M, plan.TotalSendSize)
	recvBuf := make([]M, plan.TotalRecvSize)
	if err := packer.Pack(sendBuf, f.Data, plan.SendPackInfos); err != nil {
		return fmt.Errorf("node %d: %w", n.ID(), err)
	}

	if err := comm.Barrier(c); err != nil {
		return fmt.Errorf("node %d: refresh: %w", n.ID(), err)
	}
	elemSize := comm.SizeOf[M]()
	rreqs := make([]*comm.Request, len(plan.RecvMsgInfos))
	for i, m := range plan.RecvMsgInfos {
		rreqs[i] = c.Irecv(m.IDNode, tagPlanData, comm.AsBytes(recvBuf[m.BufferIdx:m.BufferIdx+m.Size]))
	}
	sreqs := make([]*comm.Request, len(plan.SendMsgInfos))
	for i, m := range plan.SendMsgInfos {
		sreqs[i] = c.Isend(m.IDNode, tagPlanData, comm.AsBytes(sendBuf[m.BufferIdx:m.BufferIdx+m.Size]))
	}
	for i, r := range rreqs {
		st, err := r.Wait()
		if err != nil {
			return fmt.Errorf("node %d: refresh receive from node %d: %w", n.ID(), plan.RecvMsgInfos[i].IDNode, err)
		}
		if want := plan.RecvMsgInfos[i].Size * elemSize; st.Count != want {
			return fmt.Errorf("node %d: refresh received %d bytes from node %d, expected %d",
				n.ID(), st.Count, st.Source, want)
		}
	}
	if err := comm.WaitAll(sreqs); err != nil {
		return fmt.Errorf("node %d: refresh send: %w", n.ID(), err)
	}
	if err := comm.Barrier(c); err != nil {
		return fmt.Errorf("node %d: refresh: %w", n.ID(), err)
	}

	if err := packer.Unpack(f.Data, recvBuf, plan.RecvPackInfos); err != nil {
		return fmt.Errorf("node %d: %w", n.ID(), err)
	}
	n.Metrics.recordRefresh(n.ID(), "plan", plan.TotalSendSize*elemSize, plan.TotalRecvSize*elemSize)
	return nil
}
