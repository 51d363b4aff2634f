package expand

import (
	"github.com/notargets/LatticeHalo/lattice"
	"github.com/notargets/LatticeHalo/utils"
)

// ReferencePlans computes the plans of all nodes in one process from the
// geometries of every node, without negotiation. For the same strategy and
// tag the result equals what BuildPlan produces on each node, which makes
// it a cross-check for the distributed protocol.
func ReferencePlans(s MarkStrategy, tag string, geos []lattice.Geometry) ([]*CommPlan, error) {
	marks := make([][]int8, len(geos))
	for p, geo := range geos {
		marks[p] = s.Mark(geo, tag).Data
	}
	hc, err := utils.NewHaloConnector(geos, marks)
	if err != nil {
		return nil, err
	}
	if err := hc.Verify(); err != nil {
		return nil, err
	}

	plans := make([]*CommPlan, hc.NumNodes)
	for p := range plans {
		plan := &CommPlan{}
		for q := 0; q < hc.NumNodes; q++ {
			if place := hc.GetPlaceIndices(p, q); len(place) > 0 {
				plan.RecvMsgInfos = append(plan.RecvMsgInfos, CommMsgInfo{IDNode: q, BufferIdx: plan.TotalRecvSize, Size: len(place)})
				plan.RecvPackInfos = append(plan.RecvPackInfos, CompressRuns(place, plan.TotalRecvSize)...)
				plan.TotalRecvSize += len(place)
			}
			if pick := hc.GetPickIndices(p, q); len(pick) > 0 {
				plan.SendMsgInfos = append(plan.SendMsgInfos, CommMsgInfo{IDNode: q, BufferIdx: plan.TotalSendSize, Size: len(pick)})
				plan.SendPackInfos = append(plan.SendPackInfos, CompressRuns(pick, plan.TotalSendSize)...)
				plan.TotalSendSize += len(pick)
			}
		}
		plans[p] = plan
	}
	return plans, nil
}
