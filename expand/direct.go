package expand

import (
	"fmt"
	"sort"

	"github.com/notargets/LatticeHalo/comm"
	"github.com/notargets/LatticeHalo/field"
	"github.com/notargets/LatticeHalo/lattice"
)

// DirectRefresher fills the halo without a negotiated plan. Halo sites are
// grouped by the displacement of their owner in node units; each group is
// sent to the node at coor-disp and received from the node at coor+disp.
// Every node holds the same geometry, so both sides agree on the groups.
//
// With Axis set to mu only groups displaced along mu alone are exchanged,
// which fills exactly the slots of the "axis-mu" marking. Axis -1 fills the
// whole halo.
type DirectRefresher[M any] struct {
	Node *Node
	Axis int
}

func NewDirectRefresher[M any](n *Node, axis int) (*DirectRefresher[M], error) {
	if axis < -1 || axis >= lattice.DIMN {
		return nil, fmt.Errorf("direct refresh axis %d out of range [-1, %d)", axis, lattice.DIMN)
	}
	return &DirectRefresher[M]{Node: n, Axis: axis}, nil
}

type directGroup struct {
	disp  lattice.Coordinate
	halo  []lattice.Coordinate // Halo sites on this node
	owned []lattice.Coordinate // Matching interior sites on the owner
}

func (r *DirectRefresher[M]) groups(geo lattice.Geometry) []*directGroup {
	byDisp := make(map[lattice.Coordinate]*directGroup)
	for index := 0; index < geo.LocalVolumeExpanded(); index++ {
		xl := geo.CoordinateFromOffset(index * geo.Multiplicity)
		if geo.IsLocal(xl) {
			continue
		}
		disp, pos := geo.OwnerDisplacement(xl)
		if r.Axis >= 0 && !onAxis(disp, r.Axis) {
			continue
		}
		g, ok := byDisp[disp]
		if !ok {
			g = &directGroup{disp: disp}
			byDisp[disp] = g
		}
		g.halo = append(g.halo, xl)
		g.owned = append(g.owned, pos)
	}
	groups := make([]*directGroup, 0, len(byDisp))
	for _, g := range byDisp {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].disp.Less(groups[j].disp)
	})
	return groups
}

// Refresh exchanges one message per displacement group. Groups are handled
// in the same order on every node and messages between a pair of nodes are
// delivered in order, so a single tag serves all groups.
func (r *DirectRefresher[M]) Refresh(f *field.Field[M]) error {
	n := r.Node
	geo := f.Geo
	if geo.Node != n.Geon {
		return fmt.Errorf("geometry of node %d used on node %d", geo.Node.IDNode, n.ID())
	}
	c := n.Comm
	mult := geo.Multiplicity
	elemSize := comm.SizeOf[M]()
	sizeNode := n.Geon.SizeNode
	sent, received := 0, 0

	for _, g := range r.groups(geo) {
		send := make([]M, len(g.owned)*mult)
		for i, pos := range g.owned {
			copy(send[i*mult:(i+1)*mult], f.ElemsAt(pos))
		}
		to := n.Geon.IDNodeFromCoorNode(n.Geon.CoorNode.Sub(g.disp).Regularize(sizeNode))
		from := n.Geon.IDNodeFromCoorNode(n.Geon.CoorNode.Add(g.disp).Regularize(sizeNode))

		recv := make([]M, len(send))
		sreq := c.Isend(to, tagDirectData, comm.AsBytes(send))
		st, err := comm.Recv(c, from, tagDirectData, comm.AsBytes(recv))
		if err != nil {
			return fmt.Errorf("node %d: direct refresh %v from node %d: %w", n.ID(), g.disp, from, err)
		}
		if st.Count != len(recv)*elemSize {
			return fmt.Errorf("node %d: direct refresh %v received %d bytes from node %d, expected %d",
				n.ID(), g.disp, st.Count, from, len(recv)*elemSize)
		}
		if _, err := sreq.Wait(); err != nil {
			return fmt.Errorf("node %d: direct refresh %v to node %d: %w", n.ID(), g.disp, to, err)
		}

		for i, xl := range g.halo {
			copy(f.ElemsAt(xl), recv[i*mult:(i+1)*mult])
		}
		sent += len(send) * elemSize
		received += len(recv) * elemSize
	}
	n.Metrics.recordRefresh(n.ID(), "direct", sent, received)
	return nil
}
