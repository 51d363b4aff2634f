package expand

import (
	"testing"

	"github.com/notargets/LatticeHalo/comm"
	"github.com/notargets/LatticeHalo/lattice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressRuns(t *testing.T) {
	tests := []struct {
		name      string
		offsets   []int
		bufferIdx int
		want      []CommPackInfo
	}{
		{"empty", nil, 0, nil},
		{"consecutive", []int{5, 6, 7, 8}, 3, []CommPackInfo{{Offset: 5, BufferIdx: 3, Size: 4}}},
		{"gap", []int{1, 2, 4, 5}, 0, []CommPackInfo{
			{Offset: 1, BufferIdx: 0, Size: 2},
			{Offset: 4, BufferIdx: 2, Size: 2},
		}},
		{"descending", []int{3, 2}, 10, []CommPackInfo{
			{Offset: 3, BufferIdx: 10, Size: 1},
			{Offset: 2, BufferIdx: 11, Size: 1},
		}},
		{"repeat", []int{7, 7}, 0, []CommPackInfo{
			{Offset: 7, BufferIdx: 0, Size: 1},
			{Offset: 7, BufferIdx: 1, Size: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompressRuns(tt.offsets, tt.bufferIdx))
		})
	}
}

func TestVerifyPlan(t *testing.T) {
	good := &CommPlan{
		TotalSendSize: 3,
		SendMsgInfos:  []CommMsgInfo{{IDNode: 1, BufferIdx: 0, Size: 3}},
		SendPackInfos: []CommPackInfo{{Offset: 0, BufferIdx: 0, Size: 2}, {Offset: 5, BufferIdx: 2, Size: 1}},
		TotalRecvSize: 1,
		RecvMsgInfos:  []CommMsgInfo{{IDNode: 1, BufferIdx: 0, Size: 1}},
		RecvPackInfos: []CommPackInfo{{Offset: 9, BufferIdx: 0, Size: 1}},
	}
	require.NoError(t, VerifyPlan(good, 10))
	assert.Equal(t, 2, good.Messages())

	assert.Error(t, VerifyPlan(good, 9), "run past the field")

	bad := *good
	bad.TotalSendSize = 4
	assert.Error(t, VerifyPlan(&bad, 10))

	bad = *good
	bad.RecvMsgInfos = []CommMsgInfo{{IDNode: 1, BufferIdx: 1, Size: 1}}
	assert.Error(t, VerifyPlan(&bad, 10))

	bad = *good
	bad.SendPackInfos = []CommPackInfo{{Offset: 0, BufferIdx: 0, Size: 2}}
	assert.Error(t, VerifyPlan(&bad, 10))
}

func TestVerifySymmetry(t *testing.T) {
	plans := []*CommPlan{
		{SendMsgInfos: []CommMsgInfo{{IDNode: 1, Size: 4}}, RecvMsgInfos: []CommMsgInfo{{IDNode: 1, Size: 2}}},
		{SendMsgInfos: []CommMsgInfo{{IDNode: 0, Size: 2}}, RecvMsgInfos: []CommMsgInfo{{IDNode: 0, Size: 4}}},
	}
	require.NoError(t, VerifySymmetry(plans))

	plans[1].RecvMsgInfos[0].Size = 3
	err := VerifySymmetry(plans)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node 0 sends 4 elements to node 1, which expects 3")

	plans[1].RecvMsgInfos = append(plans[1].RecvMsgInfos, CommMsgInfo{IDNode: 2, Size: 1})
	assert.Error(t, VerifySymmetry(plans))
}

// buildPlans builds one plan per node for the given strategy
func buildPlans(t *testing.T, sizeNode, totalSite lattice.Coordinate, mult, expansion int,
	strategy string) []*CommPlan {
	t.Helper()
	s, err := LookupStrategy(strategy)
	require.NoError(t, err)
	plans := make([]*CommPlan, sizeNode.Product())
	runNodes(t, sizeNode, func(n *Node) error {
		geo, err := n.Geometry(totalSite, mult, expansion)
		if err != nil {
			return err
		}
		plan, err := BuildPlan(n, s.Mark(geo, ""))
		if err != nil {
			return err
		}
		if err := VerifyPlan(plan, geo.ElementCount()); err != nil {
			return err
		}
		plans[n.ID()] = plan
		return nil
	})
	return plans
}

func TestBuildPlanSymmetry(t *testing.T) {
	tests := []struct {
		name      string
		sizeNode  lattice.Coordinate
		totalSite lattice.Coordinate
		mult      int
		expansion int
		strategy  string
	}{
		{"2x2x1x1 all", lattice.NewCoordinate(2, 2, 1, 1), lattice.NewCoordinate(8, 8, 4, 4), 1, 1, StrategyAll},
		{"2x2x1x1 face", lattice.NewCoordinate(2, 2, 1, 1), lattice.NewCoordinate(8, 8, 4, 4), 2, 1, StrategyFace},
		{"3x1x1x2 all", lattice.NewCoordinate(3, 1, 1, 2), lattice.NewCoordinate(6, 2, 2, 4), 1, 1, StrategyAll},
		{"2x1x1x1 wide", lattice.NewCoordinate(2, 1, 1, 1), lattice.NewCoordinate(4, 2, 2, 2), 1, 2, StrategyAll},
		{"single node", lattice.Uniform(1), lattice.Uniform(2), 3, 1, StrategyAll},
		{"no halo", lattice.NewCoordinate(2, 2, 1, 1), lattice.NewCoordinate(4, 4, 2, 2), 1, 0, StrategyAll},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plans := buildPlans(t, tt.sizeNode, tt.totalSite, tt.mult, tt.expansion, tt.strategy)
			require.NoError(t, VerifySymmetry(plans))
			if tt.expansion == 0 {
				for _, p := range plans {
					assert.Zero(t, p.TotalSendSize)
					assert.Zero(t, p.TotalRecvSize)
					assert.Zero(t, p.Messages())
				}
			}
		})
	}
}

func TestBuildPlanPeers(t *testing.T) {
	// Each node of a 2x1x1x1 grid with a one site halo needs both x faces
	// from the other node and every other face from itself
	sizeNode := lattice.NewCoordinate(2, 1, 1, 1)
	plans := buildPlans(t, sizeNode, lattice.NewCoordinate(4, 2, 2, 2), 1, 1, StrategyFace)
	for id, p := range plans {
		other := 1 - id
		require.Len(t, p.RecvMsgInfos, 2)
		ids := []int{p.RecvMsgInfos[0].IDNode, p.RecvMsgInfos[1].IDNode}
		assert.ElementsMatch(t, []int{0, 1}, ids)
		for _, m := range p.RecvMsgInfos {
			if m.IDNode == other {
				assert.Equal(t, 2*8, m.Size)
			} else {
				assert.Equal(t, 2*3*8, m.Size)
			}
		}
		// Messages are ordered by node id
		assert.Equal(t, 0, p.SendMsgInfos[0].IDNode)
		assert.Equal(t, 1, p.SendMsgInfos[1].IDNode)
	}
}

func TestBuildPlanCoalescesRuns(t *testing.T) {
	// A t face is fetched from one owner; neighbouring x sites sit next to
	// each other in both the field and the buffer
	sizeNode := lattice.NewCoordinate(1, 1, 1, 2)
	plans := buildPlans(t, sizeNode, lattice.NewCoordinate(2, 2, 2, 4), 3, 1, AxisStrategy(3).ID())
	for _, p := range plans {
		assert.Equal(t, 2*8*3, p.TotalRecvSize)
		assert.Less(t, len(p.RecvPackInfos), p.TotalRecvSize)
		assert.Less(t, len(p.SendPackInfos), p.TotalSendSize)
		for _, r := range p.RecvPackInfos {
			// Multiplicity elements of one site are always merged
			assert.Zero(t, r.Size%3)
		}
	}
}

func TestBuildPlanRejectsMalformedMetadata(t *testing.T) {
	sizeNode := lattice.NewCoordinate(2, 1, 1, 1)
	w := comm.NewLocalWorld(2)
	err := w.Run(func(c comm.Comm) error {
		n, err := NewNode(c, sizeNode)
		if err != nil {
			return err
		}
		if n.ID() == 1 {
			// Announce one request to node 0, then send a short header
			if err := comm.AllReduceInt64(c, []int64{1, 0}); err != nil {
				return err
			}
			return comm.Send(c, 0, tagPlanMeta, make([]byte, 16))
		}
		geo, err := n.Geometry(lattice.NewCoordinate(4, 2, 2, 2), 1, 1)
		if err != nil {
			return err
		}
		_, err = BuildPlan(n, NewCommMarks(geo))
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rank 0 panicked")
	assert.Contains(t, err.Error(), "metadata from node 1 is 16 bytes")
}

func TestNewNodeRejectsMismatchedGrid(t *testing.T) {
	w := comm.NewLocalWorld(3)
	_, err := NewNode(w.Comm(0), lattice.NewCoordinate(2, 1, 1, 1))
	assert.Error(t, err)
}

func TestBuildPlanMatchesReference(t *testing.T) {
	sizeNode := lattice.NewCoordinate(2, 2, 1, 1)
	totalSite := lattice.NewCoordinate(4, 8, 2, 2)
	for _, strategy := range []string{StrategyAll, StrategyFace, StrategyAxis(1)} {
		t.Run(strategy, func(t *testing.T) {
			built := buildPlans(t, sizeNode, totalSite, 2, 1, strategy)

			geos := make([]lattice.Geometry, sizeNode.Product())
			for p := range geos {
				geon, err := lattice.NewGeometryNode(sizeNode, p)
				require.NoError(t, err)
				geo, err := lattice.NewGeometry(geon, totalSite, 2)
				require.NoError(t, err)
				geos[p] = geo.Reform(2, 1)
			}
			s, err := LookupStrategy(strategy)
			require.NoError(t, err)
			reference, err := ReferencePlans(s, "", geos)
			require.NoError(t, err)

			for p := range built {
				assert.Equal(t, reference[p], built[p], "node %d", p)
			}
		})
	}
}
