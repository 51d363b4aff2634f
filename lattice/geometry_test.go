package lattice

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGeometry(t *testing.T, sizeNode Coordinate, idNode int, totalSite Coordinate,
	multiplicity, expansion int) Geometry {
	t.Helper()
	geon, err := NewGeometryNode(sizeNode, idNode)
	require.NoError(t, err)
	geo, err := NewGeometry(geon, totalSite, multiplicity)
	require.NoError(t, err)
	return geo.Reform(multiplicity, expansion)
}

func TestNewGeometryNode(t *testing.T) {
	geon, err := NewGeometryNode(NewCoordinate(2, 2, 1, 1), 3)
	require.NoError(t, err)
	assert.Equal(t, 4, geon.NumNode)
	assert.Equal(t, NewCoordinate(1, 1, 0, 0), geon.CoorNode)
	assert.Equal(t, 3, geon.IDNodeFromCoorNode(geon.CoorNode))
	assert.Equal(t, 0, geon.IDNodeFromCoorNode(NewCoordinate(2, -2, 0, 0)))

	_, err = NewGeometryNode(NewCoordinate(2, 2, 1, 1), 4)
	assert.Error(t, err)
	_, err = NewGeometryNode(NewCoordinate(2, 0, 1, 1), 0)
	assert.Error(t, err)
}

func TestNodeNeighbors(t *testing.T) {
	geon, err := NewGeometryNode(NewCoordinate(3, 2, 1, 1), 0)
	require.NoError(t, err)
	nb := geon.Neighbors()

	// +x of (0,0) is (1,0) = 1, -x wraps to (2,0) = 2
	assert.Equal(t, 1, nb.Dest[0][0])
	assert.Equal(t, 2, nb.Dest[1][0])
	// y has two nodes, both directions reach (0,1) = 3
	assert.Equal(t, 3, nb.Dest[0][1])
	assert.Equal(t, 3, nb.Dest[1][1])
	// single node axes point back at self
	assert.Equal(t, 0, nb.Dest[0][2])
	assert.Equal(t, 0, nb.Dest[1][3])
}

func TestNewGeometry(t *testing.T) {
	geon, err := NewGeometryNode(NewCoordinate(2, 2, 1, 1), 1)
	require.NoError(t, err)

	geo, err := NewGeometry(geon, NewCoordinate(8, 8, 4, 4), 3)
	require.NoError(t, err)
	assert.Equal(t, NewCoordinate(4, 4, 4, 4), geo.NodeSite)
	assert.Equal(t, NewCoordinate(8, 8, 4, 4), geo.TotalSite())
	assert.Equal(t, 256, geo.LocalVolume())
	assert.Equal(t, 256, geo.LocalVolumeExpanded())

	geo1 := geo.Reform(3, 1)
	assert.Equal(t, 6*6*6*6, geo1.LocalVolumeExpanded())
	assert.Equal(t, 6*6*6*6*3, geo1.ElementCount())
	assert.NotEqual(t, geo, geo1)
	assert.Equal(t, geo1, geo.Resize(Uniform(1), Uniform(1)))

	_, err = NewGeometry(geon, NewCoordinate(7, 8, 4, 4), 1)
	assert.Error(t, err)
	_, err = NewGeometry(geon, NewCoordinate(8, 8, 4, 4), 0)
	assert.Error(t, err)
}

func TestGeometryOffsetBijection(t *testing.T) {
	geo := testGeometry(t, NewCoordinate(2, 1, 1, 1), 0, NewCoordinate(8, 3, 2, 2), 2, 1)
	geo = geo.Resize(NewCoordinate(1, 0, 2, 1), NewCoordinate(2, 1, 0, 1))

	seen := make(map[Coordinate]bool)
	for offset := 0; offset < geo.ElementCount(); offset += geo.Multiplicity {
		xl := geo.CoordinateFromOffset(offset)
		if !geo.IsOnNode(xl) {
			t.Fatalf("offset %d decoded to off-node coordinate %v", offset, xl)
		}
		if seen[xl] {
			t.Fatalf("coordinate %v decoded twice", xl)
		}
		seen[xl] = true
		if got := geo.OffsetFromCoordinate(xl); got != offset {
			t.Fatalf("offset %d -> %v -> %d", offset, xl, got)
		}
		// Components of one site share a coordinate
		for m := 1; m < geo.Multiplicity; m++ {
			assert.Equal(t, xl, geo.CoordinateFromOffset(offset+m))
		}
	}
	assert.Equal(t, geo.LocalVolumeExpanded(), len(seen))

	for index := 0; index < geo.LocalVolume(); index++ {
		xl := geo.CoordinateFromIndex(index)
		require.True(t, geo.IsLocal(xl))
		require.Equal(t, index, geo.IndexFromCoordinate(xl))
	}
}

func TestGeometryGlobalMapping(t *testing.T) {
	// Node (1,0,0,0) in a 2x2x1x1 grid of 4^4 sub-lattices
	geo := testGeometry(t, NewCoordinate(2, 2, 1, 1), 1, NewCoordinate(8, 8, 4, 4), 1, 1)

	xl := NewCoordinate(0, 1, 1, 1)
	xg := geo.CoordinateGFromL(xl)
	assert.Equal(t, NewCoordinate(4, 1, 1, 1), xg)
	assert.Equal(t, xl, geo.CoordinateLFromG(xg))

	// One past the upper x boundary wraps to global x = 0, owned by node 0
	gOffset, idNode := geo.GOffsetIDNodeFromOffset(geo.OffsetFromCoordinate(NewCoordinate(4, 1, 1, 1)))
	assert.Equal(t, 0, idNode)
	assert.Equal(t, IndexFromCoordinate(NewCoordinate(0, 1, 1, 1), geo.TotalSite()), gOffset)

	// Below zero in z is owned by this node through the periodic wrap
	_, idNode = geo.GOffsetIDNodeFromOffset(geo.OffsetFromCoordinate(NewCoordinate(0, 0, -1, 0)))
	assert.Equal(t, 1, idNode)
}

func TestOffsetFromGOffset(t *testing.T) {
	geo := testGeometry(t, NewCoordinate(2, 2, 1, 1), 0, NewCoordinate(8, 8, 4, 4), 2, 1)
	totalSite := geo.TotalSite()

	tests := []struct {
		name string
		xg   Coordinate
		want Coordinate
	}{
		{"interior", NewCoordinate(1, 2, 3, 0), NewCoordinate(1, 2, 3, 0)},
		{"right halo", NewCoordinate(4, 1, 1, 1), NewCoordinate(4, 1, 1, 1)},
		{"left halo wraps", NewCoordinate(7, 0, 0, 0), NewCoordinate(-1, 0, 0, 0)},
		{"single node axis", NewCoordinate(0, 0, 3, 0), NewCoordinate(0, 0, 3, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gOffset := IndexFromCoordinate(tt.xg, totalSite)*geo.Multiplicity + 1
			offset, err := geo.OffsetFromGOffset(gOffset)
			require.NoError(t, err)
			assert.Equal(t, geo.OffsetFromCoordinate(tt.want)+1, offset)
		})
	}

	// x = 6 is two sites left of node 0 and the halo is only one deep
	gOffset := IndexFromCoordinate(NewCoordinate(6, 0, 0, 0), totalSite) * geo.Multiplicity
	_, err := geo.OffsetFromGOffset(gOffset)
	if !errors.Is(err, ErrHaloTooSmall) {
		t.Fatalf("expected ErrHaloTooSmall, got %v", err)
	}
}

func TestOwnerDisplacement(t *testing.T) {
	geo := testGeometry(t, NewCoordinate(2, 2, 1, 1), 0, NewCoordinate(8, 8, 4, 4), 1, 2)

	disp, pos := geo.OwnerDisplacement(NewCoordinate(-1, 4, 2, 5))
	assert.Equal(t, NewCoordinate(-1, 1, 0, 1), disp)
	assert.Equal(t, NewCoordinate(3, 0, 2, 1), pos)

	disp, pos = geo.OwnerDisplacement(NewCoordinate(1, 2, 3, 0))
	assert.True(t, disp.IsZero())
	assert.Equal(t, NewCoordinate(1, 2, 3, 0), pos)
}
