package expand

import (
	"testing"

	"github.com/notargets/LatticeHalo/lattice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinStrategiesRegistered(t *testing.T) {
	ids := Strategies()
	assert.Equal(t, []string{"all", "axis-0", "axis-1", "axis-2", "axis-3", "face"}, ids)

	s, err := LookupStrategy(StrategyFace)
	require.NoError(t, err)
	assert.Equal(t, "face", s.ID())

	_, err = LookupStrategy("nearest-3")
	assert.Error(t, err)
}

func TestRegisterStrategy(t *testing.T) {
	custom := MarkFunc("test-corner", func(geo lattice.Geometry, tag string) *CommMarks {
		marks := NewCommMarks(geo)
		marks.MarkSite(geo.NodeSite)
		return marks
	})
	require.NoError(t, RegisterStrategy(custom))
	t.Cleanup(func() {
		registry.Lock()
		delete(registry.strategies, "test-corner")
		registry.Unlock()
	})
	assert.Error(t, RegisterStrategy(custom))
	assert.Error(t, RegisterStrategy(MarkFunc("", nil)))

	s, err := LookupStrategy("test-corner")
	require.NoError(t, err)
	geo := singleGeometry(t, lattice.Uniform(2), 3, 1)
	assert.Equal(t, 3, s.Mark(geo, "").Count())
}

func TestMarkAll(t *testing.T) {
	geo := singleGeometry(t, lattice.Uniform(2), 2, 1)
	marks := markAll(geo, "ignored")
	// 4^4 expanded sites, 2^4 interior
	assert.Equal(t, (256-16)*2, marks.Count())
	assert.Equal(t, int8(0), marks.Elem(lattice.NewCoordinate(1, 1, 0, 0), 1))
	assert.Equal(t, int8(1), marks.Elem(lattice.NewCoordinate(-1, 2, 0, 0), 1))

	assert.Zero(t, markAll(geo.Reform(2, 0), "").Count())
}

func TestMarkFace(t *testing.T) {
	geo := singleGeometry(t, lattice.NewCoordinate(4, 2, 2, 2), 1, 1)
	marks := markFace(geo, "")
	// Two faces per axis, each the product of the other three extents
	assert.Equal(t, 2*(8+16+16+16), marks.Count())
	assert.Equal(t, int8(1), marks.Elem(lattice.NewCoordinate(4, 0, 1, 1), 0))
	assert.Equal(t, int8(1), marks.Elem(lattice.NewCoordinate(0, -1, 1, 1), 0))
	// Edges and corners are not one axis step away from the interior
	assert.Equal(t, int8(0), marks.Elem(lattice.NewCoordinate(-1, -1, 0, 0), 0))

	wide := markFace(geo.Reform(1, 2), "")
	assert.Equal(t, 2*(8+16+16+16), wide.Count())
	assert.Equal(t, int8(0), wide.Elem(lattice.NewCoordinate(-2, 0, 0, 0), 0))
}

func TestMarkAxis(t *testing.T) {
	geo := singleGeometry(t, lattice.NewCoordinate(4, 2, 2, 2), 3, 1)
	marks := AxisStrategy(0).Mark(geo, "")
	assert.Equal(t, 2*8*3, marks.Count())
	assert.Equal(t, int8(1), marks.Elem(lattice.NewCoordinate(-1, 0, 1, 1), 2))
	assert.Equal(t, int8(0), marks.Elem(lattice.NewCoordinate(0, -1, 1, 1), 2))

	// With a halo of 2 the slots two steps out along the axis are included
	wide := AxisStrategy(1).Mark(geo.Reform(1, 2), "")
	assert.Equal(t, 4*16, wide.Count())

	assert.Panics(t, func() { AxisStrategy(4) })
}

func TestOnAxis(t *testing.T) {
	assert.True(t, onAxis(lattice.NewCoordinate(0, -1, 0, 0), 1))
	assert.True(t, onAxis(lattice.NewCoordinate(0, 2, 0, 0), 1))
	assert.False(t, onAxis(lattice.NewCoordinate(0, 0, 0, 0), 1))
	assert.False(t, onAxis(lattice.NewCoordinate(1, 1, 0, 0), 1))
	assert.False(t, onAxis(lattice.NewCoordinate(1, 0, 0, 0), 1))
}
