package utils

import (
	"fmt"
	"testing"

	"github.com/notargets/LatticeHalo/lattice"
)

// Helper function to build every node's geometry for a node grid
func buildGeometries(t *testing.T, sizeNode, totalSite lattice.Coordinate, mult, expansion int) []lattice.Geometry {
	t.Helper()
	geos := make([]lattice.Geometry, sizeNode.Product())
	for p := range geos {
		geon, err := lattice.NewGeometryNode(sizeNode, p)
		if err != nil {
			t.Fatalf("Failed to create node %d: %v", p, err)
		}
		geo, err := lattice.NewGeometry(geon, totalSite, mult)
		if err != nil {
			t.Fatalf("Failed to create geometry %d: %v", p, err)
		}
		geos[p] = geo.Reform(mult, expansion)
	}
	return geos
}

// Helper function to mark every halo element
func markHalo(geos []lattice.Geometry) [][]int8 {
	marks := make([][]int8, len(geos))
	for p, geo := range geos {
		marks[p] = make([]int8, geo.ElementCount())
		for offset := range marks[p] {
			if !geo.IsLocal(geo.CoordinateFromOffset(offset)) {
				marks[p][offset] = 1
			}
		}
	}
	return marks
}

// Helper function to simulate halo data exchange
func simulateHaloExchange(hc *HaloConnector, fields [][]float64) error {
	// Phase 1: Pick - gather from each source field
	pickBuffers := make([][][]float64, hc.NumNodes)
	for p := 0; p < hc.NumNodes; p++ {
		pickBuffers[p] = make([][]float64, hc.NumNodes)
		for q := 0; q < hc.NumNodes; q++ {
			pickIndices := hc.GetPickIndices(p, q)
			pickBuffers[p][q] = make([]float64, len(pickIndices))
			for i, idx := range pickIndices {
				if idx >= len(fields[p]) {
					return fmt.Errorf("pick index %d out of bounds for node %d", idx, p)
				}
				pickBuffers[p][q][i] = fields[p][idx]
			}
		}
	}

	// Phase 2: Place - scatter pick buffers of q into the halo of p
	for p := 0; p < hc.NumNodes; p++ {
		for q := 0; q < hc.NumNodes; q++ {
			placeIndices := hc.GetPlaceIndices(p, q)
			for i, idx := range placeIndices {
				if idx >= len(fields[p]) {
					return fmt.Errorf("place index %d out of bounds for node %d", idx, p)
				}
				fields[p][idx] = pickBuffers[q][p][i]
			}
		}
	}
	return nil
}

func TestHaloConnector_2x2Grid(t *testing.T) {
	sizeNode := lattice.NewCoordinate(2, 2, 1, 1)
	totalSite := lattice.NewCoordinate(4, 4, 2, 2)
	geos := buildGeometries(t, sizeNode, totalSite, 2, 1)

	hc, err := NewHaloConnector(geos, markHalo(geos))
	if err != nil {
		t.Fatalf("Failed to create HaloConnector: %v", err)
	}
	if err := hc.Verify(); err != nil {
		t.Fatalf("Verification failed: %v", err)
	}

	// Fill interiors with the global element index, halos with -1
	fields := make([][]float64, len(geos))
	for p, geo := range geos {
		fields[p] = make([]float64, geo.ElementCount())
		for offset := range fields[p] {
			xl := geo.CoordinateFromOffset(offset)
			if geo.IsLocal(xl) {
				gOffset, _ := geo.GOffsetIDNodeFromOffset(offset)
				fields[p][offset] = float64(gOffset)
			} else {
				fields[p][offset] = -1
			}
		}
	}

	if err := simulateHaloExchange(hc, fields); err != nil {
		t.Fatalf("Failed to simulate halo exchange: %v", err)
	}

	// Every slot, interior or halo, now holds its own global element index
	for p, geo := range geos {
		for offset, v := range fields[p] {
			gOffset, _ := geo.GOffsetIDNodeFromOffset(offset)
			if v != float64(gOffset) {
				t.Fatalf("Node %d offset %d (%v): got %v, expected %d",
					p, offset, geo.CoordinateFromOffset(offset), v, gOffset)
			}
		}
	}
}

func TestHaloConnector_SelfNeighbors(t *testing.T) {
	// With one node along an axis the halo along that axis is picked from
	// the node itself
	sizeNode := lattice.NewCoordinate(2, 1, 1, 1)
	geos := buildGeometries(t, sizeNode, lattice.NewCoordinate(4, 2, 2, 2), 1, 1)
	hc, err := NewHaloConnector(geos, markHalo(geos))
	if err != nil {
		t.Fatalf("Failed to create HaloConnector: %v", err)
	}

	// 4^4 expanded sites, 2^4 interior; x faces and all mixed corners whose
	// x is interior come from self
	haloSites := 256 - 16
	fromOther := len(hc.GetPlaceIndices(0, 1))
	fromSelf := len(hc.GetPlaceIndices(0, 0))
	if fromOther+fromSelf != haloSites {
		t.Errorf("Expected %d halo elements, got %d+%d", haloSites, fromOther, fromSelf)
	}
	// x in {-1, 2} is owned by the other node: 2 * 4^3 sites
	if fromOther != 128 {
		t.Errorf("Expected 128 elements from node 1, got %d", fromOther)
	}
	if len(hc.GetPickIndices(0, 0)) != fromSelf {
		t.Errorf("Self pick and place lengths differ")
	}
	if hc.GetPickIndices(0, 2) != nil || hc.GetPlaceIndices(-1, 0) != nil {
		t.Errorf("Out of range nodes should return nil")
	}
}

func TestHaloConnector_Validation(t *testing.T) {
	geos := buildGeometries(t, lattice.NewCoordinate(2, 1, 1, 1), lattice.NewCoordinate(4, 2, 2, 2), 1, 1)
	marks := markHalo(geos)

	if _, err := NewHaloConnector(nil, nil); err == nil {
		t.Errorf("Expected error for empty input")
	}
	if _, err := NewHaloConnector(geos, marks[:1]); err == nil {
		t.Errorf("Expected error for missing marks")
	}
	if _, err := NewHaloConnector([]lattice.Geometry{geos[1], geos[0]}, marks); err == nil {
		t.Errorf("Expected error for misordered geometries")
	}
	short := [][]int8{marks[0][:10], marks[1]}
	if _, err := NewHaloConnector(geos, short); err == nil {
		t.Errorf("Expected error for short marks")
	}

	hc, err := NewHaloConnector(geos, marks)
	if err != nil {
		t.Fatalf("Failed to create HaloConnector: %v", err)
	}
	hc.PlaceIndices[1][0].Indices = hc.PlaceIndices[1][0].Indices[1:]
	if err := hc.Verify(); err == nil {
		t.Errorf("Expected correspondence error")
	}
}
