package utils

import (
	"fmt"

	"github.com/notargets/LatticeHalo/lattice"
)

// HaloConnector computes pick and place indices for every node at once from
// global knowledge of all node geometries and markings. It needs no
// communication and serves as a reference for the negotiated plans.
type HaloConnector struct {
	NumNodes int

	// Input
	Geos  []lattice.Geometry // Geos[p] is the geometry of node p
	Marks [][]int8           // Marks[p] flags the halo elements node p fetches

	// Pick/Place indices per node pair
	PickIndices  [][]PickBuffer  // [sourceNode][targetNode]
	PlaceIndices [][]PlaceBuffer // [targetNode][sourceNode]
}

// PickBuffer contains the source node's element offsets to gather for a target
type PickBuffer struct {
	Indices    []int // Local element offsets on the source node
	TargetNode int
}

// PlaceBuffer contains the target node's halo offsets to scatter into
type PlaceBuffer struct {
	Indices    []int // Local halo element offsets on the target node
	SourceNode int
}

// NewHaloConnector creates a connector for the given per-node geometries and
// markings, both indexed by node id
func NewHaloConnector(geos []lattice.Geometry, marks [][]int8) (*HaloConnector, error) {
	// Validate inputs
	if len(geos) == 0 {
		return nil, fmt.Errorf("no node geometries")
	}
	if len(marks) != len(geos) {
		return nil, fmt.Errorf("%d markings for %d nodes", len(marks), len(geos))
	}
	for p, geo := range geos {
		if geo.Node.IDNode != p || geo.Node.NumNode != len(geos) {
			return nil, fmt.Errorf("geometry %d belongs to node %d of %d", p, geo.Node.IDNode, geo.Node.NumNode)
		}
		if len(marks[p]) != geo.ElementCount() {
			return nil, fmt.Errorf("marks of node %d hold %d elements, geometry has %d",
				p, len(marks[p]), geo.ElementCount())
		}
	}

	hc := &HaloConnector{
		NumNodes: len(geos),
		Geos:     geos,
		Marks:    marks,
	}

	// Initialize pick/place buffers
	hc.initializeBuffers()

	// Build indices
	if err := hc.BuildIndices(); err != nil {
		return nil, err
	}

	return hc, nil
}

// initializeBuffers creates empty pick and place buffer structures
func (hc *HaloConnector) initializeBuffers() {
	hc.PickIndices = make([][]PickBuffer, hc.NumNodes)
	hc.PlaceIndices = make([][]PlaceBuffer, hc.NumNodes)

	for p := 0; p < hc.NumNodes; p++ {
		hc.PickIndices[p] = make([]PickBuffer, hc.NumNodes)
		hc.PlaceIndices[p] = make([]PlaceBuffer, hc.NumNodes)

		for q := 0; q < hc.NumNodes; q++ {
			hc.PickIndices[p][q] = PickBuffer{TargetNode: q}
			hc.PlaceIndices[p][q] = PlaceBuffer{SourceNode: q}
		}
	}
}

// BuildIndices constructs pick and place indices for all nodes. Indices
// appear in ascending halo offset order of the target node.
func (hc *HaloConnector) BuildIndices() error {
	// Process each target node
	for p := 0; p < hc.NumNodes; p++ {
		geo := hc.Geos[p]

		// Process each marked halo element
		for offset, mark := range hc.Marks[p] {
			if mark == 0 || geo.IsLocal(geo.CoordinateFromOffset(offset)) {
				continue
			}

			// Which node owns it, and where is it stored there?
			gOffset, source := geo.GOffsetIDNodeFromOffset(offset)
			if source < 0 || source >= hc.NumNodes {
				return fmt.Errorf("node %d offset %d resolves to node %d", p, offset, source)
			}
			sourceOffset, err := hc.Geos[source].OffsetFromGOffset(gOffset)
			if err != nil {
				return fmt.Errorf("node %d offset %d: %w", p, offset, err)
			}

			// Source node sends this element to p
			hc.PickIndices[source][p].Indices = append(hc.PickIndices[source][p].Indices, sourceOffset)

			// Node p places the received value at its halo offset
			hc.PlaceIndices[p][source].Indices = append(hc.PlaceIndices[p][source].Indices, offset)
		}
	}

	return nil
}

// GetPickIndices returns pick indices for sending from source to target node
func (hc *HaloConnector) GetPickIndices(sourceNode, targetNode int) []int {
	if sourceNode < 0 || sourceNode >= hc.NumNodes ||
		targetNode < 0 || targetNode >= hc.NumNodes {
		return nil
	}
	return hc.PickIndices[sourceNode][targetNode].Indices
}

// GetPlaceIndices returns place indices for target node receiving from source
func (hc *HaloConnector) GetPlaceIndices(targetNode, sourceNode int) []int {
	if targetNode < 0 || targetNode >= hc.NumNodes ||
		sourceNode < 0 || sourceNode >= hc.NumNodes {
		return nil
	}
	return hc.PlaceIndices[targetNode][sourceNode].Indices
}

// Verify checks index validity and conservation properties
func (hc *HaloConnector) Verify() error {
	// Verify 1: Local validity - every pick is an interior element of its source
	for p := 0; p < hc.NumNodes; p++ {
		geo := hc.Geos[p]
		for q := 0; q < hc.NumNodes; q++ {
			for _, idx := range hc.PickIndices[p][q].Indices {
				if idx < 0 || idx >= geo.ElementCount() || !geo.IsLocal(geo.CoordinateFromOffset(idx)) {
					return fmt.Errorf("invalid pick index %d for node %d", idx, p)
				}
			}
		}
	}

	// Verify 2: Correspondence - pick and place arrays have same length
	for p := 0; p < hc.NumNodes; p++ {
		for q := 0; q < hc.NumNodes; q++ {
			pickLen := len(hc.PickIndices[p][q].Indices)
			placeLen := len(hc.PlaceIndices[q][p].Indices)
			if pickLen != placeLen {
				return fmt.Errorf("length mismatch: pick[%d][%d]=%d, place[%d][%d]=%d",
					p, q, pickLen, q, p, placeLen)
			}
		}
	}

	// Verify 3: Conservation - total picks equal the marked halo elements
	totalPicks := 0
	for p := 0; p < hc.NumNodes; p++ {
		for q := 0; q < hc.NumNodes; q++ {
			totalPicks += len(hc.PickIndices[p][q].Indices)
		}
	}

	totalMarked := 0
	for p := 0; p < hc.NumNodes; p++ {
		geo := hc.Geos[p]
		for offset, mark := range hc.Marks[p] {
			if mark != 0 && !geo.IsLocal(geo.CoordinateFromOffset(offset)) {
				totalMarked++
			}
		}
	}

	if totalPicks != totalMarked {
		return fmt.Errorf("conservation error: total picks %d != marked halo elements %d",
			totalPicks, totalMarked)
	}

	return nil
}
