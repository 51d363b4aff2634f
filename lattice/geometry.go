package lattice

import (
	"errors"
	"fmt"
)

// ErrHaloTooSmall is returned when a global coordinate has no on-node
// representative; the halo margin does not reach far enough.
var ErrHaloTooSmall = errors.New("global coordinate not reachable from this node's expanded region")

// Geometry describes the local sub-lattice of one node and its halo.
//
// Storage layout: the expanded extent NodeSite+ExpansionLeft+ExpansionRight
// is linearized x-fastest, and each site stores Multiplicity consecutive
// elements. An element offset is therefore siteIndex*Multiplicity + m.
//
// Geometry is a comparable value; == is a full structural comparison.
type Geometry struct {
	Node           GeometryNode
	NodeSite       Coordinate // Interior extent owned by this node
	ExpansionLeft  Coordinate // Halo depth below 0 on each axis
	ExpansionRight Coordinate // Halo depth above NodeSite on each axis
	Multiplicity   int        // Elements stored per site
}

// NewGeometry splits totalSite evenly over the node grid of geon.
// The geometry starts without halo.
func NewGeometry(geon GeometryNode, totalSite Coordinate, multiplicity int) (Geometry, error) {
	if err := geon.Validate(); err != nil {
		return Geometry{}, fmt.Errorf("invalid geometry node: %w", err)
	}
	if multiplicity < 1 {
		return Geometry{}, fmt.Errorf("multiplicity %d must be positive", multiplicity)
	}
	var nodeSite Coordinate
	for mu := 0; mu < DIMN; mu++ {
		if totalSite[mu] < 1 || totalSite[mu]%geon.SizeNode[mu] != 0 {
			return Geometry{}, fmt.Errorf("total_site[%d] = %d not divisible by size_node[%d] = %d",
				mu, totalSite[mu], mu, geon.SizeNode[mu])
		}
		nodeSite[mu] = totalSite[mu] / geon.SizeNode[mu]
	}
	return Geometry{
		Node:         geon,
		NodeSite:     nodeSite,
		Multiplicity: multiplicity,
	}, nil
}

// Resize returns a copy of geo with new halo margins
func (geo Geometry) Resize(left, right Coordinate) Geometry {
	for mu := 0; mu < DIMN; mu++ {
		if left[mu] < 0 || right[mu] < 0 {
			panic(fmt.Sprintf("negative expansion left=%v right=%v", left, right))
		}
	}
	geo.ExpansionLeft = left
	geo.ExpansionRight = right
	return geo
}

// Reform returns a copy of geo with a new multiplicity and a uniform halo
// of depth expansion on every side
func (geo Geometry) Reform(multiplicity, expansion int) Geometry {
	if multiplicity < 1 {
		panic(fmt.Sprintf("multiplicity %d must be positive", multiplicity))
	}
	geo.Multiplicity = multiplicity
	return geo.Resize(Uniform(expansion), Uniform(expansion))
}

// TotalSite is the global lattice extent
func (geo Geometry) TotalSite() Coordinate {
	return geo.NodeSite.Mul(geo.Node.SizeNode)
}

// NodeSiteExpanded is the local extent including both halo margins
func (geo Geometry) NodeSiteExpanded() Coordinate {
	return geo.NodeSite.Add(geo.ExpansionLeft).Add(geo.ExpansionRight)
}

func (geo Geometry) LocalVolume() int {
	return geo.NodeSite.Product()
}

func (geo Geometry) LocalVolumeExpanded() int {
	return geo.NodeSiteExpanded().Product()
}

// ElementCount is the number of stored elements, LocalVolumeExpanded*Multiplicity
func (geo Geometry) ElementCount() int {
	return geo.LocalVolumeExpanded() * geo.Multiplicity
}

// IsLocal reports whether xl is an interior (owned) site
func (geo Geometry) IsLocal(xl Coordinate) bool {
	for mu := 0; mu < DIMN; mu++ {
		if xl[mu] < 0 || xl[mu] >= geo.NodeSite[mu] {
			return false
		}
	}
	return true
}

// IsOnNode reports whether xl is stored on this node, interior or halo
func (geo Geometry) IsOnNode(xl Coordinate) bool {
	for mu := 0; mu < DIMN; mu++ {
		if xl[mu] < -geo.ExpansionLeft[mu] || xl[mu] >= geo.NodeSite[mu]+geo.ExpansionRight[mu] {
			return false
		}
	}
	return true
}

// OffsetFromCoordinate returns the element offset of component 0 at xl
func (geo Geometry) OffsetFromCoordinate(xl Coordinate) int {
	xe := xl.Add(geo.ExpansionLeft)
	return IndexFromCoordinate(xe, geo.NodeSiteExpanded()) * geo.Multiplicity
}

// CoordinateFromOffset returns the local coordinate of the site holding
// element offset
func (geo Geometry) CoordinateFromOffset(offset int) Coordinate {
	xe := CoordinateFromIndex(offset/geo.Multiplicity, geo.NodeSiteExpanded())
	return xe.Sub(geo.ExpansionLeft)
}

// IndexFromCoordinate linearizes an interior coordinate over NodeSite
func (geo Geometry) IndexFromCoordinate(xl Coordinate) int {
	return IndexFromCoordinate(xl, geo.NodeSite)
}

// CoordinateFromIndex maps an interior site index to its local coordinate
func (geo Geometry) CoordinateFromIndex(index int) Coordinate {
	return CoordinateFromIndex(index, geo.NodeSite)
}

// CoordinateGFromL converts a local coordinate to a global one, without
// periodic folding
func (geo Geometry) CoordinateGFromL(xl Coordinate) Coordinate {
	return xl.Add(geo.Node.CoorNode.Mul(geo.NodeSite))
}

// CoordinateLFromG converts a global coordinate to this node's local frame,
// without periodic folding
func (geo Geometry) CoordinateLFromG(xg Coordinate) Coordinate {
	return xg.Sub(geo.Node.CoorNode.Mul(geo.NodeSite))
}

// GOffsetIDNodeFromOffset resolves a local element offset to its global
// element offset and the id of the node that owns the site
func (geo Geometry) GOffsetIDNodeFromOffset(offset int) (gOffset, idNode int) {
	totalSite := geo.TotalSite()
	xl := geo.CoordinateFromOffset(offset)
	xg := geo.CoordinateGFromL(xl).Regularize(totalSite)
	coorNode := xg.Div(geo.NodeSite)
	idNode = IndexFromCoordinate(coorNode, geo.Node.SizeNode)
	gOffset = IndexFromCoordinate(xg, totalSite)*geo.Multiplicity + offset%geo.Multiplicity
	return gOffset, idNode
}

// OffsetFromGOffset resolves a global element offset to this node's local
// element offset. The global coordinate is folded by whole periods until it
// lands in the expanded range. ErrHaloTooSmall is returned if no image
// is on node.
func (geo Geometry) OffsetFromGOffset(gOffset int) (int, error) {
	totalSite := geo.TotalSite()
	xg := CoordinateFromIndex(gOffset/geo.Multiplicity, totalSite)
	xl := geo.CoordinateLFromG(xg).Regularize(totalSite)
	for mu := 0; mu < DIMN; mu++ {
		for xl[mu] >= geo.NodeSite[mu]+geo.ExpansionRight[mu] {
			xl[mu] -= totalSite[mu]
		}
		for xl[mu] < -geo.ExpansionLeft[mu] {
			xl[mu] += totalSite[mu]
		}
	}
	if !geo.IsOnNode(xl) {
		return 0, fmt.Errorf("global offset %d (site %v) on node %d: %w",
			gOffset, xg, geo.Node.IDNode, ErrHaloTooSmall)
	}
	return geo.OffsetFromCoordinate(xl) + gOffset%geo.Multiplicity, nil
}

// OwnerDisplacement returns, for an on-node coordinate, the owning node's
// offset from this node in node units and the site's coordinate within the
// owner's interior
func (geo Geometry) OwnerDisplacement(xl Coordinate) (disp, localPos Coordinate) {
	for mu := 0; mu < DIMN; mu++ {
		localPos[mu] = xl[mu] % geo.NodeSite[mu]
		disp[mu] = xl[mu] / geo.NodeSite[mu]
		if localPos[mu] < 0 {
			localPos[mu] += geo.NodeSite[mu]
			disp[mu]--
		}
	}
	return disp, localPos
}

func (geo Geometry) String() string {
	return fmt.Sprintf("{node=%v node_site=%v expansion_left=%v expansion_right=%v multiplicity=%d}",
		geo.Node, geo.NodeSite, geo.ExpansionLeft, geo.ExpansionRight, geo.Multiplicity)
}
