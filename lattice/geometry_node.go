package lattice

import (
	"fmt"
	"sort"
)

// GeometryNode describes this process's position in the Cartesian node grid.
// It is built once at startup by the bootstrap and never modified; pass it
// by value or pointer to everything that needs it.
type GeometryNode struct {
	NumNode  int        // NumNode = SizeNode.Product()
	IDNode   int        // 0 <= IDNode < NumNode
	SizeNode Coordinate // Nodes along each axis
	CoorNode Coordinate // 0 <= CoorNode[mu] < SizeNode[mu]
}

// NewGeometryNode builds the node description for rank idNode in a
// periodic grid of sizeNode nodes
func NewGeometryNode(sizeNode Coordinate, idNode int) (GeometryNode, error) {
	for mu, s := range sizeNode {
		if s < 1 {
			return GeometryNode{}, fmt.Errorf("size_node[%d] = %d, must be positive", mu, s)
		}
	}
	numNode := sizeNode.Product()
	if idNode < 0 || idNode >= numNode {
		return GeometryNode{}, fmt.Errorf("id_node %d out of range [0, %d)", idNode, numNode)
	}
	geon := GeometryNode{
		NumNode:  numNode,
		IDNode:   idNode,
		SizeNode: sizeNode,
		CoorNode: CoordinateFromIndex(idNode, sizeNode),
	}
	if err := geon.Validate(); err != nil {
		return GeometryNode{}, err
	}
	return geon, nil
}

// SingleNode is the trivial one-process topology
func SingleNode() GeometryNode {
	return GeometryNode{
		NumNode:  1,
		IDNode:   0,
		SizeNode: Uniform(1),
	}
}

// Validate checks the internal consistency of the node description
func (geon GeometryNode) Validate() error {
	if geon.SizeNode.Product() != geon.NumNode {
		return fmt.Errorf("num_node %d != product of size_node %v", geon.NumNode, geon.SizeNode)
	}
	if geon.IDNode < 0 || geon.IDNode >= geon.NumNode {
		return fmt.Errorf("id_node %d out of range [0, %d)", geon.IDNode, geon.NumNode)
	}
	for mu := 0; mu < DIMN; mu++ {
		if geon.CoorNode[mu] < 0 || geon.CoorNode[mu] >= geon.SizeNode[mu] {
			return fmt.Errorf("coor_node %v outside size_node %v", geon.CoorNode, geon.SizeNode)
		}
	}
	if IndexFromCoordinate(geon.CoorNode, geon.SizeNode) != geon.IDNode {
		return fmt.Errorf("coor_node %v does not linearize to id_node %d", geon.CoorNode, geon.IDNode)
	}
	return nil
}

// IDNodeFromCoorNode returns the rank at a (possibly out of range) node
// coordinate, wrapping periodically
func (geon GeometryNode) IDNodeFromCoorNode(coorNode Coordinate) int {
	return IndexFromCoordinate(coorNode.Regularize(geon.SizeNode), geon.SizeNode)
}

// CoorNodeFromIDNode is the inverse of IDNodeFromCoorNode
func (geon GeometryNode) CoorNodeFromIDNode(idNode int) Coordinate {
	return CoordinateFromIndex(idNode, geon.SizeNode)
}

func (geon GeometryNode) String() string {
	return fmt.Sprintf("{num_node=%d id_node=%d size_node=%v coor_node=%v}",
		geon.NumNode, geon.IDNode, geon.SizeNode, geon.CoorNode)
}

// NodeNeighbor holds the nearest neighbor ranks of a node.
// Dest[0][mu] is the +1 neighbor along mu, Dest[1][mu] the -1 neighbor.
type NodeNeighbor struct {
	Dest [2][DIMN]int
}

// Neighbors computes the periodic nearest neighbors of geon
func (geon GeometryNode) Neighbors() NodeNeighbor {
	var nb NodeNeighbor
	for mu := 0; mu < DIMN; mu++ {
		coor := geon.CoorNode
		coor[mu]++
		nb.Dest[0][mu] = geon.IDNodeFromCoorNode(coor)
		coor = geon.CoorNode
		coor[mu]--
		nb.Dest[1][mu] = geon.IDNodeFromCoorNode(coor)
	}
	return nb
}

// PlanSizeNode chooses a balanced 4-d node grid for numNode processes.
// Prime factors are assigned largest first to the currently smallest axis;
// the result is sorted non-increasing.
func PlanSizeNode(numNode int) Coordinate {
	if numNode < 1 {
		panic(fmt.Sprintf("cannot plan a topology for %d nodes", numNode))
	}
	var factors []int
	n := numNode
	for p := 2; p*p <= n; p++ {
		for n%p == 0 {
			factors = append(factors, p)
			n /= p
		}
	}
	if n > 1 {
		factors = append(factors, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(factors)))

	dims := []int{1, 1, 1, 1}
	for _, f := range factors {
		smallest := 0
		for mu := 1; mu < DIMN; mu++ {
			if dims[mu] < dims[smallest] {
				smallest = mu
			}
		}
		dims[smallest] *= f
	}
	sort.Sort(sort.Reverse(sort.IntSlice(dims)))
	return Coordinate{dims[0], dims[1], dims[2], dims[3]}
}
