package expand

import (
	"testing"

	"github.com/notargets/LatticeHalo/comm"
	"github.com/notargets/LatticeHalo/field"
	"github.com/notargets/LatticeHalo/lattice"
	"github.com/stretchr/testify/require"
)

func singleGeometry(t *testing.T, totalSite lattice.Coordinate, mult, expansion int) lattice.Geometry {
	t.Helper()
	geo, err := lattice.NewGeometry(lattice.SingleNode(), totalSite, mult)
	require.NoError(t, err)
	return geo.Reform(mult, expansion)
}

// runNodes drives one Node per rank of a local world
func runNodes(t *testing.T, sizeNode lattice.Coordinate, body func(n *Node) error, opts ...NodeOption) {
	t.Helper()
	w := comm.NewLocalWorld(sizeNode.Product())
	err := w.Run(func(c comm.Comm) error {
		n, err := NewNode(c, sizeNode, opts...)
		if err != nil {
			return err
		}
		return body(n)
	})
	require.NoError(t, err)
}

// siteValue is a unique non-zero value per global element
func siteValue(geo lattice.Geometry, xg lattice.Coordinate, m int) float64 {
	total := geo.TotalSite()
	return float64(lattice.IndexFromCoordinate(xg.Regularize(total), total)*geo.Multiplicity + m + 1)
}

func newFilledField(geo lattice.Geometry) *field.Field[float64] {
	f := field.New[float64](geo)
	f.Set(func(xg lattice.Coordinate, m int) float64 {
		return siteValue(geo, xg, m)
	})
	return f
}

// haloSites lists every halo coordinate of geo
func haloSites(geo lattice.Geometry) []lattice.Coordinate {
	var sites []lattice.Coordinate
	for index := 0; index < geo.LocalVolumeExpanded(); index++ {
		xl := geo.CoordinateFromOffset(index * geo.Multiplicity)
		if !geo.IsLocal(xl) {
			sites = append(sites, xl)
		}
	}
	return sites
}

// checkHalo asserts that halo sites selected by want hold the owner's value
// and all others are still zero
func checkHalo(t *testing.T, f *field.Field[float64], want func(xl lattice.Coordinate) bool) {
	t.Helper()
	geo := f.Geo
	for _, xl := range haloSites(geo) {
		xg := geo.CoordinateGFromL(xl)
		for m := 0; m < geo.Multiplicity; m++ {
			expected := 0.0
			if want(xl) {
				expected = siteValue(geo, xg, m)
			}
			if got := f.Elem(xl, m); got != expected {
				t.Errorf("node %d halo %v[%d] = %v, want %v", geo.Node.IDNode, xl, m, got, expected)
				return
			}
		}
	}
}
