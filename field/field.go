// Package field stores per-site lattice data over a lattice.Geometry.
package field

import (
	"fmt"

	"github.com/notargets/LatticeHalo/comm"
	"github.com/notargets/LatticeHalo/lattice"
	"gonum.org/v1/gonum/floats"
)

// Field holds Geo.Multiplicity elements of type M for every site of the
// expanded local volume, laid out as described on lattice.Geometry
type Field[M any] struct {
	Geo  lattice.Geometry
	Data []M
}

// New allocates a zeroed field on geo
func New[M any](geo lattice.Geometry) *Field[M] {
	return &Field[M]{
		Geo:  geo,
		Data: make([]M, geo.ElementCount()),
	}
}

// Init reallocates f for geo, reusing storage when the size matches.
// Existing contents are discarded.
func (f *Field[M]) Init(geo lattice.Geometry) {
	n := geo.ElementCount()
	if cap(f.Data) >= n {
		f.Data = f.Data[:n]
		clear(f.Data)
	} else {
		f.Data = make([]M, n)
	}
	f.Geo = geo
}

func (f *Field[M]) Initialized() bool {
	return f.Data != nil
}

// Elem returns element m of the site at xl
func (f *Field[M]) Elem(xl lattice.Coordinate, m int) M {
	return f.Data[f.Geo.OffsetFromCoordinate(xl)+m]
}

// SetElem stores element m of the site at xl
func (f *Field[M]) SetElem(xl lattice.Coordinate, m int, v M) {
	f.Data[f.Geo.OffsetFromCoordinate(xl)+m] = v
}

// ElemsAt returns the Multiplicity elements of the site at xl. The slice
// aliases the field.
func (f *Field[M]) ElemsAt(xl lattice.Coordinate) []M {
	offset := f.Geo.OffsetFromCoordinate(xl)
	return f.Data[offset : offset+f.Geo.Multiplicity : offset+f.Geo.Multiplicity]
}

// Set fills every interior element with gen(xg, m), where xg is the global
// coordinate of the site. Halo slots are left untouched.
func (f *Field[M]) Set(gen func(xg lattice.Coordinate, m int) M) {
	geo := f.Geo
	for index := 0; index < geo.LocalVolume(); index++ {
		xl := geo.CoordinateFromIndex(index)
		xg := geo.CoordinateGFromL(xl)
		elems := f.ElemsAt(xl)
		for m := range elems {
			elems[m] = gen(xg, m)
		}
	}
}

// Copy copies the contents of src, which must live on the same geometry
func (f *Field[M]) Copy(src *Field[M]) error {
	if f.Geo != src.Geo {
		return fmt.Errorf("copy between different geometries %v and %v", f.Geo, src.Geo)
	}
	copy(f.Data, src.Data)
	return nil
}

// Bytes views the field storage as bytes without copying
func (f *Field[M]) Bytes() []byte {
	return comm.AsBytes(f.Data)
}

// Norm2 is the squared 2-norm of the interior of f on this node only
func Norm2(f *Field[float64]) float64 {
	geo := f.Geo
	var sum float64
	for index := 0; index < geo.LocalVolume(); index++ {
		elems := f.ElemsAt(geo.CoordinateFromIndex(index))
		sum += floats.Dot(elems, elems)
	}
	return sum
}

// GlobalNorm2 sums Norm2 over every node of c
func GlobalNorm2(c comm.Comm, f *Field[float64]) (float64, error) {
	v := []float64{Norm2(f)}
	if err := comm.AllReduceFloat64(c, v); err != nil {
		return 0, fmt.Errorf("global norm: %w", err)
	}
	return v[0], nil
}
