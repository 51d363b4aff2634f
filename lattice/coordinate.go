package lattice

import (
	"fmt"
)

// DIMN is the number of lattice axes
const DIMN = 4

// Coordinate is a position (or extent) on the 4-dimensional lattice.
// All arithmetic is element-wise.
type Coordinate [DIMN]int

// NewCoordinate builds a coordinate from its four components
func NewCoordinate(x, y, z, t int) Coordinate {
	return Coordinate{x, y, z, t}
}

// Uniform returns a coordinate with every component set to v
func Uniform(v int) Coordinate {
	return Coordinate{v, v, v, v}
}

func (c Coordinate) Add(o Coordinate) Coordinate {
	for mu := range c {
		c[mu] += o[mu]
	}
	return c
}

func (c Coordinate) Sub(o Coordinate) Coordinate {
	for mu := range c {
		c[mu] -= o[mu]
	}
	return c
}

func (c Coordinate) Mul(o Coordinate) Coordinate {
	for mu := range c {
		c[mu] *= o[mu]
	}
	return c
}

// Div is truncated integer division, as in Go
func (c Coordinate) Div(o Coordinate) Coordinate {
	for mu := range c {
		c[mu] /= o[mu]
	}
	return c
}

// Mod is the truncated remainder; use Regularize for a periodic modulo
func (c Coordinate) Mod(o Coordinate) Coordinate {
	for mu := range c {
		c[mu] %= o[mu]
	}
	return c
}

func (c Coordinate) Scale(s int) Coordinate {
	for mu := range c {
		c[mu] *= s
	}
	return c
}

// Product returns the product of all components (volume of an extent)
func (c Coordinate) Product() int {
	p := 1
	for _, v := range c {
		p *= v
	}
	return p
}

// Regularize folds every component into [0, size[mu])
func (c Coordinate) Regularize(size Coordinate) Coordinate {
	for mu := range c {
		c[mu] = (c[mu]%size[mu] + size[mu]) % size[mu]
	}
	return c
}

// Less is the lexicographic order used to sort coordinates deterministically
func (c Coordinate) Less(o Coordinate) bool {
	for mu := range c {
		if c[mu] != o[mu] {
			return c[mu] < o[mu]
		}
	}
	return false
}

// IsZero reports whether all components are zero
func (c Coordinate) IsZero() bool {
	return c == Coordinate{}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", c[0], c[1], c[2], c[3])
}

// IndexFromCoordinate linearizes x within an extent of size, x fastest.
// x must lie in [0, size).
func IndexFromCoordinate(x, size Coordinate) int {
	return x[0] + size[0]*(x[1]+size[1]*(x[2]+size[2]*x[3]))
}

// CoordinateFromIndex is the inverse of IndexFromCoordinate
func CoordinateFromIndex(index int, size Coordinate) Coordinate {
	var x Coordinate
	for mu := 0; mu < DIMN; mu++ {
		x[mu] = index % size[mu]
		index /= size[mu]
	}
	return x
}

// CoordinateShifts steps one site from x along a signed direction.
// dir in [0,4) moves +1 along axis dir, dir in [-4,0) moves -1 along
// axis -dir-1.
func CoordinateShifts(x Coordinate, dir int) Coordinate {
	if dir < -DIMN || dir >= DIMN {
		panic(fmt.Sprintf("direction %d out of range [-%d, %d)", dir, DIMN, DIMN))
	}
	if dir >= 0 {
		x[dir]++
	} else {
		x[-dir-1]--
	}
	return x
}
