package expand

import (
	"fmt"
	"sort"
	"sync"

	"github.com/notargets/LatticeHalo/field"
	"github.com/notargets/LatticeHalo/lattice"
)

// CommMarks flags, per element of the expanded volume, the halo slots that
// must be fetched from their owning node. A non-zero value means "fetch".
type CommMarks struct {
	field.Field[int8]
}

// NewCommMarks returns an all-zero marking on geo
func NewCommMarks(geo lattice.Geometry) *CommMarks {
	return &CommMarks{Field: *field.New[int8](geo)}
}

// MarkSite flags every element of the site at xl
func (cm *CommMarks) MarkSite(xl lattice.Coordinate) {
	elems := cm.ElemsAt(xl)
	for m := range elems {
		elems[m] = 1
	}
}

// Count is the number of flagged elements
func (cm *CommMarks) Count() int {
	n := 0
	for _, v := range cm.Data {
		if v != 0 {
			n++
		}
	}
	return n
}

// MarkStrategy computes a marking for a geometry. ID must be stable across
// processes and builds since it is part of the plan cache key; tag is an
// opaque discriminator the strategy may ignore.
type MarkStrategy interface {
	ID() string
	Mark(geo lattice.Geometry, tag string) *CommMarks
}

type markFunc struct {
	id string
	f  func(geo lattice.Geometry, tag string) *CommMarks
}

func (mf markFunc) ID() string {
	return mf.id
}

func (mf markFunc) Mark(geo lattice.Geometry, tag string) *CommMarks {
	return mf.f(geo, tag)
}

// MarkFunc adapts a plain function to a MarkStrategy with the given id
func MarkFunc(id string, f func(geo lattice.Geometry, tag string) *CommMarks) MarkStrategy {
	return markFunc{id: id, f: f}
}

const (
	StrategyAll  = "all"
	StrategyFace = "face"
)

// StrategyAxis is the id of the marking restricted to halo slots displaced
// along axis mu only
func StrategyAxis(mu int) string {
	return fmt.Sprintf("axis-%d", mu)
}

var registry = struct {
	sync.RWMutex
	strategies map[string]MarkStrategy
}{strategies: make(map[string]MarkStrategy)}

func init() {
	MustRegisterStrategy(MarkFunc(StrategyAll, markAll))
	MustRegisterStrategy(MarkFunc(StrategyFace, markFace))
	for mu := 0; mu < lattice.DIMN; mu++ {
		MustRegisterStrategy(AxisStrategy(mu))
	}
}

// RegisterStrategy adds s to the process-wide registry. Ids are unique.
func RegisterStrategy(s MarkStrategy) error {
	if s.ID() == "" {
		return fmt.Errorf("mark strategy with empty id")
	}
	registry.Lock()
	defer registry.Unlock()
	if _, ok := registry.strategies[s.ID()]; ok {
		return fmt.Errorf("mark strategy %q already registered", s.ID())
	}
	registry.strategies[s.ID()] = s
	return nil
}

func MustRegisterStrategy(s MarkStrategy) {
	if err := RegisterStrategy(s); err != nil {
		panic(err)
	}
}

// LookupStrategy returns the registered strategy with the given id
func LookupStrategy(id string) (MarkStrategy, error) {
	registry.RLock()
	defer registry.RUnlock()
	s, ok := registry.strategies[id]
	if !ok {
		return nil, fmt.Errorf("unknown mark strategy %q", id)
	}
	return s, nil
}

// Strategies lists the registered ids in sorted order
func Strategies() []string {
	registry.RLock()
	defer registry.RUnlock()
	ids := make([]string, 0, len(registry.strategies))
	for id := range registry.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// markAll flags every element of every halo site
func markAll(geo lattice.Geometry, _ string) *CommMarks {
	marks := NewCommMarks(geo)
	for offset := range marks.Data {
		if !geo.IsLocal(geo.CoordinateFromOffset(offset)) {
			marks.Data[offset] = 1
		}
	}
	return marks
}

// markFace flags the halo sites one step away from an interior site along
// one of the 8 axis directions
func markFace(geo lattice.Geometry, _ string) *CommMarks {
	marks := NewCommMarks(geo)
	for index := 0; index < geo.LocalVolume(); index++ {
		xl := geo.CoordinateFromIndex(index)
		for dir := -lattice.DIMN; dir < lattice.DIMN; dir++ {
			xl1 := lattice.CoordinateShifts(xl, dir)
			if geo.IsOnNode(xl1) && !geo.IsLocal(xl1) {
				marks.MarkSite(xl1)
			}
		}
	}
	return marks
}

// AxisStrategy flags every halo site whose owner is displaced from this
// node along axis mu only. This is the halo the direct refresher fills when
// restricted to mu.
func AxisStrategy(mu int) MarkStrategy {
	if mu < 0 || mu >= lattice.DIMN {
		panic(fmt.Sprintf("axis %d out of range", mu))
	}
	return MarkFunc(StrategyAxis(mu), func(geo lattice.Geometry, _ string) *CommMarks {
		marks := NewCommMarks(geo)
		for index := 0; index < geo.LocalVolumeExpanded(); index++ {
			xl := geo.CoordinateFromOffset(index * geo.Multiplicity)
			if geo.IsLocal(xl) {
				continue
			}
			disp, _ := geo.OwnerDisplacement(xl)
			if onAxis(disp, mu) {
				marks.MarkSite(xl)
			}
		}
		return marks
	})
}

// onAxis reports whether disp is non-zero along mu and zero elsewhere
func onAxis(disp lattice.Coordinate, mu int) bool {
	for nu := 0; nu < lattice.DIMN; nu++ {
		if (nu == mu) == (disp[nu] == 0) {
			return false
		}
	}
	return true
}
