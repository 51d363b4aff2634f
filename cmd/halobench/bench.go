package main

import (
	"fmt"
	"reflect"
	"time"

	"github.com/notargets/LatticeHalo/comm"
	"github.com/notargets/LatticeHalo/expand"
	"github.com/notargets/LatticeHalo/field"
	"github.com/notargets/LatticeHalo/lattice"
	"github.com/rs/zerolog"
)

// nodeRun is what one node reports back after benchmarking
type nodeRun struct {
	Geo    lattice.Geometry
	Plan   *expand.CommPlan // nil on the direct path
	First  time.Duration    // first refresh, including plan negotiation
	Mean   time.Duration    // mean of the timed refreshes
	Filled int              // halo elements holding data
	Norm2  float64          // global, interior only
}

func siteValue(total lattice.Coordinate, mult int, xg lattice.Coordinate, m int) float64 {
	return float64(lattice.IndexFromCoordinate(xg.Regularize(total), total)*mult + m + 1)
}

// newPacker returns the packer for the plan path and a function releasing
// it. The host packer is nil, which the refresher reads as HostPacker.
func newPacker(cfg Config) (expand.Packer[float64], func(), error) {
	if cfg.Packer == packerDevice {
		return newDevicePacker()
	}
	return nil, func() {}, nil
}

func newRefresher(cfg Config, n *expand.Node, packer expand.Packer[float64]) (expand.Refresher[float64], error) {
	if cfg.Path == pathDirect {
		return expand.NewDirectRefresher[float64](n, cfg.Axis)
	}
	r, err := expand.NewPlanRefresher[float64](n, cfg.Strategy, "")
	if err != nil {
		return nil, err
	}
	r.Packer = packer
	return r, nil
}

// checkHalo counts filled halo elements and those holding a value other
// than the owner's
func checkHalo(f *field.Field[float64]) (filled, wrong int) {
	geo := f.Geo
	total := geo.TotalSite()
	for offset, v := range f.Data {
		xl := geo.CoordinateFromOffset(offset)
		if v == 0 || geo.IsLocal(xl) {
			continue
		}
		filled++
		if v != siteValue(total, geo.Multiplicity, geo.CoordinateGFromL(xl), offset%geo.Multiplicity) {
			wrong++
		}
	}
	return filled, wrong
}

// runNode benchmarks the refresh on one node. It is collective over c.
func runNode(cfg Config, c comm.Comm, log zerolog.Logger, metrics *expand.Metrics,
	packer expand.Packer[float64]) (*nodeRun, error) {
	n, err := expand.NewNode(c, cfg.SizeNode, expand.WithLogger(log), expand.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}
	geo, err := n.Geometry(cfg.TotalSite, cfg.Multiplicity, cfg.Expansion)
	if err != nil {
		return nil, err
	}
	f := field.New[float64](geo)
	f.Set(func(xg lattice.Coordinate, m int) float64 {
		return siteValue(cfg.TotalSite, cfg.Multiplicity, xg, m)
	})
	r, err := newRefresher(cfg, n, packer)
	if err != nil {
		return nil, err
	}

	run := &nodeRun{Geo: geo}
	t0 := time.Now()
	if err := r.Refresh(f); err != nil {
		return nil, err
	}
	run.First = time.Since(t0)
	t0 = time.Now()
	for i := 0; i < cfg.Iterations; i++ {
		if err := r.Refresh(f); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}
	}
	run.Mean = time.Since(t0) / time.Duration(cfg.Iterations)

	if pr, ok := r.(*expand.PlanRefresher[float64]); ok {
		if run.Plan, err = n.Plan(pr.Strategy, pr.Tag, geo); err != nil {
			return nil, err
		}
	}

	filled, wrong := checkHalo(f)
	run.Filled = filled
	counts := []int64{int64(filled), int64(wrong)}
	if err := comm.AllReduceInt64(c, counts); err != nil {
		return nil, err
	}
	if run.Norm2, err = field.GlobalNorm2(c, f); err != nil {
		return nil, err
	}

	n.Log.Debug().
		Dur("first", run.First).
		Dur("mean", run.Mean).
		Int("filled", filled).
		Msg("node refreshed")
	if counts[1] != 0 {
		return nil, fmt.Errorf("%d of %d halo elements hold a value from the wrong site", counts[1], counts[0])
	}
	if n.ID() == 0 {
		n.Log.Info().
			Str("path", cfg.Path).
			Str("packer", cfg.Packer).
			Str("geometry", geo.String()).
			Int("iterations", cfg.Iterations).
			Dur("first", run.First).
			Dur("mean", run.Mean).
			Int64("filled", counts[0]).
			Float64("norm2", run.Norm2).
			Msg("halo refresh benchmark")
	}
	return run, nil
}

// verifyPlans checks the negotiated plans of every node against each other
// and against plans computed from global knowledge
func verifyPlans(cfg Config, runs []*nodeRun) error {
	plans := make([]*expand.CommPlan, len(runs))
	geos := make([]lattice.Geometry, len(runs))
	for p, r := range runs {
		if r == nil || r.Plan == nil {
			return fmt.Errorf("node %d has no plan", p)
		}
		plans[p] = r.Plan
		geos[p] = r.Geo
	}
	if err := expand.VerifySymmetry(plans); err != nil {
		return err
	}
	s, err := expand.LookupStrategy(cfg.Strategy)
	if err != nil {
		return err
	}
	reference, err := expand.ReferencePlans(s, "", geos)
	if err != nil {
		return err
	}
	for p := range plans {
		if !reflect.DeepEqual(plans[p], reference[p]) {
			return fmt.Errorf("node %d: negotiated plan differs from the reference plan", p)
		}
	}
	return nil
}
