package expand

import (
	"fmt"

	"github.com/notargets/LatticeHalo/comm"
	"github.com/notargets/LatticeHalo/lattice"
	"github.com/rs/zerolog"
)

// Node is the per-process context of the halo exchange: where this node sits
// in the node grid, how it talks to the others and the plans it has built.
// A Node is driven by one goroutine; every collective operation on it must
// be entered by all nodes in the same order.
type Node struct {
	Geon    lattice.GeometryNode
	Comm    comm.Comm
	Log     zerolog.Logger
	Cache   *PlanCache
	Metrics *Metrics
}

// NodeOption configures a Node
type NodeOption func(*nodeConfig)

type nodeConfig struct {
	log       zerolog.Logger
	metrics   *Metrics
	cacheSize int
}

func WithLogger(l zerolog.Logger) NodeOption {
	return func(c *nodeConfig) { c.log = l }
}

func WithMetrics(m *Metrics) NodeOption {
	return func(c *nodeConfig) { c.metrics = m }
}

// WithCacheSize bounds the number of cached plans
func WithCacheSize(n int) NodeOption {
	return func(c *nodeConfig) { c.cacheSize = n }
}

// NewNode places the rank of c on a node grid of extent sizeNode
func NewNode(c comm.Comm, sizeNode lattice.Coordinate, opts ...NodeOption) (*Node, error) {
	cfg := nodeConfig{log: zerolog.Nop(), cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if sizeNode.Product() != c.Size() {
		return nil, fmt.Errorf("node grid %v holds %d nodes, transport has %d ranks",
			sizeNode, sizeNode.Product(), c.Size())
	}
	geon, err := lattice.NewGeometryNode(sizeNode, c.Rank())
	if err != nil {
		return nil, fmt.Errorf("rank %d: %w", c.Rank(), err)
	}
	cache, err := NewPlanCache(cfg.cacheSize)
	if err != nil {
		return nil, err
	}
	cache.metrics = cfg.metrics
	cache.node = geon.IDNode
	return &Node{
		Geon:    geon,
		Comm:    c,
		Log:     cfg.log.With().Int("node", geon.IDNode).Logger(),
		Cache:   cache,
		Metrics: cfg.metrics,
	}, nil
}

// ID is the node id, equal to the transport rank
func (n *Node) ID() int {
	return n.Geon.IDNode
}

// Geometry splits totalSite over the node grid with the given multiplicity
// and a uniform halo of depth expansion
func (n *Node) Geometry(totalSite lattice.Coordinate, multiplicity, expansion int) (lattice.Geometry, error) {
	geo, err := lattice.NewGeometry(n.Geon, totalSite, multiplicity)
	if err != nil {
		return lattice.Geometry{}, err
	}
	return geo.Reform(multiplicity, expansion), nil
}

// Plan returns the communication plan for marking geo with s, building it
// collectively on a cache miss
func (n *Node) Plan(s MarkStrategy, tag string, geo lattice.Geometry) (*CommPlan, error) {
	if geo.Node != n.Geon {
		return nil, fmt.Errorf("geometry of node %d used on node %d", geo.Node.IDNode, n.ID())
	}
	key := CommPlanKey{StrategyID: s.ID(), Tag: tag, Geo: geo}
	return n.Cache.Get(key, func() (*CommPlan, error) {
		return BuildPlan(n, s.Mark(geo, tag))
	})
}
