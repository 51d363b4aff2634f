package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/notargets/LatticeHalo/expand"
	"github.com/notargets/LatticeHalo/lattice"
)

const (
	pathPlan   = "plan"
	pathDirect = "direct"

	transportLocal = "local"
	transportWS    = "ws"

	packerHost   = "host"
	packerDevice = "device"
)

// Config describes one benchmark run
type Config struct {
	SizeNode     lattice.Coordinate
	TotalSite    lattice.Coordinate
	Expansion    int
	Multiplicity int
	Iterations   int
	Strategy     string // plan path only
	Path         string
	Packer       string // plan path only
	Axis         int // direct path only, -1 for every axis
	Transport    string
	Rank         int // ws transport only
	Addrs        []string
	MetricsAddr  string
	LogLevel     string
	Verify       bool // local transport: cross check plans against ReferencePlans
}

type fileConfig struct {
	SizeNode     []int    `toml:"size_node"`
	NumNode      int      `toml:"num_node"`
	TotalSite    []int    `toml:"total_site"`
	Expansion    int      `toml:"expansion"`
	Multiplicity int      `toml:"multiplicity"`
	Iterations   int      `toml:"iterations"`
	Strategy     string   `toml:"strategy"`
	Path         string   `toml:"path"`
	Packer       string   `toml:"packer"`
	Axis         int      `toml:"axis"`
	Transport    string   `toml:"transport"`
	Rank         int      `toml:"rank"`
	Addrs        []string `toml:"addrs"`
	MetricsAddr  string   `toml:"metrics_addr"`
	LogLevel     string   `toml:"log_level"`
	Verify       bool     `toml:"verify"`
}

func DefaultConfig() Config {
	return Config{
		SizeNode:     lattice.NewCoordinate(2, 2, 1, 1),
		TotalSite:    lattice.NewCoordinate(8, 8, 4, 4),
		Expansion:    1,
		Multiplicity: 1,
		Iterations:   10,
		Strategy:     expand.StrategyAll,
		Path:         pathPlan,
		Packer:       packerHost,
		Axis:         -1,
		Transport:    transportLocal,
		LogLevel:     "info",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load halobench config: %w", err)
	}

	if meta.IsDefined("size_node") {
		c, err := coordinate("size_node", raw.SizeNode)
		if err != nil {
			return Config{}, err
		}
		cfg.SizeNode = c
	} else if meta.IsDefined("num_node") {
		if raw.NumNode < 1 {
			return Config{}, fmt.Errorf("num_node must be positive, got %d", raw.NumNode)
		}
		cfg.SizeNode = lattice.PlanSizeNode(raw.NumNode)
	}
	if meta.IsDefined("total_site") {
		c, err := coordinate("total_site", raw.TotalSite)
		if err != nil {
			return Config{}, err
		}
		cfg.TotalSite = c
	}
	if meta.IsDefined("expansion") {
		cfg.Expansion = raw.Expansion
	}
	if meta.IsDefined("multiplicity") {
		cfg.Multiplicity = raw.Multiplicity
	}
	if meta.IsDefined("iterations") {
		cfg.Iterations = raw.Iterations
	}
	if meta.IsDefined("strategy") {
		cfg.Strategy = strings.TrimSpace(raw.Strategy)
	}
	if meta.IsDefined("path") {
		cfg.Path = strings.ToLower(strings.TrimSpace(raw.Path))
	}
	if meta.IsDefined("packer") {
		cfg.Packer = strings.ToLower(strings.TrimSpace(raw.Packer))
	}
	if meta.IsDefined("axis") {
		cfg.Axis = raw.Axis
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("rank") {
		cfg.Rank = raw.Rank
	}
	if meta.IsDefined("addrs") {
		cfg.Addrs = cfg.Addrs[:0]
		for _, a := range raw.Addrs {
			cfg.Addrs = append(cfg.Addrs, strings.TrimSpace(a))
		}
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("verify") {
		cfg.Verify = raw.Verify
	}
	return cfg, nil
}

func coordinate(key string, v []int) (lattice.Coordinate, error) {
	if len(v) != lattice.DIMN {
		return lattice.Coordinate{}, fmt.Errorf("%s needs %d components, got %d", key, lattice.DIMN, len(v))
	}
	return lattice.NewCoordinate(v[0], v[1], v[2], v[3]), nil
}

// Validate checks the run before any node is started
func (cfg Config) Validate() error {
	for mu := 0; mu < lattice.DIMN; mu++ {
		if cfg.SizeNode[mu] < 1 {
			return fmt.Errorf("size_node %v must be positive on every axis", cfg.SizeNode)
		}
	}
	if cfg.Multiplicity < 1 {
		return fmt.Errorf("multiplicity must be positive, got %d", cfg.Multiplicity)
	}
	if cfg.Expansion < 0 {
		return fmt.Errorf("expansion must not be negative, got %d", cfg.Expansion)
	}
	if cfg.Iterations < 1 {
		return fmt.Errorf("iterations must be positive, got %d", cfg.Iterations)
	}
	for mu := 0; mu < lattice.DIMN; mu++ {
		if cfg.TotalSite[mu] < 1 || cfg.TotalSite[mu]%cfg.SizeNode[mu] != 0 {
			return fmt.Errorf("total_site %v does not split evenly over size_node %v", cfg.TotalSite, cfg.SizeNode)
		}
	}
	switch cfg.Path {
	case pathPlan:
		if _, err := expand.LookupStrategy(cfg.Strategy); err != nil {
			return err
		}
	case pathDirect:
		if cfg.Axis < -1 || cfg.Axis >= lattice.DIMN {
			return fmt.Errorf("axis must be in [-1, %d), got %d", lattice.DIMN, cfg.Axis)
		}
		if cfg.Verify {
			return fmt.Errorf("verify needs the plan path")
		}
		if cfg.Packer == packerDevice {
			return fmt.Errorf("the device packer needs the plan path")
		}
	default:
		return fmt.Errorf("path must be %q or %q, got %q", pathPlan, pathDirect, cfg.Path)
	}
	switch cfg.Packer {
	case packerHost, packerDevice:
	default:
		return fmt.Errorf("packer must be %q or %q, got %q", packerHost, packerDevice, cfg.Packer)
	}
	switch cfg.Transport {
	case transportLocal:
	case transportWS:
		if len(cfg.Addrs) != cfg.SizeNode.Product() {
			return fmt.Errorf("ws transport needs %d addrs, got %d", cfg.SizeNode.Product(), len(cfg.Addrs))
		}
		if cfg.Rank < 0 || cfg.Rank >= len(cfg.Addrs) {
			return fmt.Errorf("rank %d outside %d addrs", cfg.Rank, len(cfg.Addrs))
		}
		if cfg.Verify {
			return fmt.Errorf("verify needs the local transport")
		}
	default:
		return fmt.Errorf("transport must be %q or %q, got %q", transportLocal, transportWS, cfg.Transport)
	}
	return nil
}
