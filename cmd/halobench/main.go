// Command halobench refreshes the halo of a test field on a node grid and
// reports timings. With the local transport every node runs in this process;
// with the ws transport one process per rank is started, each given its
// rank and the addresses of all ranks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/notargets/LatticeHalo/comm"
	"github.com/notargets/LatticeHalo/comm/wsnet"
	"github.com/notargets/LatticeHalo/expand"
	"github.com/notargets/LatticeHalo/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const connectTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	rank := flag.Int("rank", -1, "rank of this process, overrides the config (ws transport)")
	flag.Parse()

	if err := run(*configPath, *rank); err != nil {
		fmt.Fprintf(os.Stderr, "halobench: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, rank int) error {
	logger := utils.InitLogger("halobench")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if rank >= 0 {
		cfg.Rank = rank
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := utils.SetLogLevel(cfg.LogLevel); err != nil {
		return err
	}

	var metrics *expand.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = expand.NewMetrics(reg)
		srv := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Transport {
	case transportWS:
		return runRemote(ctx, cfg, logger, metrics)
	default:
		return runLocal(ctx, cfg, logger, metrics)
	}
}

// runLocal runs every node of the grid as a goroutine of this process
func runLocal(ctx context.Context, cfg Config, logger zerolog.Logger, metrics *expand.Metrics) error {
	packer, release, err := newPacker(cfg)
	if err != nil {
		return err
	}
	defer release()

	w := comm.NewLocalWorld(cfg.SizeNode.Product())
	defer w.Close()
	defer context.AfterFunc(ctx, w.Close)()

	runs := make([]*nodeRun, w.Size())
	err = w.Run(func(c comm.Comm) error {
		r, err := runNode(cfg, c, logger, metrics, packer)
		runs[c.Rank()] = r
		return err
	})
	if err != nil {
		return err
	}
	if cfg.Verify {
		if err := verifyPlans(cfg, runs); err != nil {
			return err
		}
		logger.Info().Int("nodes", len(runs)).Msg("plans match the reference")
	}
	return nil
}

// runRemote runs this process's rank over websockets
func runRemote(ctx context.Context, cfg Config, logger zerolog.Logger, metrics *expand.Metrics) error {
	packer, release, err := newPacker(cfg)
	if err != nil {
		return err
	}
	defer release()

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	c, err := wsnet.Open(dialCtx, cfg.Rank, cfg.Addrs, wsnet.WithLogger(logger.With().Int("rank", cfg.Rank).Logger()))
	if err != nil {
		return err
	}
	defer c.Close()
	defer context.AfterFunc(ctx, func() { c.Close() })()

	_, err = runNode(cfg, c, logger, metrics, packer)
	return err
}

func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	return srv
}
