package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/me/subarray/internal/config"
	"github.com/me/subarray/internal/gateway"
	"github.com/me/subarray/internal/logging"
	"github.com/me/subarray/internal/observability"
	"github.com/me/subarray/internal/server"
	"github.com/me/subarray/internal/subarray"
	"github.com/me/subarray/pkg/model"
)

func main() {
	cfg := config.DefaultServerConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.StringVar(&cfg.TopologyPath, "topology", cfg.TopologyPath, "Fleet topology YAML (empty for the built-in standalone fleet)")
	flag.IntVar(&cfg.Subarrays, "subarrays", cfg.Subarrays, "Number of subarrays to host")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	// Resolve the fleet topology.
	topo := config.DefaultTopology()
	if cfg.TopologyPath != "" {
		var err error
		topo, err = config.LoadTopology(cfg.TopologyPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load topology: %v\n", err)
			os.Exit(1)
		}
		logger.Info("topology loaded", "path", cfg.TopologyPath,
			"receptors", len(topo.Receptors), "fsps", len(topo.FSPs))
	} else {
		logger.Info("using built-in standalone topology",
			"receptors", len(topo.Receptors), "fsps", len(topo.FSPs))
	}

	// Standalone mode: the fleet lives in-process.
	fleet := gateway.NewMemFleet(logger)
	for _, m := range topo.Receptors {
		fleet.AddNode(model.VCCRef(m.VCCID))
	}
	for _, id := range topo.FSPs {
		fleet.AddNode(model.FSPRef(id))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.New(registry)

	ctrl := subarray.NewController(cfg.Subarrays, topo, fleet, logger, metrics)

	srv := server.New(cfg, ctrl, logger, server.WithMetricsGatherer(registry))

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the model-update dispatchers in the background.
	ctrl.Start(ctx)

	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "subarrays", cfg.Subarrays)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop the dispatchers before the HTTP server so no command races the
	// listener teardown.
	ctrl.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
