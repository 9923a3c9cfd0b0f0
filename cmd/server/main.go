package main

import (
	"context"
	"errors"
	"log"
	"math"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/guileen/crossquery/client"
	"github.com/guileen/crossquery/emulator"
	"github.com/guileen/crossquery/engine/config"
	"github.com/guileen/crossquery/logger"
	"github.com/guileen/crossquery/metrics"
	"github.com/guileen/crossquery/protocol/api"
)

func main() {
	startTime := time.Now()

	configFile := ""
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		configFile = os.Args[1]
	}

	cfg, err := config.LoadServer(configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Info("Starting crossquery server", "listen", cfg.ListenAddr, "config", configFile)

	var opts []emulator.Option
	if cfg.RequestUnitsPerSec > 0 {
		burst := int(math.Ceil(cfg.RequestUnitsPerSec))
		opts = append(opts, emulator.WithThrottle(rate.Limit(cfg.RequestUnitsPerSec), burst))
		logger.Info("Backend throttling enabled", "ru_per_sec", cfg.RequestUnitsPerSec)
	}
	backend := emulator.New(opts...)
	defer backend.Close()

	var clientOpts []client.Option
	if cfg.MetricsEnabled {
		clientOpts = append(clientOpts, client.WithCollectors(metrics.Default()))
	}
	c, err := client.New(backend, cfg.Query, clientOpts...)
	if err != nil {
		logger.Error("Failed to create query client", "error", err)
		log.Fatalf("failed to create query client: %v", err)
	}

	restHandler := api.NewRESTHandler(backend, c).WithCollectionDefaults(cfg.PartitionKeyPath, cfg.Partitions)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	r.Handle("/debug/pprof/heap", pprof.Handler("heap"))

	restHandler.RegisterRoutes(r)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.ListenAddr, "init_duration", time.Since(startTime).String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err, "addr", cfg.ListenAddr)
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	shutdownStart := time.Now()
	logger.Info("Shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("HTTP server shutdown complete", "shutdown_duration", time.Since(shutdownStart).String())
}
