package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/gomow/internal/actuator"
	"github.com/joshp123/gomow/internal/blob"
	"github.com/joshp123/gomow/internal/clock"
	"github.com/joshp123/gomow/internal/config"
	"github.com/joshp123/gomow/internal/controller"
	"github.com/joshp123/gomow/internal/gardena"
	"github.com/joshp123/gomow/internal/metrics"
	"github.com/joshp123/gomow/internal/rate"
	"github.com/joshp123/gomow/internal/server"
	"github.com/joshp123/gomow/internal/statebus"
)

const shutdownGrace = 3 * time.Second

func main() {
	configPath := flag.String("config", envOr("GOMOW_CONFIG", config.DefaultPath), "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	loc, err := cfg.TimeLocation()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	clk := clock.Real{Location: loc}

	bus := statebus.NewMemory(clk.Now)
	persistence, err := statebus.OpenSQLite(cfg.Core.StatePath)
	if err != nil {
		log.Fatalf("state db: %v", err)
	}
	defer persistence.Close()
	if err := bus.AttachPersistence(context.Background(), persistence, cfg.PersistedPrefixes()...); err != nil {
		log.Fatalf("state db: %v", err)
	}

	var bridge *statebus.MQTTBridge
	if cfg.MQTT != nil {
		bridgeCfg, err := cfg.Bridge()
		if err != nil {
			log.Fatalf("mqtt: %v", err)
		}
		bridge, err = statebus.NewMQTTBridge(bridgeCfg, bus)
		if err != nil {
			log.Fatalf("mqtt: %v", err)
		}
		bridge.Start()
		defer bridge.Close()
	}

	var mirror blob.Store
	restore := map[string][]byte{}
	if cfg.Blob != nil {
		store, err := blob.NewS3Store(*cfg.Blob)
		if err != nil {
			log.Fatalf("blob: %v", err)
		}
		mirror = store
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		restore, err = blob.LoadSnapshot(ctx, mirror)
		cancel()
		if err != nil {
			log.Printf("blob: restore skipped: %v", err)
			restore = map[string][]byte{}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var forwarder *gardena.Forwarder
	if cfg.ForwardsToGardena() {
		client, err := gardena.NewClient(*cfg.Gardena)
		if err != nil {
			log.Fatalf("gardena: %v", err)
		}
		forwarder = gardena.NewForwarder(bus, cfg.Keys.Command, client, cfg.Gardena.Timeout)
		forwarder.Start()
		go forwarder.Run(ctx)
	}

	act := actuator.NewBusActuator(bus, cfg.Keys.Command)
	ctrl := controller.New(cfg.Controller(), bus, act, clk, cfg.Sun())
	ctrl.Start(restore)

	runDone := make(chan error, 1)
	go func() { runDone <- ctrl.Run(ctx) }()

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	if err := server.RegisterControllerService(grpcServer.Server, server.NewControllerService(ctrl)); err != nil {
		log.Fatalf("grpc register: %v", err)
	}
	grpcServer.SetServing(true)

	metricsRegistry := server.MetricsRegistry(
		[]prometheus.Collector{metrics.NewCollector(ctrl)},
		statebus.MetricsCollectors(),
		gardena.MetricsCollectors(),
		rate.MetricsCollectors(),
	)
	metricsRegistry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gomow_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, server.Mux(ctrl, server.MetricsHandler(metricsRegistry)))

	go func() {
		if err := httpServer.ListenAndServe(); err != nil {
			log.Fatalf("http serve: %v", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()
	log.Printf("gomow: serving grpc on %s, http on %s", cfg.Core.GRPCAddr, cfg.Core.HTTPAddr)

	<-ctx.Done()
	log.Printf("gomow: shutting down")
	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("controller: %v", err)
	}

	graceCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	grpcServer.SetServing(false)
	snapshot, err := ctrl.Shutdown(graceCtx)
	if err != nil {
		log.Printf("controller shutdown: %v", err)
	}
	if mirror != nil && len(snapshot) > 0 {
		if err := blob.SaveSnapshot(graceCtx, mirror, snapshot, clk.Now()); err != nil {
			log.Printf("blob: save snapshot: %v", err)
		}
	}
	if err := httpServer.Shutdown(graceCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	grpcServer.Stop()
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
