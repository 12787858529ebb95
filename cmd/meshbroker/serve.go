package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/meshbroker/pkg/bridge"
	"github.com/cuemby/meshbroker/pkg/config"
	"github.com/cuemby/meshbroker/pkg/durablestore"
	"github.com/cuemby/meshbroker/pkg/events"
	"github.com/cuemby/meshbroker/pkg/faststore"
	"github.com/cuemby/meshbroker/pkg/fallback"
	"github.com/cuemby/meshbroker/pkg/health"
	"github.com/cuemby/meshbroker/pkg/log"
	"github.com/cuemby/meshbroker/pkg/metrics"
	"github.com/cuemby/meshbroker/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve [config]",
	Short: "Start the meshbroker coordination server",
	Args:  cobra.ExactArgs(1),
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the /metrics and /health endpoints")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.ToFastStoreConfig().Addr(),
		Password: cfg.FastStore.Password,
		DB:       cfg.FastStore.DB,
	})
	fast := faststore.NewStore(cfg.ToFastStoreConfig(), redisClient, broker)

	durable, err := durablestore.NewStore(cfg.ToDurableStoreConfig())
	if err != nil {
		return fmt.Errorf("build durable store: %w", err)
	}

	var buffer *fallback.DurableFallback
	if cfg.Supervisor.FallbackMode == config.FallbackFile {
		buffer, err = fallback.NewDurableFallback(cfg.Workspace.Root)
		if err != nil {
			return fmt.Errorf("open disk fallback buffer: %w", err)
		}
		defer buffer.Close()
	}

	sup := health.NewSupervisor(cfg.ToHealthConfig(), broker)

	if err := fast.Connect(ctx); err != nil {
		log.WithBackend("fast").Warn().Err(err).Msg("initial connect failed, starting in degraded mode")
		sup.Disconnected(types.BackendFast, err, fast.Connect)
	} else {
		sup.Connected(types.BackendFast)
		fast.StartConsumers(ctx, bridge.NewRedisEnvelopeHandler(broker))
		go fast.StartHeartbeat(ctx)
	}

	if err := durable.Connect(ctx); err != nil {
		log.WithBackend("durable").Warn().Err(err).Msg("initial connect failed, starting in degraded mode")
		sup.Disconnected(types.BackendDurable, err, durable.Connect)
	} else {
		sup.Connected(types.BackendDurable)
		durable.StartConsumers(ctx, bridge.NewKafkaEnvelopeHandler(broker))
	}

	sup.StartHealthCheckTimer()
	defer sup.Stop()

	// br is the coordination bridge every embedding agent runtime drives
	// in-process (spec's HTTP/WebSocket dashboard is explicitly out of
	// scope); serve's job is to keep it, and the stores/supervisor behind
	// it, alive and observable.
	br := bridge.New(fast, durable, fallback.NewLockManager(), buffer, sup, broker)

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", healthHandler(sup))
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Error(fmt.Sprintf("metrics server error: %v", err))
		}
	}()
	fmt.Printf("✓ meshbroker listening\n")
	fmt.Printf("  metrics: http://%s/metrics\n", metricsAddr)
	fmt.Printf("  health:  http://%s/health\n", metricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down...")

	cancel()
	if err := fast.Disconnect(); err != nil {
		log.WithBackend("fast").Warn().Err(err).Msg("disconnect error")
	}
	durable.Disconnect()
	_ = br

	return nil
}

// healthHandler reports the supervisor's overall rollup and per-backend
// state, mirroring the teacher's metrics.HealthHandler shape.
func healthHandler(sup *health.Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"overall": sup.Health(),
			"fast":    sup.Status(types.BackendFast),
			"durable": sup.Status(types.BackendDurable),
		}
		w.Header().Set("Content-Type", "application/json")
		if sup.Health() == types.OverallOffline {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(body)
	}
}
