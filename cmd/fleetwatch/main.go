package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fleetwatch/internal/api"
	"fleetwatch/internal/config"
	"fleetwatch/internal/fanout"
	"fleetwatch/internal/ingest"
	"fleetwatch/internal/rollup"
	"fleetwatch/internal/state"
	"fleetwatch/internal/store"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "fleetwatch",
		Short: "Fleet telemetry ingestion, rollup, and query service",
	}
	root.AddCommand(serveCmd(), migrateCmd(), seedCmd(), versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion pipeline, rollup scheduler, and query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			setupLogging(cfg.LogLevel)
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer repo.Close()
	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var mirror *store.RedisMirror
	mirrorSize := 0
	if cfg.RedisAddr != "" {
		mirror, err = store.NewRedisMirror(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("redis mirror: %w", err)
		}
		mirrorSize = cfg.MirrorChannelSize
		slog.Info("redis mirror enabled", "addr", cfg.RedisAddr)
	}

	vehicles := state.NewVehicleStore(cfg.CacheCapacity, cfg.CacheTTL, nil)
	rate := state.NewRateTracker(cfg.RateWindow, nil)
	disp := ingest.NewDispatcher(cfg.DBChannelSize, mirrorSize, cfg.PushChannelSize, cfg.AlertChannelSize)
	ingestor := ingest.NewIngestor(vehicles, rate, disp, cfg.IngestQueueSize, cfg.IngestWorkers)
	hub := fanout.NewHub(cfg.FanoutQueueDepth)
	server := api.NewServer(cfg.HTTPAddr, repo, vehicles, rate, hub, cfg.SnapshotPollInterval)
	scheduler := rollup.NewScheduler(repo, cfg.RollupWindows, cfg.RollupInterval, cfg.RollupCatchupBuckets)
	consumer := ingest.NewConsumer(cfg.MQTTBrokerURL, cfg.MQTTClientID, cfg.MQTTTopic, ingestor)

	// The ingestor gets its own context so the transport can be stopped
	// before the workers, letting queued payloads drain through on shutdown.
	ingestCtx, cancelIngest := context.WithCancel(context.Background())
	defer cancelIngest()

	sweepDone := make(chan struct{})
	go vehicles.Sweep(sweepDone, cfg.CacheTTL/2+time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ingestor.Run(ingestCtx) })
	g.Go(func() error { return ingest.NewDBWriter(disp.DBChan, repo, cfg.DBBatchSize, cfg.DBFlushInterval).Run(gctx) })
	g.Go(func() error { return ingest.NewPusher(disp.PushChan, hub).Run(gctx) })
	g.Go(func() error { return ingest.NewAlertEvaluator(disp.AlertChan, repo, mirror, 5*time.Minute).Run(gctx) })
	if mirror != nil {
		g.Go(func() error { return ingest.NewStateMirror(disp.MirrorChan, mirror).Run(gctx) })
	}
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(server.Start)

	if err := consumer.Start(); err != nil {
		stop()
		cancelIngest()
		g.Wait()
		return fmt.Errorf("mqtt consumer: %w", err)
	}
	slog.Info("fleetwatch started", "version", version, "broker", cfg.MQTTBrokerURL, "topic", cfg.MQTTTopic)

	<-ctx.Done()
	slog.Info("shutting down")

	// Ordered teardown: stop the transport, let the workers finish and close
	// the stage channels, then take down the push hub and HTTP server.
	consumer.Stop()
	cancelIngest()
	close(sweepDone)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	hub.Close()

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			setupLogging(cfg.LogLevel)
			repo, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer repo.Close()
			return repo.Migrate()
		},
	}
}

func seedCmd() *cobra.Command {
	var vehicles, count int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Publish synthetic telemetry to the MQTT broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			setupLogging(cfg.LogLevel)
			return seed(cfg, vehicles, count)
		},
	}
	cmd.Flags().IntVar(&vehicles, "vehicles", 5, "number of synthetic vehicles")
	cmd.Flags().IntVar(&count, "count", 20, "reports per vehicle")
	return cmd
}

func seed(cfg *config.Config, vehicleCount, perVehicle int) error {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBrokerURL).
		SetClientID(cfg.MQTTClientID + "-seed")
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect %s: %w", cfg.MQTTBrokerURL, token.Error())
	}
	defer client.Disconnect(250)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	now := time.Now().UTC()
	for v := 0; v < vehicleCount; v++ {
		id := fmt.Sprintf("SEED-%03d", v)
		lat, lng := 48.85+rng.Float64()*0.2, 2.35+rng.Float64()*0.2
		fuel := 60 + rng.Float64()*40
		for i := 0; i < perVehicle; i++ {
			lat += (rng.Float64() - 0.5) * 0.01
			lng += (rng.Float64() - 0.5) * 0.01
			fuel -= rng.Float64() * 0.5
			payload, err := json.Marshal(map[string]any{
				"vehicleId":    id,
				"lat":          lat,
				"lng":          lng,
				"speed":        rng.Float64() * 110,
				"fuelLevel":    fuel,
				"engineStatus": "on",
				"timestamp":    now.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
			})
			if err != nil {
				return err
			}
			topic := fmt.Sprintf("fleet/%s/telemetry", id)
			if token := client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
				return fmt.Errorf("publish: %w", token.Error())
			}
		}
		slog.Info("seeded vehicle", "vehicle_id", id, "reports", perVehicle)
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
