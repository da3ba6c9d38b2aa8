package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/ingest-console/internal/dispatcher"
	"github.com/t77yq/ingest-console/internal/jobs"
	"github.com/t77yq/ingest-console/internal/model"
	"github.com/t77yq/ingest-console/internal/monitor"
	"github.com/t77yq/ingest-console/internal/service"
	"github.com/t77yq/ingest-console/internal/storage"
	"github.com/t77yq/ingest-console/internal/worker"
)

// SimulatedIngestHandler stands in for a real marketplace ingestion job
// in local development. It reports paginated progress and finishes with
// counters the run list can summarize.
type SimulatedIngestHandler struct {
	logger *zap.Logger
}

func (h *SimulatedIngestHandler) Ingest(ctx context.Context, r *model.Run, report func(json.RawMessage)) (json.RawMessage, error) {
	h.logger.Info("Simulating ingestion",
		zap.String("run_id", r.ID),
		zap.String("job_code", r.JobCode))

	for page := 1; page <= 3; page++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
		progress, _ := json.Marshal(map[string]interface{}{
			"phase":       "fetch",
			"page":        page,
			"total_pages": 3,
			"saved":       page * 40,
		})
		report(progress)
	}

	return json.Marshal(map[string]interface{}{
		"inserted": 120,
		"updated":  14,
		"deleted":  0,
	})
}

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.SetDefault("app.name", "ingest-console")
	viper.SetDefault("nats.urls.0", nats.DefaultURL)
	viper.SetDefault("nats.max_reconnects", 10)
	viper.SetDefault("nats.reconnect_wait", 2*time.Second)
	viper.SetDefault("nats.connect_timeout", 5*time.Second)
	viper.SetDefault("storage.path", "console.db")
	viper.SetDefault("monitor.stale_after", 2*time.Minute)
	viper.SetDefault("runs.retention_days", 30)
	viper.SetDefault("worker.embedded", true)
	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("No config file found, using defaults", zap.Error(err))
	}

	// Connect to NATS
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error",
				zap.String("subject", sub.Subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Open storage
	db, err := storage.Open(viper.GetString("storage.path"))
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer db.Close()

	scheduleStore := storage.NewSQLiteScheduleStore(logger.Named("schedules"), db)
	runStore := storage.NewSQLiteRunStore(logger.Named("runs"), db)

	// Job catalog
	catalog, err := jobs.NewCatalogFromConfig(viper.GetViper())
	if err != nil {
		logger.Fatal("Failed to load job catalog", zap.Error(err))
	}

	// Console service
	console, err := service.NewConsole(js, scheduleStore, runStore, catalog, logger.Named("console"))
	if err != nil {
		logger.Fatal("Failed to create console service", zap.Error(err))
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Cron dispatcher
	disp := dispatcher.New(js, scheduleStore, console, logger.Named("dispatcher"))
	if err := disp.Start(ctx); err != nil {
		logger.Fatal("Failed to start dispatcher", zap.Error(err))
	}
	defer disp.Stop()

	// Run monitor
	runMonitor := monitor.NewRunMonitor(js, runStore,
		viper.GetDuration("monitor.stale_after"), logger.Named("monitor"))
	if err := runMonitor.Start(ctx); err != nil {
		logger.Fatal("Failed to start run monitor", zap.Error(err))
	}
	defer runMonitor.Stop()

	// Embedded worker for local development; production deployments run
	// dedicated workers against the same subjects.
	if viper.GetBool("worker.embedded") {
		w := worker.New(js, worker.Config{
			ID:                "worker-embedded",
			Name:              "Embedded Worker",
			MaxRuns:           4,
			HeartbeatInterval: 15 * time.Second,
		}, logger.Named("worker"))

		simulated := &SimulatedIngestHandler{logger: logger.Named("ingest")}
		for _, def := range catalog.List() {
			w.RegisterHandler(def.JobCode, simulated)
		}

		if tailer, err := worker.NewLogTailer(logger.Named("logtail")); err != nil {
			logger.Warn("Docker unavailable, error traces disabled", zap.Error(err))
		} else {
			w = w.WithLogTailer(tailer)
			defer tailer.Close()
		}

		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start worker", zap.Error(err))
		}
		defer w.Stop()
	}

	// Periodically log recent runs and clean up old history
	go func() {
		listTicker := time.NewTicker(30 * time.Second)
		cleanupTicker := time.NewTicker(24 * time.Hour)
		defer listTicker.Stop()
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-listTicker.C:
				views, err := console.ListRunViews(ctx, storage.RunFilters{Limit: 10})
				if err != nil {
					logger.Error("Failed to list runs", zap.Error(err))
					continue
				}
				for _, view := range views {
					logger.Info("Recent run",
						zap.String("run_id", view.Run.ID),
						zap.String("job_code", view.Run.JobCode),
						zap.String("status", string(view.Run.Status)),
						zap.String("summary", view.Summary),
						zap.String("duration", view.Duration),
						zap.String("last_activity", view.LastActivity))
				}
			case <-cleanupTicker.C:
				cutoff := time.Now().AddDate(0, 0, -viper.GetInt("runs.retention_days"))
				if err := runStore.DeleteBefore(ctx, cutoff); err != nil {
					logger.Error("Failed to clean up run history", zap.Error(err))
				}
			}
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("Server shutting down gracefully")
}
