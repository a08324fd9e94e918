package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahmad-codex/precog/internal/collab"
	"github.com/ahmad-codex/precog/internal/config"
	"github.com/ahmad-codex/precog/internal/core"
	"github.com/ahmad-codex/precog/internal/observability"
	"github.com/ahmad-codex/precog/internal/persistence"
	"github.com/ahmad-codex/precog/internal/projection"
	"github.com/ahmad-codex/precog/internal/publish"
	"github.com/ahmad-codex/precog/internal/record"
	"github.com/ahmad-codex/precog/internal/schedule"
	"github.com/ahmad-codex/precog/internal/server"
)

func main() {
	log := observability.NewLogger("main")
	log.Info().Msg("precog starting")

	cfgPath := os.Getenv("PRECOG_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Recovery ---
	snapshots := persistence.NewSnapshotStore(db, metrics)
	snap, err := snapshots.LoadLatest(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("load snapshot failed, cold start")
	}

	writer := persistence.NewRecordWriter(db)
	startSequence, err := writer.LatestSequence(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("read last persisted sequence")
	}

	// --- Channels ---
	persistChan := make(chan record.Record, cfg.Channels.PersistBuffer)
	projectionFeed := make(chan record.Record, cfg.Channels.ProjectionBuffer)
	metrics.SetChannelMetrics("persist", 0, cap(persistChan))
	metrics.SetChannelMetrics("projection", 0, cap(projectionFeed))

	// --- Engine ---
	// Receipt minting, treasury transfers, and the withdrawal register run
	// in-process until the external token integrations land.
	engine, err := core.NewEngine(core.Config{
		Cycle:              cfg.CycleConfig(),
		Fees:               cfg.Fees,
		Caps:               cfg.Caps,
		InvestmentTakeRate: cfg.InvestmentTakeRatePPM,
	}, core.Deps{
		Receipts:       collab.NewMemoryReceiptToken(),
		Treasury:       collab.NewMemoryTreasury(),
		Register:       collab.NewMemoryWithdrawalRegister(),
		PersistChan:    persistChan,
		ProjectionChan: projectionFeed,
		Metrics:        metrics,
		StartSequence:  startSequence,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}

	if snap != nil {
		engine.RestoreFromSnapshot(snap)
		log.Info().Uint64("sequence", snap.Sequence).Msg("state restored from snapshot")
		// The in-memory withdrawal register starts empty, so reservations
		// open at snapshot time have no backing entry until the external
		// register integration lands.
		for _, p := range snap.Pools {
			if p.PendingWithdrawal > 0 {
				log.Warn().
					Str("symbol", p.Symbol).
					Int64("pending", p.PendingWithdrawal).
					Msg("restored pool has pending withdrawals with no live reservation")
			}
		}
	} else {
		log.Info().Uint64("sequence", startSequence).Msg("cold start")
	}

	errChan := make(chan error, 8)

	// --- Persistence worker ---
	persistWorker := persistence.NewWorker(db, persistChan,
		cfg.Persistence.BatchSize, cfg.Persistence.FlushTimeout.Std(), metrics)
	go persistWorker.Run(ctx)

	// --- Projection worker + outbound fanout ---
	projectionChan := make(chan record.Record, cfg.Channels.ProjectionBuffer)
	publishChan := make(chan record.Record, cfg.Channels.PublishBuffer)
	go fanOut(ctx, projectionFeed, projectionChan, publishChan, metrics)

	projWorker := projection.NewWorker(db, projectionChan)
	go func() {
		errChan <- projWorker.Run(ctx)
	}()

	// --- NATS outbound publisher ---
	if cfg.NATS.Enabled {
		nc, js, err := publish.Connect(cfg.NATS.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()

		if err := publish.EnsureStream(ctx, js); err != nil {
			log.Fatal().Err(err).Msg("ensure outbound stream")
		}
		publisher := publish.NewPublisher(js, publishChan, metrics)
		go func() {
			errChan <- publisher.Run(ctx)
		}()
		log.Info().Str("url", cfg.NATS.URL).Msg("nats connected")
	}

	// --- Scheduler ---
	scheduler := schedule.NewScheduler(engine, snapshots)
	if err := scheduler.Register(cfg.Schedule.RolloverCron, cfg.Schedule.SnapshotCron); err != nil {
		log.Fatal().Err(err).Msg("register cron jobs")
	}
	scheduler.Start()
	defer scheduler.Stop()

	// --- HTTP API ---
	srv := server.NewServer(engine, health, server.AuthConfig{
		AdminKey:      cfg.Auth.AdminKey,
		MiddlewareKey: cfg.Auth.MiddlewareKey,
		GatewayKey:    cfg.Auth.GatewayKey,
	}, metrics)
	go func() {
		errChan <- srv.Run(ctx, cfg.HTTP.Addr)
	}()

	// --- Prometheus metrics server ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: cfg.HTTP.MetricsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.HTTP.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	health.SetReady(true)
	log.Info().
		Uint64("sequence", engine.Sequence()).
		Str("http", cfg.HTTP.Addr).
		Str("metrics", cfg.HTTP.MetricsAddr).
		Msg("precog ready")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := scheduler.SnapshotNow(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	} else {
		log.Info().Msg("final snapshot saved")
	}

	log.Info().Msg("precog shutdown complete")
}

// fanOut forwards each record from the engine's projection feed to the
// projection worker and the outbound publisher. Both sends are non-blocking;
// the projection tables and the NATS stream are rebuildable from the record
// log, so a slow consumer loses records rather than stalling the feed.
func fanOut(ctx context.Context, in <-chan record.Record, projOut, pubOut chan<- record.Record, metrics *observability.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-in:
			if !ok {
				return
			}
			select {
			case projOut <- rec:
			default:
				if metrics != nil {
					metrics.ProjectionDrops.Inc()
				}
			}
			select {
			case pubOut <- rec:
			default:
				if metrics != nil {
					metrics.PublishDrops.Inc()
				}
			}
		}
	}
}
