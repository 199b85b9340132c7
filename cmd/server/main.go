package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/fleet-dispatch/internal/config"
	"github.com/example/fleet-dispatch/internal/dispatch"
	"github.com/example/fleet-dispatch/internal/events"
	httpapi "github.com/example/fleet-dispatch/internal/http"
	"github.com/example/fleet-dispatch/internal/incident"
	"github.com/example/fleet-dispatch/internal/logging"
	"github.com/example/fleet-dispatch/internal/notify"
	"github.com/example/fleet-dispatch/internal/registry"
	"github.com/example/fleet-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		runMigrations(cfg.PGDSN)
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		store = ps
		logger.Info("using postgres store")
	} else {
		store = storage.NewMemoryStore()
		logger.Info("using in-memory store")
	}

	var producer *events.KafkaProducer
	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		producer = events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic, cfg.KafkaSnapshotsTopic)
		publisher = producer
		defer func() { _ = producer.Close() }()
		logger.Info("kafka producer enabled", "brokers", cfg.KafkaBrokers)
	}

	incidents := incident.NewLog(store, publisher)
	reg := registry.NewIndex(incidents)

	var positions *registry.RedisPositions
	if cfg.RedisAddr != "" {
		positions = registry.NewRedisPositions(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		reg.SetPositionSink(positions)
		logger.Info("redis position index enabled", "addr", cfg.RedisAddr)
	}

	wsreg := notify.NewWSRegistry(logger)
	notifier := notify.NewPushNotifier(wsreg, cfg.PushEndpoint)

	ctrl := dispatch.NewController(reg, store, publisher, logger, cfg.Rules, cfg.AutoAssignEnabled,
		dispatch.WithNotifier(notifier))

	srv := httpapi.NewServer(ctrl, incidents, reg, wsreg, logger)
	srv.Positions = positions
	srv.Producer = producer

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("fleet-dispatch listening", "addr", cfg.HTTPAddr, "auto_assign", cfg.AutoAssignEnabled)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

// runMigrations applies the bundled schema when MIGRATE=true, mirroring a
// simple bootstrap flow; real deployments drive migrations externally.
func runMigrations(dsn string) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Printf("migration db open error: %v", err)
		return
	}
	defer func() { _ = db.Close() }()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_dispatch.sql"))
	if err != nil {
		log.Printf("migration read error: %v", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		log.Printf("migration exec error: %v", err)
		return
	}
	log.Printf("migration applied: 001_create_dispatch.sql")
}
