package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/automaxprocs/maxprocs"

	appfulfillment "github.com/complykit/dsr-engine/internal/app/fulfillment"
	"github.com/complykit/dsr-engine/internal/config"
	"github.com/complykit/dsr-engine/internal/config/fileloader"
	domain "github.com/complykit/dsr-engine/internal/domain/fulfillment"
	"github.com/complykit/dsr-engine/internal/infra/eventsink/kafka"
	"github.com/complykit/dsr-engine/internal/infra/storage/fulfillment/postgres"
	"github.com/complykit/dsr-engine/pkg/common"
	"github.com/complykit/dsr-engine/pkg/common/logger"
	"github.com/complykit/dsr-engine/pkg/common/otel"
)

const serviceType = "engine"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("ENGINE-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logger.LevelInfo, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prob := 1.0
	if v := os.Getenv("OTEL_SAMPLING_RATIO"); v != "" {
		prob, err = strconv.ParseFloat(v, 64)
		if err != nil {
			log.Error(ctx, "failed to parse OTEL_SAMPLING_RATIO", "error", err)
			os.Exit(1)
		}
	}
	tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      svcName,
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Probability:      prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: true,
	})
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(svcName)

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			log.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := os.Getenv("POSTGRES_USER")
		password := os.Getenv("POSTGRES_PASSWORD")
		host := os.Getenv("POSTGRES_HOST")
		dbname := os.Getenv("POSTGRES_DB")

		if user == "" {
			user = "postgres"
		}
		if password == "" {
			password = "postgres"
		}
		if host == "" {
			host = "postgres"
		}
		if dbname == "" {
			dbname = "dsrengine"
		}

		dsn = fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable",
			user, password, host, dbname)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		log.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MinConns = 5
	poolCfg.MaxConns = 20
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(ctx, pool); err != nil {
		log.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}

	log.Info(ctx, "Migrations applied successfully. Starting engine...")

	var cfg config.Config
	if path := os.Getenv("ENGINE_CONFIG_PATH"); path != "" {
		loaded, err := fileloader.NewFileLoader(path).Load(ctx)
		if err != nil {
			log.Error(ctx, "failed to load config", "path", path, "error", err)
			os.Exit(1)
		}
		cfg = *loaded
	}

	taskRepo := postgres.NewTaskStore(pool, tracer)
	locationRepo := postgres.NewLocationStore(pool, tracer)

	if err := seedLocations(ctx, cfg.Locations, locationRepo, log); err != nil {
		log.Error(ctx, "failed to seed location registry", "error", err)
		os.Exit(1)
	}

	sink, err := kafka.ConnectWithRetry(&kafka.Config{
		Brokers:       strings.Split(os.Getenv("KAFKA_BROKERS"), ","),
		ActivityTopic: envOr("KAFKA_ACTIVITY_TOPIC", "dsr-activity"),
		ClientID:      svcName,
	}, log, tracer)
	if err != nil {
		log.Error(ctx, "failed to connect event sink", "error", err)
		os.Exit(1)
	}

	lifecycle := appfulfillment.NewTaskLifecycle(taskRepo, sink, log, tracer)

	sweeper := appfulfillment.NewTaskSweeper(
		taskRepo,
		locationRepo,
		lifecycle,
		tracer,
		log,
		appfulfillment.WithRetryInterval(cfg.Sweeper.RetryInterval),
		appfulfillment.WithCallbackInterval(cfg.Sweeper.CallbackInterval),
		appfulfillment.WithBatchSize(cfg.Sweeper.BatchSize),
	)
	sweeper.Start(ctx)

	log.Info(ctx, "Engine initialized")
	ready.Store(true)

	sig := <-sigCh
	log.Info(ctx, "Received shutdown signal", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sweeper.Stop()
	if closer, ok := sink.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Error(shutdownCtx, "Failed to close event sink", "error", err)
		}
	}
}

// locationRegistry is the slice of the location store the seeder needs.
type locationRegistry interface {
	GetLocationByName(ctx context.Context, name string) (*domain.Location, error)
	CreateLocation(ctx context.Context, loc *domain.Location) error
}

// seedLocations registers configured locations that are not yet present,
// matched by name. Existing locations are left untouched so operator edits
// survive restarts.
func seedLocations(
	ctx context.Context,
	specs []config.LocationSpec,
	store locationRegistry,
	log *logger.Logger,
) error {
	if len(specs) == 0 {
		return nil
	}

	for _, spec := range specs {
		_, err := store.GetLocationByName(ctx, spec.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrLocationNotFound) {
			return fmt.Errorf("failed to look up location %q: %w", spec.Name, err)
		}

		loc, err := spec.ToLocation()
		if err != nil {
			return err
		}
		if err := store.CreateLocation(ctx, loc); err != nil {
			return fmt.Errorf("failed to seed location %q: %w", spec.Name, err)
		}
		log.Info(ctx, "Seeded location", "name", loc.Name(), "execution_type", string(loc.ExecutionType()))
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// runMigrations uses golang-migrate to apply all up migrations. It acquires a
// single pgx connection from the pool, runs migrations, and then releases the
// connection back to the pool.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	defer conn.Release()

	db := stdlib.OpenDBFromPool(pool)

	driver, err := pgx.WithInstance(db, &pgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	migrationsPath := envOr("MIGRATIONS_PATH", "file://db/migrations")
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}
