// Package server initializes and runs the CipherDrop server: it selects
// storage backends from configuration, wires the file service, the HTTP
// API and the retention sweeper, and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cipherdrop/cipherdrop/internal/logging"
	"github.com/cipherdrop/cipherdrop/internal/server/blob"
	"github.com/cipherdrop/cipherdrop/internal/server/config"
	"github.com/cipherdrop/cipherdrop/internal/server/httpapi"
	"github.com/cipherdrop/cipherdrop/internal/server/notify"
	"github.com/cipherdrop/cipherdrop/internal/server/repositories/records"
	"github.com/cipherdrop/cipherdrop/internal/server/services"
	"github.com/cipherdrop/cipherdrop/internal/server/sweeper"
	"github.com/cipherdrop/cipherdrop/internal/timex"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	records records.Repository
	blobs   blob.Store
	api     *httpapi.Server
	sweeper *sweeper.Sweeper
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	repo, err := newRecordRepository(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("record store init error: %w", err)
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	clock := timex.SystemClock{}
	notifier := notify.NewLogNotifier(logger)
	sw := sweeper.New(repo, blobs, notifier, logger, clock,
		sweeper.NewMetrics(registry), cfg.SweepInterval, cfg.NotifyLookahead)

	files := services.NewFileService(repo, blobs, sw, logger, clock)
	api := httpapi.New(cfg.EndpointAddrHTTP, cfg.PublicBaseURL, cfg.MaxUploadBytes,
		[]byte(cfg.AdminSecretKey), files, logger, registry)

	return &App{
		config:  cfg,
		logger:  logger,
		records: repo,
		blobs:   blobs,
		api:     api,
		sweeper: sw,
	}, nil
}

func newRecordRepository(ctx context.Context, cfg *config.Config) (records.Repository, error) {
	switch cfg.MetadataBackend {
	case "postgres":
		db, err := sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := records.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return records.NewPostgres(db), nil
	case "badger":
		return records.NewBadger(cfg.BadgerPath)
	case "memory":
		return records.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown metadata backend: %s", cfg.MetadataBackend)
	}
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case "s3":
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	case "fs":
		return blob.NewFS(cfg.BlobPath)
	case "memory":
		return blob.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend: %s", cfg.BlobBackend)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app",
		"metadata_backend", app.config.MetadataBackend,
		"blob_backend", app.config.BlobBackend)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.sweeper.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.api.Run(ctx); err != nil {
			app.logger.Error(ctx, "HTTP server error", "error", err)
			cancelFunc()
		}
	}()

	wg.Wait()

	if err := app.records.Close(); err != nil {
		app.logger.Error(ctx, "closing record store failed", "error", err)
	}
	app.logger.Info(ctx, "app stopped")
}
