// Package app wires the meterlog components together and implements the
// CLI commands on top of them.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/meterlog/internal/config"
	"github.com/dmitrijs2005/meterlog/internal/connectivity"
	"github.com/dmitrijs2005/meterlog/internal/device"
	"github.com/dmitrijs2005/meterlog/internal/gc"
	"github.com/dmitrijs2005/meterlog/internal/images"
	"github.com/dmitrijs2005/meterlog/internal/logging"
	"github.com/dmitrijs2005/meterlog/internal/migrations"
	"github.com/dmitrijs2005/meterlog/internal/mq"
	"github.com/dmitrijs2005/meterlog/internal/remote"
	"github.com/dmitrijs2005/meterlog/internal/repositories/metadata"
	"github.com/dmitrijs2005/meterlog/internal/repositories/readings"
	"github.com/dmitrijs2005/meterlog/internal/services"
	syncengine "github.com/dmitrijs2005/meterlog/internal/sync"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	readings readings.Repository
	metadata metadata.Repository
	device   *device.Identity
	service  *services.ReadingService
}

// New opens the local database, runs migrations and builds the local
// service stack. Remote collaborators are wired lazily by the commands
// that need them, so purely local commands work offline.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}

	metaRepo := metadata.NewSQLiteRepository(db)
	dev, err := device.Load(ctx, metaRepo)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	readingRepo := readings.NewSQLiteRepository(db)
	service := services.NewReadingService(readingRepo, metaRepo, dev, logger)

	return &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		readings: readingRepo,
		metadata: metaRepo,
		device:   dev,
		service:  service,
	}, nil
}

// RunMigrations applies the local schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		log.Fatal("failed to set goose dialect:", err)
	}
	return goose.UpContext(ctx, db, ".")
}

func (a *App) Close() error {
	return a.db.Close()
}

// imageStore returns the configured image store, or nil when none is set up.
func (a *App) imageStore(ctx context.Context) (images.Store, error) {
	if a.config.S3Bucket == "" {
		return nil, nil
	}
	return images.NewS3Store(ctx, images.S3Config{
		Bucket:       a.config.S3Bucket,
		Region:       a.config.S3Region,
		BaseEndpoint: a.config.S3BaseEndpoint,
		AccessKey:    a.config.S3AccessKey,
		SecretKey:    a.config.S3SecretKey,
	})
}

// Run starts the sync daemon: remote store, change stream, connectivity
// probe, startup tombstone collection and the engine session. It blocks
// until the context is cancelled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	if a.config.OwnerID == "" {
		return fmt.Errorf("owner id is required to sync (flag -u)")
	}
	if a.config.RemoteDSN == "" || a.config.BrokerURL == "" {
		return fmt.Errorf("remote DSN and broker URL are required to sync")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.initSignalHandler(cancel)

	conn, err := mq.Dial(a.config.BrokerURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	publisher, err := mq.NewPublisher(conn, a.config.Exchange, a.logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	store, err := remote.NewPostgresStore(ctx, a.config.RemoteDSN, publisher, a.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	imgs, err := a.imageStore(ctx)
	if err != nil {
		return err
	}

	if _, err := gc.NewCollector(a.readings, imgs, a.logger).Run(ctx); err != nil {
		a.logger.Warn(ctx, "tombstone collection failed", "error", err)
	}

	consumer := mq.NewConsumer(conn, a.config.Exchange, a.device.Current(), a.logger)
	monitor := connectivity.NewMonitor(store, a.config.OnlineCheckInterval, a.logger)

	engine := syncengine.NewEngine(syncengine.Options{
		Repo:            a.readings,
		Service:         a.service,
		Store:           store,
		Subscriber:      consumer,
		Monitor:         monitor,
		Device:          a.device,
		Logger:          a.logger,
		PushConcurrency: a.config.PushConcurrency,
	})

	statusCh := engine.Subscribe()

	if err := engine.Start(ctx, a.config.OwnerID); err != nil {
		return err
	}
	defer engine.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info(ctx, "sync daemon stopping")
			return nil
		case status := <-statusCh:
			fmt.Printf("status: %s, pending: %d%s\n",
				status.State, status.Pending, formatErr(status.Err))
		}
	}
}

func (a *App) initSignalHandler(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancel()
	}()
}

func formatErr(msg string) string {
	if msg == "" {
		return ""
	}
	return " (" + msg + ")"
}
