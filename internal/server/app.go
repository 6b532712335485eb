// Package server initializes and runs the document upload service: it wires
// the ledger database, the object store, the event publisher and the HTTP
// endpoint, and handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dsslabs/docservice/internal/logging"
	"github.com/dsslabs/docservice/internal/server/config"
	"github.com/dsslabs/docservice/internal/server/events"
	"github.com/dsslabs/docservice/internal/server/httpapi"
	"github.com/dsslabs/docservice/internal/server/repositories/repomanager"
	"github.com/dsslabs/docservice/internal/server/services"
	"github.com/dsslabs/docservice/internal/server/storage"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	publisher events.Publisher
	server    *httpapi.Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	publisher := events.NewKafkaPublisher(strings.Split(cfg.KafkaBrokers, ","), logger)
	store := storage.NewS3Store(cfg, logger)

	documents := services.NewDocumentService(db, repos, store, publisher, logger)
	reconciler := services.NewReconciler(db, repos, store, publisher, logger)

	server := httpapi.NewServer(cfg.EndpointAddrHTTP, logger, documents, reconciler)

	return &App{
		config:    cfg,
		logger:    logger,
		db:        db,
		publisher: publisher,
		server:    server,
	}, nil
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

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.server.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Wait()

	// Drain queued events before exiting.
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := app.publisher.Close(closeCtx); err != nil {
		app.logger.Error(closeCtx, "publisher close error", "error", err.Error())
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error(closeCtx, "db close error", "error", err.Error())
	}
}
