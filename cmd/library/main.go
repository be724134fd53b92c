package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/0m3kk/library/app"
	"github.com/0m3kk/library/config"
	"github.com/0m3kk/library/infra/auditsql"
	"github.com/0m3kk/library/infra/nats"
	"github.com/0m3kk/library/infra/orm"
	"github.com/0m3kk/library/infra/postgres"
	"github.com/0m3kk/library/logging"
	"github.com/0m3kk/library/messagebus"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Library service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.Init(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Infrastructure ---

	db, err := postgres.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("Database connection established")

	auditDB, err := auditsql.Open(ctx, cfg.Audit.DatabaseURL, auditsql.Options{
		MaxOpenConns:    cfg.Audit.MaxOpenConns,
		MaxIdleConns:    cfg.Audit.MaxIdleConns,
		ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("connect to audit database: %w", err)
	}
	defer auditDB.Close()

	partyDB, err := orm.Connect(ctx, cfg.Party.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to party database: %w", err)
	}
	defer partyDB.Close()
	if cfg.Party.AutoMigrate {
		if err := partyDB.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate party database: %w", err)
		}
	}

	broker, err := newBroker(cfg)
	if err != nil {
		return err
	}
	defer broker.Close()
	slog.Info("Message broker ready", "kind", cfg.Broker.Kind)

	// --- Services ---

	library := app.New(cfg, app.Infra{
		Transactor:   db,
		Outbox:       postgres.NewOutboxStore(db),
		Idempotency:  postgres.NewIdempotencyStore(db),
		Reservations: postgres.NewReservationRepository(db),
		Books:        postgres.NewBookRepository(db),
		Categories:   postgres.NewCategoryRepository(db),
		Parties:      orm.NewPartyRepository(partyDB),
		AuditStore:   auditsql.NewStore(auditDB),
		Broker:       broker,
	})
	if err := library.Start(ctx); err != nil {
		return err
	}
	defer library.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      library.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	slog.Info("HTTP server stopped")

	// Forward facts committed by the last requests before the broker closes.
	library.Stop()
	n, err := library.Flush(shutdownCtx)
	if err != nil {
		return fmt.Errorf("drain outbox: %w", err)
	}
	slog.Info("Outbox drained", "forwarded", n)
	return nil
}

func newBroker(cfg *config.Config) (messagebus.Broker, error) {
	switch cfg.Broker.Kind {
	case config.BrokerNATS:
		b, err := nats.NewNATSBroker(cfg.NATS.URL, nats.Options{
			MaxDeliver:      cfg.Broker.MaxDeliveries,
			RedeliveryDelay: cfg.Broker.RedeliveryDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		return b, nil
	default:
		b, err := messagebus.NewInProcBroker(cfg.Broker.PoolSize,
			messagebus.WithMaxDeliveries(cfg.Broker.MaxDeliveries),
			messagebus.WithRedeliveryDelay(cfg.Broker.RedeliveryDelay),
		)
		if err != nil {
			return nil, fmt.Errorf("create in-process broker: %w", err)
		}
		return b, nil
	}
}
