// Package app wires the library services together. Infrastructure is
// injected so the same wiring runs over Postgres and NATS in production and
// over in-memory fakes in tests.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/0m3kk/library/api"
	"github.com/0m3kk/library/audit"
	"github.com/0m3kk/library/catalog"
	"github.com/0m3kk/library/config"
	"github.com/0m3kk/library/event"
	"github.com/0m3kk/library/handler"
	"github.com/0m3kk/library/messagebus"
	"github.com/0m3kk/library/outbox"
	"github.com/0m3kk/library/party"
	"github.com/0m3kk/library/reservation"
)

// OutboxStore is written by producers inside their transaction and drained by relays.
type OutboxStore interface {
	Publish(ctx context.Context, events ...event.Event) error
	outbox.Store
}

// Infra holds the adapters the services run on.
type Infra struct {
	Transactor   handler.Transactor
	Outbox       OutboxStore
	Idempotency  handler.IdempotencyStore
	Reservations reservation.Repository
	Books        catalog.BookRepository
	Categories   catalog.CategoryRepository
	Parties      party.Repository
	AuditStore   audit.Store
	Broker       messagebus.Broker
}

// App is the assembled process: services, consumers and background workers.
type App struct {
	infra Infra

	Reservations *reservation.Service
	Books        *catalog.BookService
	Categories   *catalog.CategoryService
	Parties      *party.Service
	AuditLog     *audit.Log

	inventory *handler.IdempotentEventHandler
	relays    []*outbox.Relay
	sweeper   *audit.Sweeper
}

// New builds the services. Nothing runs until Start.
func New(cfg *config.Config, infra Infra) *App {
	partyPublisher := messagebus.NewPublisher(
		messagebus.NewRetryingBroker(infra.Broker, messagebus.WithMaxTries(cfg.Broker.PublishTries)),
		messagebus.DefaultTopic,
	)
	auditLog := audit.NewLog(infra.AuditStore)

	a := &App{
		infra:        infra,
		Reservations: reservation.NewService(infra.Reservations, infra.Transactor, infra.Outbox),
		Books:        catalog.NewBookService(infra.Books, infra.Categories, infra.Transactor, infra.Outbox),
		Categories:   catalog.NewCategoryService(infra.Categories, infra.Transactor, infra.Outbox),
		Parties:      party.NewService(infra.Parties, partyPublisher),
		AuditLog:     auditLog,
		sweeper: audit.NewSweeper(auditLog,
			cfg.Retention.Horizon, cfg.Retention.Interval, cfg.Retention.RetryInterval),
	}

	projector := catalog.NewInventoryProjector(infra.Books)
	a.inventory = handler.NewIdempotentEventHandler(
		catalog.InventorySubscriberID,
		infra.Idempotency,
		infra.Transactor,
		projector.Dispatcher().Handle,
		handler.WithMaxElapsedTime(cfg.Consumer.MaxElapsedTime),
	)

	interval := cfg.Outbox.Interval
	if interval <= 0 {
		interval = time.Second
	}
	for i := range max(cfg.Outbox.Relays, 1) {
		a.relays = append(a.relays, outbox.NewRelay(
			fmt.Sprintf("relay-%d", i+1),
			infra.Outbox,
			infra.Broker,
			messagebus.DefaultTopic,
			cfg.Outbox.BatchSize,
			interval,
		))
	}
	return a
}

// Start subscribes the consumers and starts the relays and the retention sweeper.
func (a *App) Start(ctx context.Context) error {
	for _, topic := range messagebus.AllTopics() {
		if err := a.infra.Broker.Subscribe(ctx, topic, audit.SubscriberID, a.AuditLog.Handle); err != nil {
			return fmt.Errorf("subscribe audit to %s: %w", topic, err)
		}
	}
	err := a.infra.Broker.Subscribe(ctx, messagebus.TopicReservations, catalog.InventorySubscriberID, a.inventory.Handle)
	if err != nil {
		return fmt.Errorf("subscribe inventory projector: %w", err)
	}

	for _, r := range a.relays {
		r.Start(ctx)
	}
	a.sweeper.Start(ctx)

	slog.InfoContext(ctx, "Library services started", "relays", len(a.relays))
	return nil
}

// Flush forwards every pending outbox record through the first relay. Call it
// after Stop on shutdown so facts committed by the last requests still leave.
func (a *App) Flush(ctx context.Context) (int, error) {
	return a.relays[0].Flush(ctx)
}

// Stop halts the background workers. It is safe to call more than once.
// Subscriptions end with the context passed to Start.
func (a *App) Stop() {
	for _, r := range a.relays {
		r.Stop()
	}
	a.sweeper.Stop()
}

// Router returns the HTTP surface over the services.
func (a *App) Router() *gin.Engine {
	return api.NewRouter(api.NewHandler(a.Reservations, a.Books, a.Categories, a.Parties, a.AuditLog))
}
