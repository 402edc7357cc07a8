// Package bootstrap assembles the delivery side of the service from configuration.
// Both the API binary (embedded worker) and the worker binary use it.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/newsletter/go/internal/config"
	"github.com/mcdev12/newsletter/go/internal/delivery"
	"github.com/mcdev12/newsletter/go/internal/email"
	"github.com/mcdev12/newsletter/go/internal/newsletter"
	"github.com/mcdev12/newsletter/go/internal/progress"
)

// NewSender builds the configured email transport. The returned close func is never
// nil.
func NewSender(ctx context.Context, cfg config.EmailConfig) (email.Sender, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Transport {
	case config.TransportHTTP:
		client := email.NewClient(email.ClientConfig{
			BaseURL:   cfg.BaseURL,
			Sender:    cfg.Sender,
			AuthToken: cfg.AuthToken,
			Timeout:   cfg.Timeout,
		})
		return client, noop, nil
	case config.TransportJetStream:
		jsCfg := email.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NatsURL
		if cfg.Stream != "" {
			jsCfg.StreamName = cfg.Stream
		}
		if cfg.Subject != "" {
			jsCfg.Subject = cfg.Subject
		}
		sender, err := email.NewJetStreamSender(ctx, jsCfg)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create JetStream sender: %w", err)
		}
		return sender, sender.Close, nil
	case config.TransportLog, "":
		return email.LogSender{}, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown email transport %q", cfg.Transport)
	}
}

// DeliveryConfig maps the worker section onto delivery.Config.
func DeliveryConfig(cfg config.WorkerConfig) delivery.Config {
	return delivery.Config{
		Concurrency:  cfg.Concurrency,
		EmptyBackoff: cfg.EmptyBackoff,
		ErrorBackoff: cfg.ErrorBackoff,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
		MaxRetryWait: cfg.MaxRetryWait,
	}
}

// Delivery is a wired delivery worker with its wakeup listener, progress hub and
// health checker.
type Delivery struct {
	Worker   *delivery.Worker
	Listener *delivery.Listener // nil when LISTEN is disabled
	Hub      *progress.Hub
	Health   *delivery.HealthChecker
	Admin    *delivery.AdminHandler

	closeSender func() error
}

// NewDelivery wires the worker against db. dsn is used for the dedicated LISTEN
// connection and meters receives the delivery instruments.
func NewDelivery(ctx context.Context, db *sql.DB, dsn string, cfg *config.Config, meters metric.MeterProvider) (*Delivery, error) {
	sender, closeSender, err := NewSender(ctx, cfg.Email)
	if err != nil {
		return nil, err
	}

	metrics, err := delivery.NewOtelMetrics(meters)
	if err != nil {
		_ = closeSender()
		return nil, fmt.Errorf("failed to create delivery metrics: %w", err)
	}

	queue := delivery.NewQueue(db)
	hub := progress.NewHub(progress.DefaultConfig())
	opts := []delivery.Option{
		delivery.WithMetrics(metrics),
		delivery.WithEvents(hub),
	}

	var listener *delivery.Listener
	if cfg.Worker.Listen {
		lcfg := delivery.DefaultListenerConfig()
		lcfg.DatabaseURL = dsn
		listener, err = delivery.NewListener(lcfg)
		if err != nil {
			_ = closeSender()
			return nil, fmt.Errorf("failed to create delivery listener: %w", err)
		}
		opts = append(opts, delivery.WithWakeup(listener.Wakeups()))
	}

	worker := delivery.NewWorker(queue, newsletter.NewRepository(db), sender, DeliveryConfig(cfg.Worker), opts...)

	return &Delivery{
		Worker:      worker,
		Listener:    listener,
		Hub:         hub,
		Health:      delivery.NewHealthChecker(worker, db, queue, metrics, cfg.Worker.StallThreshold),
		Admin:       delivery.NewAdminHandler(queue),
		closeSender: closeSender,
	}, nil
}

// RegisterRoutes mounts the delivery health, progress and dead letter endpoints.
func (d *Delivery) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /health/delivery", d.Health)
	mux.Handle("GET /admin/deliveries/ws", d.Hub)
	mux.HandleFunc("GET /admin/deliveries/stats", d.Hub.ServeStats)
	d.Admin.RegisterRoutes(mux)
}

// Run drives every delivery component until ctx is cancelled.
func (d *Delivery) Run(ctx context.Context) error {
	defer func() {
		if err := d.closeSender(); err != nil {
			log.Error().Err(err).Msg("failed to close email sender")
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Hub.Start(ctx) })
	if d.Listener != nil {
		g.Go(func() error { return d.Listener.Start(ctx) })
	}
	g.Go(func() error { return d.Worker.Run(ctx) })
	return g.Wait()
}
