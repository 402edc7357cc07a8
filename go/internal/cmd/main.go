package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/newsletter/go/internal/bootstrap"
	"github.com/mcdev12/newsletter/go/internal/dbconfig"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("newsletter api exited")
	}
}

func run() error {
	f := parseFlags()

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConfig := dbconfig.NewConfigFromEnv()
	db, err := setupDatabase(ctx, dbConfig, f.migrate)
	if err != nil {
		return err
	}
	defer db.Close()

	services := setupServices(db)

	var deliveries *bootstrap.Delivery
	if cfg.Worker.Embedded {
		meters, err := bootstrap.NewMeterProvider(ctx, cfg.Telemetry)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := meters.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("failed to flush metrics")
			}
		}()

		deliveries, err = bootstrap.NewDelivery(ctx, db, dbConfig.DSN(), cfg, meters)
		if err != nil {
			return err
		}
	}

	server := setupServer(cfg.Server, services, deliveries)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Bool("embedded_worker", deliveries != nil).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if deliveries != nil {
		g.Go(func() error { return deliveries.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("graceful shutdown complete")
	return nil
}
