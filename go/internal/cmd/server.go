package main

import (
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/newsletter/go/internal/bootstrap"
	"github.com/mcdev12/newsletter/go/internal/config"
	"github.com/mcdev12/newsletter/go/internal/reqctx"
)

// setupServer builds the API server. deliveries is nil unless the worker is embedded.
func setupServer(cfg config.ServerConfig, services *Services, deliveries *bootstrap.Delivery) *http.Server {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{reqctx.RequestIDHeader, "Location", "Retry-After"},
	})

	services.Newsletters.RegisterRoutes(mux)
	if deliveries != nil {
		deliveries.RegisterRoutes(mux)
	}
	setupHealthCheck(mux)

	handler := reqctx.Middleware(c.Handler(mux))

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
