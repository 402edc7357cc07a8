package bootstrap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"

	"github.com/mcdev12/newsletter/go/internal/config"
)

// NewMeterProvider builds the meter provider and installs it globally. When telemetry
// is enabled a periodic reader pushes to the OTLP collector; opts can add readers.
// Callers own Shutdown, which flushes the last interval.
func NewMeterProvider(ctx context.Context, cfg config.TelemetryConfig, opts ...sdkmetric.Option) (*sdkmetric.MeterProvider, error) {
	res := sdkresource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	options := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if cfg.Enabled {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		options = append(options, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.ExportInterval)),
		))
		log.Info().
			Str("endpoint", cfg.Endpoint).
			Dur("interval", cfg.ExportInterval).
			Msg("exporting metrics over OTLP")
	} else {
		log.Warn().Msg("telemetry turned off, metrics are not exported")
	}

	mp := sdkmetric.NewMeterProvider(append(options, opts...)...)
	otel.SetMeterProvider(mp)
	return mp, nil
}
