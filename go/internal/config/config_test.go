package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, TransportLog, cfg.Email.Transport)
	assert.Equal(t, 1, cfg.Worker.Concurrency)
	assert.Zero(t, cfg.Worker.MaxAttempts)
	assert.False(t, cfg.Worker.Embedded)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, time.Minute, cfg.Telemetry.ExportInterval)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
log:
  level: debug
  format: json
worker:
  embedded: true
  concurrency: 4
  empty_backoff: 2s
  max_attempts: 5
email:
  transport: http
  base_url: https://api.postmarkapp.com
  sender: editor@example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Worker.Embedded)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Worker.EmptyBackoff)
	assert.Equal(t, 5, cfg.Worker.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Worker.ErrorBackoff, "unset keys keep defaults")
	assert.Equal(t, "https://api.postmarkapp.com", cfg.Email.BaseURL)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("PORT", "7070")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("WORKER_EMBEDDED", "true")
	t.Setenv("EMAIL_TRANSPORT", "jetstream")
	t.Setenv("NATS_URL", "nats://queue:4222")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.True(t, cfg.Worker.Embedded)
	assert.Equal(t, TransportJetStream, cfg.Email.Transport)
	assert.Equal(t, "nats://queue:4222", cfg.Email.NatsURL)
}

func TestTelemetryEnvOverrides(t *testing.T) {
	t.Setenv("TELEMETRY_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_SERVICE_NAME", "newsletter-worker")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector:4317", cfg.Telemetry.Endpoint)
	assert.Equal(t, "newsletter-worker", cfg.Telemetry.ServiceName)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"http without base url", "email:\n  transport: http\n", "email.base_url"},
		{"unknown transport", "email:\n  transport: pigeon\n", "unknown email.transport"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"negative attempts", "worker:\n  max_attempts: -1\n", "max_attempts"},
		{"zero concurrency", "worker:\n  concurrency: 0\n", "concurrency"},
		{"telemetry without endpoint", "telemetry:\n  enabled: true\n  endpoint: \"\"\n", "telemetry.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
