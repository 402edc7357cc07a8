package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	WorkerRunning     bool      `json:"worker_running"`
	DatabaseConnected bool      `json:"database_connected"`
	PendingTasks      int       `json:"pending_tasks"`
	Delivered         uint64    `json:"delivered"`
	LastDelivery      time.Time `json:"last_delivery"`
	Errors            []string  `json:"errors"`
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type pendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

type workerStats interface {
	Running() bool
	Stats() (uint64, time.Time)
}

type HealthChecker struct {
	worker    workerStats
	db        Pinger
	queue     pendingCounter
	metrics   MetricsCollector
	threshold time.Duration // How long pending tasks may wait without a delivery
	backlog   int           // Pending count reported as a warning
}

func NewHealthChecker(worker workerStats, db Pinger, queue pendingCounter, metrics MetricsCollector, threshold time.Duration) *HealthChecker {
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	return &HealthChecker{
		worker:    worker,
		db:        db,
		queue:     queue,
		metrics:   metrics,
		threshold: threshold,
		backlog:   10000,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Errors:  []string{},
	}

	status.Delivered, status.LastDelivery = h.worker.Stats()

	status.WorkerRunning = h.worker.Running()
	if !status.WorkerRunning {
		status.Healthy = false
		status.Errors = append(status.Errors, "worker not running")
	}

	if err := h.db.PingContext(ctx); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
		return status
	}
	status.DatabaseConnected = true

	pending, err := h.queue.PendingCount(ctx)
	if err != nil {
		status.Errors = append(status.Errors, fmt.Sprintf("failed to count pending tasks: %v", err))
		return status
	}
	status.PendingTasks = pending
	h.metrics.RecordQueueDepth(pending)

	if pending > h.backlog {
		status.Errors = append(status.Errors, fmt.Sprintf("high pending task count: %d", pending))
	}

	// Stalled: work is waiting but nothing has been delivered recently
	if pending > 0 && !status.LastDelivery.IsZero() && h.threshold > 0 {
		if since := time.Since(status.LastDelivery); since > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no deliveries for %s", since.Round(time.Second)))
		}
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to write health response")
	}
}
