package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/newsletter/go/internal/apperr"
	"github.com/mcdev12/newsletter/go/internal/email"
	"github.com/mcdev12/newsletter/go/internal/models"
)

// TaskQueue defines what the worker needs from the delivery queue
type TaskQueue interface {
	DequeueOne(ctx context.Context) (*Task, error)
	DeleteAndCommit(ctx context.Context, task *Task) error
	Release(task *Task) error
	Reschedule(ctx context.Context, task *Task, delay time.Duration) error
	DeadLetter(ctx context.Context, task *Task, reason string) error
}

// IssueStore looks up the content of an issue being delivered
type IssueStore interface {
	GetIssue(ctx context.Context, id uuid.UUID) (*models.NewsletterIssue, error)
}

type Config struct {
	Concurrency  int
	EmptyBackoff time.Duration // wait after finding the queue empty
	ErrorBackoff time.Duration // wait after a failed attempt
	// MaxAttempts bounds delivery attempts per task; 0 retries forever by rolling
	// back and leaving the row in place.
	MaxAttempts  int
	RetryBackoff time.Duration // base delay between attempts when MaxAttempts > 0
	MaxRetryWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		Concurrency:  1,
		EmptyBackoff: 10 * time.Second,
		ErrorBackoff: time.Second,
		MaxAttempts:  0,
		RetryBackoff: 30 * time.Second,
		MaxRetryWait: time.Hour,
	}
}

// ExecutionOutcome is the result of one worker iteration.
type ExecutionOutcome int

const (
	TaskCompleted ExecutionOutcome = iota
	EmptyQueue
	TaskFailed
)

func (o ExecutionOutcome) String() string {
	switch o {
	case TaskCompleted:
		return "task_completed"
	case EmptyQueue:
		return "empty_queue"
	case TaskFailed:
		return "task_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type Option func(*Worker)

func WithClock(clock clockwork.Clock) Option {
	return func(w *Worker) { w.clock = clock }
}

func WithMetrics(metrics MetricsCollector) Option {
	return func(w *Worker) { w.metrics = metrics }
}

func WithEvents(sink EventSink) Option {
	return func(w *Worker) { w.events = sink }
}

// WithWakeup lets idle workers resume before EmptyBackoff elapses. One signal wakes
// every idle loop.
func WithWakeup(ch <-chan struct{}) Option {
	return func(w *Worker) { w.wakeup = ch }
}

// Worker drains the delivery queue. Each iteration dequeues one task, sends the email
// and deletes the task in the same transaction that locked it.
type Worker struct {
	queue   TaskQueue
	issues  IssueStore
	sender  email.Sender
	config  Config
	clock   clockwork.Clock
	metrics MetricsCollector
	events  EventSink
	wakeup  <-chan struct{}

	// idle is closed and replaced on each wakeup signal
	idleMu sync.Mutex
	idle   chan struct{}

	mu            sync.Mutex
	running       bool
	stopChan      chan struct{}
	wg            sync.WaitGroup
	delivered     uint64
	lastDelivered time.Time
}

func NewWorker(queue TaskQueue, issues IssueStore, sender email.Sender, cfg Config, opts ...Option) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	w := &Worker{
		queue:    queue,
		issues:   issues,
		sender:   sender,
		config:   cfg,
		clock:    clockwork.NewRealClock(),
		metrics:  NoOpMetricsCollector{},
		events:   nopSink{},
		stopChan: make(chan struct{}),
		idle:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("delivery worker already running")
	}
	w.running = true
	w.stopChan = make(chan struct{})
	w.mu.Unlock()

	if w.wakeup != nil {
		w.wg.Add(1)
		go w.fanOutWakeups(ctx)
	}
	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}

	log.Info().
		Int("concurrency", w.config.Concurrency).
		Dur("empty_backoff", w.config.EmptyBackoff).
		Int("max_attempts", w.config.MaxAttempts).
		Msg("delivery worker started")

	return nil
}

func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("delivery worker not running")
	}
	w.running = false
	close(w.stopChan)
	w.mu.Unlock()

	w.wg.Wait()

	log.Info().Msg("delivery worker stopped")
	return nil
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop()
}

// Running reports whether the worker loops are active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stats returns the number of delivered emails and the time of the last one.
func (w *Worker) Stats() (uint64, time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.delivered, w.lastDelivered
}

func (w *Worker) run(ctx context.Context, id int) {
	defer w.wg.Done()

	logger := log.With().Int("worker_id", id).Logger()
	for {
		select {
		case <-w.stopChan:
			return
		default:
		}

		// taken before dequeueing so a notification that lands mid-iteration is not lost
		idle := w.idleSignal()
		outcome, err := w.TryExecuteTask(ctx)
		if ctx.Err() != nil {
			return
		}

		var wait time.Duration
		switch {
		case err != nil:
			logger.Error().Err(err).Msg("delivery iteration failed")
			wait = w.config.ErrorBackoff
		case outcome == EmptyQueue:
			wait = w.config.EmptyBackoff
		case outcome == TaskFailed:
			wait = w.config.ErrorBackoff
		default:
			continue
		}

		if outcome != EmptyQueue || err != nil {
			idle = nil
		}
		if !w.sleep(ctx, wait, idle) {
			return
		}
	}
}

// sleep waits for d, or until wakeup is closed, and reports false when the worker
// should exit.
func (w *Worker) sleep(ctx context.Context, d time.Duration, wakeup <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-w.stopChan:
		return false
	case <-wakeup:
		return true
	case <-w.clock.After(d):
		return true
	}
}

func (w *Worker) idleSignal() <-chan struct{} {
	if w.wakeup == nil {
		return nil
	}
	w.idleMu.Lock()
	defer w.idleMu.Unlock()
	return w.idle
}

// fanOutWakeups turns each signal on the wakeup channel into a broadcast to all loops.
func (w *Worker) fanOutWakeups(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-w.wakeup:
			w.idleMu.Lock()
			close(w.idle)
			w.idle = make(chan struct{})
			w.idleMu.Unlock()
		}
	}
}

// TryExecuteTask runs a single iteration: dequeue, deliver, then delete or release.
// Delivery failures are handled here and reported as TaskFailed; only storage
// failures are returned as errors.
func (w *Worker) TryExecuteTask(ctx context.Context) (ExecutionOutcome, error) {
	task, err := w.queue.DequeueOne(ctx)
	if err != nil {
		return TaskFailed, apperr.Storage("dequeue delivery task", err)
	}
	if task == nil {
		return EmptyQueue, nil
	}

	logger := log.With().
		Str("newsletter_issue_id", task.IssueID.String()).
		Str("subscriber_email", task.SubscriberEmail).
		Int("attempt", task.NRetries+1).
		Logger()

	issue, err := w.issues.GetIssue(ctx, task.IssueID)
	if err != nil {
		_ = w.queue.Release(task)
		return TaskFailed, apperr.Storage("load newsletter issue", err)
	}

	start := w.clock.Now()
	sendCtx := email.WithMessageID(ctx, task.DeliveryID.String())
	sendErr := w.sender.Send(sendCtx, task.SubscriberEmail, issue.Title, issue.HTMLContent, issue.TextContent)
	w.metrics.RecordDelivery(sendErr == nil, w.clock.Since(start))

	if sendErr != nil {
		logger.Warn().
			Err(apperr.Delivery("send newsletter issue", sendErr)).
			Msg("failed to deliver issue to a confirmed subscriber")
		w.handleFailure(ctx, task, sendErr, logger)
		return TaskFailed, nil
	}

	if err := w.queue.DeleteAndCommit(ctx, task); err != nil {
		return TaskFailed, apperr.Storage("delete delivery task", err)
	}

	w.mu.Lock()
	w.delivered++
	w.lastDelivered = w.clock.Now()
	w.mu.Unlock()

	w.publish(task, EventDelivered, nil)
	logger.Debug().Msg("delivered newsletter issue")
	return TaskCompleted, nil
}

func (w *Worker) handleFailure(ctx context.Context, task *Task, sendErr error, logger zerolog.Logger) {
	if w.config.MaxAttempts <= 0 {
		if err := w.queue.Release(task); err != nil {
			logger.Error().Err(err).Msg("failed to release delivery task")
		}
		w.publish(task, EventFailed, sendErr)
		return
	}

	if task.NRetries+1 >= w.config.MaxAttempts {
		if err := w.queue.DeadLetter(ctx, task, sendErr.Error()); err != nil {
			logger.Error().Err(err).Msg("failed to dead-letter delivery task")
			return
		}
		w.metrics.RecordDeadLetter()
		w.publish(task, EventDeadLettered, sendErr)
		logger.Error().Err(sendErr).Msg("delivery task exhausted its attempts")
		return
	}

	delay := w.retryDelay(task.NRetries)
	if err := w.queue.Reschedule(ctx, task, delay); err != nil {
		logger.Error().Err(err).Msg("failed to reschedule delivery task")
		return
	}
	w.publish(task, EventFailed, sendErr)
	logger.Debug().Dur("retry_in", delay).Msg("rescheduled delivery task")
}

// retryDelay doubles RetryBackoff per previous attempt, capped at MaxRetryWait.
func (w *Worker) retryDelay(previousAttempts int) time.Duration {
	delay := w.config.RetryBackoff
	for i := 0; i < previousAttempts; i++ {
		delay *= 2
		if w.config.MaxRetryWait > 0 && delay >= w.config.MaxRetryWait {
			return w.config.MaxRetryWait
		}
	}
	if w.config.MaxRetryWait > 0 && delay > w.config.MaxRetryWait {
		return w.config.MaxRetryWait
	}
	return delay
}

func (w *Worker) publish(task *Task, status EventStatus, err error) {
	event := Event{
		IssueID:         task.IssueID,
		SubscriberEmail: task.SubscriberEmail,
		Status:          status,
		Attempt:         task.NRetries + 1,
		At:              w.clock.Now(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	w.events.Publish(event)
}
