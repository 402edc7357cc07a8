package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL   string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string        // Channel name to LISTEN on
	PingInterval  time.Duration // Keeps the dedicated connection alive
	MinReconnect  time.Duration
	MaxReconnect  time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: NotifyChannel,
		PingInterval:  90 * time.Second,
		MinReconnect:  10 * time.Second,
		MaxReconnect:  time.Minute,
	}
}

// notificationSource is the part of *pq.Listener the Listener reads from.
type notificationSource interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// Listener turns queue notifications into worker wakeups. Signals coalesce into one
// pending wakeup, which the worker fans out to all of its idle loops. Notifications
// only shorten the idle wait; workers still poll, so a lost notification delays but
// never drops a delivery.
type Listener struct {
	source  notificationSource
	cfg     ListenerConfig
	wakeups chan struct{}
}

func NewListener(cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnect,
		cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return newListener(l, cfg), nil
}

func newListener(source notificationSource, cfg ListenerConfig) *Listener {
	return &Listener{
		source:  source,
		cfg:     cfg,
		wakeups: make(chan struct{}, 1),
	}
}

// Wakeups is the channel handed to WithWakeup.
func (l *Listener) Wakeups() <-chan struct{} {
	return l.wakeups
}

func (l *Listener) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	notifications := l.source.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.source.Close()
		case note := <-notifications:
			// nil notification means the connection was re-established; tasks may
			// have been enqueued while it was down
			if note != nil {
				log.Debug().Str("newsletter_issue_id", note.Extra).Msg("delivery tasks enqueued")
			}
			l.wake()
		case <-pingTicker.C:
			if err := l.source.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) wake() {
	select {
	case l.wakeups <- struct{}{}:
	default:
	}
}
