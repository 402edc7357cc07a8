package email

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type JetStreamConfig struct {
	URL             string
	StreamName      string
	Subject         string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration
	Replicas        int
	DuplicateWindow time.Duration // Window for duplicate detection
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "NEWSLETTER_EMAILS",
		Subject:         "newsletter.emails.outbound",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          72 * time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
	}
}

// Message is the envelope a mail relay consumes from the stream.
type Message struct {
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	HTMLBody string    `json:"html_body"`
	TextBody string    `json:"text_body"`
	QueuedAt time.Time `json:"queued_at"`
}

// JetStreamSender hands emails to a relay through a JetStream stream. The message id
// comes from WithMessageID, so a worker that published but crashed before deleting
// its task is deduplicated by the server inside the duplicate window.
type JetStreamSender struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

func NewJetStreamSender(ctx context.Context, cfg JetStreamConfig) (*JetStreamSender, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	s := &JetStreamSender{nc: nc, js: js, config: cfg}
	if err := s.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return s, nil
}

func (s *JetStreamSender) ensureStream(ctx context.Context) error {
	_, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        s.config.StreamName,
		Description: "Outbound newsletter emails",
		Subjects:    []string{s.config.Subject},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      s.config.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    s.config.Replicas,
		Duplicates:  s.config.DuplicateWindow,
	})
	if err != nil {
		return fmt.Errorf("create or update stream: %w", err)
	}
	log.Info().Str("stream", s.config.StreamName).Msg("JetStream stream ready")
	return nil
}

func (s *JetStreamSender) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	data, err := json.Marshal(Message{
		To:       recipient,
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: textBody,
		QueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	msgID := MessageID(ctx)
	ack, err := s.js.PublishMsg(ctx, &nats.Msg{
		Subject: s.config.Subject,
		Data:    data,
		Header: nats.Header{
			"Recipient": []string{recipient},
		},
	},
		jetstream.WithMsgID(msgID),
		jetstream.WithExpectStream(s.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subscriber_email", recipient).
		Str("msg_id", msgID).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("queued email on JetStream")
	return nil
}

func (s *JetStreamSender) IsConnected() bool {
	return s.nc != nil && s.nc.IsConnected()
}

func (s *JetStreamSender) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
