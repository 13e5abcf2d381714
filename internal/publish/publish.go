// Package publish forwards detected events to NATS JetStream so other tools
// on the network can react to empire developments without polling the API.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/statewatch/internal/bus"
	"git.home.luguber.info/inful/statewatch/internal/events"
	"git.home.luguber.info/inful/statewatch/internal/retry"
)

// Config selects the NATS endpoint and subject prefix.
type Config struct {
	URL     string
	Subject string
}

// Publisher bridges the internal bus to a JetStream subject.
type Publisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
	policy  retry.Policy
	logger  *slog.Logger
}

// envelope is the wire form of one published event.
type envelope struct {
	SessionID  string       `json:"session_id"`
	Event      events.Event `json:"event"`
	DetectedAt time.Time    `json:"detected_at"`
}

// New connects to NATS and prepares the JetStream context.
func New(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("publish: NATS URL is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = "statewatch.events"
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	logger.Info("event publisher connected",
		slog.String("url", cfg.URL),
		slog.String("subject", cfg.Subject))

	return &Publisher{
		conn:    conn,
		js:      js,
		subject: cfg.Subject,
		policy:  retry.DefaultPolicy(),
		logger:  logger,
	}, nil
}

// Run consumes EventsDetected from the bus until ctx is cancelled or the bus
// closes.
func (p *Publisher) Run(ctx context.Context, eventBus *bus.Bus) {
	ch, unsubscribe := bus.Subscribe[bus.EventsDetected](eventBus, 32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-ch:
			if !ok {
				return
			}
			p.publishBatch(ctx, batch)
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context, batch bus.EventsDetected) {
	for _, evt := range batch.Events {
		if err := p.publishWithRetry(ctx, batch.SessionID, evt); err != nil {
			p.logger.Warn("publish event failed",
				slog.String("type", evt.Type),
				slog.String("error", err.Error()))
		}
	}
}

// publishWithRetry retries transient broker failures per the backoff policy.
func (p *Publisher) publishWithRetry(ctx context.Context, sessionID string, evt events.Event) error {
	var err error
	for attempt := 0; attempt <= p.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.policy.Delay(attempt)):
			}
		}
		if err = p.publishOne(ctx, sessionID, evt); err == nil {
			return nil
		}
	}
	return err
}

// publishOne sends a single event on "<subject>.<type>".
func (p *Publisher) publishOne(ctx context.Context, sessionID string, evt events.Event) error {
	data, err := json.Marshal(envelope{
		SessionID:  sessionID,
		Event:      evt,
		DetectedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := p.js.Publish(pubCtx, p.subject+"."+evt.Type, data); err != nil {
		return fmt.Errorf("jetstream publish: %w", err)
	}
	p.logger.Debug("event published",
		slog.String("type", evt.Type),
		slog.String("summary", evt.Summary))
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
