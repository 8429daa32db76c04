// Package events publishes pricing notifications on NATS after prices or
// rules are committed, so that storefront caches and marketplace sync jobs
// can react.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Simplici0/pricebook/internal/catalog"
	"github.com/Simplici0/pricebook/internal/channel"
)

const (
	SubjectPricesSaved = "pricing.prices.saved"
	SubjectRulesSaved  = "pricing.rules.saved"
)

// PricesSavedEvent is published after a successful price commit.
type PricesSavedEvent struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	SessionID string           `json:"session_id,omitempty"`
	Updates   []catalog.Update `json:"updates"`
	Timestamp time.Time        `json:"timestamp"`
}

// RulesSavedEvent is published after the rule set is saved.
type RulesSavedEvent struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	SessionID string          `json:"session_id,omitempty"`
	Rules     channel.RuleSet `json:"rules"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher announces committed pricing changes.
type Publisher interface {
	PricesSaved(ctx context.Context, sessionID string, updates []catalog.Update) error
	RulesSaved(ctx context.Context, sessionID string, rules channel.RuleSet) error
	Close()
}

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

var (
	_ Publisher = (*NATSPublisher)(nil)
	_ Publisher = Nop{}
)

// NATSPublisher publishes events as JSON on core NATS subjects.
type NATSPublisher struct {
	conn   conn
	logger *zap.Logger
	now    func() time.Time
}

// Connect dials NATS and returns a publisher that reconnects forever.
func Connect(url string, logger *zap.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("pricebook-publisher"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newPublisher(nc, logger), nil
}

func newPublisher(c conn, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{conn: c, logger: logger.With(zap.String("component", "events.publisher")), now: time.Now}
}

func (p *NATSPublisher) PricesSaved(ctx context.Context, sessionID string, updates []catalog.Update) error {
	return p.publish(ctx, SubjectPricesSaved, PricesSavedEvent{
		EventID:   uuid.NewString(),
		EventType: SubjectPricesSaved,
		SessionID: sessionID,
		Updates:   updates,
		Timestamp: p.now().UTC(),
	})
}

func (p *NATSPublisher) RulesSaved(ctx context.Context, sessionID string, rules channel.RuleSet) error {
	return p.publish(ctx, SubjectRulesSaved, RulesSavedEvent{
		EventID:   uuid.NewString(),
		EventType: SubjectRulesSaved,
		SessionID: sessionID,
		Rules:     rules,
		Timestamp: p.now().UTC(),
	})
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject), zap.Int("bytes", len(data)))
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("drain nats connection", zap.Error(err))
	}
}

// Nop discards every event. It is used when NATS is not configured.
type Nop struct{}

func (Nop) PricesSaved(context.Context, string, []catalog.Update) error { return nil }

func (Nop) RulesSaved(context.Context, string, channel.RuleSet) error { return nil }

func (Nop) Close() {}
