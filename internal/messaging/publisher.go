package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/baechuer/kimg-panel/internal/domain"
)

const (
	DefaultExchange = "kimg.panel"

	dialAttempts = 6
	dialBackoff  = 5 * time.Second
)

var ErrNotConnected = errors.New("publisher channel not ready")

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher fans session notifications out to a RabbitMQ topic exchange.
type Publisher struct {
	exchange string
	log      zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   channel
}

// NewPublisher dials url, retrying for up to 30 seconds, and declares the
// exchange.
func NewPublisher(ctx context.Context, url, exchange string, log zerolog.Logger) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	var conn *amqp.Connection
	var err error
	for i := 0; i < dialAttempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn().Err(err).Msgf("failed to connect to RabbitMQ, retrying in 5s... (%d/%d)", i+1, dialAttempts)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialBackoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after retries: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{exchange: exchange, log: log, conn: conn, ch: ch}, nil
}

// RoutingKey is panel.notification.<kind>, so consumers can bind to
// panel.notification.# or to single kinds.
func RoutingKey(n domain.Notification) string {
	return "panel.notification." + string(n.Kind)
}

// Publish implements preview.Notifier.
func (p *Publisher) Publish(ctx context.Context, n domain.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return ErrNotConnected
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		RoutingKey(n),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			MessageId:    n.ID,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    n.CreatedAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	p.log.Debug().Str("kind", string(n.Kind)).Str("session_id", n.SessionID).Msg("published notification")
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	return nil
}
