package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/oneself-console/internal/metrics"
	"github.com/Checker-Finance/oneself-console/pkg/model"
)

// channel is the part of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes session events on the default exchange.
type AMQPPublisher struct {
	conn       *amqp.Connection
	ch         channel
	routingKey string
	service    string
	logger     *zap.Logger
}

// DialAMQP connects to RabbitMQ and opens a channel.
func DialAMQP(url, routingKey, service string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	p := newAMQP(ch, routingKey, service, logger)
	p.conn = conn
	return p, nil
}

func newAMQP(ch channel, routingKey, service string, logger *zap.Logger) *AMQPPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPPublisher{ch: ch, routingKey: routingKey, service: service, logger: logger}
}

func (p *AMQPPublisher) PublishSessionEvent(ctx context.Context, evt model.SessionEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		metrics.IncPublishError("amqp")
		return fmt.Errorf("marshal session event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		"",           // exchange
		p.routingKey, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   evt.ID.String(),
			Type:        evt.Type,
			AppId:       p.service,
			Timestamp:   evt.Timestamp,
			Body:        body,
		},
	)
	if err != nil {
		metrics.IncPublishError("amqp")
		p.logger.Error("publisher.publish_failed",
			zap.String("routing_key", p.routingKey),
			zap.String("event_type", evt.Type),
			zap.Error(err))
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
