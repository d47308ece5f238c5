package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/oneself-console/internal/metrics"
	"github.com/Checker-Finance/oneself-console/pkg/model"
)

// jetStream is the part of nats.JetStreamContext the publisher needs.
type jetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// NATSPublisher publishes session events to a JetStream subject.
type NATSPublisher struct {
	nc      *nats.Conn
	js      jetStream
	subject string
	service string
	logger  *zap.Logger
}

// NewNATS creates a publisher over an open connection with JetStream enabled.
func NewNATS(nc *nats.Conn, subject, service string, logger *zap.Logger) (*NATSPublisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	p := newNATS(js, subject, service, logger)
	p.nc = nc
	return p, nil
}

func newNATS(js jetStream, subject, service string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{js: js, subject: subject, service: service, logger: logger}
}

// EnsureStream creates the stream bound to the publisher subject if it does not exist yet.
func (p *NATSPublisher) EnsureStream(name string) error {
	if name == "" {
		return nil
	}
	_, err := p.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}
	if _, err := p.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{p.subject},
		MaxAge:   7 * 24 * time.Hour,
	}); err != nil {
		return fmt.Errorf("add stream %s: %w", name, err)
	}
	p.logger.Info("publisher.stream_created", zap.String("stream", name), zap.String("subject", p.subject))
	return nil
}

func (p *NATSPublisher) PublishSessionEvent(_ context.Context, evt model.SessionEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		metrics.IncPublishError("nats")
		return fmt.Errorf("marshal session event: %w", err)
	}

	msg := &nats.Msg{
		Subject: p.subject,
		Data:    data,
		Header: nats.Header{
			"event_type":   []string{evt.Type},
			"event_id":     []string{evt.ID.String()},
			"service":      []string{p.service},
			"content_type": []string{"application/json"},
		},
	}

	if _, err := p.js.PublishMsg(msg); err != nil {
		metrics.IncPublishError("nats")
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", p.subject),
			zap.String("event_type", evt.Type),
			zap.Error(err))
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}

	p.logger.Debug("publisher.publish_success",
		zap.String("subject", p.subject),
		zap.String("event_type", evt.Type))
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.nc != nil && !p.nc.IsClosed() {
		return p.nc.Drain()
	}
	return nil
}
