// Package bus hands routing envelopes to the message bus. The gate itself is
// transport-agnostic; topic names are the only wire-visible contract.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/arbiterhq/arbiter/pkg/domain"
)

// Publisher delivers gate responses to the topic named in their routing info.
type Publisher interface {
	PublishDecision(ctx context.Context, resp *domain.GateResponse) error
	Close() error
}

// NopPublisher discards everything. Used in tests and when emission is
// disabled.
type NopPublisher struct{}

// PublishDecision implements Publisher.
func (NopPublisher) PublishDecision(context.Context, *domain.GateResponse) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

// NATSPublisher publishes routing envelopes to JetStream subjects.
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger zerolog.Logger
}

// NewNATSPublisher connects to the bus. The caller owns the returned
// publisher and must Close it during shutdown.
func NewNATSPublisher(url string, logger zerolog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to bus at %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &NATSPublisher{nc: nc, js: js, logger: logger}, nil
}

// PublishDecision serializes the response and publishes it to its routing
// topic. Publish failures are returned to the caller; they never affect the
// decision itself.
func (p *NATSPublisher) PublishDecision(ctx context.Context, resp *domain.GateResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal gate response: %w", err)
	}

	subject := resp.Routing.Topic
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	p.logger.Debug().Str("subject", subject).Int("priority", resp.Routing.Priority).Msg("published decision")
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
