// Package deadletter publishes exhausted-delivery envelopes to NSQ so
// downstream tooling (alerting, replay) can consume them off the hot path.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"

	"github.com/streamhaven/hookrelay/internal/delivery"
	"github.com/streamhaven/hookrelay/internal/tracing"

	"go.opentelemetry.io/otel/attribute"
)

type NSQPublisher struct {
	producer *nsq.Producer
	topic    string
}

// NewNSQPublisher connects a producer to nsqdAddr and publishes dead letters
// on topic. Callers own the publisher lifecycle and must call Stop.
func NewNSQPublisher(nsqdAddr, topic string) (*NSQPublisher, error) {
	prod, err := nsq.NewProducer(nsqdAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	return &NSQPublisher{producer: prod, topic: topic}, nil
}

func (p *NSQPublisher) Publish(ctx context.Context, dl delivery.DeadLetter) error {
	b, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := p.producer.Publish(p.topic, b); err != nil {
		return fmt.Errorf("nsq publish: %w", err)
	}
	tracing.AddSpanEvent(ctx, "nsq.published_dead_letter",
		attribute.String("topic", p.topic),
		attribute.String("delivery_id", dl.DeliveryID),
	)
	return nil
}

func (p *NSQPublisher) Stop() {
	p.producer.Stop()
}
