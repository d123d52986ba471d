// Package delivery hands one-time codes to the out-of-band delivery
// pipeline. This service never talks to mail or SMS providers itself; it
// publishes a delivery request and a downstream worker does the sending.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"identity-service/internal/client"
	"identity-service/internal/util"
)

// CodeDelivery is the message handed to the delivery pipeline. It is the
// only place the plaintext code leaves this service, and it never goes
// into logs or the audit trail.
type CodeDelivery struct {
	IdentityID      string    `json:"identity_id"`
	LoginIdentifier string    `json:"login_identifier"`
	Addresses       []string  `json:"addresses"`
	Code            string    `json:"code"`
	ExpiresAt       time.Time `json:"expires_at"`
	RequestedAt     time.Time `json:"requested_at"`
}

// CodeSender dispatches a delivery request.
type CodeSender interface {
	Send(ctx context.Context, delivery CodeDelivery) error
}

// KafkaPublisher sends delivery requests to the code delivery topic,
// keyed by login identifier so retries for one identity stay ordered.
type KafkaPublisher struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaPublisher(producer *client.KafkaProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Send(ctx context.Context, delivery CodeDelivery) error {
	payload, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("failed to marshal code delivery: %w", err)
	}

	headers := map[string]string{
		"event_type":   "code_delivery_requested",
		"content_type": "application/json",
	}

	if err := p.producer.ProduceMessage(ctx, p.topic, []byte(delivery.LoginIdentifier), payload, headers); err != nil {
		return fmt.Errorf("failed to publish code delivery: %w", err)
	}

	util.Info("Code delivery requested",
		util.String("identity_id", delivery.IdentityID),
		util.Int("addresses", len(delivery.Addresses)),
		util.Time("expires_at", delivery.ExpiresAt))
	return nil
}

// LogSender is the development fallback when no broker is configured. It
// records that a delivery would have happened but deliberately drops the
// code, so completing a privileged login requires a real pipeline.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) Send(_ context.Context, delivery CodeDelivery) error {
	util.Warn("No delivery pipeline configured, code not dispatched",
		util.String("identity_id", delivery.IdentityID),
		util.Int("addresses", len(delivery.Addresses)),
		util.Time("expires_at", delivery.ExpiresAt))
	return nil
}
