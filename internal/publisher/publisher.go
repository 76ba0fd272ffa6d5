// Package publisher re-emits verified exists records as notifications on a
// durable JetStream stream, so downstream billing consumers can trust what
// they meter.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/cloudtally/stacktally/internal/notification"
	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/types"
)

const (
	// StreamVerified is the JetStream stream holding verified notifications.
	StreamVerified = "STACKTALLY_VERIFIED"

	// SubjectVerifiedPrefix is the subject prefix; the routing key is
	// appended, e.g. stacktally.verified.monitor.info.
	SubjectVerifiedPrefix = "stacktally.verified."

	// VerifiedEventType replaces event_type on republished notifications.
	VerifiedEventType = "compute.instance.exists.verified.old"
)

// EnsureStream creates the verified-notifications stream if it does not
// already exist. File storage makes the stream durable across broker
// restarts, the topic-exchange property the downstream contract expects.
func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(StreamVerified)
	if err == nil {
		return nil
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamVerified,
		Subjects: []string{SubjectVerifiedPrefix + ">"},
		Storage:  nats.FileStorage,
		MaxMsgs:  100000,
		MaxBytes: 512 << 20,
	})
	if err != nil {
		return fmt.Errorf("create %s stream: %w", StreamVerified, err)
	}
	return nil
}

// Publisher rewrites a verified exists record's original envelope and
// publishes it. Delivery is at-least-once; consumers dedupe on message_id.
type Publisher struct {
	js          nats.JetStreamContext
	store       storage.Storage
	routingKeys []string // empty means reuse each envelope's own routing key
}

// New builds a publisher. routingKeys overrides where verified notifications
// go; leave it empty to publish on the original envelope's routing key.
func New(js nats.JetStreamContext, store storage.Storage, routingKeys []string) *Publisher {
	return &Publisher{js: js, store: store, routingKeys: routingKeys}
}

// PublishVerified loads the raw envelope the exists record came from,
// rewrites its identity fields, and publishes the payload to every
// configured routing key.
func (p *Publisher) PublishVerified(ctx context.Context, exist *types.InstanceExists) error {
	raw, err := p.store.GetRawData(ctx, exist.RawID)
	if err != nil {
		return fmt.Errorf("load raw %d for exists %d: %w", exist.RawID, exist.ID, err)
	}

	var env notification.Envelope
	if err := json.Unmarshal([]byte(raw.JSON), &env); err != nil {
		return fmt.Errorf("decode stored envelope for raw %d: %w", raw.ID, err)
	}

	body, err := RewriteVerified(env.Payload)
	if err != nil {
		return fmt.Errorf("rewrite envelope for exists %d: %w", exist.ID, err)
	}

	keys := p.routingKeys
	if len(keys) == 0 {
		keys = []string{env.RoutingKey}
	}
	for _, key := range keys {
		subject := SubjectVerifiedPrefix + key
		if _, err := p.js.Publish(subject, body, nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish verified exists %d to %s: %w", exist.ID, subject, err)
		}
		log.Printf("publisher: verified exists %d published to %s", exist.ID, subject)
	}
	return nil
}

// RewriteVerified stamps the verified event type and a fresh message id onto
// the payload, preserving the original id in original_message_id. The
// payload is mutated as a generic map so fields the pipeline never modeled
// survive the round trip.
func RewriteVerified(payload json.RawMessage) ([]byte, error) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}

	original, _ := body["message_id"].(string)
	body["event_type"] = VerifiedEventType
	body["original_message_id"] = original
	body["message_id"] = uuid.NewString()

	return json.Marshal(body)
}
