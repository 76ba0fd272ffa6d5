// Package consumer feeds raw control-plane notifications from JetStream
// into the aggregator. One durable consumer per deployment fleet; manual
// acks decide redelivery.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"

	"github.com/cloudtally/stacktally/internal/aggregator"
	"github.com/cloudtally/stacktally/internal/deployments"
	"github.com/cloudtally/stacktally/internal/notification"
	"github.com/cloudtally/stacktally/internal/storage"
)

const (
	// StreamEvents is the JetStream stream raw notifications arrive on.
	StreamEvents = "STACKTALLY_EVENTS"

	// SubjectEventsPrefix carries the deployment name and routing key:
	// stacktally.events.<deployment>.<routing.key>.
	SubjectEventsPrefix = "stacktally.events."

	// DurableName identifies this consumer group to JetStream; restarts
	// resume from the last acked message.
	DurableName = "stacktally-aggregator"
)

// SubjectFor returns the publish subject for one deployment and routing key.
func SubjectFor(deployment, routingKey string) string {
	return SubjectEventsPrefix + deployment + "." + routingKey
}

// parseSubject splits an events subject into its deployment and routing key
// segments. The routing key keeps its internal dots (monitor.info).
func parseSubject(subject string) (deployment, routingKey string, ok bool) {
	rest, found := strings.CutPrefix(subject, SubjectEventsPrefix)
	if !found {
		return "", "", false
	}
	return strings.Cut(rest, ".")
}

// EnsureStream creates the raw-events stream if it does not already exist.
func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(StreamEvents)
	if err == nil {
		return nil
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamEvents,
		Subjects: []string{SubjectEventsPrefix + ">"},
		Storage:  nats.FileStorage,
		MaxMsgs:  1000000,
		MaxBytes: 2 << 30,
	})
	if err != nil {
		return fmt.Errorf("create %s stream: %w", StreamEvents, err)
	}
	return nil
}

// Consumer is a durable JetStream subscription that runs every received
// notification through the aggregator. Ack policy: parse failures,
// duplicate deliveries, and unknown routing keys are acked (redelivery
// cannot fix them), other store failures are naked so the broker
// redelivers.
type Consumer struct {
	natsURL string
	agg     *aggregator.Aggregator
	reg     *deployments.Registry
	conn    *nats.Conn
	sub     *nats.Subscription
}

// New builds a consumer over an already-constructed aggregator.
func New(natsURL string, agg *aggregator.Aggregator, reg *deployments.Registry) *Consumer {
	return &Consumer{natsURL: natsURL, agg: agg, reg: reg}
}

// Run connects, subscribes, and blocks until ctx is cancelled, reconnecting
// with exponential backoff after broker loss.
func (c *Consumer) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0 // keep retrying until cancelled

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.connect(ctx); err != nil {
			wait := policy.NextBackOff()
			log.Printf("consumer: connect: %v (retry in %v)", err, wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		policy.Reset()

		select {
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		case <-c.waitDisconnect():
			log.Printf("consumer: disconnected, will reconnect")
			c.Close()
		}
	}
}

func (c *Consumer) connect(ctx context.Context) error {
	nc, err := nats.Connect(c.natsURL,
		nats.Name("stacktally-consumer"),
		nats.RetryOnFailedConnect(false),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("jetstream context: %w", err)
	}
	if err := EnsureStream(js); err != nil {
		nc.Close()
		return err
	}

	sub, err := js.Subscribe(
		SubjectEventsPrefix+">",
		func(msg *nats.Msg) { c.handleMessage(ctx, msg) },
		nats.Durable(DurableName),
		nats.AckExplicit(),
		nats.ManualAck(),
	)
	if err != nil {
		nc.Close()
		return fmt.Errorf("jetstream subscribe: %w", err)
	}

	c.conn = nc
	c.sub = sub
	log.Printf("consumer: connected to %s, subscribed to %s>", c.natsURL, SubjectEventsPrefix)
	return nil
}

// waitDisconnect closes the returned channel once the connection drops.
func (c *Consumer) waitDisconnect() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		if c.conn == nil {
			return
		}
		for c.conn.IsConnected() {
			time.Sleep(500 * time.Millisecond)
		}
	}()
	return ch
}

// handleMessage resolves the deployment and routing key from the subject and
// runs the payload through the aggregator.
func (c *Consumer) handleMessage(ctx context.Context, msg *nats.Msg) {
	deploymentName, routingKey, ok := parseSubject(msg.Subject)
	if !ok {
		log.Printf("consumer: subject %s carries no routing key, dropping", msg.Subject)
		_ = msg.Ack()
		return
	}

	deployment, err := c.reg.ID(deploymentName)
	if err != nil {
		log.Printf("consumer: %v, dropping message on %s", err, msg.Subject)
		_ = msg.Ack()
		return
	}

	raw, err := c.agg.ProcessRaw(ctx, deployment, routingKey, msg.Data)
	switch {
	case err != nil && shouldRedeliver(err):
		log.Printf("consumer: event on %s failed, requesting redelivery: %v", msg.Subject, err)
		_ = msg.Nak()
	case err != nil:
		log.Printf("consumer: dropping event on %s: %v", msg.Subject, err)
		_ = msg.Ack()
	case raw == nil:
		// Routing key outside the dispatch table; not an error.
		_ = msg.Ack()
	default:
		_ = msg.Ack()
	}
}

// shouldRedeliver reports whether an aggregation failure is worth another
// delivery. Parse failures and duplicate deliveries are terminal: a second
// attempt yields the same outcome, so naking them would loop forever.
func shouldRedeliver(err error) bool {
	var parseErr *notification.ParseError
	if errors.As(err, &parseErr) {
		return false
	}
	if errors.Is(err, storage.ErrDuplicate) {
		return false
	}
	return true
}

// Close drains the subscription and closes the connection.
func (c *Consumer) Close() {
	if c.sub != nil {
		_ = c.sub.Drain()
		c.sub = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
