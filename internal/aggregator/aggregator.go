// Package aggregator turns incoming compute notifications into the derived
// rows the billing audit reads: lifecycles, timings, request trackers,
// usages, deletes, and exists records.
//
// One event is one transaction. ProcessRaw parses the payload, writes the
// RawData row, and fans out into the lifecycle and usage aggregation rules;
// any failure rolls the whole event back so a redelivery starts from a
// clean slate.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"

	"github.com/cloudtally/stacktally/internal/notification"
	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/types"
)

// Aggregator applies notifications against the store one at a time.
// Within-instance ordering comes from the consumer feeding events serially;
// the aggregator takes no locks beyond the per-event transaction.
type Aggregator struct {
	store  storage.Storage
	parser *notification.Parser
	usage  map[string]UsageFunc
}

// UsageFunc handles the usage-side effects of one event inside that
// event's transaction.
type UsageFunc func(ctx context.Context, tx storage.Transaction, raw *types.RawData, p *notification.Payload) error

// New builds an aggregator. A nil parser means the stock notification
// parser; usageOverrides replaces usage dispatch entries, for tests.
func New(store storage.Storage, parser *notification.Parser, usageOverrides map[string]UsageFunc) *Aggregator {
	if parser == nil {
		parser = notification.NewParser(nil)
	}
	return &Aggregator{
		store:  store,
		parser: parser,
		usage:  lo.Assign(defaultUsageTable(), usageOverrides),
	}
}

// ProcessRaw records one notification and all its derived rows in a single
// transaction. Unknown routing keys return (nil, nil) without writing
// anything. A non-nil error means nothing was written; *notification.ParseError
// marks events a redelivery cannot fix.
func (a *Aggregator) ProcessRaw(ctx context.Context, deployment int64, routingKey string, body []byte) (*types.RawData, error) {
	parsed, ok, err := a.parser.Parse(routingKey, body)
	if !ok {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	raw := parsed.Raw
	raw.Deployment = deployment
	envelope, err := json.Marshal(notification.Envelope{RoutingKey: routingKey, Payload: body})
	if err != nil {
		return nil, fmt.Errorf("re-encode envelope: %w", err)
	}
	raw.JSON = string(envelope)

	err = a.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.CreateRawData(ctx, raw); err != nil {
			return err
		}
		if err := aggregateLifecycle(ctx, tx, raw); err != nil {
			return err
		}
		return a.aggregateUsage(ctx, tx, raw, parsed.Payload)
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}
