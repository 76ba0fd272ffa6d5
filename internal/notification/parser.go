package notification

import (
	"encoding/json"
	"fmt"

	"github.com/samber/lo"

	"github.com/cloudtally/stacktally/internal/types"
)

// Parsed is one successfully parsed notification: the canonical raw-event
// fields plus the decoded payload for the aggregation handlers. The caller
// fills in Raw.Deployment and Raw.JSON before persisting.
type Parsed struct {
	Raw     *types.RawData
	Payload *Payload
}

// ParseError marks a notification that can never be stored: malformed
// JSON or an unusable timestamp. Redelivery cannot fix these, so
// consumers log and drop instead of requeueing.
type ParseError struct {
	RoutingKey string
	Err        error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s notification: %v", e.RoutingKey, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseFunc extracts the canonical field set for one routing key.
type ParseFunc func(routingKey string, payload json.RawMessage) (*Parsed, error)

// monitorKeys are the routing keys the control plane publishes on. Both
// carry the same envelope shape; the key only signals severity.
var monitorKeys = []string{"monitor.info", "monitor.error"}

func defaultTable() map[string]ParseFunc {
	return lo.SliceToMap(monitorKeys, func(key string) (string, ParseFunc) {
		return key, ParseMonitor
	})
}

// Parser dispatches envelopes to a ParseFunc by routing key. The table is
// fixed at construction; tests inject overrides instead of mutating
// package state.
type Parser struct {
	table map[string]ParseFunc
}

// NewParser builds a parser from the default table merged with overrides.
// Pass nil for the stock behavior.
func NewParser(overrides map[string]ParseFunc) *Parser {
	return &Parser{table: lo.Assign(defaultTable(), overrides)}
}

// Parse runs the handler registered for routingKey. ok is false when no
// handler is registered; such events are ignored upstream, not errors.
// Handler failures come back as *ParseError.
func (p *Parser) Parse(routingKey string, payload json.RawMessage) (parsed *Parsed, ok bool, err error) {
	fn, ok := p.table[routingKey]
	if !ok {
		return nil, false, nil
	}
	parsed, err = fn(routingKey, payload)
	if err != nil {
		return nil, true, &ParseError{RoutingKey: routingKey, Err: err}
	}
	return parsed, true, nil
}

// ParseMonitor handles the monitor.* routing keys: decode the payload,
// resolve the canonical timestamp, and pull the identity fields the
// aggregators key on.
func ParseMonitor(routingKey string, payload json.RawMessage) (*Parsed, error) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("malformed notification payload: %w", err)
	}
	when, err := p.When()
	if err != nil {
		return nil, err
	}
	service, host := p.PublisherHost()
	raw := &types.RawData{
		When:       when,
		Host:       host,
		Service:    service,
		RoutingKey: routingKey,
		Event:      p.EventType,
		RequestID:  p.ContextRequestID,
		InstanceID: p.Body.InstanceID,
		State:      p.Body.State,
		OldTask:    p.Body.OldTaskState,
	}
	return &Parsed{Raw: raw, Payload: &p}, nil
}
