// Package notification models the wire envelopes emitted by the compute
// control plane and maps each routing key onto a parser that extracts the
// canonical raw-event fields.
package notification

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cloudtally/stacktally/internal/dectime"
)

// Envelope is the two-element JSON array [routing_key, payload] every
// notification arrives as. Payload stays raw here: the parser decodes it
// into a Payload, while the verified publisher mutates it generically to
// preserve fields we do not model.
type Envelope struct {
	RoutingKey string
	Payload    json.RawMessage
}

// UnmarshalJSON decodes the [routing_key, payload] array form.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("envelope is not a JSON array: %w", err)
	}
	if len(parts) != 2 {
		return fmt.Errorf("envelope has %d elements, want 2", len(parts))
	}
	if err := json.Unmarshal(parts[0], &e.RoutingKey); err != nil {
		return fmt.Errorf("envelope routing key: %w", err)
	}
	e.Payload = parts[1]
	return nil
}

// MarshalJSON re-encodes the two-element array form.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.RoutingKey, e.Payload})
}

// FlexString decodes a JSON string or number as a string. Control planes
// are not consistent about quoting ids and option bitmasks.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("value %s is neither string nor number", data)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// ImageMeta is the image identity cluster under payload.payload.image_meta.
type ImageMeta struct {
	OsArchitecture string `json:"os_architecture,omitempty"`
	OsVersion      string `json:"os_version,omitempty"`
	OsDistro       string `json:"os_distro,omitempty"`
}

// Body is the inner payload object carrying instance fields.
type Body struct {
	InstanceID           string     `json:"instance_id,omitempty"`
	InstanceTypeID       FlexString `json:"instance_type_id,omitempty"`
	NewInstanceTypeID    FlexString `json:"new_instance_type_id,omitempty"`
	TenantID             FlexString `json:"tenant_id,omitempty"`
	LaunchedAt           string     `json:"launched_at,omitempty"`
	DeletedAt            string     `json:"deleted_at,omitempty"`
	AuditPeriodBeginning string     `json:"audit_period_beginning,omitempty"`
	AuditPeriodEnding    string     `json:"audit_period_ending,omitempty"`
	Message              string     `json:"message,omitempty"`
	State                string     `json:"state,omitempty"`
	OldTaskState         string     `json:"old_task_state,omitempty"`
	RaxOptions           FlexString `json:"rax_options,omitempty"`
	ImageMeta            ImageMeta  `json:"image_meta,omitempty"`
}

// Payload is the notification object, element 1 of the envelope.
type Payload struct {
	MessageID         string `json:"message_id,omitempty"`
	EventType         string `json:"event_type,omitempty"`
	PublisherID       string `json:"publisher_id,omitempty"`
	Timestamp         string `json:"timestamp,omitempty"`
	ContextTimestamp  string `json:"_context_timestamp,omitempty"`
	ContextRequestID  string `json:"_context_request_id,omitempty"`
	OriginalMessageID string `json:"original_message_id,omitempty"`
	Body              Body   `json:"payload,omitempty"`
}

// When picks the canonical event time: the envelope timestamp when present,
// else the request context's timestamp.
func (p *Payload) When() (decimal.Decimal, error) {
	ts := p.Timestamp
	if ts == "" {
		ts = p.ContextTimestamp
	}
	if ts == "" {
		return decimal.Decimal{}, fmt.Errorf("notification has no timestamp")
	}
	return dectime.ParseDecimalTimestamp(ts)
}

// PublisherHost splits publisher_id on its first dot into (service, host),
// e.g. "compute.global.preprod-ord.example.com" -> ("compute",
// "global.preprod-ord.example.com").
func (p *Payload) PublisherHost() (service, host string) {
	if p.PublisherID == "" {
		return "", ""
	}
	service, host, found := strings.Cut(p.PublisherID, ".")
	if !found {
		return p.PublisherID, ""
	}
	return service, host
}
