package notification

import (
	"encoding/json"
	"errors"
	"testing"
)

const createStartPayload = `{
	"message_id": "msg-1",
	"event_type": "compute.instance.create.start",
	"publisher_id": "compute.nova1.example.com",
	"timestamp": "2013-01-25 13:38:23.123456",
	"_context_request_id": "req-1",
	"payload": {
		"instance_id": "inst-1",
		"instance_type_id": "1",
		"tenant_id": "tenant-1",
		"state": "building",
		"old_task_state": "scheduling",
		"rax_options": "2",
		"image_meta": {
			"os_architecture": "x64",
			"os_version": "1.1",
			"os_distro": "linux"
		}
	}
}`

func TestParseMonitorExtractsCanonicalFields(t *testing.T) {
	parser := NewParser(nil)

	parsed, ok, err := parser.Parse("monitor.info", json.RawMessage(createStartPayload))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !ok {
		t.Fatal("Parse reported unknown routing key")
	}

	raw := parsed.Raw
	if raw.When.String() != "20130125133823.123456" {
		t.Errorf("When = %s", raw.When)
	}
	if raw.Service != "compute" || raw.Host != "nova1.example.com" {
		t.Errorf("publisher split = (%q, %q)", raw.Service, raw.Host)
	}
	if raw.RoutingKey != "monitor.info" {
		t.Errorf("RoutingKey = %q", raw.RoutingKey)
	}
	if raw.Event != "compute.instance.create.start" {
		t.Errorf("Event = %q", raw.Event)
	}
	if raw.RequestID != "req-1" || raw.InstanceID != "inst-1" {
		t.Errorf("ids = (%q, %q)", raw.RequestID, raw.InstanceID)
	}
	if raw.State != "building" || raw.OldTask != "scheduling" {
		t.Errorf("state fields = (%q, %q)", raw.State, raw.OldTask)
	}

	if parsed.Payload.Body.TenantID.String() != "tenant-1" {
		t.Errorf("payload tenant = %q", parsed.Payload.Body.TenantID)
	}
	if parsed.Payload.Body.ImageMeta.OsDistro != "linux" {
		t.Errorf("os_distro = %q", parsed.Payload.Body.ImageMeta.OsDistro)
	}
}

func TestParseUnknownRoutingKeyIgnored(t *testing.T) {
	parser := NewParser(nil)
	parsed, ok, err := parser.Parse("monitor.debug", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || parsed != nil {
		t.Errorf("unknown routing key not ignored: ok=%v parsed=%v", ok, parsed)
	}
}

func TestParseMalformedPayload(t *testing.T) {
	parser := NewParser(nil)

	// Not JSON at all.
	_, ok, err := parser.Parse("monitor.info", json.RawMessage(`{nope`))
	if !ok || err == nil {
		t.Errorf("malformed payload: ok=%v err=%v", ok, err)
	}
	var pe *ParseError
	if !errors.As(err, &pe) || pe.RoutingKey != "monitor.info" {
		t.Errorf("expected *ParseError for monitor.info, got %v", err)
	}

	// Valid JSON, no usable timestamp.
	_, ok, err = parser.Parse("monitor.info", json.RawMessage(`{"event_type":"x"}`))
	if !ok || err == nil {
		t.Errorf("missing timestamp: ok=%v err=%v", ok, err)
	}
	if !errors.As(err, &pe) {
		t.Errorf("expected *ParseError for missing timestamp, got %v", err)
	}
}

func TestParserOverride(t *testing.T) {
	called := false
	override := map[string]ParseFunc{
		"monitor.info": func(routingKey string, payload json.RawMessage) (*Parsed, error) {
			called = true
			return ParseMonitor(routingKey, payload)
		},
	}
	parser := NewParser(override)

	if _, _, err := parser.Parse("monitor.info", json.RawMessage(createStartPayload)); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !called {
		t.Error("override handler was not invoked")
	}

	// Defaults survive alongside the override.
	if _, ok, _ := parser.Parse("monitor.error", json.RawMessage(createStartPayload)); !ok {
		t.Error("monitor.error lost from table")
	}
}
