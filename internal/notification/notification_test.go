package notification

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeUnmarshal(t *testing.T) {
	data := `["monitor.info", {"event_type": "compute.instance.create.start"}]`
	var env Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if env.RoutingKey != "monitor.info" {
		t.Errorf("RoutingKey = %q, want monitor.info", env.RoutingKey)
	}
	var p Payload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if p.EventType != "compute.instance.create.start" {
		t.Errorf("EventType = %q", p.EventType)
	}
}

func TestEnvelopeUnmarshalRejectsBadShapes(t *testing.T) {
	cases := []string{
		`{"routing_key": "monitor.info"}`,
		`["monitor.info"]`,
		`["monitor.info", {}, {}]`,
		`[42, {}]`,
	}
	for _, data := range cases {
		var env Envelope
		if err := json.Unmarshal([]byte(data), &env); err == nil {
			t.Errorf("Unmarshal(%s) succeeded, want error", data)
		}
	}
}

func TestEnvelopeMarshalRoundTrip(t *testing.T) {
	env := Envelope{RoutingKey: "monitor.info", Payload: json.RawMessage(`{"message_id":"m1"}`)}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var back Envelope
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.RoutingKey != env.RoutingKey {
		t.Errorf("routing key changed: %q", back.RoutingKey)
	}
	var p Payload
	if err := json.Unmarshal(back.Payload, &p); err != nil || p.MessageID != "m1" {
		t.Errorf("payload changed: %s (err %v)", back.Payload, err)
	}
}

func TestFlexString(t *testing.T) {
	var body Body
	data := `{"instance_type_id": 1, "tenant_id": "t-42", "rax_options": null}`
	if err := json.Unmarshal([]byte(data), &body); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if body.InstanceTypeID.String() != "1" {
		t.Errorf("numeric instance_type_id = %q, want 1", body.InstanceTypeID)
	}
	if body.TenantID.String() != "t-42" {
		t.Errorf("tenant_id = %q", body.TenantID)
	}
	if body.RaxOptions.String() != "" {
		t.Errorf("null rax_options = %q, want empty", body.RaxOptions)
	}
}

func TestPayloadWhen(t *testing.T) {
	cases := []struct {
		name string
		in   Payload
		want string
	}{
		{"timestamp", Payload{Timestamp: "2013-01-25 13:38:23.123456"}, "20130125133823.123456"},
		{"context fallback", Payload{ContextTimestamp: "2013-01-25T13:38:23.123456"}, "20130125133823.123456"},
		{"timestamp wins", Payload{Timestamp: "2013-01-25 13:38:23", ContextTimestamp: "2012-01-01 00:00:00"}, "20130125133823"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.in.When()
			if err != nil {
				t.Fatalf("When() failed: %v", err)
			}
			if got.String() != tc.want {
				t.Errorf("When() = %s, want %s", got, tc.want)
			}
		})
	}

	var empty Payload
	if _, err := empty.When(); err == nil {
		t.Error("When() with no timestamps succeeded, want error")
	}
}

func TestPublisherHost(t *testing.T) {
	p := Payload{PublisherID: "compute.global.preprod-ord.example.com"}
	service, host := p.PublisherHost()
	if service != "compute" || host != "global.preprod-ord.example.com" {
		t.Errorf("got (%q, %q)", service, host)
	}

	p = Payload{PublisherID: "api"}
	service, host = p.PublisherHost()
	if service != "api" || host != "" {
		t.Errorf("dotless publisher_id: got (%q, %q)", service, host)
	}

	p = Payload{}
	if service, host = p.PublisherHost(); service != "" || host != "" {
		t.Errorf("empty publisher_id: got (%q, %q)", service, host)
	}
}
