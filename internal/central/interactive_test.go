package central

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseInteractiveEnvelopeRoundTripsContext(t *testing.T) {
	env := InteractiveEnvelope{
		RequestID: "req-1",
		Question:  "which environment?",
		Context:   json.RawMessage(`{"options":["staging","prod"]}`),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	parsed, ok := ParseInteractiveEnvelope(string(b))
	if !ok {
		t.Fatalf("expected envelope to parse")
	}
	if string(parsed.Context) != string(env.Context) {
		t.Fatalf("expected context to round-trip, got %q", parsed.Context)
	}

	payload, err := parsed.WithResponse(json.RawMessage(`"prod"`))
	if err != nil {
		t.Fatalf("with response: %v", err)
	}
	resumed, ok := ParseInteractiveEnvelope(payload)
	if !ok {
		t.Fatalf("expected resumed envelope to parse")
	}
	if string(resumed.Context) != string(env.Context) {
		t.Fatalf("expected context to survive WithResponse, got %q", resumed.Context)
	}
}
