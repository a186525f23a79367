package central

import (
	"encoding/json"
	"time"
)

// InteractiveEnvelope is the JSON shape an interactive_wrapper TaskFunc
// reports (via Outcome.Summary) when it holds a run open pending user input,
// and the shape a resume request merges its response into. RunID is not
// carried in the envelope itself — it is addressed by the run's own ID.
//
// The four fields mirror the waiting contract a TaskFunc hands back:
// (request_id, question, context, expires_at). Context is opaque
// TaskFunc-defined state (e.g. partial results, the question's multiple
// choice options) that must survive the round trip to the user and back so
// the TaskFunc can resume with both the response and the state it left off
// at.
type InteractiveEnvelope struct {
	RequestID string          `json:"request_id"`
	Question  string          `json:"question"`
	Context   json.RawMessage `json:"context,omitempty"`
	ExpiresAt time.Time       `json:"expires_at"`
	Response  json.RawMessage `json:"response,omitempty"`
}

// ParseInteractiveEnvelope decodes a waiting run's Summary field. It returns
// ok=false (not an error) when the text isn't a recognized envelope, since a
// registered TaskFunc is free to report a waiting hold however it wants —
// the timeout housekeeping loop simply skips runs it can't parse.
func ParseInteractiveEnvelope(summary string) (InteractiveEnvelope, bool) {
	var env InteractiveEnvelope
	if summary == "" {
		return env, false
	}
	if err := json.Unmarshal([]byte(summary), &env); err != nil {
		return env, false
	}
	if env.ExpiresAt.IsZero() {
		return env, false
	}
	return env, true
}

// WithResponse returns a copy of env with a user's response merged in,
// marshaled back to JSON for storage as the run's new payload.
func (env InteractiveEnvelope) WithResponse(response json.RawMessage) (string, error) {
	env.Response = response
	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
