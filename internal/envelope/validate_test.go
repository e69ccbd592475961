package envelope

import (
	"encoding/json"
	"testing"

	"ipchub/internal/ipcerr"
)

func baseMessage() map[string]any {
	return map[string]any{
		"v":        1,
		"id":       "id-1",
		"ts":       "2026-02-16T00:00:00Z",
		"from":     "desktop-ui",
		"to":       "agent-core",
		"topic":    "chat.user_message",
		"reply_to": nil,
		"trace_id": "trace-1",
		"payload":  map[string]any{"text": "hi"},
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestValidateSuccess(t *testing.T) {
	env, err := Validate(mustMarshal(t, baseMessage()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.ID != "id-1" || env.Topic != "chat.user_message" || env.TraceID != "trace-1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.ReplyTo != nil {
		t.Fatalf("expected nil reply_to, got %v", *env.ReplyTo)
	}
}

func TestValidateMissingKey(t *testing.T) {
	msg := baseMessage()
	delete(msg, "topic")

	_, err := Validate(mustMarshal(t, msg))
	assertCode(t, err, ipcerr.MissingKeys)
}

func TestValidateUnsupportedVersion(t *testing.T) {
	msg := baseMessage()
	msg["v"] = 2

	_, err := Validate(mustMarshal(t, msg))
	assertCode(t, err, ipcerr.UnsupportedVersion)
}

func TestValidatePayloadMustBeObject(t *testing.T) {
	msg := baseMessage()
	msg["payload"] = []string{"not", "an", "object"}

	_, err := Validate(mustMarshal(t, msg))
	assertCode(t, err, ipcerr.InvalidPayload)
}

func TestValidatePayloadRejectsNull(t *testing.T) {
	msg := baseMessage()
	msg["payload"] = nil

	_, err := Validate(mustMarshal(t, msg))
	assertCode(t, err, ipcerr.InvalidPayload)
}

func TestValidateInvalidField(t *testing.T) {
	cases := []string{"id", "trace_id", "from", "to", "topic", "ts"}
	for _, field := range cases {
		field := field
		t.Run(field, func(t *testing.T) {
			msg := baseMessage()
			msg[field] = "   "
			_, err := Validate(mustMarshal(t, msg))
			assertCode(t, err, ipcerr.InvalidField)
		})
	}
}

func TestValidateReplyToAcceptsString(t *testing.T) {
	msg := baseMessage()
	msg["reply_to"] = "m1"

	env, err := Validate(mustMarshal(t, msg))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.ReplyTo == nil || *env.ReplyTo != "m1" {
		t.Fatalf("expected reply_to=m1, got %+v", env.ReplyTo)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	_, err := Validate([]byte("{not json"))
	assertCode(t, err, ipcerr.InvalidJSON)
}

// TestValidateTotality exercises P6: the validator never panics on
// arbitrary malformed input, always returning an error or an envelope.
func TestValidateTotality(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte(""),
		[]byte("null"),
		[]byte("42"),
		[]byte(`"a string"`),
		[]byte("[]"),
		[]byte("{}"),
		[]byte(`{"v": "not-a-number"}`),
		[]byte(`{"v": 1, "payload": null}`),
	}
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Validate panicked on %q: %v", in, r)
				}
			}()
			_, _ = Validate(in)
		}()
	}
}

func assertCode(t *testing.T, err error, want ipcerr.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", want)
	}
	got, ok := ipcerr.CodeOf(err)
	if !ok {
		t.Fatalf("expected *ipcerr.Error, got %T: %v", err, err)
	}
	if got != want {
		t.Fatalf("expected code %s, got %s", want, got)
	}
}
