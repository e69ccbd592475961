package envelope

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"ipchub/internal/ipcerr"
)

// requiredKeys mirrors the data model in spec §3: every one of these must
// be present in the decoded JSON object, reply_to included (it may be
// null, but its key must exist).
var requiredKeys = []string{"v", "id", "ts", "from", "to", "topic", "reply_to", "trace_id", "payload"}

const op = "envelope.Validate"

// Validate checks raw JSON bytes against the envelope schema and returns a
// normalized Envelope, or a typed *ipcerr.Error. It is pure and
// side-effect-free: it knows nothing about topics, destinations, sessions,
// or authentication.
//
// The returned Envelope.Payload is a copy of the payload's bytes from raw,
// and re-marshaling the Envelope does not reproduce raw byte for byte, so
// callers that need byte-identical forwarding should retain raw itself.
func Validate(raw []byte) (Envelope, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Envelope{}, ipcerr.New(op, ipcerr.InvalidJSON, err.Error())
	}

	if missing := missingKeys(generic); len(missing) > 0 {
		sort.Strings(missing)
		return Envelope{}, ipcerr.New(op, ipcerr.MissingKeys,
			fmt.Sprintf("missing required keys: %s", strings.Join(missing, ", ")))
	}

	var v int
	if err := json.Unmarshal(generic["v"], &v); err != nil || v != Version {
		observed := strings.TrimSpace(string(generic["v"]))
		return Envelope{}, ipcerr.New(op, ipcerr.UnsupportedVersion,
			fmt.Sprintf("unsupported envelope version: %s", observed))
	}

	if strings.TrimSpace(string(generic["payload"])) == "null" {
		return Envelope{}, ipcerr.New(op, ipcerr.InvalidPayload, "payload must be a JSON object, not null")
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(generic["payload"], &payload); err != nil || payload == nil {
		return Envelope{}, ipcerr.New(op, ipcerr.InvalidPayload, "payload must be a JSON object")
	}

	env := Envelope{V: v, Payload: generic["payload"]}

	strFields := []struct {
		name string
		dst  *string
	}{
		{"id", &env.ID},
		{"ts", &env.TS},
		{"from", &env.From},
		{"to", &env.To},
		{"topic", &env.Topic},
		{"trace_id", &env.TraceID},
	}
	for _, f := range strFields {
		s, err := decodeNonEmptyString(generic[f.name])
		if err != nil {
			return Envelope{}, ipcerr.New(op, ipcerr.InvalidField,
				fmt.Sprintf("field %s must be a non-empty string", f.name))
		}
		*f.dst = s
	}

	replyTo, err := decodeNullableString(generic["reply_to"])
	if err != nil {
		return Envelope{}, ipcerr.New(op, ipcerr.InvalidField, "field reply_to must be a string or null")
	}
	env.ReplyTo = replyTo

	return env, nil
}

func missingKeys(generic map[string]json.RawMessage) []string {
	var missing []string
	for _, k := range requiredKeys {
		if _, ok := generic[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

func decodeNonEmptyString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("empty string")
	}
	return s, nil
}

func decodeNullableString(raw json.RawMessage) (*string, error) {
	if raw == nil || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
