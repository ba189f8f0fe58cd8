package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultAuthEvent is the event name of the authentication envelope.
const DefaultAuthEvent = "authenticate"

// ErrInvalidData is returned when an event data body is not a single JSON value.
var ErrInvalidData = errors.New("invalid event data")

// AuthEnvelope encodes the authentication envelope for token:
// {"event":"<event>","data":{"idToken":"<token>"}}
func AuthEnvelope(event, token string) (string, error) {
	quotedToken, err := quote(token)
	if err != nil {
		return "", err
	}
	return EventEnvelope(event, `{"idToken":`+quotedToken+`}`)
}

// EventEnvelope encodes an event envelope, embedding data verbatim:
// {"event":"<name>","data":<data>}
// The caller is responsible for data being valid JSON, see ValidateData.
func EventEnvelope(name, data string) (string, error) {
	quotedName, err := quote(name)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(quotedName) + len(data) + 20)
	b.WriteString(`{"event":`)
	b.WriteString(quotedName)
	b.WriteString(`,"data":`)
	b.WriteString(data)
	b.WriteString(`}`)
	return b.String(), nil
}

// ValidateData checks that data holds exactly one JSON value and returns it
// trimmed. Only syntax is checked: duplicate keys and numbers beyond float64
// range are accepted, since the value is sent as typed. Empty input is
// treated as null.
func ValidateData(data string) (string, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return "null", nil
	}
	var raw json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	return data, nil
}

// quote encodes s as a JSON string without HTML escaping.
func quote(s string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", fmt.Errorf("failed to encode string: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
