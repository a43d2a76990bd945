package connection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var errEmptyFrame = errors.New("empty frame")

// envelope is the queue server's message shape.
type envelope struct {
	Type *string         `json:"type"`
	Data json.RawMessage `json:"data"`
}

// decodeFrame turns one text frame into a Message. Any valid JSON value is
// accepted; objects carrying a string "type" are treated as envelopes.
func decodeFrame(data []byte, receivedAt time.Time) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Message{}, errEmptyFrame
	}
	if !json.Valid(trimmed) {
		return Message{}, fmt.Errorf("decode frame: invalid JSON (%d bytes)", len(data))
	}

	msg := Message{
		Raw:        append(json.RawMessage(nil), trimmed...),
		ReceivedAt: receivedAt,
	}

	if trimmed[0] == '{' {
		var env envelope
		// Valid JSON already; a type mismatch on "type" just means no envelope.
		if err := json.Unmarshal(trimmed, &env); err == nil && env.Type != nil {
			msg.Type = *env.Type
			msg.Data = env.Data
		}
	}

	return msg, nil
}

// encodePayload serializes an outbound payload. []byte and json.RawMessage
// are sent as-is and must already be JSON.
func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("encode payload: invalid raw JSON")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("encode payload: invalid raw JSON")
		}
		return p, nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return data, nil
	}
}
