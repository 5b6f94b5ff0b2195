package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"firestige.xyz/pktstream/internal/core"
)

// envelope is the adjacently tagged form: {"type": ..., "payload": {...}}.
type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal encodes msg as a tagged JSON object.
func Marshal(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("message: nil message")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("message: encode %s payload: %w", msg.Kind(), err)
	}
	return json.Marshal(envelope{Type: msg.Kind(), Payload: payload})
}

// Unmarshal decodes a tagged JSON object produced by Marshal or by a client.
func Unmarshal(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("message: decode envelope: %w", err)
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil, fmt.Errorf("message: %q without payload", env.Type)
	}

	switch env.Type {
	case KindSignal:
		return decodeSignal(env.Payload)
	case KindData:
		var raw struct {
			Timestamp *int64  `json:"timestamp"`
			Value     *uint32 `json:"value"`
		}
		if err := json.Unmarshal(env.Payload, &raw); err != nil {
			return nil, fmt.Errorf("message: decode Data: %w", err)
		}
		if raw.Timestamp == nil || raw.Value == nil {
			return nil, errors.New("message: Data requires timestamp and value")
		}
		return Data{Timestamp: *raw.Timestamp, Value: *raw.Value}, nil
	case KindBatch:
		var raw struct {
			Readings *core.Batch `json:"readings"`
		}
		if err := json.Unmarshal(env.Payload, &raw); err != nil {
			return nil, fmt.Errorf("message: decode Batch: %w", err)
		}
		if raw.Readings == nil {
			return nil, errors.New("message: Batch requires readings")
		}
		return Batch{Readings: *raw.Readings}, nil
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownMessage, env.Type)
	}
}

// DecodeSignalRequest decodes the body of a signaling POST: {sdp, candidate?}.
func DecodeSignalRequest(data []byte) (Signal, error) {
	return decodeSignal(data)
}

func decodeSignal(data []byte) (Signal, error) {
	var raw struct {
		SDP       *string `json:"sdp"`
		Candidate *string `json:"candidate"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Signal{}, fmt.Errorf("message: decode Signal: %w", err)
	}
	if raw.SDP == nil {
		return Signal{}, errors.New("message: Signal requires sdp")
	}
	return Signal{SDP: *raw.SDP, Candidate: raw.Candidate}, nil
}
