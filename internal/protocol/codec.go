package protocol

import (
	"encoding/json"
	"fmt"
)

// Codec encodes and decodes envelopes on the wire. Decoding validates the
// envelope and its payload; failures are permanent and must be dead-lettered
// by the caller, never retried.
type Codec struct{}

// NewCodec returns a codec for the current protocol version.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode serializes an envelope to its JSON wire form.
// The envelope is validated before encoding.
func (c *Codec) Encode(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses and validates an envelope from its JSON wire form.
func (c *Codec) Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// DecodePayload parses and validates the typed payload of an envelope.
// The concrete type is selected by the envelope's message type.
func (c *Codec) DecodePayload(env *Envelope) (Payload, error) {
	var p Payload
	switch env.Type {
	case TypeWorkRequest:
		p = &WorkRequest{}
	case TypeWorkResult:
		p = &WorkResult{}
	case TypeStatusUpdate:
		p = &StatusUpdate{}
	case TypeRegistration:
		p = &Registration{}
	case TypeCancel:
		p = &Cancel{}
	case TypeError:
		p = &ErrorMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayload, env.Type)
	}

	if err := json.Unmarshal(env.Payload, p); err != nil {
		return nil, fmt.Errorf("%w: decode %s payload: %v", ErrMalformedEnvelope, env.Type, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedEnvelope, env.Type, err)
	}
	return p, nil
}
