package models

import (
	"encoding/json"
	"fmt"
)

// discriminator reads the "type" tag of a tagged-union member.
func discriminator(union string, data []byte) (string, map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", nil, &ProtocolError{Code: ProtocolMalformed, Union: union, Err: err}
	}
	raw, ok := fields["type"]
	if !ok {
		return "", nil, &ProtocolError{Code: ProtocolMissingDiscriminant, Union: union}
	}
	var tag string
	if err := json.Unmarshal(raw, &tag); err != nil {
		return "", nil, &ProtocolError{Code: ProtocolMalformed, Union: union, Err: fmt.Errorf("type must be a string: %w", err)}
	}
	if tag == "" {
		return "", nil, &ProtocolError{Code: ProtocolMissingDiscriminant, Union: union}
	}
	return tag, fields, nil
}

// decodeVariant checks that every required key is present, then decodes data into dst.
func decodeVariant(union, tag string, data []byte, fields map[string]json.RawMessage, dst any, required ...string) error {
	for _, key := range required {
		v, ok := fields[key]
		if !ok || string(v) == "null" {
			return &ProtocolError{Code: ProtocolMalformed, Union: union, Tag: tag, Err: fmt.Errorf("missing field %q", key)}
		}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &ProtocolError{Code: ProtocolMalformed, Union: union, Tag: tag, Err: err}
	}
	return nil
}

// withTag marshals v (which must encode as a JSON object) with a leading "type" discriminant.
func withTag(tag string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("tagged union member %q must encode as an object", tag)
	}
	head, err := json.Marshal(tag)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+len(head)+9)
	out = append(out, `{"type":`...)
	out = append(out, head...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	return append(out, body[1:]...), nil
}
