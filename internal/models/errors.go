package models

import (
	"errors"
	"fmt"
)

// ProtocolErrorCode classifies malformed or unrecognised wire data.
type ProtocolErrorCode string

const (
	// ProtocolUnknownVariant means a widget or action "type" tag is not recognised.
	ProtocolUnknownVariant ProtocolErrorCode = "unknown_variant"
	// ProtocolMissingDiscriminant means the "type" tag is absent or empty.
	ProtocolMissingDiscriminant ProtocolErrorCode = "missing_discriminant"
	// ProtocolDuplicateWidgetID means two widgets in one response share an id.
	ProtocolDuplicateWidgetID ProtocolErrorCode = "duplicate_widget_id"
	// ProtocolMalformed covers payloads that do not match the variant's field set.
	ProtocolMalformed ProtocolErrorCode = "malformed"
)

// Sentinel errors matched through errors.Is on a *ProtocolError.
var (
	ErrUnknownVariant       = errors.New("unknown variant")
	ErrMissingDiscriminant  = errors.New("missing discriminant")
	ErrDuplicateWidgetID    = errors.New("duplicate widget id")
	ErrMalformedWireMessage = errors.New("malformed wire message")
)

// ProtocolError reports wire data the protocol types refuse to accept.
type ProtocolError struct {
	Code  ProtocolErrorCode
	Union string // "widget" or "action"
	Tag   string
	Err   error
}

func (e *ProtocolError) Error() string {
	switch e.Code {
	case ProtocolUnknownVariant:
		return fmt.Sprintf("protocol: unknown %s type %q", e.Union, e.Tag)
	case ProtocolMissingDiscriminant:
		return fmt.Sprintf("protocol: %s is missing its type field", e.Union)
	case ProtocolDuplicateWidgetID:
		return fmt.Sprintf("protocol: duplicate widget id %q", e.Tag)
	}
	if e.Err != nil {
		return fmt.Sprintf("protocol: malformed %s %q: %v", e.Union, e.Tag, e.Err)
	}
	return fmt.Sprintf("protocol: malformed %s %q", e.Union, e.Tag)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is lets callers match on the sentinel for each code.
func (e *ProtocolError) Is(target error) bool {
	switch target {
	case ErrUnknownVariant:
		return e.Code == ProtocolUnknownVariant
	case ErrMissingDiscriminant:
		return e.Code == ProtocolMissingDiscriminant
	case ErrDuplicateWidgetID:
		return e.Code == ProtocolDuplicateWidgetID
	case ErrMalformedWireMessage:
		return e.Code == ProtocolMalformed
	}
	return false
}

// ErrorBody is the JSON error envelope returned by the coaching backend.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
