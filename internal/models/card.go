package models

import (
	"fmt"
	"strings"
	"time"
)

// CardRole identifies who authored a conversation card.
type CardRole string

const (
	CardRoleCoach  CardRole = "coach"
	CardRoleSystem CardRole = "system"
)

// Card is one entry in the conversation history shown to the user.
type Card struct {
	ID        string    `json:"id"`
	Role      CardRole  `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Intent    string    `json:"intent,omitempty"`
	Priority  Priority  `json:"priority,omitempty"`
}

// Mode selects between the live coaching backend and the local mock generator.
type Mode string

const (
	ModeLive Mode = "live"
	ModeMock Mode = "mock"
)

// DefaultMode is used when no preference has been stored yet.
const DefaultMode = ModeMock

// ParseMode validates a stored or user-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLive:
		return ModeLive, nil
	case ModeMock:
		return ModeMock, nil
	}
	return "", fmt.Errorf("invalid coach mode %q: want %q or %q", s, ModeLive, ModeMock)
}
