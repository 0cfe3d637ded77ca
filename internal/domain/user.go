// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strconv"
)

const (
	MaxUserIDLen      = 64
	MaxDisplayNameLen = 64
)

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

type UserID string

// Participant is a roster entry as pushed by the server.
type Participant struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"display_name"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id UserID, displayName string) (Participant, error) {
	if len(id) == 0 {
		return Participant{}, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return Participant{}, ErrUserIDTooLong
	}
	if len(displayName) > MaxDisplayNameLen {
		displayName = displayName[:MaxDisplayNameLen]
	}
	return Participant{ID: id, DisplayName: displayName}, nil
}

// Less is the total order used to pick the offering side of a mesh link.
// Integer ids sort before all other ids and compare by value, with the raw
// string breaking ties such as "1" and "01". Other ids compare lexically.
func Less(a, b UserID) bool {
	ai, aerr := strconv.ParseInt(string(a), 10, 64)
	bi, berr := strconv.ParseInt(string(b), 10, 64)
	switch {
	case aerr == nil && berr == nil:
		if ai != bi {
			return ai < bi
		}
		return a < b
	case aerr == nil:
		return true
	case berr == nil:
		return false
	}
	return a < b
}
