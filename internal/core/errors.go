package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMediaAccessDenied means the microphone was refused or is missing.
	ErrMediaAccessDenied = errors.New("media access denied")

	// ErrNegotiationFailed means a peer connection reached a terminal state.
	ErrNegotiationFailed = errors.New("negotiation failed")

	// ErrStartCancelled is returned by Start when Stop ran before start finished.
	ErrStartCancelled = errors.New("huddle start cancelled")

	// ErrLoopClosed means the huddle event loop is no longer running.
	ErrLoopClosed = errors.New("event loop closed")

	// ErrInvalidSDP indicates a session description that failed to parse.
	ErrInvalidSDP = errors.New("invalid SDP")

	// ErrBackpressure is returned when the outbound signaling queue is full.
	ErrBackpressure = errors.New("backpressure")

	// ErrConnectionClosed is returned when sending over a closed channel.
	ErrConnectionClosed = errors.New("connection closed")
)

// SignalingError is a failure reported by the server.
type SignalingError struct {
	Code    string
	Message string
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling error %s: %s", e.Code, e.Message)
}

// sfuErrorCodes are the server codes that belong to an SFU negotiation cycle.
var sfuErrorCodes = map[string]struct{}{
	"publish_failed":     {},
	"subscribe_failed":   {},
	"renegotiate_failed": {},
}

// SFU reports whether the error concerns SFU negotiation. Codes with the
// "sfu_" prefix count as well.
func (e *SignalingError) SFU() bool {
	if e == nil {
		return false
	}
	if _, ok := sfuErrorCodes[e.Code]; ok {
		return true
	}
	return strings.HasPrefix(e.Code, "sfu_")
}
