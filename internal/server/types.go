// Package server defines the error taxonomy and the outbound handle shared by
// the registry, sessions and connection handlers.
package server

import (
	"errors"
	"strings"
)

var (
	// ErrLogin reports a connection that did not complete authentication:
	// bad credentials, a first datagram that is not a Login, or a broken read.
	ErrLogin = errors.New("login error")

	// ErrSpoofing reports a chat message whose sender is not the user the
	// connection authenticated as.
	ErrSpoofing = errors.New("message spoofing detected")

	// ErrSessionClosed is returned when enqueueing on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrQueueFull is returned when a session's outbound queue has no room.
	ErrQueueFull = errors.New("outbound queue full")
)

// Outbound is the write side of a registered connection. Enqueue must not
// block: a recipient that cannot accept a frame right away fails instead.
type Outbound interface {
	Enqueue(frame []byte) error
	Close() error
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
