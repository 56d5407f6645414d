// Package gateway holds the error vocabulary shared by the outbound channel
// clients (push and mail). These failures are channel-local: callers record
// them in a fan-out result and never escalate them.
package gateway

import (
	"errors"
	"fmt"

	"siraj/pkg/platform/circuit"
)

var (
	// ErrUnreachable means the provider could not be reached (dial error,
	// timeout, reset connection).
	ErrUnreachable = errors.New("gateway unreachable")
	// ErrRejected means the provider answered but refused the request.
	ErrRejected = errors.New("gateway rejected request")
	// ErrNotConfigured means credentials are absent and the channel is disabled.
	ErrNotConfigured = errors.New("gateway not configured")
	// ErrCircuitOpen means recent consecutive failures tripped the breaker.
	ErrCircuitOpen = errors.New("gateway circuit open")
)

// Unreachable wraps a transport failure.
func Unreachable(name string, err error) error {
	return fmt.Errorf("%s: %w: %w", name, ErrUnreachable, err)
}

// Rejected wraps a provider refusal with its status and a short reason.
func Rejected(name string, status int, reason string) error {
	return fmt.Errorf("%s: %w: status %d: %s", name, ErrRejected, status, reason)
}

// Guard runs call through breaker b: it fails fast with ErrCircuitOpen while
// the circuit is open and records the outcome otherwise. Only unreachable
// failures count against the breaker; rejections mean the provider is up.
func Guard(b *circuit.Breaker, call func() error) (circuit.StateChange, error) {
	if b == nil {
		return circuit.StateChange{}, call()
	}
	if !b.Allow() {
		return circuit.StateChange{}, fmt.Errorf("%s: %w", b.Name(), ErrCircuitOpen)
	}
	err := call()
	if err != nil && errors.Is(err, ErrUnreachable) {
		_, change := b.RecordFailure()
		return change, err
	}
	_, change := b.RecordSuccess()
	return change, err
}
