// Package transport defines the byte-level abstraction the PTLS session and
// lock command layer are driven over: three independent logical channels
// carried by BLE characteristics, reduced here to whole-payload reads and
// writes so the rest of the module never touches GATT, discovery, or
// subscription directly.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by any operation on a closed Transport.
var ErrClosed = errors.New("transport: closed")

// DisconnectFunc is invoked exactly once when the underlying link drops,
// whether by peer action or local close.
type DisconnectFunc func()

// Transport is the byte-level contract the PTLS session and lock command
// layer consume. Implementations deliver whole BLE payloads in order on
// each channel independently; they make no ordering guarantee between
// channels — that is enforced by the session and coordinator.
type Transport interface {
	// WriteHandshake writes one payload on the handshake channel.
	WriteHandshake(ctx context.Context, payload []byte) error
	// ReadHandshake reads the next payload on the handshake channel,
	// blocking until one arrives or ctx is done.
	ReadHandshake(ctx context.Context) ([]byte, error)

	// WriteCommand writes one payload on the command channel (write with
	// response).
	WriteCommand(ctx context.Context, payload []byte) error
	// ReadCommandResponse reads the next payload on the command channel.
	ReadCommandResponse(ctx context.Context) ([]byte, error)

	// ReadNotification reads the next unsolicited device->host payload.
	ReadNotification(ctx context.Context) ([]byte, error)

	// MTU returns the negotiated peer MTU in [23, 255]. Only meaningful
	// after Connect.
	MTU() int

	// Close tears down the link. Idempotent.
	Close() error
}

// Dialer opens a Transport and arranges for onDisconnect to be invoked if
// the link drops after a successful Connect.
type Dialer interface {
	Connect(ctx context.Context, onDisconnect DisconnectFunc) (Transport, error)
}

// Error wraps a transport-level failure (disconnect or I/O failure) that
// should trigger the coordinator's reconnect path.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a transport Error tagged with the failing
// operation name.
func NewError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
