package gomoos

import (
	"github.com/RoanBrand/gomoos/internal/model"
	"github.com/pkg/errors"
)

// Error categories. Returned errors wrap one of these; test with errors.Is.
var (
	// Invalid name, host, port or other setting.
	ErrConfiguration = errors.New("configuration error")

	// The broker could not be reached, or the connection failed while in use.
	ErrConnection = errors.New("connection error")

	// The broker did not welcome this client.
	ErrHandshake = errors.New("handshake error")

	// Received bytes could not be decoded.
	ErrProtocol = model.ErrProtocol

	// The broker sent a compressed packet. Wraps ErrProtocol.
	ErrUnsupportedCompression = model.ErrUnsupportedCompression

	// A queue bound was exceeded and messages were dropped.
	ErrQueueOverflow = errors.New("queue overflow")

	// The operation needs a live connection.
	ErrNotConnected = errors.New("not connected")

	// Connect was called on a client that is already running.
	ErrRunning = errors.New("client already running")
)

// PoisonError is the broker's refusal of the handshake.
type PoisonError struct {
	Reason string
}

func (e *PoisonError) Error() string {
	return "handshake refused by broker: " + e.Reason
}

func (e *PoisonError) Unwrap() error {
	return ErrHandshake
}

// netError is a failed socket operation. It matches both ErrConnection and the cause.
type netError struct {
	op  string
	err error
}

func connError(op string, err error) error {
	return &netError{op: op, err: err}
}

func (e *netError) Error() string {
	return ErrConnection.Error() + ": " + e.op + ": " + e.err.Error()
}

func (e *netError) Unwrap() []error {
	return []error{ErrConnection, e.err}
}
