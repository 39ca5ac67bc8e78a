package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for common gateway error conditions.
var (
	// ErrAuthFailure is returned when the upgrade request carries a
	// missing or invalid credential.
	ErrAuthFailure = errors.New("gateway: authentication failure")

	// ErrServerClosed is the rejection cause for connections arriving
	// after Shutdown has been called.
	ErrServerClosed = errors.New("gateway: server closed")
)

// ProtocolError describes an inbound frame the client was not allowed
// to send. It always results in the connection being closed.
type ProtocolError struct {
	UserID string
	Op     string // operation being performed when the violation occurred
	Err    error  // underlying decode/validation error
}

// Error returns the error message with connection context.
func (e *ProtocolError) Error() string {
	if e.UserID == "" {
		return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway: user %s: %s: %v", e.UserID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(userID, op string, err error) *ProtocolError {
	return &ProtocolError{
		UserID: userID,
		Op:     op,
		Err:    err,
	}
}
