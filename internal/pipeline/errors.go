package pipeline

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable aborts the current cycle. The next trigger retries.
var ErrStoreUnavailable = errors.New("identity store unavailable")

// ErrNoPublisher is returned by delivery when the pipeline was built
// without a publisher (offline commands).
var ErrNoPublisher = errors.New("no publisher configured")

// Op names a publisher operation.
type Op string

const (
	OpPhoto Op = "photo"
	OpText  Op = "text"
)

// TransportError is returned by publishers.
type TransportError struct {
	Op  Op
	Err error
	// Unknown is set when the request may have reached the channel before
	// it failed (a timeout or reset after dispatch). Delivery does not fall
	// back to text for such errors.
	Unknown bool
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("send %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// OutcomeUnknown reports whether err is a TransportError whose request may
// already have been posted.
func OutcomeUnknown(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Unknown
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
