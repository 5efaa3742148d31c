package offers

import (
	"errors"
	"fmt"
)

var (
	// ErrOfferStale means the offer already left aguardando_aceite, through
	// expiry or an answer given elsewhere.
	ErrOfferStale = errors.New("offer no longer available")
	// ErrOfferNotFound means the offer does not exist or is not addressed to
	// the attached provider.
	ErrOfferNotFound = errors.New("offer not found")
	// ErrDetached is returned by operations that need an attached provider.
	ErrDetached = errors.New("offer controller not attached")
	// ErrClosed is returned once the controller has been shut down.
	ErrClosed = errors.New("offer controller closed")
)

// TransportError wraps a network or persistence failure. The local pending
// set is left untouched so the caller can retry.
type TransportError struct {
	Op      string
	OfferID string
	Err     error
}

func (e *TransportError) Error() string {
	if e.OfferID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s offer %s: %v", e.Op, e.OfferID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports that the operation may be attempted again.
func (e *TransportError) Retryable() bool { return true }
