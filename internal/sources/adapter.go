// Package sources turns external feeds and coupon pages into raw offer
// candidates. Every adapter fails with *FetchError so the ingestion
// coordinator can isolate and classify failures per source.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net"

	"offerbot/internal/offer"
)

// Adapter is a source of raw candidates.
type Adapter interface {
	Name() string
	// BaseURL is used to resolve relative links and images.
	BaseURL() string
	Fetch(ctx context.Context) ([]offer.RawCandidate, error)
}

// Kind classifies adapter failures.
type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindTransport Kind = "transport"
	KindStatus    Kind = "status"
	KindParse     Kind = "parse"
	KindPanic     Kind = "panic"
)

// FetchError is the only error type adapters return.
type FetchError struct {
	Source string
	Kind   Kind
	Err    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("source %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// AsFetchError extracts a *FetchError from err's chain.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Classify wraps err in a FetchError for source, picking the kind from the
// error chain. Existing FetchErrors are returned unchanged.
func Classify(source string, err error) *FetchError {
	if err == nil {
		return nil
	}
	if fe, ok := AsFetchError(err); ok {
		return fe
	}
	kind := KindTransport
	var se *StatusError
	var ne net.Error
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		kind = KindParse
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &se):
		kind = KindStatus
	case errors.As(err, &ne) && ne.Timeout():
		kind = KindTimeout
	}
	return &FetchError{Source: source, Kind: kind, Err: err}
}
