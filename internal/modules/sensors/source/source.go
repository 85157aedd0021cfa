// Package source produces readings for the ingestion pipeline: a synthetic
// generator and an adapter over an external push-based feed.
package source

import (
	"context"
	"errors"

	"iotdrone-monitor/internal/modules/sensors/types"
)

// Source yields at most one reading per call. ok is false when the source has
// nothing to offer this cycle; that is not an error.
type Source interface {
	Next(ctx context.Context) (r types.Reading, ok bool, err error)
	Name() string
}

var (
	ErrUnexpectedShape = errors.New("unexpected feed shape")
	ErrInvalidRecord   = errors.New("invalid feed record")
	ErrUnreachable     = errors.New("feed unreachable")
)

// SourceError is returned by a Source for a recoverable failure. Kind is one
// of the Err* values above, so errors.Is works on either.
type SourceError struct {
	Kind error
	Err  error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *SourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName is a stable label for metrics.
func (e *SourceError) KindName() string {
	switch e.Kind {
	case ErrUnexpectedShape:
		return "unexpected_shape"
	case ErrInvalidRecord:
		return "invalid_record"
	case ErrUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

func newSourceError(kind, err error) *SourceError {
	return &SourceError{Kind: kind, Err: err}
}
