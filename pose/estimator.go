package pose

import (
	"context"
	"image"
)

// Estimator extracts body landmarks from a decoded frame. ok reports
// whether a body was found; a false ok is an expected per-frame
// outcome, not an error. Implementations are expensive to construct
// and must be reused for the lifetime of the process.
type Estimator interface {
	// Extract runs landmark estimation on one frame. It never returns
	// a zero-filled Set in place of a missing body.
	Extract(ctx context.Context, img image.Image) (Set, bool, error)
	// Healthy reports whether the estimator can currently serve
	// Extract calls.
	Healthy() bool
	Close() error
}

type unavailableEstimator struct {
	err error
}

// Unavailable returns an Estimator whose Extract always reports no
// landmarks together with the startup error. It lets the service come
// up in demo-only mode when the estimator process cannot be launched.
func Unavailable(err error) Estimator {
	return &unavailableEstimator{err: err}
}

func (e *unavailableEstimator) Extract(ctx context.Context, img image.Image) (Set, bool, error) {
	return Set{}, false, e.err
}

func (e *unavailableEstimator) Healthy() bool { return false }

func (e *unavailableEstimator) Close() error { return nil }
