// Package evidence builds the bundle recorded for each confirmed motion
// event: a captured image plus whatever the optional collaborators
// (classifier, range sensor, Doppler integrator) could contribute.
package evidence

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCameraUnavailable means no image was produced; the event is dropped.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrClassify means the classifier could not label the image; the bundle
	// is kept without a label.
	ErrClassify = errors.New("classification failed")
	// ErrTimeout is returned when a collaborator exceeds its time budget.
	ErrTimeout = errors.New("collaborator timed out")
)

// RangeErrorSentinel is stored when the range sensor fails.
const RangeErrorSentinel = -1

// Camera writes a still image to path.
type Camera interface {
	CaptureTo(ctx context.Context, path string) error
}

// Classification is a classifier's best label for an image.
type Classification struct {
	Label      string
	Confidence float64
}

// Classifier labels a captured image.
type Classifier interface {
	Classify(ctx context.Context, path string) (Classification, error)
}

// RangeSensor reads a time-of-flight distance. Failures are reported as
// RangeErrorSentinel rather than an error.
type RangeSensor interface {
	ReadDistanceMM(ctx context.Context) int
}

// CameraFunc adapts a function to Camera.
type CameraFunc func(ctx context.Context, path string) error

func (f CameraFunc) CaptureTo(ctx context.Context, path string) error { return f(ctx, path) }

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, path string) (Classification, error)

func (f ClassifierFunc) Classify(ctx context.Context, path string) (Classification, error) {
	return f(ctx, path)
}

// RangeSensorFunc adapts a function to RangeSensor.
type RangeSensorFunc func(ctx context.Context) int

func (f RangeSensorFunc) ReadDistanceMM(ctx context.Context) int { return f(ctx) }

// Call runs fn with a deadline of d. The call runs in its own goroutine and is
// abandoned when the deadline passes, in which case ErrTimeout is returned.
// Cancellation of the parent context returns ctx.Err(). A non-positive d
// calls fn directly.
func Call[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return r.v, ErrTimeout
		}
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrTimeout
		}
		return zero, ctx.Err()
	}
}
