// Package ocr wraps text-recognition engines behind a single capability:
// given a normalized image, produce the recognized text. Engines report
// fractional progress through a callback; values are monotonically
// non-decreasing within one Recognize call and reset per call.
package ocr

import (
	"context"
	"fmt"
)

// ProgressFunc receives fractional recognition progress in [0, 1]. It may be
// nil when the caller does not care.
type ProgressFunc func(fraction float64)

// Engine defines the recognition capability.
type Engine interface {
	// Recognize extracts text from an image. Cancellation is cooperative:
	// when ctx is done, Recognize returns promptly with ctx's error, though
	// the underlying engine may still run to completion in the background.
	Recognize(ctx context.Context, imageData []byte, onProgress ProgressFunc) (string, error)
	// Close releases engine resources.
	Close() error
}

// RecognitionError reports an engine failure. The submission can be retried.
type RecognitionError struct {
	Engine string
	Err    error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("%s recognition failed: %v", e.Engine, e.Err)
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}

// report invokes the callback if set.
func report(onProgress ProgressFunc, fraction float64) {
	if onProgress != nil {
		onProgress(fraction)
	}
}
