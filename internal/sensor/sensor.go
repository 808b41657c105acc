// Package sensor reads the Doppler front end's analog output. A Source
// produces one Sample per call; the pipeline owns the pacing.
package sensor

import (
	"context"
	"fmt"
	"time"
)

// Sample is one reading from the analog channel.
type Sample struct {
	Value     float64   // raw ADC count, compared against the trigger threshold
	Voltage   float64   // volts, zero when the source cannot report it
	Timestamp time.Time // when the reading was taken
}

// Source yields samples on demand. Implementations must not retain the
// context beyond the call.
type Source interface {
	Read(ctx context.Context) (Sample, error)
	Close() error
}

// HardwareReadError reports a failed read from a physical device. The
// pipeline skips the tick and carries on.
type HardwareReadError struct {
	Source string
	Err    error
}

func (e *HardwareReadError) Error() string {
	return fmt.Sprintf("%s read failed: %v", e.Source, e.Err)
}

func (e *HardwareReadError) Unwrap() error {
	return e.Err
}
