package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/serialmux"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

// ErrSerialClosed is wrapped in the HardwareReadError returned once the
// multiplexer has closed the subscription.
var ErrSerialClosed = errors.New("serial stream closed")

// SerialSource reads samples streamed by a microcontroller ADC over a serial
// line. The multiplexer's Monitor loop must be running for lines to arrive.
type SerialSource struct {
	mux     serialmux.SerialMuxInterface
	id      string
	lines   chan string
	clock   timeutil.Clock
	timeout time.Duration
}

// NewSerialSource subscribes to mux. A read that sees no valid line within
// timeout (the stale limit) fails with a HardwareReadError; zero disables it.
func NewSerialSource(mux serialmux.SerialMuxInterface, clock timeutil.Clock, timeout time.Duration) *SerialSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	id, lines := mux.Subscribe()
	return &SerialSource{mux: mux, id: id, lines: lines, clock: clock, timeout: timeout}
}

// Read returns the most recent reading. Lines that queued while the caller
// was busy are drained and only the newest parseable one is kept; if none is
// queued Read waits up to the stale timeout for the next line. Malformed lines
// are logged and skipped.
func (s *SerialSource) Read(ctx context.Context) (Sample, error) {
	var (
		latest serialmux.Reading
		have   bool
	)
drain:
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				if have {
					break drain
				}
				return Sample{}, &HardwareReadError{Source: "serial", Err: ErrSerialClosed}
			}
			if r, err := s.parse(line); err == nil {
				latest, have = r, true
			}
		default:
			break drain
		}
	}
	if have {
		return s.sample(latest), nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Sample{}, &HardwareReadError{Source: "serial", Err: fmt.Errorf("no reading within %v", s.timeout)}
			}
			return Sample{}, ctx.Err()
		case line, ok := <-s.lines:
			if !ok {
				return Sample{}, &HardwareReadError{Source: "serial", Err: ErrSerialClosed}
			}
			if r, err := s.parse(line); err == nil {
				return s.sample(r), nil
			}
		}
	}
}

func (s *SerialSource) parse(line string) (serialmux.Reading, error) {
	r, err := serialmux.ParseReading(line)
	if err != nil {
		monitoring.Tracef("skipping serial line: %v", err)
	}
	return r, err
}

func (s *SerialSource) sample(r serialmux.Reading) Sample {
	sample := Sample{Value: r.Raw, Timestamp: s.clock.Now()}
	if r.Voltage != nil {
		sample.Voltage = *r.Voltage
	}
	return sample
}

// Close unsubscribes from the multiplexer. The port itself is owned by the
// caller that opened it.
func (s *SerialSource) Close() error {
	s.mux.Unsubscribe(s.id)
	return nil
}
