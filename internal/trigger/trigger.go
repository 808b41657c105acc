// Package trigger decides event boundaries from the raw presence signal using
// a crossing rule followed by a fixed refractory cooldown.
package trigger

import (
	"fmt"
	"time"

	"github.com/MicahParks/peakdetect"
)

// State of the debounce machine.
type State int

const (
	Idle State = iota
	Cooldown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Cooldown:
		return "cooldown"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Crosser reports whether a value counts as a crossing. It sees every value,
// including those that arrive during cooldown, so adaptive rules can keep
// their baseline current.
type Crosser interface {
	Crossed(value float64) bool
}

// Threshold crosses when value > level.
type Threshold float64

func (t Threshold) Crossed(value float64) bool {
	return value > float64(t)
}

// ZScore crosses when peakdetect reports a positive signal. The first Lag
// values seed the detector and never cross.
type ZScore struct {
	detector    peakdetect.PeakDetector
	influence   float64
	threshold   float64
	seed        []float64
	lag         int
	initialised bool
}

// NewZScore creates an adaptive crossing rule. lag must be at least 2.
func NewZScore(lag int, threshold, influence float64) (*ZScore, error) {
	if lag < 2 {
		return nil, fmt.Errorf("zscore lag must be at least 2, got %d", lag)
	}
	return &ZScore{
		detector:  peakdetect.NewPeakDetector(),
		influence: influence,
		threshold: threshold,
		seed:      make([]float64, 0, lag),
		lag:       lag,
	}, nil
}

func (z *ZScore) Crossed(value float64) bool {
	if !z.initialised {
		z.seed = append(z.seed, value)
		if len(z.seed) < z.lag {
			return false
		}
		if err := z.detector.Initialize(z.influence, z.threshold, z.seed); err != nil {
			// a degenerate seed; start over with the next values
			z.seed = z.seed[:0]
			return false
		}
		z.initialised = true
		return false
	}
	return z.detector.Next(value) == peakdetect.SignalPositive
}

// Detector is the Idle/Cooldown state machine. It is owned by the control
// loop and is not safe for concurrent use.
type Detector struct {
	crosser       Crosser
	cooldown      time.Duration
	state         State
	cooldownUntil time.Time
	triggers      int
}

// NewDetector creates a Detector starting in Idle.
func NewDetector(c Crosser, cooldown time.Duration) *Detector {
	return &Detector{crosser: c, cooldown: cooldown}
}

// Update feeds the latest value observed at now and returns true exactly on
// the Idle to Cooldown transition. A cooldown that has expired by now is
// left first, so the same value is then evaluated in Idle.
func (d *Detector) Update(value float64, now time.Time) bool {
	if d.state == Cooldown && !now.Before(d.cooldownUntil) {
		d.state = Idle
	}
	crossed := d.crosser.Crossed(value)
	if d.state == Cooldown || !crossed {
		return false
	}
	d.state = Cooldown
	d.cooldownUntil = now.Add(d.cooldown)
	d.triggers++
	return true
}

// State returns the current state as of the last Update.
func (d *Detector) State() State {
	return d.state
}

// CooldownUntil returns the instant the current cooldown ends. It is only
// meaningful in Cooldown.
func (d *Detector) CooldownUntil() time.Time {
	return d.cooldownUntil
}

// Triggers returns the number of confirmed triggers since construction.
func (d *Detector) Triggers() int {
	return d.triggers
}
