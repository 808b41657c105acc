package spectral

import (
	"math"
	"time"
)

// SpeedOfLight is the default propagation speed in m/s.
const SpeedOfLight = 299792458.0

// Doppler holds the constants of a continuous-wave Doppler radar.
type Doppler struct {
	CarrierHz        float64 // F0
	PropagationSpeed float64 // C
	// MinFrequencyHz is the magnitude below which a frequency is treated as
	// no motion.
	MinFrequencyHz float64
}

// Speed converts a Doppler shift into a speed magnitude: |f| * C / (2 * F0).
// Direction is not modelled.
func (d Doppler) Speed(frequencyHz float64) float64 {
	f := math.Abs(frequencyHz)
	if f < d.MinFrequencyHz || f == 0 || d.CarrierHz <= 0 {
		return 0
	}
	return f * d.PropagationSpeed / (2 * d.CarrierHz)
}

// Integrator accumulates distance travelled since the last committed event.
// It is owned by the control loop and is not safe for concurrent use.
type Integrator struct {
	doppler    Doppler
	distance   float64
	lastUpdate time.Time
	lastSpeed  float64
	hasSpeed   bool
}

// NewIntegrator creates an Integrator with an empty accumulator.
func NewIntegrator(d Doppler) *Integrator {
	return &Integrator{doppler: d}
}

// Integrate converts the estimate's dominant frequency into a speed and adds
// speed * DT to the accumulator. It returns the distance delta in metres and
// the estimate with Speed filled in.
func (in *Integrator) Integrate(v VelocityEstimate) (float64, VelocityEstimate) {
	v.Speed = in.doppler.Speed(v.DominantFrequency)
	delta := 0.0
	if v.Speed > 0 && v.DT > 0 {
		delta = v.Speed * v.DT.Seconds()
	}
	in.distance += delta
	in.lastUpdate = v.At
	in.lastSpeed = v.Speed
	in.hasSpeed = true
	return delta, v
}

// Distance returns the accumulated distance without resetting it.
func (in *Integrator) Distance() float64 {
	return in.distance
}

// LastUpdate returns the timestamp of the most recent Integrate call.
func (in *Integrator) LastUpdate() time.Time {
	return in.lastUpdate
}

// LastSpeed returns the most recently integrated speed, and false if
// Integrate has not been called since construction.
func (in *Integrator) LastSpeed() (float64, bool) {
	return in.lastSpeed, in.hasSpeed
}

// TakeAndReset returns the accumulated distance and zeroes the accumulator.
// Called exactly once per committed event.
func (in *Integrator) TakeAndReset() float64 {
	d := in.distance
	in.distance = 0
	return d
}
