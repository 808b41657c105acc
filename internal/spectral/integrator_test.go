package spectral

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDopplerSpeed(t *testing.T) {
	d := Doppler{CarrierHz: 10.525e9, PropagationSpeed: SpeedOfLight, MinFrequencyHz: 1}

	tests := []struct {
		name string
		f    float64
		want float64
	}{
		{"zero", 0, 0},
		{"below minimum", 0.5, 0},
		{"walking pace", 70.2, 70.2 * SpeedOfLight / (2 * 10.525e9)},
		{"negative shift uses magnitude", -70.2, 70.2 * SpeedOfLight / (2 * 10.525e9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, d.Speed(tt.f), 1e-12)
		})
	}

	// roughly 1 m/s per 70 Hz at 10.525 GHz
	assert.InDelta(t, 1.0, d.Speed(70.2), 0.01)
	assert.Equal(t, 0.0, Doppler{}.Speed(100), "no carrier means no speed")
}

func TestIntegratorAccumulatesAndResets(t *testing.T) {
	in := NewIntegrator(Doppler{CarrierHz: 1, PropagationSpeed: 2}) // speed == |f|

	_, ok := in.LastSpeed()
	assert.False(t, ok)

	delta, est := in.Integrate(VelocityEstimate{DominantFrequency: 2, DT: 500 * time.Millisecond, At: epoch})
	assert.InDelta(t, 1.0, delta, 1e-12)
	assert.InDelta(t, 2.0, est.Speed, 1e-12)

	delta, _ = in.Integrate(VelocityEstimate{DominantFrequency: -3, DT: time.Second, At: epoch.Add(time.Second)})
	assert.InDelta(t, 3.0, delta, 1e-12)
	assert.InDelta(t, 4.0, in.Distance(), 1e-12)
	assert.Equal(t, epoch.Add(time.Second), in.LastUpdate())

	speed, ok := in.LastSpeed()
	assert.True(t, ok)
	assert.InDelta(t, 3.0, speed, 1e-12)

	assert.InDelta(t, 4.0, in.TakeAndReset(), 1e-12)
	assert.Equal(t, 0.0, in.TakeAndReset(), "second take with no integration in between")
	assert.Equal(t, 0.0, in.Distance())
}

func TestIntegratorNonNegative(t *testing.T) {
	in := NewIntegrator(Doppler{CarrierHz: 1, PropagationSpeed: 2})
	for _, v := range []VelocityEstimate{
		{DominantFrequency: -10, DT: time.Second},
		{DominantFrequency: 5, DT: -time.Second},
		{DominantFrequency: 0, DT: time.Hour},
	} {
		delta, _ := in.Integrate(v)
		assert.GreaterOrEqual(t, delta, 0.0)
		assert.GreaterOrEqual(t, in.Distance(), 0.0)
	}
}
