// Package spectral turns the Doppler signal into a physical estimate: it
// windows samples, finds the dominant frequency with a real-input FFT, and
// integrates the resulting speed over time into a distance.
package spectral

import (
	"fmt"
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/banshee-data/motion.report/internal/sensor"
)

// VelocityEstimate is produced once per completed window.
type VelocityEstimate struct {
	DominantFrequency float64       // Hz
	Speed             float64       // m/s, filled in by the Integrator
	DT                time.Duration // since the previous window completion
	At                time.Time     // timestamp of the sample that completed the window
}

// Spectrum is the magnitude spectrum of one window.
type Spectrum struct {
	Frequencies []float64 // Hz, one per bin
	Magnitudes  []float64
	Dominant    int // index of the dominant bin
	At          time.Time
}

// EstimatorConfig configures an Estimator.
type EstimatorConfig struct {
	BufferSize int     // window length N
	SampleRate float64 // Hz
	// ExcludeDC removes the window mean and skips bin 0 when searching for
	// the dominant frequency. When false the DC bin competes like any other.
	ExcludeDC bool
}

// Estimator accumulates non-overlapping windows of BufferSize samples and
// reports the dominant frequency of each completed window.
type Estimator struct {
	cfg    EstimatorConfig
	fft    *fourier.FFT
	window []float64
	coeffs []complex128

	lastCompletion time.Time
	started        bool
	last           *Spectrum
}

// NewEstimator creates an Estimator. The window is allocated once and reused.
func NewEstimator(cfg EstimatorConfig) (*Estimator, error) {
	if cfg.BufferSize < 2 {
		return nil, fmt.Errorf("buffer size must be at least 2, got %d", cfg.BufferSize)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", cfg.SampleRate)
	}
	return &Estimator{
		cfg:    cfg,
		fft:    fourier.NewFFT(cfg.BufferSize),
		window: make([]float64, 0, cfg.BufferSize),
		coeffs: make([]complex128, cfg.BufferSize/2+1),
	}, nil
}

// BinWidth returns the frequency resolution of one FFT bin in Hz.
func (e *Estimator) BinWidth() float64 {
	return e.cfg.SampleRate / float64(e.cfg.BufferSize)
}

func (e *Estimator) samplePeriod() time.Duration {
	return time.Duration(float64(time.Second) / e.cfg.SampleRate)
}

// Len returns the number of samples in the current window.
func (e *Estimator) Len() int {
	return len(e.window)
}

// Observe appends the sample to the current window. When the window is full
// the dominant frequency is computed, the window is cleared and the estimate
// is returned with ok set to true.
func (e *Estimator) Observe(s sensor.Sample) (est VelocityEstimate, ok bool) {
	if !e.started {
		// the first sample stands for the interval ending at its timestamp,
		// so a full window always spans BufferSize/SampleRate
		e.lastCompletion = s.Timestamp.Add(-e.samplePeriod())
		e.started = true
	}

	e.window = append(e.window, s.Value)
	if len(e.window) < e.cfg.BufferSize {
		return VelocityEstimate{}, false
	}

	spec := e.analyse(s.Timestamp)
	e.window = e.window[:0]

	est = VelocityEstimate{
		DominantFrequency: spec.Frequencies[spec.Dominant],
		DT:                s.Timestamp.Sub(e.lastCompletion),
		At:                s.Timestamp,
	}
	e.lastCompletion = s.Timestamp
	e.last = spec
	return est, true
}

// LastSpectrum returns the spectrum of the most recently completed window,
// or nil if no window has completed yet.
func (e *Estimator) LastSpectrum() *Spectrum {
	if e.last == nil {
		return nil
	}
	cp := *e.last
	cp.Frequencies = append([]float64(nil), e.last.Frequencies...)
	cp.Magnitudes = append([]float64(nil), e.last.Magnitudes...)
	return &cp
}

func (e *Estimator) analyse(at time.Time) *Spectrum {
	seq := e.window
	if e.cfg.ExcludeDC {
		var mean float64
		for _, v := range seq {
			mean += v
		}
		mean /= float64(len(seq))
		centred := make([]float64, len(seq))
		for i, v := range seq {
			centred[i] = v - mean
		}
		seq = centred
	}

	e.coeffs = e.fft.Coefficients(e.coeffs, seq)

	spec := &Spectrum{
		Frequencies: make([]float64, len(e.coeffs)),
		Magnitudes:  make([]float64, len(e.coeffs)),
		At:          at,
	}
	first := 0
	if e.cfg.ExcludeDC {
		first = 1
	}
	maxMag := 0.0
	for i, c := range e.coeffs {
		// Freq reports cycles per sample
		spec.Frequencies[i] = e.fft.Freq(i) * e.cfg.SampleRate
		spec.Magnitudes[i] = cmplx.Abs(c)
		// strict comparison: ties resolve to the lowest bin
		if i >= first && spec.Magnitudes[i] > maxMag {
			maxMag = spec.Magnitudes[i]
			spec.Dominant = i
		}
	}
	// a flat (all-zero) spectrum reports 0 Hz
	if maxMag == 0 {
		spec.Dominant = 0
	}
	return spec
}
