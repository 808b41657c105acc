// Package testutil provides shared test fixtures: synthetic Doppler signals
// and small HTTP assertion helpers.
package testutil

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/banshee-data/motion.report/internal/sensor"
)

// SineSamples returns n samples of offset + amplitude*sin(2πft) taken at
// sampleRate Hz, starting at start.
func SineSamples(start time.Time, n int, sampleRate, freq, amplitude, offset float64) []sensor.Sample {
	out := make([]sensor.Sample, n)
	step := time.Duration(float64(time.Second) / sampleRate)
	for i := range out {
		t := float64(i) / sampleRate
		out[i] = sensor.Sample{
			Value:     offset + amplitude*math.Sin(2*math.Pi*freq*t),
			Timestamp: start.Add(time.Duration(i) * step),
		}
	}
	return out
}

// ConstantSamples returns n identical samples at sampleRate Hz.
func ConstantSamples(start time.Time, n int, sampleRate, value float64) []sensor.Sample {
	return ValueSamples(start, sampleRate, repeat(value, n)...)
}

// ValueSamples stamps the given values at sampleRate Hz from start.
func ValueSamples(start time.Time, sampleRate float64, values ...float64) []sensor.Sample {
	out := make([]sensor.Sample, len(values))
	step := time.Duration(float64(time.Second) / sampleRate)
	for i, v := range values {
		out[i] = sensor.Sample{Value: v, Timestamp: start.Add(time.Duration(i) * step)}
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a loopback test HTTP request so tsweb debug
// handlers accept it.
func NewTestRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}
