package sensor

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"

	"github.com/banshee-data/motion.report/internal/serialmux"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestHardwareReadErrorUnwrap(t *testing.T) {
	cause := errors.New("i2c nack")
	var err error = &HardwareReadError{Source: "ads1115", Err: cause}

	assert.ErrorIs(t, err, cause)
	var hw *HardwareReadError
	require.ErrorAs(t, err, &hw)
	assert.Equal(t, "ads1115", hw.Source)
	assert.Equal(t, "ads1115 read failed: i2c nack", err.Error())
}

func TestFromAnalog(t *testing.T) {
	s := fromAnalog(analog.Sample{V: 1650 * physic.MilliVolt, Raw: 13200}, start)
	assert.Equal(t, 13200.0, s.Value)
	assert.InDelta(t, 1.65, s.Voltage, 1e-9)
	assert.Equal(t, start, s.Timestamp)
}

func TestOpenADS1115RejectsChannel(t *testing.T) {
	_, err := OpenADS1115(ADS1115Config{Channel: 4}, nil)
	assert.Error(t, err)
}

func TestReplaySource(t *testing.T) {
	clock := timeutil.NewMockClock(start)
	data := "# recorded 2026-03-01\n10\n\n70,0.35\n{\"raw\":15}\n"
	src, err := NewReplaySource(strings.NewReader(data), false, clock)
	require.NoError(t, err)
	assert.Equal(t, 3, src.Len())

	ctx := context.Background()
	var got []float64
	for {
		s, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, start, s.Timestamp)
		got = append(got, s.Value)
	}
	assert.Equal(t, []float64{10, 70, 15}, got)
}

func TestReplaySourceLoops(t *testing.T) {
	src, err := NewReplaySource(strings.NewReader("1\n2\n"), true, timeutil.NewMockClock(start))
	require.NoError(t, err)

	var got []float64
	for i := 0; i < 5; i++ {
		s, err := src.Read(context.Background())
		require.NoError(t, err)
		got = append(got, s.Value)
	}
	assert.Equal(t, []float64{1, 2, 1, 2, 1}, got)
}

func TestReplaySourceErrors(t *testing.T) {
	_, err := NewReplaySource(strings.NewReader("# nothing\n\n"), false, nil)
	assert.Error(t, err)

	_, err = NewReplaySource(strings.NewReader("1\nbogus\n"), false, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = OpenReplayFile("/nonexistent/replay.txt", false, nil)
	assert.Error(t, err)

	src, err := NewReplaySource(strings.NewReader("1\n"), false, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSerialSource(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	port.AddReadData([]byte("boot ok\n512\n513,1.65\n"))
	mux := serialmux.NewSerialMux(port)

	clock := timeutil.NewMockClock(start)
	src := NewSerialSource(mux, clock, time.Second)
	defer src.Close()

	require.NoError(t, mux.Monitor(context.Background()))

	s, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 513.0, s.Value, "queued lines collapse to the newest")
	assert.InDelta(t, 1.65, s.Voltage, 1e-9)
	assert.Equal(t, start, s.Timestamp)
}

func TestSerialSourceWaitsForNextLine(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	port.BlockReads = true
	mux := serialmux.NewSerialMux(port)
	src := NewSerialSource(mux, nil, 2*time.Second)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	go func() {
		time.Sleep(20 * time.Millisecond)
		port.AddReadData([]byte("garbage\n42\n"))
	}()

	s, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42.0, s.Value)
}

func TestSerialSourceTimeout(t *testing.T) {
	mux := serialmux.NewSerialMux(serialmux.NewTestableSerialPort())
	src := NewSerialSource(mux, nil, 20*time.Millisecond)
	defer src.Close()

	_, err := src.Read(context.Background())
	var hw *HardwareReadError
	require.ErrorAs(t, err, &hw)
	assert.Equal(t, "serial", hw.Source)
}

func TestSerialSourceClosed(t *testing.T) {
	mux := serialmux.NewSerialMux(serialmux.NewTestableSerialPort())
	src := NewSerialSource(mux, nil, 0)
	require.NoError(t, mux.Close())

	_, err := src.Read(context.Background())
	assert.ErrorIs(t, err, ErrSerialClosed)
}

func TestSerialSourceCancelled(t *testing.T) {
	mux := serialmux.NewSerialMux(serialmux.NewTestableSerialPort())
	src := NewSerialSource(mux, nil, time.Minute)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
