package sensor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/banshee-data/motion.report/internal/serialmux"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

// ReplaySource plays back recorded readings, one per line, in the same
// formats the serial firmware emits. It stands in for hardware in dev mode
// and tests.
type ReplaySource struct {
	mu     sync.Mutex
	values []serialmux.Reading
	pos    int
	loop   bool
	clock  timeutil.Clock
}

// NewReplaySource parses every reading in r. Blank and comment lines are
// skipped; any other unparseable line is an error.
func NewReplaySource(r io.Reader, loop bool, clock timeutil.Clock) (*ReplaySource, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	var values []serialmux.Reading
	scan := bufio.NewScanner(r)
	lineNo := 0
	for scan.Scan() {
		lineNo++
		line := scan.Text()
		if isBlankOrComment(line) {
			continue
		}
		reading, err := serialmux.ParseReading(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		values = append(values, reading)
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to read replay data: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("replay data contains no readings")
	}
	return &ReplaySource{values: values, loop: loop, clock: clock}, nil
}

// OpenReplayFile loads a replay file from disk.
func OpenReplayFile(path string, loop bool, clock timeutil.Clock) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()
	return NewReplaySource(f, loop, clock)
}

func isBlankOrComment(line string) bool {
	for _, r := range line {
		switch r {
		case ' ', '\t', '\r':
			continue
		case '#':
			return true
		default:
			return false
		}
	}
	return true
}

// Read returns the next recorded value stamped with the current clock time.
// Without looping, reads past the end return io.EOF.
func (s *ReplaySource) Read(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.values) {
		if !s.loop {
			return Sample{}, io.EOF
		}
		s.pos = 0
	}
	r := s.values[s.pos]
	s.pos++
	sample := Sample{Value: r.Raw, Timestamp: s.clock.Now()}
	if r.Voltage != nil {
		sample.Voltage = *r.Voltage
	}
	return sample, nil
}

// Len returns the number of recorded readings.
func (s *ReplaySource) Len() int {
	return len(s.values)
}

func (s *ReplaySource) Close() error { return nil }
