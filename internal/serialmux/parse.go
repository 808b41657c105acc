package serialmux

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Reading is one ADC sample reported by the serial firmware.
type Reading struct {
	Raw     float64  `json:"raw"`
	Voltage *float64 `json:"v,omitempty"`
}

// ParseReading accepts the three line formats the ADC firmware can emit:
//
//	512
//	512,1.650
//	{"raw":512,"v":1.650}
//
// Blank lines and '#' comments return an error so callers can skip them.
func ParseReading(line string) (Reading, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Reading{}, fmt.Errorf("no reading in line %q", line)
	}

	if strings.HasPrefix(line, "{") {
		var r struct {
			Raw     *float64 `json:"raw"`
			Voltage *float64 `json:"v"`
		}
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return Reading{}, fmt.Errorf("failed to unmarshal JSON reading: %w", err)
		}
		if r.Raw == nil {
			return Reading{}, fmt.Errorf("JSON reading missing raw field: %q", line)
		}
		return Reading{Raw: *r.Raw, Voltage: r.Voltage}, nil
	}

	rawField, voltField, hasVolt := strings.Cut(line, ",")
	raw, err := strconv.ParseFloat(strings.TrimSpace(rawField), 64)
	if err != nil {
		return Reading{}, fmt.Errorf("invalid raw value in %q: %w", line, err)
	}
	r := Reading{Raw: raw}
	if hasVolt {
		v, err := strconv.ParseFloat(strings.TrimSpace(voltField), 64)
		if err != nil {
			return Reading{}, fmt.Errorf("invalid voltage in %q: %w", line, err)
		}
		r.Voltage = &v
	}
	return r, nil
}
