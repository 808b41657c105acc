package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/banshee-data/motion.report/internal/units"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

// Trigger modes.
const (
	TriggerModeThreshold = "threshold"
	TriggerModeZScore    = "zscore"
)

// PipelineConfig represents the tuning and capability configuration of the
// motion pipeline. Fields are pointers so that a partial file leaves the
// remaining values at their defaults; use the Get* accessors to read them.
type PipelineConfig struct {
	// Trigger params
	Threshold       *float64 `json:"threshold,omitempty" toml:"threshold,omitempty"`
	TriggerMode     *string  `json:"trigger_mode,omitempty" toml:"trigger_mode,omitempty"`
	Cooldown        *string  `json:"cooldown,omitempty" toml:"cooldown,omitempty"` // duration string like "1s"
	ZScoreLag       *int     `json:"zscore_lag,omitempty" toml:"zscore_lag,omitempty"`
	ZScoreThreshold *float64 `json:"zscore_threshold,omitempty" toml:"zscore_threshold,omitempty"`
	ZScoreInfluence *float64 `json:"zscore_influence,omitempty" toml:"zscore_influence,omitempty"`

	// Loop params
	Period              *string `json:"period,omitempty" toml:"period,omitempty"` // duration string like "100ms"
	CollaboratorTimeout *string `json:"collaborator_timeout,omitempty" toml:"collaborator_timeout,omitempty"`

	// Spectral params
	SampleRate       *float64 `json:"sample_rate,omitempty" toml:"sample_rate,omitempty"` // Hz; defaults to 1/period
	BufferSize       *int     `json:"buffer_size,omitempty" toml:"buffer_size,omitempty"`
	CarrierHz        *float64 `json:"carrier_hz,omitempty" toml:"carrier_hz,omitempty"`
	PropagationSpeed *float64 `json:"propagation_speed,omitempty" toml:"propagation_speed,omitempty"`
	ExcludeDC        *bool    `json:"exclude_dc,omitempty" toml:"exclude_dc,omitempty"`
	MinFrequencyHz   *float64 `json:"min_frequency_hz,omitempty" toml:"min_frequency_hz,omitempty"`

	// Capabilities
	SpectralEnabled *bool `json:"spectral_enabled,omitempty" toml:"spectral_enabled,omitempty"`
	ClassifyEnabled *bool `json:"classify_enabled,omitempty" toml:"classify_enabled,omitempty"`
	RangeEnabled    *bool `json:"range_enabled,omitempty" toml:"range_enabled,omitempty"`

	// Evidence params
	EvidenceDir  *string `json:"evidence_dir,omitempty" toml:"evidence_dir,omitempty"`
	SpectrumPlot *bool   `json:"spectrum_plot,omitempty" toml:"spectrum_plot,omitempty"`
	DisplayUnits *string `json:"display_units,omitempty" toml:"display_units,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields set to nil.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// DefaultPipelineConfig returns a config with every field populated with its
// default value.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Threshold:           ptrFloat64(60),
		TriggerMode:         ptrString(TriggerModeThreshold),
		Cooldown:            ptrString("1s"),
		ZScoreLag:           ptrInt(20),
		ZScoreThreshold:     ptrFloat64(3.5),
		ZScoreInfluence:     ptrFloat64(0.5),
		Period:              ptrString("100ms"),
		CollaboratorTimeout: ptrString("5s"),
		BufferSize:          ptrInt(100),
		CarrierHz:           ptrFloat64(10.525e9),
		PropagationSpeed:    ptrFloat64(299792458),
		ExcludeDC:           ptrBool(false),
		MinFrequencyHz:      ptrFloat64(1e-9),
		SpectralEnabled:     ptrBool(true),
		ClassifyEnabled:     ptrBool(false),
		RangeEnabled:        ptrBool(false),
		EvidenceDir:         ptrString("evidence"),
		SpectrumPlot:        ptrBool(false),
		DisplayUnits:        ptrString(units.MPS),
	}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON or TOML file.
// Fields omitted from the file retain their default values, so partial
// configs are safe.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	switch ext {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file cannot
// be loaded, intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.TriggerMode != nil {
		switch *c.TriggerMode {
		case TriggerModeThreshold, TriggerModeZScore:
		default:
			return fmt.Errorf("trigger_mode must be %q or %q, got %q", TriggerModeThreshold, TriggerModeZScore, *c.TriggerMode)
		}
	}

	for name, v := range map[string]*string{
		"cooldown":             c.Cooldown,
		"period":               c.Period,
		"collaborator_timeout": c.CollaboratorTimeout,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 || (d == 0 && name != "cooldown") {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.ZScoreLag != nil && *c.ZScoreLag < 2 {
		return fmt.Errorf("zscore_lag must be at least 2, got %d", *c.ZScoreLag)
	}
	if c.ZScoreThreshold != nil && *c.ZScoreThreshold <= 0 {
		return fmt.Errorf("zscore_threshold must be positive, got %f", *c.ZScoreThreshold)
	}
	if c.ZScoreInfluence != nil {
		if *c.ZScoreInfluence < 0 || *c.ZScoreInfluence > 1 {
			return fmt.Errorf("zscore_influence must be between 0 and 1, got %f", *c.ZScoreInfluence)
		}
	}

	if c.SampleRate != nil {
		if *c.SampleRate <= 0 {
			return fmt.Errorf("sample_rate must be positive, got %f", *c.SampleRate)
		}
		// one sample per tick, so any other rate mis-scales every FFT bin
		tickRate := float64(time.Second) / float64(c.GetPeriod())
		if math.Abs(*c.SampleRate-tickRate) > sampleRateTolerance*tickRate {
			return fmt.Errorf("sample_rate %g Hz disagrees with period %s (%g Hz); omit sample_rate to derive it",
				*c.SampleRate, c.GetPeriod(), tickRate)
		}
	}
	if c.BufferSize != nil && *c.BufferSize < 2 {
		return fmt.Errorf("buffer_size must be at least 2, got %d", *c.BufferSize)
	}
	if c.CarrierHz != nil && *c.CarrierHz <= 0 {
		return fmt.Errorf("carrier_hz must be positive, got %f", *c.CarrierHz)
	}
	if c.PropagationSpeed != nil && *c.PropagationSpeed <= 0 {
		return fmt.Errorf("propagation_speed must be positive, got %f", *c.PropagationSpeed)
	}
	if c.MinFrequencyHz != nil && *c.MinFrequencyHz < 0 {
		return fmt.Errorf("min_frequency_hz must be non-negative, got %f", *c.MinFrequencyHz)
	}
	if c.DisplayUnits != nil && !units.IsValid(*c.DisplayUnits) {
		return fmt.Errorf("display_units must be one of %s, got %q", units.GetValidUnitsString(), *c.DisplayUnits)
	}

	return nil
}

// parseDurationOr parses v and falls back to def when unset or invalid.
func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetThreshold returns the threshold value or the default.
func (c *PipelineConfig) GetThreshold() float64 {
	if c.Threshold == nil {
		return 60
	}
	return *c.Threshold
}

// GetTriggerMode returns the trigger_mode value or the default.
func (c *PipelineConfig) GetTriggerMode() string {
	if c.TriggerMode == nil || *c.TriggerMode == "" {
		return TriggerModeThreshold
	}
	return *c.TriggerMode
}

// GetCooldown parses and returns the Cooldown as a time.Duration.
func (c *PipelineConfig) GetCooldown() time.Duration {
	return parseDurationOr(c.Cooldown, time.Second)
}

// GetZScoreLag returns the zscore_lag value or the default.
func (c *PipelineConfig) GetZScoreLag() int {
	if c.ZScoreLag == nil {
		return 20
	}
	return *c.ZScoreLag
}

// GetZScoreThreshold returns the zscore_threshold value or the default.
func (c *PipelineConfig) GetZScoreThreshold() float64 {
	if c.ZScoreThreshold == nil {
		return 3.5
	}
	return *c.ZScoreThreshold
}

// GetZScoreInfluence returns the zscore_influence value or the default.
func (c *PipelineConfig) GetZScoreInfluence() float64 {
	if c.ZScoreInfluence == nil {
		return 0.5
	}
	return *c.ZScoreInfluence
}

// GetPeriod parses and returns the loop Period as a time.Duration.
func (c *PipelineConfig) GetPeriod() time.Duration {
	return parseDurationOr(c.Period, 100*time.Millisecond)
}

// GetCollaboratorTimeout parses and returns the per-call collaborator timeout.
func (c *PipelineConfig) GetCollaboratorTimeout() time.Duration {
	return parseDurationOr(c.CollaboratorTimeout, 5*time.Second)
}

// sampleRateTolerance is the relative slack allowed between an explicit
// sample_rate and the rate implied by period.
const sampleRateTolerance = 0.01

// GetSampleRate returns the sample_rate in Hz. When unset it is derived from
// the loop period, since one sample is taken per tick.
func (c *PipelineConfig) GetSampleRate() float64 {
	if c.SampleRate == nil {
		return float64(time.Second) / float64(c.GetPeriod())
	}
	return *c.SampleRate
}

// GetBufferSize returns the buffer_size value or the default.
func (c *PipelineConfig) GetBufferSize() int {
	if c.BufferSize == nil {
		return 100
	}
	return *c.BufferSize
}

// GetCarrierHz returns the carrier_hz value or the default (HB100 X-band).
func (c *PipelineConfig) GetCarrierHz() float64 {
	if c.CarrierHz == nil {
		return 10.525e9
	}
	return *c.CarrierHz
}

// GetPropagationSpeed returns the propagation_speed value or the default.
func (c *PipelineConfig) GetPropagationSpeed() float64 {
	if c.PropagationSpeed == nil {
		return 299792458
	}
	return *c.PropagationSpeed
}

// GetExcludeDC returns the exclude_dc value or the default.
func (c *PipelineConfig) GetExcludeDC() bool {
	if c.ExcludeDC == nil {
		return false
	}
	return *c.ExcludeDC
}

// GetMinFrequencyHz returns the min_frequency_hz value or the default.
func (c *PipelineConfig) GetMinFrequencyHz() float64 {
	if c.MinFrequencyHz == nil {
		return 1e-9
	}
	return *c.MinFrequencyHz
}

// GetSpectralEnabled returns the spectral_enabled value or the default.
func (c *PipelineConfig) GetSpectralEnabled() bool {
	if c.SpectralEnabled == nil {
		return true
	}
	return *c.SpectralEnabled
}

// GetClassifyEnabled returns the classify_enabled value or the default.
func (c *PipelineConfig) GetClassifyEnabled() bool {
	if c.ClassifyEnabled == nil {
		return false
	}
	return *c.ClassifyEnabled
}

// GetRangeEnabled returns the range_enabled value or the default.
func (c *PipelineConfig) GetRangeEnabled() bool {
	if c.RangeEnabled == nil {
		return false
	}
	return *c.RangeEnabled
}

// GetEvidenceDir returns the evidence_dir value or the default.
func (c *PipelineConfig) GetEvidenceDir() string {
	if c.EvidenceDir == nil || *c.EvidenceDir == "" {
		return "evidence"
	}
	return *c.EvidenceDir
}

// GetSpectrumPlot returns the spectrum_plot value or the default.
func (c *PipelineConfig) GetSpectrumPlot() bool {
	if c.SpectrumPlot == nil {
		return false
	}
	return *c.SpectrumPlot
}

// GetDisplayUnits returns the display_units value or the default.
func (c *PipelineConfig) GetDisplayUnits() string {
	if c.DisplayUnits == nil || *c.DisplayUnits == "" {
		return units.MPS
	}
	return *c.DisplayUnits
}
