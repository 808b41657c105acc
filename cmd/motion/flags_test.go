package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/spectral"
	"github.com/banshee-data/motion.report/internal/testutil"
)

// TestFlagDefaults verifies the defaults match the built-in pipeline config so
// that an unset flag never silently changes behaviour.
func TestFlagDefaults(t *testing.T) {
	def := config.DefaultPipelineConfig()

	if *threshold != def.GetThreshold() {
		t.Errorf("threshold default %v, config default %v", *threshold, def.GetThreshold())
	}
	if *cooldown != def.GetCooldown() {
		t.Errorf("cooldown default %v, config default %v", *cooldown, def.GetCooldown())
	}
	if *period != def.GetPeriod() {
		t.Errorf("period default %v, config default %v", *period, def.GetPeriod())
	}
	if *spectralOn != def.GetSpectralEnabled() {
		t.Errorf("spectral default %v, config default %v", *spectralOn, def.GetSpectralEnabled())
	}
	if *listen != "" {
		t.Errorf("admin server should be off by default, got %q", *listen)
	}
	if *sourceKind != sourceADS1115 {
		t.Errorf("expected ads1115 source by default, got %q", *sourceKind)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	oldThreshold, oldCooldown, oldClassify := *threshold, *cooldown, *classifyOn
	t.Cleanup(func() {
		*threshold, *cooldown, *classifyOn = oldThreshold, oldCooldown, oldClassify
	})

	*threshold = 75
	*cooldown = 2500 * time.Millisecond
	*classifyOn = true

	tests := []struct {
		name string
		set  map[string]bool
		want func(c *config.PipelineConfig)
	}{
		{
			name: "nothing set keeps file values",
			set:  map[string]bool{},
			want: func(c *config.PipelineConfig) {},
		},
		{
			name: "explicit flags win",
			set:  map[string]bool{"threshold": true, "cooldown": true, "classify": true},
			want: func(c *config.PipelineConfig) {
				v, d, b := 75.0, "2.5s", true
				c.Threshold, c.Cooldown, c.ClassifyEnabled = &v, &d, &b
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := config.DefaultPipelineConfig()
			applyFlagOverrides(got, tt.set)

			want := config.DefaultPipelineConfig()
			tt.want(want)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPeriodOverrideRescalesSpectrum(t *testing.T) {
	oldPeriod := *period
	t.Cleanup(func() { *period = oldPeriod })
	*period = 10 * time.Millisecond

	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.json")
	if err := os.WriteFile(path, []byte(`{"period": "100ms", "sample_rate": 10}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	applyFlagOverrides(cfg, map[string]bool{"period": true})

	if err := cfg.Validate(); err != nil {
		t.Fatalf("overridden config should validate: %v", err)
	}
	if got := cfg.GetSampleRate(); got != 100 {
		t.Fatalf("sample rate %v after -period 10ms, want 100", got)
	}

	est, err := spectral.NewEstimator(spectral.EstimatorConfig{
		BufferSize: cfg.GetBufferSize(),
		SampleRate: cfg.GetSampleRate(),
	})
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var got spectral.VelocityEstimate
	var done bool
	for _, s := range testutil.SineSamples(start, cfg.GetBufferSize(), cfg.GetSampleRate(), 20, 1, 0) {
		got, done = est.Observe(s)
	}
	if !done {
		t.Fatal("window did not complete")
	}
	if math.Abs(got.DominantFrequency-20) > est.BinWidth() {
		t.Errorf("20 Hz tone reported as %.2f Hz", got.DominantFrequency)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.toml")
	if err := os.WriteFile(path, []byte("threshold = 42.0\ncooldown = \"3s\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetThreshold() != 42 || cfg.GetCooldown() != 3*time.Second {
		t.Errorf("unexpected config: threshold=%v cooldown=%v", cfg.GetThreshold(), cfg.GetCooldown())
	}

	// tests run from cmd/motion where the canonical defaults file is absent
	cfg, err = loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig(\"\"): %v", err)
	}
	if cfg.GetThreshold() != 60 {
		t.Errorf("expected built-in default threshold, got %v", cfg.GetThreshold())
	}
}

func TestOpenUnknownDrivers(t *testing.T) {
	if _, _, err := openSource("carrier-pigeon", config.DefaultPipelineConfig(), nil); err == nil {
		t.Error("expected error for unknown source")
	}
	if _, _, err := openCamera("polaroid"); err == nil {
		t.Error("expected error for unknown camera")
	}
	if _, _, err := openClassifier("oracle"); err == nil {
		t.Error("expected error for unknown classifier")
	}
}

func TestOpenReplayAndFixture(t *testing.T) {
	dir := t.TempDir()
	readings := filepath.Join(dir, "readings.txt")
	image := filepath.Join(dir, "motion.jpg")
	if err := os.WriteFile(readings, []byte("10\n70\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(image, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	oldReplay, oldImage := *replayPath, *cameraImage
	t.Cleanup(func() { *replayPath, *cameraImage = oldReplay, oldImage })
	*replayPath, *cameraImage = readings, image

	src, mux, err := openSource(sourceReplay, config.DefaultPipelineConfig(), nil)
	if err != nil {
		t.Fatalf("openSource: %v", err)
	}
	defer src.Close()
	if mux != nil {
		t.Error("replay source should not open a serial port")
	}

	cam, closer, err := openCamera(cameraFixture)
	if err != nil {
		t.Fatalf("openCamera: %v", err)
	}
	if cam == nil || closer != nil {
		t.Errorf("unexpected fixture camera %v closer %v", cam, closer)
	}

	*cameraImage = filepath.Join(dir, "missing.jpg")
	if _, _, err := openCamera(cameraFixture); err == nil {
		t.Error("expected error for missing fixture image")
	}

	c, closer, err := openClassifier(classifierRemote)
	if err != nil || c == nil || closer != nil {
		t.Errorf("remote classifier: %v %v %v", c, closer, err)
	}
}
