// Package pipeline runs the single-goroutine control loop: read a sample,
// feed the spectral estimator and trigger, and on a confirmed trigger capture
// evidence and append it to the store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/evidence"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/sensor"
	"github.com/banshee-data/motion.report/internal/spectral"
	"github.com/banshee-data/motion.report/internal/timeutil"
	"github.com/banshee-data/motion.report/internal/trigger"
	"github.com/banshee-data/motion.report/internal/units"
)

// Capabilities selects which optional collaborators take part.
type Capabilities struct {
	Spectral bool `json:"spectral"`
	Classify bool `json:"classify"`
	Range    bool `json:"range"`
}

func (c Capabilities) String() string {
	parts := []string{"presence"}
	if c.Spectral {
		parts = append(parts, "spectral")
	}
	if c.Classify {
		parts = append(parts, "classify")
	}
	if c.Range {
		parts = append(parts, "range")
	}
	return strings.Join(parts, "+")
}

// CapabilitiesFromConfig reads the capability switches.
func CapabilitiesFromConfig(cfg *config.PipelineConfig) Capabilities {
	return Capabilities{
		Spectral: cfg.GetSpectralEnabled(),
		Classify: cfg.GetClassifyEnabled(),
		Range:    cfg.GetRangeEnabled(),
	}
}

// Store persists committed bundles.
type Store interface {
	AppendEvent(ctx context.Context, b *evidence.Bundle) (int64, error)
}

// Deps are the collaborators built by the caller. Classifier and Range are
// only required when the matching capability is enabled.
type Deps struct {
	Source     sensor.Source
	Camera     evidence.Camera
	Classifier evidence.Classifier
	Range      evidence.RangeSensor
	Store      Store
	Clock      timeutil.Clock
}

// Pipeline owns the estimator, integrator and trigger state. Only Stats may
// be called from other goroutines.
type Pipeline struct {
	period       time.Duration
	displayUnits string
	caps         Capabilities
	sessionID    string

	clock      timeutil.Clock
	source     sensor.Source
	store      Store
	detector   *trigger.Detector
	estimator  *spectral.Estimator
	integrator *spectral.Integrator
	capturer   *evidence.Capturer

	stats statsRecorder
}

// New wires a pipeline from validated configuration and explicit
// collaborators.
func New(cfg *config.PipelineConfig, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("signal source is required")
	}
	if deps.Camera == nil {
		return nil, fmt.Errorf("camera is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}

	caps := CapabilitiesFromConfig(cfg)
	if caps.Classify && deps.Classifier == nil {
		return nil, fmt.Errorf("classify capability enabled without a classifier")
	}
	if caps.Range && deps.Range == nil {
		return nil, fmt.Errorf("range capability enabled without a range sensor")
	}

	crosser, err := newCrosser(cfg)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		period:       cfg.GetPeriod(),
		displayUnits: cfg.GetDisplayUnits(),
		caps:         caps,
		sessionID:    uuid.NewString(),
		clock:        deps.Clock,
		source:       deps.Source,
		store:        deps.Store,
		detector:     trigger.NewDetector(crosser, cfg.GetCooldown()),
	}

	var opts []evidence.Option
	if caps.Spectral {
		p.estimator, err = spectral.NewEstimator(spectral.EstimatorConfig{
			BufferSize: cfg.GetBufferSize(),
			SampleRate: cfg.GetSampleRate(),
			ExcludeDC:  cfg.GetExcludeDC(),
		})
		if err != nil {
			return nil, err
		}
		p.integrator = spectral.NewIntegrator(spectral.Doppler{
			CarrierHz:        cfg.GetCarrierHz(),
			PropagationSpeed: cfg.GetPropagationSpeed(),
			MinFrequencyHz:   cfg.GetMinFrequencyHz(),
		})
		opts = append(opts, evidence.WithDistance(p.integrator), evidence.WithSpectrum(p.estimator))
	}
	if caps.Classify {
		opts = append(opts, evidence.WithClassifier(deps.Classifier))
	}
	if caps.Range {
		opts = append(opts, evidence.WithRangeSensor(deps.Range))
	}

	p.capturer, err = evidence.NewCapturer(evidence.Config{
		Dir:          cfg.GetEvidenceDir(),
		Timeout:      cfg.GetCollaboratorTimeout(),
		SpectrumPlot: caps.Spectral && cfg.GetSpectrumPlot(),
		SessionID:    p.sessionID,
	}, deps.Camera, opts...)
	if err != nil {
		return nil, err
	}

	p.stats.init(p.sessionID, caps)
	return p, nil
}

func newCrosser(cfg *config.PipelineConfig) (trigger.Crosser, error) {
	if cfg.GetTriggerMode() == config.TriggerModeZScore {
		return trigger.NewZScore(cfg.GetZScoreLag(), cfg.GetZScoreThreshold(), cfg.GetZScoreInfluence())
	}
	return trigger.Threshold(cfg.GetThreshold()), nil
}

// SessionID identifies this run in every persisted event.
func (p *Pipeline) SessionID() string { return p.sessionID }

// Capabilities returns the enabled collaborators.
func (p *Pipeline) Capabilities() Capabilities { return p.caps }

// ErrSourceExhausted is returned by Tick when the signal source has no more
// readings, e.g. a replay file without looping.
var ErrSourceExhausted = errors.New("signal source exhausted")

// Run ticks on the period grid anchored at the first tick until ctx is
// cancelled or the source is exhausted. A tick that overruns its period
// realigns to the next boundary and is counted as slipped.
func (p *Pipeline) Run(ctx context.Context) error {
	start := p.clock.Now()
	p.stats.started(start)
	monitoring.Logf("pipeline session %s started: period %s, capabilities %s", p.sessionID, p.period, p.caps)

	due := start
	for {
		err := p.Tick(ctx)
		switch {
		case ctx.Err() != nil:
			monitoring.Logf("pipeline session %s stopped: %s", p.sessionID, p.Stats())
			return nil
		case errors.Is(err, ErrSourceExhausted):
			monitoring.Logf("pipeline session %s finished, source exhausted: %s", p.sessionID, p.Stats())
			return nil
		case err != nil:
			return err
		}

		now := p.clock.Now()
		next := timeutil.NextBoundary(start, now, p.period)
		if expected := due.Add(p.period); next.After(expected) {
			missed := int64(next.Sub(expected) / p.period)
			p.stats.update(func(s *Stats) { s.SlippedTicks += missed })
			monitoring.Diagf("tick overran by %s, skipping %d boundary(ies)", now.Sub(expected), missed)
		}
		due = next
		if err := timeutil.SleepContext(ctx, p.clock, p.clock.Until(next)); err != nil {
			monitoring.Logf("pipeline session %s stopped: %s", p.sessionID, p.Stats())
			return nil
		}
	}
}

// Tick performs one iteration of the loop. Handled collaborator failures are
// logged and counted and do not produce an error; the returned error is
// ctx.Err() after cancellation, ErrSourceExhausted, or nil.
func (p *Pipeline) Tick(ctx context.Context) error {
	p.stats.update(func(s *Stats) { s.Ticks++ })

	sample, err := p.source.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, io.EOF) || errors.Is(err, sensor.ErrSerialClosed) {
			return ErrSourceExhausted
		}
		p.stats.update(func(s *Stats) { s.SkippedTicks++ })
		monitoring.Opsf("tick skipped at %s: %v", p.clock.Now().Format(time.RFC3339Nano), err)
		return nil
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = p.clock.Now()
	}
	monitoring.Tracef("reading value=%.2f voltage=%.3f", sample.Value, sample.Voltage)

	if p.estimator != nil {
		if est, ok := p.estimator.Observe(sample); ok {
			delta, est := p.integrator.Integrate(est)
			p.stats.update(func(s *Stats) { s.Windows++ })
			monitoring.Diagf("window: dominant %.4f Hz, speed %s, +%.3f m (accumulated %.3f m)",
				est.DominantFrequency, units.FormatSpeed(est.Speed, p.displayUnits), delta, p.integrator.Distance())
		}
	}

	fired := p.detector.Update(sample.Value, sample.Timestamp)
	p.snapshot(sample)
	if !fired {
		return nil
	}

	p.stats.update(func(s *Stats) { s.Triggers++ })
	monitoring.Diagf("motion detected at %s: value %.2f", sample.Timestamp.Format(time.RFC3339Nano), sample.Value)
	return p.commit(ctx, sample.Timestamp)
}

// commit captures and appends one event. A cancelled context abandons the
// event; nothing is persisted and the accumulator is left alone.
func (p *Pipeline) commit(ctx context.Context, ts time.Time) error {
	b, err := p.capturer.Capture(ctx, ts)
	if err != nil {
		if ctx.Err() != nil {
			monitoring.Diagf("event at %s abandoned: %v", ts.Format(time.RFC3339Nano), ctx.Err())
			return ctx.Err()
		}
		p.stats.update(func(s *Stats) { s.DroppedEvents++ })
		monitoring.Opsf("event at %s dropped: %v", ts.Format(time.RFC3339Nano), err)
		return nil
	}
	if len(b.Degraded) > 0 {
		p.stats.update(func(s *Stats) { s.DegradedEvents++ })
	}

	id, err := p.store.AppendEvent(ctx, b)
	if err != nil {
		p.stats.update(func(s *Stats) { s.StorageErrors++ })
		monitoring.Opsf("event at %s not stored (image %s): %v", ts.Format(time.RFC3339Nano), b.ImagePath, err)
		return nil
	}

	p.stats.update(func(s *Stats) {
		s.PersistedEvents++
		s.LastEventID = id
		s.LastEventAt = ts
	})
	monitoring.Diagf("event %d committed: %s", id, describe(b, p.displayUnits))
	return nil
}

func (p *Pipeline) snapshot(sample sensor.Sample) {
	var distance float64
	if p.integrator != nil {
		distance = p.integrator.Distance()
	}
	state := p.detector.State()
	p.stats.update(func(s *Stats) {
		s.LastValue = sample.Value
		s.LastSampleAt = sample.Timestamp
		s.TriggerState = state.String()
		s.AccumulatedDistanceM = distance
	})
}

func describe(b *evidence.Bundle, displayUnits string) string {
	var sb strings.Builder
	sb.WriteString(b.ImagePath)
	if b.Label != nil && b.Confidence != nil {
		fmt.Fprintf(&sb, ", %s (%.0f%%)", *b.Label, *b.Confidence*100)
	}
	if b.EstimatedDistanceM != nil {
		fmt.Fprintf(&sb, ", approached %.2f m", *b.EstimatedDistanceM)
	}
	if b.SpeedMPS != nil {
		fmt.Fprintf(&sb, " at %s", units.FormatSpeed(*b.SpeedMPS, displayUnits))
	}
	if b.DistanceMM != nil {
		if *b.DistanceMM == evidence.RangeErrorSentinel {
			sb.WriteString(", range unavailable")
		} else {
			fmt.Fprintf(&sb, ", range %d mm", *b.DistanceMM)
		}
	}
	if len(b.Degraded) > 0 {
		fmt.Fprintf(&sb, ", degraded: %s", strings.Join(b.Degraded, ","))
	}
	return sb.String()
}
