package evidence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/banshee-data/motion.report/internal/fsutil"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/security"
	"github.com/banshee-data/motion.report/internal/spectral"
)

// Bundle is the evidence for one confirmed event. ImagePath and Timestamp are
// always set; the optional fields are nil when their collaborator is disabled
// or failed.
type Bundle struct {
	Timestamp          time.Time
	ImagePath          string
	EstimatedDistanceM *float64
	Label              *string
	Confidence         *float64
	DistanceMM         *int
	SpeedMPS           *float64
	SpectrumPath       *string
	SessionID          string

	// Degraded names the collaborators whose contribution is missing.
	Degraded []string
}

// DistanceSource is the Doppler accumulator consulted on each capture.
type DistanceSource interface {
	TakeAndReset() float64
	LastSpeed() (float64, bool)
}

// SpectrumSource provides the last magnitude spectrum for plotting.
type SpectrumSource interface {
	LastSpectrum() *spectral.Spectrum
}

// Config controls where evidence is written and how long collaborators get.
type Config struct {
	Dir          string
	Timeout      time.Duration
	SpectrumPlot bool
	SessionID    string
}

// Capturer assembles bundles. It is used from the control loop only.
type Capturer struct {
	cfg        Config
	fs         fsutil.FileSystem
	camera     Camera
	classifier Classifier
	ranger     RangeSensor
	distance   DistanceSource
	spectrum   SpectrumSource
}

// Option wires an optional collaborator into a Capturer.
type Option func(*Capturer)

func WithClassifier(c Classifier) Option { return func(cp *Capturer) { cp.classifier = c } }
func WithRangeSensor(r RangeSensor) Option { return func(cp *Capturer) { cp.ranger = r } }
func WithDistance(d DistanceSource) Option { return func(cp *Capturer) { cp.distance = d } }
func WithSpectrum(s SpectrumSource) Option { return func(cp *Capturer) { cp.spectrum = s } }

// NewCapturer creates the evidence directory if needed.
func NewCapturer(cfg Config, camera Camera, opts ...Option) (*Capturer, error) {
	if camera == nil {
		return nil, fmt.Errorf("camera is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("evidence directory is required")
	}
	c := &Capturer{cfg: cfg, fs: fsutil.OSFileSystem{}, camera: camera}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.fs.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create evidence directory: %w", err)
	}
	return c, nil
}

// Dir returns the evidence directory.
func (c *Capturer) Dir() string {
	return c.cfg.Dir
}

var sequence atomic.Uint64

// ImagePath derives the evidence path for ts. Millisecond precision plus a
// process-wide sequence keeps paths unique even within one millisecond.
func ImagePath(dir string, ts time.Time) string {
	seq := sequence.Add(1)
	name := fmt.Sprintf("motion_%s_%04d.jpg", ts.Format("20060102_150405.000"), seq)
	return filepath.Join(dir, name)
}

// Capture photographs the scene and gathers the optional measurements. A
// camera failure returns an error wrapping ErrCameraUnavailable and leaves
// the distance accumulator untouched. Classifier and range failures degrade
// the bundle instead of failing it.
func (c *Capturer) Capture(ctx context.Context, ts time.Time) (*Bundle, error) {
	path := ImagePath(c.cfg.Dir, ts)
	if err := security.ValidatePathWithinDirectory(path, c.cfg.Dir); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
	}

	_, err := Call(ctx, c.cfg.Timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.camera.CaptureTo(ctx, path)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
	}
	if !c.fs.Exists(path) {
		return nil, fmt.Errorf("%w: no image written to %s", ErrCameraUnavailable, path)
	}

	b := &Bundle{Timestamp: ts, ImagePath: path, SessionID: c.cfg.SessionID}

	if c.classifier != nil {
		res, err := Call(ctx, c.cfg.Timeout, func(ctx context.Context) (Classification, error) {
			return c.classifier.Classify(ctx, path)
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			monitoring.Opsf("classifier failed for event at %s (%s): %v", ts.Format(time.RFC3339Nano), path, fmt.Errorf("%w: %w", ErrClassify, err))
			b.Degraded = append(b.Degraded, "classifier")
		} else {
			label, conf := res.Label, res.Confidence
			b.Label, b.Confidence = &label, &conf
		}
	}

	if c.ranger != nil {
		mm, err := Call(ctx, c.cfg.Timeout, func(ctx context.Context) (int, error) {
			return c.ranger.ReadDistanceMM(ctx), nil
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			mm = RangeErrorSentinel
		}
		if mm == RangeErrorSentinel {
			monitoring.Opsf("range sensor failed for event at %s; storing %d", ts.Format(time.RFC3339Nano), RangeErrorSentinel)
			b.Degraded = append(b.Degraded, "range")
		}
		b.DistanceMM = &mm
	}

	// last chance to abandon before the accumulator is consumed
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.distance != nil {
		d := c.distance.TakeAndReset()
		b.EstimatedDistanceM = &d
		if speed, ok := c.distance.LastSpeed(); ok {
			b.SpeedMPS = &speed
		}
	}

	if c.cfg.SpectrumPlot && c.spectrum != nil {
		if spec := c.spectrum.LastSpectrum(); spec != nil {
			plotPath := strings.TrimSuffix(path, filepath.Ext(path)) + "_spectrum.png"
			if err := spectral.SaveSpectrumPlot(spec, plotPath); err != nil {
				monitoring.Opsf("spectrum plot failed for %s: %v", path, err)
			} else {
				b.SpectrumPath = &plotPath
			}
		}
	}

	return b, nil
}

// IsDropped reports whether err from Capture means the event was dropped
// because no image could be taken.
func IsDropped(err error) bool {
	return errors.Is(err, ErrCameraUnavailable)
}
