// Package vision holds the OpenCV-backed collaborators: an ONNX image
// classifier and a V4L2/USB camera. It needs the OpenCV shared libraries at
// build time, so nothing else in the module imports it except cmd/motion.
package vision

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/motion.report/internal/classify"
	"github.com/banshee-data/motion.report/internal/evidence"
)

// ONNXConfig describes the model input. The defaults match an
// EfficientNet-B0 ImageNet export: 224x224 RGB scaled to [0,1].
type ONNXConfig struct {
	ModelPath  string
	LabelsPath string
	InputSize  int
	Scale      float64
	Mean       [3]float64
	SwapRB     bool
}

// DefaultONNXConfig returns the EfficientNet-B0 input settings.
func DefaultONNXConfig() ONNXConfig {
	return ONNXConfig{
		ModelPath:  "models/efficientnet-b0.onnx",
		LabelsPath: "models/imagenet_labels.txt",
		InputSize:  224,
		Scale:      1.0 / 255.0,
		SwapRB:     true,
	}
}

// ONNXClassifier runs a single-label classification network through the
// OpenCV DNN module.
type ONNXClassifier struct {
	mu     sync.Mutex
	net    gocv.Net
	labels []string
	cfg    ONNXConfig
}

// NewONNXClassifier loads the network and its labels.
func NewONNXClassifier(cfg ONNXConfig) (*ONNXClassifier, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	if cfg.InputSize <= 0 {
		return nil, fmt.Errorf("invalid model input size %d", cfg.InputSize)
	}
	labels, err := classify.LoadLabelsFile(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &ONNXClassifier{net: net, labels: labels, cfg: cfg}, nil
}

// Classify reads the image at path and returns the top-1 label. The network
// is not interruptible; ctx is only checked before inference starts.
func (c *ONNXClassifier) Classify(ctx context.Context, path string) (evidence.Classification, error) {
	if err := ctx.Err(); err != nil {
		return evidence.Classification{}, err
	}
	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return evidence.Classification{}, fmt.Errorf("failed to decode image %s", path)
	}

	size := image.Pt(c.cfg.InputSize, c.cfg.InputSize)
	mean := gocv.NewScalar(c.cfg.Mean[0], c.cfg.Mean[1], c.cfg.Mean[2], 0)
	blob := gocv.BlobFromImage(img, c.cfg.Scale, size, mean, c.cfg.SwapRB, false)
	defer blob.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.net.SetInput(blob, "")
	out := c.net.Forward("")
	defer out.Close()

	scores, err := out.DataPtrFloat32()
	if err != nil {
		return evidence.Classification{}, fmt.Errorf("failed to read model output: %w", err)
	}
	// copy out of the Mat before it is closed
	return classify.Top1(append([]float32(nil), scores...), c.labels)
}

// Close releases the network.
func (c *ONNXClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.net.Close()
}
