package vision

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewONNXClassifierMissingModel(t *testing.T) {
	cfg := DefaultONNXConfig()
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	_, err := NewONNXClassifier(cfg)
	assert.Error(t, err)
}

func TestNewONNXClassifierMissingLabels(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultONNXConfig()
	cfg.ModelPath = filepath.Join(dir, "model.onnx")
	cfg.LabelsPath = filepath.Join(dir, "labels.txt")
	require.NoError(t, os.WriteFile(cfg.ModelPath, []byte("not a model"), 0o644))

	_, err := NewONNXClassifier(cfg)
	assert.Error(t, err)
}

// TestONNXClassifierModel runs against a real export when one is available,
// e.g. MOTION_TEST_MODEL=models/efficientnet-b0.onnx.
func TestONNXClassifierModel(t *testing.T) {
	model := os.Getenv("MOTION_TEST_MODEL")
	if model == "" {
		t.Skip("MOTION_TEST_MODEL not set")
	}
	cfg := DefaultONNXConfig()
	cfg.ModelPath = model
	if labels := os.Getenv("MOTION_TEST_LABELS"); labels != "" {
		cfg.LabelsPath = labels
	}
	c, err := NewONNXClassifier(cfg)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Classify(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err, "undecodable image")
}
