package classify

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motion.report/internal/httputil"
)

func TestLoadLabels(t *testing.T) {
	in := `n01440764 tench, Tinca tinca
n01443537 goldfish, Carassius auratus

person
traffic light, signal
`
	labels, err := LoadLabels(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"tench", "goldfish", "person", "traffic light"}, labels)

	_, err = LoadLabels(strings.NewReader("\n\n"))
	assert.Error(t, err)

	_, err = LoadLabelsFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestTop1(t *testing.T) {
	labels := []string{"cat", "dog", "person"}

	tests := []struct {
		name      string
		scores    []float32
		wantLabel string
		wantConf  float64
	}{
		{"probabilities pass through", []float32{0.1, 0.2, 0.7}, "person", 0.7},
		{"logits are softmaxed", []float32{0, 0, 0}, "cat", 1.0 / 3},
		{"large logits stay finite", []float32{1000, 999, 0}, "cat", 0.7310585786},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Top1(tt.scores, labels)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLabel, got.Label)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-6)
		})
	}

	got, err := Top1([]float32{0.2, 0.8}, nil)
	require.NoError(t, err)
	assert.Equal(t, "class_1", got.Label)

	_, err = Top1(nil, labels)
	assert.Error(t, err)
	_, err = Top1([]float32{1, 2}, labels)
	assert.Error(t, err)
}

func writeImage(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "motion.jpg")
	require.NoError(t, os.WriteFile(p, []byte("\xff\xd8jpeg"), 0o644))
	return p
}

func TestRemoteClassify(t *testing.T) {
	client := httputil.NewMockHTTPClient().AddResponse(200, `{"label":"person","confidence":0.87}`)
	r := NewRemote("http://inference.local/classify", client)

	got, err := r.Classify(context.Background(), writeImage(t))
	require.NoError(t, err)
	assert.Equal(t, "person", got.Label)
	assert.InDelta(t, 0.87, got.Confidence, 1e-9)

	req := client.GetRequest(0)
	require.NotNil(t, req)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "image/jpeg", req.Header.Get("Content-Type"))
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "\xff\xd8jpeg", string(body))
}

func TestRemoteClassifyErrors(t *testing.T) {
	img := writeImage(t)

	tests := []struct {
		name   string
		client *httputil.MockHTTPClient
	}{
		{"transport error", httputil.NewMockHTTPClient().AddErrorResponse(errors.New("connection refused"))},
		{"server error", httputil.NewMockHTTPClient().AddResponse(503, `{"error":"model loading"}`)},
		{"not json", httputil.NewMockHTTPClient().AddResponse(200, `<html>`)},
		{"missing fields", httputil.NewMockHTTPClient().AddResponse(200, `{"label":"cat"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRemote("http://inference.local/classify", tt.client).Classify(context.Background(), img)
			assert.Error(t, err)
		})
	}

	_, err := NewRemote("http://inference.local", httputil.NewMockHTTPClient()).Classify(context.Background(), "/nonexistent.jpg")
	assert.Error(t, err)
}
