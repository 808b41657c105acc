package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/banshee-data/motion.report/internal/evidence"
	"github.com/banshee-data/motion.report/internal/httputil"
)

// maxImageBytes bounds the upload so a corrupt capture cannot stall the loop.
const maxImageBytes = 16 * 1024 * 1024

// Remote posts the captured JPEG to an inference service and expects
// {"label": "...", "confidence": 0.0} back.
type Remote struct {
	url    string
	client httputil.HTTPClient
}

// NewRemote creates a Remote classifier. A nil client uses http.DefaultClient.
func NewRemote(url string, client httputil.HTTPClient) *Remote {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &Remote{url: url, client: client}
}

type remoteResponse struct {
	Label      *string  `json:"label"`
	Confidence *float64 `json:"confidence"`
	Error      string   `json:"error,omitempty"`
}

func (r *Remote) Classify(ctx context.Context, path string) (evidence.Classification, error) {
	f, err := os.Open(path)
	if err != nil {
		return evidence.Classification{}, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()
	img, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return evidence.Classification{}, fmt.Errorf("failed to read image: %w", err)
	}
	if len(img) > maxImageBytes {
		return evidence.Classification{}, fmt.Errorf("image %s exceeds %d bytes", path, maxImageBytes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(img))
	if err != nil {
		return evidence.Classification{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := r.client.Do(req)
	if err != nil {
		return evidence.Classification{}, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	var body remoteResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return evidence.Classification{}, fmt.Errorf("failed to decode classifier response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return evidence.Classification{}, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, body.Error)
	}
	if body.Label == nil || body.Confidence == nil {
		return evidence.Classification{}, fmt.Errorf("classifier response missing label or confidence")
	}
	return evidence.Classification{Label: *body.Label, Confidence: *body.Confidence}, nil
}
