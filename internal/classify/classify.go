// Package classify holds the model-independent parts of image
// classification: label tables, score post-processing, and a client for a
// classifier served over HTTP.
package classify

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/banshee-data/motion.report/internal/evidence"
)

// LoadLabels reads one class name per line. ImageNet synset files of the
// form "n01440764 tench, Tinca tinca" are reduced to their first name.
func LoadLabels(r io.Reader) ([]string, error) {
	var labels []string
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		if id, rest, ok := strings.Cut(line, " "); ok && isSynsetID(id) {
			line = rest
		}
		if name, _, ok := strings.Cut(line, ","); ok {
			line = name
		}
		labels = append(labels, strings.TrimSpace(line))
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("label file is empty")
	}
	return labels, nil
}

// LoadLabelsFile opens and parses a label file.
func LoadLabelsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer f.Close()
	return LoadLabels(f)
}

func isSynsetID(s string) bool {
	if len(s) != 9 || s[0] != 'n' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Top1 applies a numerically stable softmax to raw scores and returns the
// most probable label. Scores that already sum to one are left as they are.
func Top1(scores []float32, labels []string) (evidence.Classification, error) {
	if len(scores) == 0 {
		return evidence.Classification{}, fmt.Errorf("model produced no scores")
	}
	if len(labels) > 0 && len(labels) != len(scores) {
		return evidence.Classification{}, fmt.Errorf("model produced %d scores for %d labels", len(scores), len(labels))
	}

	probs := make([]float64, len(scores))
	maxScore := math.Inf(-1)
	sum := 0.0
	isDistribution := true
	for _, s := range scores {
		v := float64(s)
		if v < 0 || v > 1 {
			isDistribution = false
		}
		sum += v
		if v > maxScore {
			maxScore = v
		}
	}
	if !isDistribution || math.Abs(sum-1) > 1e-3 {
		sum = 0
		for i, s := range scores {
			probs[i] = math.Exp(float64(s) - maxScore)
			sum += probs[i]
		}
	} else {
		for i, s := range scores {
			probs[i] = float64(s)
		}
	}

	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	label := fmt.Sprintf("class_%d", best)
	if len(labels) > 0 {
		label = labels[best]
	}
	return evidence.Classification{Label: label, Confidence: probs[best] / sum}, nil
}
