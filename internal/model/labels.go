package model

import (
	"fmt"
	"strings"
)

const (
	labelSeparator   = "___"
	unknownDiagnosis = "Unknown"
)

// ParseLabel splits a "Plant___Diagnosis" class label. Underscores inside
// either part read as spaces, so "Tomato___Late_blight" becomes
// ("Tomato", "Late blight").
func ParseLabel(label string) (plant, diagnosis string) {
	plantPart, diagPart, found := strings.Cut(label, labelSeparator)
	plant = humanize(plantPart)
	if !found || strings.TrimSpace(diagPart) == "" {
		return plant, unknownDiagnosis
	}
	return plant, humanize(diagPart)
}

func humanize(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, ",", "")
	return strings.Join(strings.Fields(s), " ")
}

// argmax returns the index and value of the largest of the first n scores.
func argmax(scores []float32, n int) (int, float32, error) {
	if n > len(scores) {
		n = len(scores)
	}
	if n == 0 {
		return 0, 0, fmt.Errorf("no scores to rank")
	}

	maxIdx := 0
	maxVal := scores[0]
	for i := 1; i < n; i++ {
		if scores[i] > maxVal {
			maxVal = scores[i]
			maxIdx = i
		}
	}
	return maxIdx, maxVal, nil
}

func clampUnit(v float32) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return float64(v)
}
