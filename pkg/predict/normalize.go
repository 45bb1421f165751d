package predict

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/menta2k/leaf-scanner/pkg/types"
)

// UnknownDisease is used when no label field is present in a response
const UnknownDisease = "Unknown"

// Candidate field names, highest priority first.
var (
	labelKeys      = []string{"disease", "prediction", "class", "label", "result"}
	confidenceKeys = []string{"confidence", "probability", "score"}
	healthyKeys    = []string{"isHealthy", "is_healthy", "healthy"}
)

// healthySynonyms are matched as case-insensitive substrings of the raw label
var healthySynonyms = []string{"healthy", "no disease", "normal"}

var wordStart = regexp.MustCompile(`\b\w`)

// Normalize maps an arbitrary JSON object from the inference service onto a
// PredictionResult. It never fails: missing fields fall back to defaults.
func Normalize(raw map[string]any) types.PredictionResult {
	label, ok := firstString(raw, labelKeys)
	if !ok {
		label = UnknownDisease
	}

	confidence, _ := firstNumber(raw, confidenceKeys)
	if confidence > 1 {
		confidence = confidence / 100
	}
	confidence = clamp(confidence, 0, 1)

	healthy, ok := firstBool(raw, healthyKeys)
	if !ok {
		healthy = looksHealthy(label)
	}

	return types.PredictionResult{
		Disease:    FormatDiseaseName(label),
		Confidence: confidence,
		IsHealthy:  healthy,
	}
}

// FormatDiseaseName turns "early_blight" into "Early Blight". Applying it to an
// already formatted name returns the name unchanged.
func FormatDiseaseName(name string) string {
	name = strings.ReplaceAll(name, "_", " ")
	name = wordStart.ReplaceAllStringFunc(name, strings.ToUpper)
	return strings.TrimSpace(name)
}

func looksHealthy(label string) bool {
	lower := strings.ToLower(label)
	for _, s := range healthySynonyms {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func firstString(raw map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		s, ok := raw[k].(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s, true
		}
	}
	return "", false
}

// firstNumber accepts JSON numbers and numeric strings. Zero counts as absent,
// so {"confidence": 0, "score": 0.7} yields 0.7.
func firstNumber(raw map[string]any, keys []string) (float64, bool) {
	for _, k := range keys {
		v, ok := toFloat(raw[k])
		if !ok || v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		return v, true
	}
	return 0, false
}

func firstBool(raw map[string]any, keys []string) (bool, bool) {
	for _, k := range keys {
		if b, ok := raw[k].(bool); ok {
			return b, true
		}
	}
	return false, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "%"), 64)
		return f, err == nil
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
