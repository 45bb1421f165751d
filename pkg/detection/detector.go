// Package detection holds the prompt and reply handling shared by the
// vision-model backends (ollama, llama.cpp).
package detection

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/menta2k/leaf-scanner/pkg/predict"
	"github.com/menta2k/leaf-scanner/pkg/types"
)

// DefaultPrompt asks for the same loose JSON shape the HTTP inference service
// answers with, so every backend goes through predict.Normalize. %s is the crop.
const DefaultPrompt = `You are a plant pathologist looking at a single %s leaf.

Return JSON only:
{
  "disease": "snake_case disease name, or healthy",
  "confidence": 0.0,
  "is_healthy": false
}

RULES
- confidence is a fraction in [0,1].
- Use common names (early_blight, late_blight, leaf_mold, powdery_mildew, anthracnose, ...).
- If the image is not a leaf or is too blurry to judge, answer {"disease":"unknown","confidence":0.0,"is_healthy":false}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Prompt fills DefaultPrompt for crop
func Prompt(crop types.CropType) string {
	name := string(crop)
	if name == "" {
		name = "plant"
	}
	return fmt.Sprintf(DefaultPrompt, name)
}

// Diagnose turns a model reply into a prediction. A reply that is not a JSON
// object is a MalformedResponseError.
func Diagnose(reply string) (*types.PredictionResult, error) {
	raw, err := ParseReply(reply)
	if err != nil {
		return nil, &predict.MalformedResponseError{Body: reply, Err: err}
	}
	result := validateAndAdjust(predict.Normalize(raw))
	return &result, nil
}

// ParseReply decodes the model reply into an untyped object
func ParseReply(reply string) (map[string]any, error) {
	cleaned := SanitizeModelJSON(reply)
	if cleaned == "" {
		return nil, errors.New("empty response from model")
	}
	if !strings.HasPrefix(cleaned, "{") {
		return nil, errors.New("model returned non-JSON response")
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	return raw, nil
}

var fallbackIndicators = []string{"unknown", "unclear", "not a leaf", "not leaf", "no leaf", "blurry"}

// validateAndAdjust downgrades replies where the model says it could not judge
// the image. Models still attach a confidence to those.
func validateAndAdjust(result types.PredictionResult) types.PredictionResult {
	label := strings.ToLower(result.Disease)
	for _, indicator := range fallbackIndicators {
		if strings.Contains(label, indicator) {
			return types.PredictionResult{Disease: predict.UnknownDisease}
		}
	}
	return result
}

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInlineComment = regexp.MustCompile(`(?m)//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// SanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reInlineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
