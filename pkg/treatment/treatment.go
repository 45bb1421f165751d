// Package treatment maps a diagnosed disease to advice for the grower.
package treatment

import (
	"sort"
	"strings"
)

// DefaultAdvice is returned when no entry matches
const DefaultAdvice = "Consult with a local agricultural expert for specific treatment recommendations. Consider taking the plant sample to your nearest agricultural extension office."

const healthyAdvice = "Your plant is healthy! Continue with regular care: proper watering, adequate sunlight, and balanced fertilization."

var advice = map[string]string{
	// Tomato
	"Late Blight":                   "Apply copper-based fungicide immediately. Remove affected leaves and ensure proper air circulation. Avoid overhead watering.",
	"Early Blight":                  "Use chlorothalonil or copper fungicide. Remove lower affected leaves and mulch around plants to prevent soil splash.",
	"Septoria Leaf Spot":            "Apply fungicide containing chlorothalonil. Remove infected leaves and avoid working with wet plants.",
	"Bacterial Spot":                "Apply copper-based bactericide. Remove infected plant parts and practice crop rotation.",
	"Target Spot":                   "Use fungicides containing azoxystrobin or chlorothalonil. Improve air circulation and avoid overhead irrigation.",
	"Tomato Yellow Leaf Curl Virus": "Remove infected plants immediately. Control whitefly population with insecticides or yellow sticky traps.",
	"Tomato Mosaic Virus":           "Remove and destroy infected plants. Disinfect tools and wash hands before handling healthy plants.",
	"Spider Mites":                  "Apply miticides or neem oil spray. Increase humidity and use predatory mites for biological control.",
	"Leaf Mold":                     "Improve ventilation and reduce humidity. Apply fungicides containing chlorothalonil or copper.",

	// Mango
	"Powdery Mildew":     "Apply sulfur-based fungicide or potassium bicarbonate spray. Ensure good air circulation around trees.",
	"Anthracnose":        "Use copper fungicide before and after flowering. Prune affected branches and remove fallen debris.",
	"Bacterial Canker":   "Apply copper bactericide. Prune infected branches at least 6 inches below visible symptoms.",
	"Sooty Mold":         "Control insect pests (aphids, mealybugs) that produce honeydew. Wash leaves with soapy water.",
	"Mango Malformation": "Prune and destroy affected panicles. Apply fungicides during flowering season.",
	"Die Back":           "Prune affected branches and apply copper-based fungicide. Ensure proper nutrition and water management.",
	"Red Rust":           "Apply copper oxychloride spray. Remove severely affected leaves and improve tree nutrition.",

	"Healthy": healthyAdvice,
}

// Lookup returns advice for a disease name. An exact match wins; otherwise the
// first name from Known (longest first, then alphabetical) that contains, or is
// contained in, the disease name case-insensitively.
func Lookup(disease string) string {
	if a, ok := advice[disease]; ok {
		return a
	}

	lower := strings.ToLower(strings.TrimSpace(disease))
	if lower == "" {
		return DefaultAdvice
	}
	for _, key := range Known() {
		k := strings.ToLower(key)
		if strings.Contains(lower, k) || strings.Contains(k, lower) {
			return advice[key]
		}
	}
	return DefaultAdvice
}

// Known lists the disease names with dedicated advice, longest first so that
// specific names match before generic ones ("Tomato Mosaic Virus" before "Healthy").
func Known() []string {
	keys := make([]string, 0, len(advice))
	for k := range advice {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}
