package types

import (
	"strings"
	"time"
)

// CropType identifies the crop a leaf image belongs to
type CropType string

const (
	Tomato CropType = "tomato"
	Mango  CropType = "mango"
)

// Crops returns the crop types the inference service is known to support
func Crops() []CropType {
	return []CropType{Tomato, Mango}
}

// ParseCrop normalizes user input into a CropType. Unrecognized values are kept
// as typed (trimmed and lower-cased); the remote service decides what it accepts.
func ParseCrop(s string) CropType {
	return CropType(strings.ToLower(strings.TrimSpace(s)))
}

// Known reports whether c is one of Crops()
func (c CropType) Known() bool {
	for _, k := range Crops() {
		if c == k {
			return true
		}
	}
	return false
}

// Title returns the display form of the crop ("tomato" -> "Tomato")
func (c CropType) Title() string {
	if c == "" {
		return ""
	}
	s := string(c)
	return strings.ToUpper(s[:1]) + s[1:]
}

// PredictionResult is the canonical diagnosis produced for one leaf image
type PredictionResult struct {
	Disease    string  `json:"disease"`
	Confidence float64 `json:"confidence"`
	IsHealthy  bool    `json:"isHealthy"`
}

// ScanHistoryItem is one completed scan. Items are immutable once stored.
type ScanHistoryItem struct {
	ID         string    `json:"id"`
	Crop       CropType  `json:"crop"`
	Disease    string    `json:"disease"`
	Confidence float64   `json:"confidence"`
	IsHealthy  bool      `json:"isHealthy"`
	ImageRef   string    `json:"imageRef,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// WeatherData holds ambient readings for a location
type WeatherData struct {
	Temperature         float64 `json:"temperature"`
	Humidity            float64 `json:"humidity"`
	ApparentTemperature float64 `json:"apparentTemperature"`
	Location            string  `json:"location"`
	Timestamp           string  `json:"timestamp"`
}

// SensorStatus grades a reading
type SensorStatus string

const (
	StatusNormal   SensorStatus = "normal"
	StatusWarning  SensorStatus = "warning"
	StatusCritical SensorStatus = "critical"
)

// SensorReading is a single card-sized reading derived from weather data
type SensorReading struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Value  float64      `json:"value"`
	Unit   string       `json:"unit"`
	Icon   string       `json:"icon"`
	Status SensorStatus `json:"status"`
}
