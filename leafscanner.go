// Package leafscanner diagnoses crop leaf diseases from photos.
//
// A Scanner sends a leaf image and its crop type to a prediction backend,
// normalizes whatever the backend answers into a disease label, a confidence
// in [0,1] and a healthy flag, attaches treatment advice and records the scan
// in history.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		leafscanner "github.com/menta2k/leaf-scanner"
//		"github.com/menta2k/leaf-scanner/pkg/predict"
//		"github.com/menta2k/leaf-scanner/pkg/types"
//	)
//
//	func main() {
//		backend, err := predict.NewClient(predict.Config{URL: "http://localhost:8000/predict"})
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		scanner := leafscanner.New(backend)
//		result, err := scanner.ScanFile(context.Background(), "leaf.jpg", types.Tomato)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		fmt.Printf("%s (%.0f%%): %s\n", result.Prediction.Disease, result.Prediction.Confidence*100, result.Treatment)
//	}
//
// The package consists of these components:
//
// 1. Predict (pkg/predict): multipart upload with per-attempt timeout and retry
// 2. Ollama and LlamaCpp (pkg/ollama, pkg/llamacpp): local vision model backends
// 3. Processing (pkg/processing): image loading, downscaling and re-encoding
// 4. Vision and Cropper (pkg/vision, pkg/cropper): optional crop around the leaf
// 5. Treatment (pkg/treatment): advice per disease
// 6. History (pkg/history): in-memory and JSON-lines scan history
// 7. Weather (pkg/weather): current conditions graded as sensor readings
// 8. Server (pkg/server): HTTP API over all of the above
//
// Backend failures are reported as typed errors from pkg/predict
// (ValidationError, TimeoutError, NetworkError, BackendError and
// MalformedResponseError) so callers can tell a cold-starting service from a
// broken one.
package leafscanner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/menta2k/leaf-scanner/internal/utils"
	"github.com/menta2k/leaf-scanner/pkg/client"
	"github.com/menta2k/leaf-scanner/pkg/cropper"
	"github.com/menta2k/leaf-scanner/pkg/history"
	"github.com/menta2k/leaf-scanner/pkg/predict"
	"github.com/menta2k/leaf-scanner/pkg/processing"
	"github.com/menta2k/leaf-scanner/pkg/treatment"
	"github.com/menta2k/leaf-scanner/pkg/types"
	"github.com/menta2k/leaf-scanner/pkg/weather"
)

// Version of the leaf scanner library
const Version = "1.0.0"

// ImageOptions controls how ScanFile prepares an image before upload
type ImageOptions struct {
	Format       string // jpg, png or webp
	MaxDimension int    // long side in pixels, 0 keeps the original size
	Quality      int
	MinSize      int
	// FocusCrop crops square around the detected leaf before resizing
	FocusCrop bool
	// FocusZoom in (0,1] tightens the focus crop, 0 means no zoom
	FocusZoom float64
}

// DefaultImageOptions returns the upload settings used by New
func DefaultImageOptions() ImageOptions {
	return ImageOptions{Format: "jpg", MaxDimension: 1024, Quality: 85, MinSize: 32}
}

// Scanner ties a prediction backend to treatment advice and history
type Scanner struct {
	predictor client.Predictor
	history   history.Store
	weather   *weather.Client
	processor *processing.Processor
	cropper   *cropper.SmartCropper
	image     ImageOptions
	logger    *slog.Logger
}

// Option configures a Scanner
type Option func(*Scanner)

// WithHistory sets the history store. The default keeps history in memory.
func WithHistory(store history.Store) Option {
	return func(s *Scanner) { s.history = store }
}

// WithWeather sets the weather client
func WithWeather(w *weather.Client) Option {
	return func(s *Scanner) { s.weather = w }
}

// WithImageOptions sets how ScanFile prepares images
func WithImageOptions(opts ImageOptions) Option {
	return func(s *Scanner) { s.image = opts }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) { s.logger = logger }
}

// New creates a Scanner around predictor
func New(predictor client.Predictor, opts ...Option) *Scanner {
	s := &Scanner{
		predictor: predictor,
		image:     DefaultImageOptions(),
		processor: processing.NewProcessor(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	cropConfig := cropper.DefaultConfig()
	if s.image.FocusZoom > 0 {
		cropConfig.Zoom = s.image.FocusZoom
	}
	s.cropper = cropper.NewWithConfig(cropConfig)
	if s.history == nil {
		s.history = history.NewMemoryStore()
	}
	if s.weather == nil {
		s.weather = weather.NewClient()
	}
	return s
}

// ScanRequest is one leaf image to diagnose
type ScanRequest struct {
	Image       []byte
	Filename    string
	ContentType string
	Crop        types.CropType
	// ImageRef is stored in history, e.g. the source path or URL
	ImageRef string
}

// ScanResult contains the diagnosis, advice and history record for a scan
type ScanResult struct {
	Prediction types.PredictionResult `json:"prediction"`
	Treatment  string                 `json:"treatment"`
	// History is nil when the scan could not be recorded
	History *types.ScanHistoryItem `json:"history,omitempty"`
}

// Scan diagnoses req. A failure to record history is logged and does not fail
// the scan.
func (s *Scanner) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	prediction, err := s.predictor.Submit(ctx, predict.PredictionRequest{
		Image:       req.Image,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Crop:        req.Crop,
	})
	if err != nil {
		return nil, err
	}

	result := &ScanResult{
		Prediction: *prediction,
		Treatment:  treatment.Lookup(prediction.Disease),
	}

	item, err := s.history.Create(ctx, types.ScanHistoryItem{
		Crop:       req.Crop,
		Disease:    prediction.Disease,
		Confidence: prediction.Confidence,
		IsHealthy:  prediction.IsHealthy,
		ImageRef:   req.ImageRef,
	})
	if err != nil {
		s.logger.Warn("failed to save scan history", "crop", req.Crop, "error", err)
	} else {
		result.History = &item
	}
	return result, nil
}

// ScanFile loads source (a path or http(s) URL), downsizes and encodes it,
// then scans it.
func (s *Scanner) ScanFile(ctx context.Context, source string, crop types.CropType) (*ScanResult, error) {
	img, err := s.processor.LoadImageSmart(source)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	info := s.processor.GetImageInfo(img)
	s.logger.Debug("loaded image", "source", source, "width", info.Width, "height", info.Height)
	if s.image.MinSize > 0 {
		if err := s.processor.ValidateImage(img, s.image.MinSize); err != nil {
			return nil, &predict.ValidationError{Reason: err.Error()}
		}
	}

	if s.image.FocusCrop {
		focused, focus, err := s.cropper.FocusLeaf(img)
		if err != nil {
			return nil, fmt.Errorf("failed to focus on leaf: %w", err)
		}
		s.logger.Debug("focus crop", "region", focus.Region.Rect().String(), "quality", focus.Quality, "applied", focused != img)
		img = focused
	}

	data, contentType, err := s.processor.PrepareImageForUpload(img, s.image.Format, s.image.MaxDimension, s.image.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return s.Scan(ctx, ScanRequest{
		Image:       data,
		Filename:    uploadName(source, contentType),
		ContentType: contentType,
		Crop:        crop,
		ImageRef:    source,
	})
}

// History returns the history store
func (s *Scanner) History() history.Store {
	return s.history
}

// Weather returns the weather client
func (s *Scanner) Weather() *weather.Client {
	return s.weather
}

// uploadName keeps the source's base name but swaps the extension to match
// the re-encoded bytes.
func uploadName(source, contentType string) string {
	base := filepath.Base(source)
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "leaf"
	}
	return base + "." + utils.ExtensionFor(contentType)
}
