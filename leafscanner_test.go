package leafscanner

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/menta2k/leaf-scanner/internal/logging"
	"github.com/menta2k/leaf-scanner/pkg/history"
	"github.com/menta2k/leaf-scanner/pkg/predict"
	"github.com/menta2k/leaf-scanner/pkg/types"
)

type fakePredictor struct {
	result *types.PredictionResult
	err    error
	last   predict.PredictionRequest
}

func (f *fakePredictor) Submit(ctx context.Context, req predict.PredictionRequest) (*types.PredictionResult, error) {
	f.last = req
	return f.result, f.err
}

type brokenStore struct{ history.Store }

func (brokenStore) Create(ctx context.Context, item types.ScanHistoryItem) (types.ScanHistoryItem, error) {
	return types.ScanHistoryItem{}, errors.New("disk full")
}

// writeLeaf writes a green PNG and returns its path
func writeLeaf(t *testing.T, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{40, 160, 60, 255})
		}
	}
	path := filepath.Join(t.TempDir(), "tomato_leaf.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew(t *testing.T) {
	s := New(&fakePredictor{})
	if s.History() == nil {
		t.Error("Expected default history store")
	}
	if s.Weather() == nil {
		t.Error("Expected default weather client")
	}
	if s.image != DefaultImageOptions() {
		t.Errorf("Expected default image options, got %+v", s.image)
	}
}

func TestScan_AddsTreatmentAndHistory(t *testing.T) {
	p := &fakePredictor{result: &types.PredictionResult{Disease: "Late Blight", Confidence: 0.87}}
	s := New(p, WithLogger(logging.Discard()))

	result, err := s.Scan(context.Background(), ScanRequest{Image: []byte{1, 2, 3}, Crop: types.Tomato, ImageRef: "leaf.jpg"})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if !strings.Contains(result.Treatment, "copper-based fungicide") {
		t.Errorf("Expected late blight advice, got %q", result.Treatment)
	}
	if result.History == nil || result.History.ID == "" {
		t.Fatalf("Expected stored history item, got %+v", result.History)
	}
	if result.History.Crop != types.Tomato || result.History.ImageRef != "leaf.jpg" {
		t.Errorf("Expected tomato/leaf.jpg, got %s/%s", result.History.Crop, result.History.ImageRef)
	}
	if p.last.Crop != types.Tomato {
		t.Errorf("Expected crop forwarded, got %s", p.last.Crop)
	}

	items, _ := s.History().List(context.Background(), 0)
	if len(items) != 1 || items[0].Disease != "Late Blight" {
		t.Errorf("Expected one Late Blight entry, got %+v", items)
	}
}

func TestScan_HistoryFailureDoesNotFailScan(t *testing.T) {
	p := &fakePredictor{result: &types.PredictionResult{Disease: "Healthy", Confidence: 0.99, IsHealthy: true}}
	s := New(p, WithHistory(brokenStore{}), WithLogger(logging.Discard()))

	result, err := s.Scan(context.Background(), ScanRequest{Image: []byte{1}, Crop: types.Mango})
	if err != nil {
		t.Fatalf("Expected scan to succeed, got %v", err)
	}
	if result.History != nil {
		t.Errorf("Expected no history record, got %+v", result.History)
	}
	if !result.Prediction.IsHealthy {
		t.Error("Expected healthy prediction")
	}
}

func TestScan_PredictionErrorPassesThrough(t *testing.T) {
	backendErr := &predict.BackendError{StatusCode: 503, Body: "warming up"}
	s := New(&fakePredictor{err: backendErr})

	_, err := s.Scan(context.Background(), ScanRequest{Image: []byte{1}, Crop: types.Tomato})
	var got *predict.BackendError
	if !errors.As(err, &got) || got.StatusCode != 503 {
		t.Errorf("Expected BackendError 503, got %v", err)
	}
	items, _ := s.History().List(context.Background(), 0)
	if len(items) != 0 {
		t.Errorf("Expected no history for failed scan, got %d", len(items))
	}
}

func TestScanFile_PreparesUpload(t *testing.T) {
	path := writeLeaf(t, 400, 200)
	p := &fakePredictor{result: &types.PredictionResult{Disease: "Leaf Mold", Confidence: 0.6}}
	s := New(p, WithImageOptions(ImageOptions{Format: "png", MaxDimension: 100, Quality: 90, MinSize: 32}))

	result, err := s.ScanFile(context.Background(), path, types.Tomato)
	if err != nil {
		t.Fatalf("ScanFile failed: %v", err)
	}
	if p.last.ContentType != "image/png" {
		t.Errorf("Expected image/png, got %s", p.last.ContentType)
	}
	if p.last.Filename != "tomato_leaf.png" {
		t.Errorf("Expected tomato_leaf.png, got %s", p.last.Filename)
	}
	img, err := png.Decode(bytes.NewReader(p.last.Image))
	if err != nil {
		t.Fatalf("Expected PNG upload, got %v", err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("Expected 100x50 upload, got %dx%d", b.Dx(), b.Dy())
	}
	if result.History.ImageRef != path {
		t.Errorf("Expected image ref %s, got %s", path, result.History.ImageRef)
	}
}

func TestScanFile_FocusCrop(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 400; x++ {
			c := color.RGBA{128, 128, 128, 255}
			if x >= 280 && x < 380 && y >= 50 && y < 150 {
				c = color.RGBA{40, 180, 40, 255}
			}
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(t.TempDir(), "field.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	png.Encode(f, img)
	f.Close()

	p := &fakePredictor{result: &types.PredictionResult{Disease: "Healthy", IsHealthy: true}}
	s := New(p, WithImageOptions(ImageOptions{Format: "png", FocusCrop: true}))
	if _, err := s.ScanFile(context.Background(), path, types.Mango); err != nil {
		t.Fatalf("ScanFile failed: %v", err)
	}

	sent, err := png.Decode(bytes.NewReader(p.last.Image))
	if err != nil {
		t.Fatalf("Expected PNG upload, got %v", err)
	}
	if b := sent.Bounds(); b.Dx() != 200 || b.Dy() != 200 {
		t.Errorf("Expected 200x200 focus crop, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestScanFile_TooSmall(t *testing.T) {
	path := writeLeaf(t, 10, 10)
	p := &fakePredictor{}
	s := New(p)

	_, err := s.ScanFile(context.Background(), path, types.Tomato)
	var validationErr *predict.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if p.last.Image != nil {
		t.Error("Expected no upload for a rejected image")
	}
}

func TestUploadName(t *testing.T) {
	tests := map[string]string{
		"/tmp/leaf.webp":                      "leaf.jpg",
		"https://example.com/a/b/img.png?x=1": "img.jpg",
		"":                                    "leaf.jpg",
	}
	for in, want := range tests {
		if got := uploadName(in, "image/jpeg"); got != want {
			t.Errorf("uploadName(%q): expected %s, got %s", in, want, got)
		}
	}
}
