package cropper

import (
	"image"
	"image/color"
	"testing"

	"github.com/menta2k/leaf-scanner/pkg/vision"
)

// createLeafImage draws a green leaf rectangle on a gray background
func createLeafImage(width, height int, leaf image.Rectangle) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if (image.Point{x, y}).In(leaf) {
				img.Set(x, y, color.RGBA{40, 180, 40, 255})
			} else {
				img.Set(x, y, color.RGBA{128, 128, 128, 255})
			}
		}
	}
	return img
}

func isGreen(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return g > r+0x4000 && g > b+0x4000
}

func TestNew(t *testing.T) {
	c := New()
	if c.detector == nil {
		t.Error("detector component is nil")
	}
	if c.config != DefaultConfig() {
		t.Errorf("Expected default config, got %+v", c.config)
	}
}

func TestCropToAspectRatio_KeepsLeaf(t *testing.T) {
	leaf := image.Rect(280, 50, 380, 150)
	c := New()

	result, err := c.CropToAspectRatio(createLeafImage(400, 200, leaf), Square)
	if err != nil {
		t.Fatalf("CropToAspectRatio failed: %v", err)
	}
	b := result.Image.Bounds()
	if b.Dx() != 200 || b.Dy() != 200 {
		t.Errorf("Expected 200x200 crop, got %dx%d", b.Dx(), b.Dy())
	}
	if result.AspectRatio != 1.0 {
		t.Errorf("Expected aspect ratio 1.0, got %f", result.AspectRatio)
	}
	// Leaf center in crop coordinates
	cx := 330 - result.Region.X
	if !isGreen(result.Image.At(cx, 100)) {
		t.Errorf("Expected leaf at (%d,100) in crop, got %v", cx, result.Image.At(cx, 100))
	}
	if result.Quality < 0.5 || result.Quality > 1 {
		t.Errorf("Expected quality in [0.5,1], got %f", result.Quality)
	}
}

func TestCropToAspectRatio_Invalid(t *testing.T) {
	c := New()
	if _, err := c.CropToAspectRatio(createLeafImage(10, 10, image.Rectangle{}), AspectRatio{0, 1, "bad"}); err == nil {
		t.Error("Expected error for zero aspect ratio")
	}
	if _, err := c.CropToRatio(image.NewRGBA(image.Rectangle{}), 1.0); err == nil {
		t.Error("Expected error for empty image")
	}
}

func TestFocusLeaf(t *testing.T) {
	c := New()

	img := createLeafImage(400, 200, image.Rect(280, 50, 380, 150))
	focused, result, err := c.FocusLeaf(img)
	if err != nil {
		t.Fatalf("FocusLeaf failed: %v", err)
	}
	if focused == img {
		t.Errorf("Expected a crop, quality was %f", result.Quality)
	}

	plain := createLeafImage(400, 200, image.Rectangle{})
	focused, result, err = c.FocusLeaf(plain)
	if err != nil {
		t.Fatalf("FocusLeaf failed: %v", err)
	}
	if focused != plain {
		t.Errorf("Expected original image without a leaf, quality was %f", result.Quality)
	}
}

func TestSetDetector(t *testing.T) {
	c := New()
	d := vision.NewWithConfig(vision.DetectionConfig{EdgeThreshold: 2, GreenWeight: 1, AnalysisSize: 64})
	c.SetDetector(d)
	if c.detector != d {
		t.Error("Expected custom detector")
	}
}
