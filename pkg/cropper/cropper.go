package cropper

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/leaf-scanner/pkg/vision"
)

// SmartCropper crops leaf photos around the leaf before upload
type SmartCropper struct {
	detector *vision.SubjectDetector
	config   CropConfig
}

// CropConfig holds configuration for smart cropping
type CropConfig struct {
	// Zoom in (0,1] shrinks the crop below the largest one that fits
	Zoom float64
	// QualityThreshold below which FocusLeaf keeps the original image
	QualityThreshold float64
}

// AspectRatio represents common aspect ratios
type AspectRatio struct {
	Width  int
	Height int
	Name   string
}

// Common aspect ratios. Leaf classifiers are usually trained on square crops.
var (
	Square    = AspectRatio{1, 1, "square"}
	Portrait  = AspectRatio{3, 4, "portrait"}
	Landscape = AspectRatio{4, 3, "landscape"}
)

// DefaultConfig returns the cropper settings used by New
func DefaultConfig() CropConfig {
	return CropConfig{Zoom: 1.0, QualityThreshold: 0.5}
}

// New creates a new SmartCropper with default configuration
func New() *SmartCropper {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new SmartCropper with custom configuration
func NewWithConfig(config CropConfig) *SmartCropper {
	return &SmartCropper{
		detector: vision.New(),
		config:   config,
	}
}

// SetDetector allows setting a custom subject detector
func (c *SmartCropper) SetDetector(detector *vision.SubjectDetector) {
	c.detector = detector
}

// CropResult contains the result of a cropping operation
type CropResult struct {
	Image       image.Image
	Region      vision.Region
	AspectRatio float64
	Quality     float64
}

// CropToAspectRatio crops an image to a specific aspect ratio while keeping the leaf
func (c *SmartCropper) CropToAspectRatio(img image.Image, aspectRatio AspectRatio) (CropResult, error) {
	if aspectRatio.Width <= 0 || aspectRatio.Height <= 0 {
		return CropResult{}, fmt.Errorf("invalid aspect ratio %d:%d", aspectRatio.Width, aspectRatio.Height)
	}
	return c.CropToRatio(img, float64(aspectRatio.Width)/float64(aspectRatio.Height))
}

// CropToRatio crops an image to a specific aspect ratio
func (c *SmartCropper) CropToRatio(img image.Image, targetRatio float64) (CropResult, error) {
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return CropResult{}, fmt.Errorf("invalid image dimensions")
	}

	cropRegion, err := c.detector.FindBestCropRegion(img, targetRatio, c.config.Zoom)
	if err != nil {
		return CropResult{}, fmt.Errorf("failed to find optimal crop region: %w", err)
	}

	return CropResult{
		Image:       imaging.Crop(img, cropRegion.Rect()),
		Region:      cropRegion,
		AspectRatio: targetRatio,
		Quality:     calculateCropQuality(img, cropRegion, targetRatio),
	}, nil
}

// FocusLeaf returns a square crop around the leaf, or img unchanged when no
// crop reaches the quality threshold.
func (c *SmartCropper) FocusLeaf(img image.Image) (image.Image, CropResult, error) {
	result, err := c.CropToAspectRatio(img, Square)
	if err != nil {
		return nil, CropResult{}, err
	}
	if result.Quality < c.config.QualityThreshold {
		return img, result, nil
	}
	return result.Image, result, nil
}

func calculateCropQuality(img image.Image, region vision.Region, targetRatio float64) float64 {
	bounds := img.Bounds()
	originalWidth, originalHeight := bounds.Dx(), bounds.Dy()

	// 1. How much of the original image is preserved
	preservationRatio := float64(region.Area()) / float64(originalWidth*originalHeight)

	// 2. How close is the crop ratio to the target ratio
	cropRatio := float64(region.Width) / float64(region.Height)
	ratioAccuracy := 1.0 - math.Abs(cropRatio-targetRatio)/math.Max(cropRatio, targetRatio)

	// 3. Share of the leaf kept in the crop
	subjectScore := region.Score

	// 4. Centering score (how well-centered the crop is)
	centerX := bounds.Min.X + originalWidth/2
	centerY := bounds.Min.Y + originalHeight/2
	cropCenterX, cropCenterY := region.Center()

	maxDistance := math.Hypot(float64(originalWidth), float64(originalHeight))
	distance := math.Hypot(float64(centerX-cropCenterX), float64(centerY-cropCenterY))
	centeringScore := 1.0 - (distance / maxDistance)

	quality := 0.2*preservationRatio + 0.2*ratioAccuracy + 0.5*subjectScore + 0.1*centeringScore
	return math.Max(0, math.Min(1, quality))
}
