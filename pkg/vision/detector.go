package vision

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

// SubjectDetector finds the leaf in a photo. Saliency combines local edge
// strength with an excess-green index (2g-r-b), so foliage on soil, hands or
// tables stands out.
type SubjectDetector struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for subject detection
type DetectionConfig struct {
	EdgeThreshold   float64 // minimum mean saliency of a window
	EdgeWeight      float64
	GreenWeight     float64
	MinSubjectRatio float64
	AnalysisSize    int // long side the image is shrunk to before analysis
}

// DefaultConfig returns the detector settings used by New
func DefaultConfig() DetectionConfig {
	return DetectionConfig{
		EdgeThreshold:   0.05,
		EdgeWeight:      0.4,
		GreenWeight:     0.6,
		MinSubjectRatio: 0.02,
		AnalysisSize:    256,
	}
}

// New creates a new SubjectDetector with default configuration
func New() *SubjectDetector {
	return &SubjectDetector{config: DefaultConfig()}
}

// NewWithConfig creates a new SubjectDetector with custom configuration
func NewWithConfig(config DetectionConfig) *SubjectDetector {
	return &SubjectDetector{config: config}
}

// Region represents a rectangular region of interest
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Center returns the center point of the region
func (r Region) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// Rect returns the region as an image.Rectangle
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// DetectSubjects returns up to ten candidate leaf regions in img coordinates,
// best first.
func (d *SubjectDetector) DetectSubjects(img image.Image) ([]Region, error) {
	small, scale := d.shrink(img)
	width, height := small.Bounds().Dx(), small.Bounds().Dy()

	sat := integral(d.calculateSaliencyMap(small), width, height)
	regions := d.findImportantRegions(sat, width, height)
	regions = d.filterAndScoreRegions(regions, width, height)

	maxRegions := 10
	if len(regions) > maxRegions {
		regions = regions[:maxRegions]
	}

	origin := img.Bounds().Min
	for i := range regions {
		regions[i].X = origin.X + int(float64(regions[i].X)*scale)
		regions[i].Y = origin.Y + int(float64(regions[i].Y)*scale)
		regions[i].Width = int(float64(regions[i].Width) * scale)
		regions[i].Height = int(float64(regions[i].Height) * scale)
	}
	return regions, nil
}

// FindBestCropRegion finds the crop with targetAspectRatio that captures the
// most leaf. zoom in (0,1] shrinks the crop below the largest one that fits.
// The returned Score is the captured share of total subject score.
func (d *SubjectDetector) FindBestCropRegion(img image.Image, targetAspectRatio, zoom float64) (Region, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	subjects, err := d.DetectSubjects(img)
	if err != nil {
		return Region{}, err
	}
	for i := range subjects {
		subjects[i].X -= bounds.Min.X
		subjects[i].Y -= bounds.Min.Y
	}

	var cropWidth, cropHeight int
	currentRatio := float64(width) / float64(height)
	if targetAspectRatio > currentRatio {
		// Target is wider, constrain by width
		cropWidth = width
		cropHeight = int(float64(width) / targetAspectRatio)
	} else {
		// Target is taller, constrain by height
		cropHeight = height
		cropWidth = int(float64(height) * targetAspectRatio)
	}
	if zoom > 0 && zoom < 1 {
		cropWidth = int(float64(cropWidth) * zoom)
		cropHeight = int(float64(cropHeight) * zoom)
	}
	cropWidth = max(cropWidth, 1)
	cropHeight = max(cropHeight, 1)

	region := findOptimalCropPosition(subjects, cropWidth, cropHeight, width, height)
	region.X += bounds.Min.X
	region.Y += bounds.Min.Y
	return region, nil
}

// shrink returns an NRGBA copy no larger than AnalysisSize and the factor
// mapping its coordinates back to img.
func (d *SubjectDetector) shrink(img image.Image) (*image.NRGBA, float64) {
	b := img.Bounds()
	limit := d.config.AnalysisSize
	if limit <= 0 || (b.Dx() <= limit && b.Dy() <= limit) {
		return imaging.Clone(img), 1
	}
	small := imaging.Fit(img, limit, limit, imaging.Box)
	return small, float64(b.Dx()) / float64(small.Bounds().Dx())
}

func (d *SubjectDetector) calculateSaliencyMap(img *image.NRGBA) [][]float64 {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()

	saliencyMap := make([][]float64, height)
	for i := range saliencyMap {
		saliencyMap[i] = make([]float64, width)
	}

	neighbors := [][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			c := img.NRGBAAt(x, y)
			r1, g1, b1 := float64(c.R), float64(c.G), float64(c.B)

			var edgeStrength float64
			for _, offset := range neighbors {
				n := img.NRGBAAt(x+offset[0], y+offset[1])
				dr := r1 - float64(n.R)
				dg := g1 - float64(n.G)
				db := b1 - float64(n.B)
				edgeStrength += math.Sqrt(dr*dr + dg*dg + db*db)
			}
			edgeStrength /= 8.0 * 255.0

			greenness := clamp((2*g1-r1-b1)/(2*255.0), 0, 1)

			saliencyMap[y][x] = d.config.EdgeWeight*edgeStrength + d.config.GreenWeight*greenness
		}
	}
	return saliencyMap
}

// integral builds a summed-area table with one row and column of padding
func integral(saliencyMap [][]float64, width, height int) [][]float64 {
	sat := make([][]float64, height+1)
	for i := range sat {
		sat[i] = make([]float64, width+1)
	}
	for y := 0; y < height; y++ {
		var row float64
		for x := 0; x < width; x++ {
			row += saliencyMap[y][x]
			sat[y+1][x+1] = sat[y][x+1] + row
		}
	}
	return sat
}

func (d *SubjectDetector) findImportantRegions(sat [][]float64, width, height int) []Region {
	var regions []Region

	short := min(width, height)
	for _, frac := range []int{8, 6, 4, 3, 2} {
		size := short / frac
		if size < 4 {
			continue
		}
		step := max(size/4, 1)

		for y := 0; y <= height-size; y += step {
			for x := 0; x <= width-size; x += step {
				score := regionMean(sat, x, y, size, size)
				if score > d.config.EdgeThreshold {
					regions = append(regions, Region{X: x, Y: y, Width: size, Height: size, Score: score})
				}
			}
		}
	}
	return regions
}

func regionMean(sat [][]float64, x, y, width, height int) float64 {
	sum := sat[y+height][x+width] - sat[y][x+width] - sat[y+height][x] + sat[y][x]
	return sum / float64(width*height)
}

func (d *SubjectDetector) filterAndScoreRegions(regions []Region, imageWidth, imageHeight int) []Region {
	minArea := int(float64(imageWidth*imageHeight) * d.config.MinSubjectRatio)

	filtered := regions[:0]
	for _, region := range regions {
		if region.Area() >= minArea {
			filtered = append(filtered, region)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})
	return filtered
}

func findOptimalCropPosition(subjects []Region, cropWidth, cropHeight, imageWidth, imageHeight int) Region {
	bestRegion := Region{
		X:      (imageWidth - cropWidth) / 2,
		Y:      (imageHeight - cropHeight) / 2,
		Width:  cropWidth,
		Height: cropHeight,
	}

	var total float64
	for _, s := range subjects {
		total += s.Score
	}
	if total == 0 {
		return bestRegion
	}

	stepSize := max(cropWidth/20, cropHeight/20, 4)

	bestScore := 0.0
	for y := 0; y <= imageHeight-cropHeight; y += stepSize {
		for x := 0; x <= imageWidth-cropWidth; x += stepSize {
			score := scoreCropPosition(subjects, x, y, cropWidth, cropHeight) / total
			if score > bestScore {
				bestScore = score
				bestRegion = Region{X: x, Y: y, Width: cropWidth, Height: cropHeight, Score: score}
			}
		}
	}
	return bestRegion
}

// scoreCropPosition sums subject scores weighted by how much of each subject
// the crop contains
func scoreCropPosition(subjects []Region, cropX, cropY, cropWidth, cropHeight int) float64 {
	crop := image.Rect(cropX, cropY, cropX+cropWidth, cropY+cropHeight)

	score := 0.0
	for _, subject := range subjects {
		overlap := crop.Intersect(subject.Rect())
		if overlap.Empty() || subject.Area() == 0 {
			continue
		}
		overlapRatio := float64(overlap.Dx()*overlap.Dy()) / float64(subject.Area())
		score += overlapRatio * subject.Score
	}
	return score
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
