// Package visualization exports 2D slice images from a reconstructed
// volume for visual inspection of the result.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"github.com/ctessum/sparse"
)

// Viewer extracts and saves planar slices of a (rows, cols, slices)
// reconstruction volume. Intensities are normalized to the volume's value
// range once at construction so all exported slices share a gray scale.
type Viewer struct {
	volume *sparse.DenseArray

	// dimensions of the volume
	rows   int
	cols   int
	slices int

	// normalization range
	min, max float64
}

// NewViewer creates a viewer for the given volume.
func NewViewer(volume *sparse.DenseArray) (*Viewer, error) {
	if len(volume.Shape) != 3 {
		return nil, fmt.Errorf("visualization: volume has shape %v, want rank 3", volume.Shape)
	}

	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range volume.Elements {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	return &Viewer{
		volume: volume,
		rows:   volume.Shape[0],
		cols:   volume.Shape[1],
		slices: volume.Shape[2],
		min:    min,
		max:    max,
	}, nil
}

// gray maps a voxel value into the 16-bit display range.
func (v *Viewer) gray(val float64) color.Gray16 {
	if v.max <= v.min {
		return color.Gray16{}
	}
	norm := (val - v.min) / (v.max - v.min)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, norm*65535)))}
}

// ExtractSlice extracts a 2D slice from the volume along the specified
// axis: "x" cuts across rows, "y" across columns and "z" across slices.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		if position >= v.rows {
			return nil, fmt.Errorf("position %d exceeds row count %d", position, v.rows)
		}
		img = image.NewGray16(image.Rect(0, 0, v.cols, v.slices))
		for k := 0; k < v.slices; k++ {
			for j := 0; j < v.cols; j++ {
				img.SetGray16(j, k, v.gray(v.volume.Get(position, j, k)))
			}
		}

	case "y", "Y":
		if position >= v.cols {
			return nil, fmt.Errorf("position %d exceeds column count %d", position, v.cols)
		}
		img = image.NewGray16(image.Rect(0, 0, v.rows, v.slices))
		for k := 0; k < v.slices; k++ {
			for i := 0; i < v.rows; i++ {
				img.SetGray16(i, k, v.gray(v.volume.Get(i, position, k)))
			}
		}

	case "z", "Z":
		if position >= v.slices {
			return nil, fmt.Errorf("position %d exceeds slice count %d", position, v.slices)
		}
		img = image.NewGray16(image.Rect(0, 0, v.rows, v.cols))
		for j := 0; j < v.cols; j++ {
			for i := 0; i < v.rows; i++ {
				img.SetGray16(i, j, v.gray(v.volume.Get(i, j, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves a sequence of slices along the
// specified axis.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.rows
	case "y", "Y":
		maxPos = v.cols
	case "z", "Z":
		maxPos = v.slices
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
