// Package visualization renders reconstructed volumes as greyscale slice
// images for operators.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"polaris/pkg/dataset"
)

// Viewer extracts slices from a reconstructed volume. Grey levels span the
// finite min/max of the whole volume, so slices saved from one viewer are
// comparable.
type Viewer struct {
	// volumeData holds the volume in z, y, x order
	volumeData []float64

	// dimensions of the volume
	width  int
	height int
	depth  int

	lo, hi float64
}

// NewViewer creates a viewer over vol. A 2-D reconstruction is treated as a
// volume of depth one.
func NewViewer(vol *dataset.ImageData) *Viewer {
	arr := vol.Array()
	shape := arr.Shape()
	v := &Viewer{volumeData: arr.Data(), depth: 1}
	switch len(shape) {
	case 2:
		v.height, v.width = shape[0], shape[1]
	case 3:
		v.depth, v.height, v.width = shape[0], shape[1], shape[2]
	}
	v.lo, v.hi = arr.MinMax()
	return v
}

// Dims returns the width, height and depth of the volume.
func (v *Viewer) Dims() (width, height, depth int) {
	return v.width, v.height, v.depth
}

func (v *Viewer) grey(value float64) color.Gray16 {
	if math.IsNaN(value) || v.hi <= v.lo {
		return color.Gray16{}
	}
	n := (value - v.lo) / (v.hi - v.lo)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, n*65535)))}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		img = image.NewGray16(image.Rect(0, 0, v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				img.SetGray16(z, y, v.grey(v.volumeData[z*v.width*v.height+y*v.width+position]))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, z, v.grey(v.volumeData[z*v.width*v.height+position*v.width+x]))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, y, v.grey(v.volumeData[position*v.width*v.height+y*v.width+x]))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// MiddleSlice extracts the XY slice at the middle of the volume, the
// preview shown after a quick run.
func (v *Viewer) MiddleSlice() (image.Image, error) {
	return v.ExtractSlice("z", v.depth/2)
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves a sequence of slices along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.width
	case "y", "Y":
		maxPos = v.height
	case "z", "Z":
		maxPos = v.depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%04d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// SaveArray writes a 2-D array as a PNG normalised to its own range.
func SaveArray(arr *dataset.Array, filename string) error {
	shape := arr.Shape()
	if len(shape) != 2 {
		return fmt.Errorf("expected a 2-d array, got shape %v", shape)
	}
	v := &Viewer{volumeData: arr.Data(), height: shape[0], width: shape[1], depth: 1}
	v.lo, v.hi = arr.MinMax()
	img, err := v.ExtractSlice("z", 0)
	if err != nil {
		return err
	}
	return v.SaveSlice(img, filename)
}
