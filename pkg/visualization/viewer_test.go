package visualization

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"polaris/pkg/dataset"
	"polaris/pkg/geometry"
)

func testVolume(t *testing.T, width, height, depth int, fill func(x, y, z int) float64) *dataset.ImageData {
	t.Helper()
	ig := geometry.ImageGeometry{VoxelsX: width, VoxelsY: height, VoxelsZ: depth, VoxelSizeX: 1, VoxelSizeY: 1, VoxelSizeZ: 1}
	arr := dataset.NewArray(ig.Shape()...)
	planes := depth
	if planes == 0 {
		planes = 1
	}
	for z := 0; z < planes; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				arr.Data()[z*width*height+y*width+x] = fill(x, y, z)
			}
		}
	}
	vol, err := dataset.NewImageData(arr, ig)
	if err != nil {
		t.Fatalf("Failed to build volume: %v", err)
	}
	return vol
}

// TestNewViewer verifies that a new viewer picks up the volume dimensions
func TestNewViewer(t *testing.T) {
	vol := testVolume(t, 10, 8, 5, func(x, y, z int) float64 { return float64(x + y + z) })
	viewer := NewViewer(vol)

	width, height, depth := viewer.Dims()
	if width != 10 || height != 8 || depth != 5 {
		t.Errorf("Expected dimensions 10x8x5, got %dx%dx%d", width, height, depth)
	}
	if viewer.lo != 0 || viewer.hi != 20 {
		t.Errorf("Expected range [0, 20], got [%f, %f]", viewer.lo, viewer.hi)
	}
}

// TestNewViewerTwoDimensional verifies that a single slice has depth one
func TestNewViewerTwoDimensional(t *testing.T) {
	vol := testVolume(t, 6, 6, 0, func(x, y, z int) float64 { return float64(x) })
	viewer := NewViewer(vol)

	_, _, depth := viewer.Dims()
	if depth != 1 {
		t.Errorf("Expected depth 1, got %d", depth)
	}
	if _, err := viewer.MiddleSlice(); err != nil {
		t.Errorf("Failed to extract middle slice: %v", err)
	}
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 10, 5

	// Each slice along Z has a unique value
	vol := testVolume(t, width, height, depth, func(x, y, z int) float64 { return float64(z) })
	viewer := NewViewer(vol)

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		// Normalised to the volume range [0, depth-1]
		expectedValue := uint16(float64(z) / float64(depth-1) * 65535)
		gray16Img, ok := img.(*image.Gray16)
		if !ok {
			t.Fatalf("Expected *image.Gray16, got %T", img)
		}
		centerValue := gray16Img.Gray16At(width/2, height/2).Y
		if math.Abs(float64(centerValue)-float64(expectedValue)) > 1.0 {
			t.Errorf("Expected Z slice value ~%d at center, got %d",
				expectedValue, centerValue)
		}
	}

	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}

	imgY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth+1); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := viewer.ExtractSlice("z", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

// TestConstantVolume verifies that a flat volume renders black instead of
// dividing by zero
func TestConstantVolume(t *testing.T) {
	viewer := NewViewer(testVolume(t, 4, 4, 2, func(x, y, z int) float64 { return 0.5 }))

	img, err := viewer.ExtractSlice("z", 1)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	if v := img.(*image.Gray16).Gray16At(1, 1).Y; v != 0 {
		t.Errorf("Expected 0, got %d", v)
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	width, height, depth := 5, 5, 3
	viewer := NewViewer(testVolume(t, width, height, depth, func(x, y, z int) float64 { return float64(x * z) }))

	outputDir := filepath.Join(t.TempDir(), "slices")
	if err := viewer.SaveSliceSequence("z", outputDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}

	for z := 0; z < depth; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%04d.png", z))
		f, err := os.Open(filename)
		if err != nil {
			t.Fatalf("Expected slice file %s: %v", filename, err)
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			t.Fatalf("Failed to decode %s: %v", filename, err)
		}
		if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
			t.Errorf("Expected %dx%d, got %dx%d", width, height, b.Dx(), b.Dy())
		}
	}

	if err := viewer.SaveSliceSequence("invalid", outputDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}

// TestSaveArray verifies that a preview slice is written as a PNG
func TestSaveArray(t *testing.T) {
	arr, err := dataset.FromSlice([]float64{0, 1, 2, 3, 4, 5}, 2, 3)
	if err != nil {
		t.Fatalf("Failed to build array: %v", err)
	}

	filename := filepath.Join(t.TempDir(), "preview", "middle.png")
	if err := SaveArray(arr, filename); err != nil {
		t.Fatalf("Failed to save array: %v", err)
	}
	if _, err := os.Stat(filename); err != nil {
		t.Errorf("Saved file does not exist: %s", filename)
	}

	cube := dataset.NewArray(2, 2, 2)
	if err := SaveArray(cube, filename); err == nil {
		t.Error("Expected error for a 3-d array, got nil")
	}
}
