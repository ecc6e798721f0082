// Package fixture writes small synthetic acquisitions in the instrument's
// on-disk layout for tests.
package fixture

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"
)

// Acquisition describes a synthetic scan. Sensor is the full camera extent;
// ROI the inclusive window projections are read out with.
type Acquisition struct {
	SensorRows, SensorCols int
	Top, Bottom            int
	Left, Right            int

	TotalAngleDeg float64
	StepSizeDeg   float64
	CameraName    string

	// Projection returns the raw value of projection i at ROI pixel (r, c).
	Projection func(i, r, c int) uint16

	// Flat returns the raw value of flat j at sensor pixel (r, c).
	Flat func(j, r, c int) uint16

	NumFlats int
}

// Default returns a 5-projection, 2-flat scan on an 8x10 sensor with a
// 4x6 ROI.
func Default() Acquisition {
	return Acquisition{
		SensorRows: 8, SensorCols: 10,
		Top: 1, Bottom: 4, Left: 2, Right: 7,
		TotalAngleDeg: 4, StepSizeDeg: 1,
		CameraName: "camera-photonicscience-gsense4040xl-221094",
		Projection: func(i, r, c int) uint16 { return uint16(100 + 10*i + r + c) },
		Flat:       func(j, r, c int) uint16 { return uint16(190 + 20*j + (r+c)%3) },
		NumFlats:   2,
	}
}

// FlatAverage is the mean of the flats at sensor pixel (r, c).
func (a Acquisition) FlatAverage(r, c int) float64 {
	var sum float64
	for j := 0; j < a.NumFlats; j++ {
		sum += float64(a.Flat(j, r, c))
	}
	return sum / float64(a.NumFlats)
}

// NumProjections is the number of angles the metadata implies.
func (a Acquisition) NumProjections() int {
	n := 0
	for x := 0.0; x <= a.TotalAngleDeg+1e-9; x += a.StepSizeDeg {
		n++
	}
	return n
}

// Write lays the acquisition out under root.
func (a Acquisition) Write(root string) error {
	tomo := filepath.Join(root, "02-tomo")
	ff := filepath.Join(root, "01-ff")
	projDir := filepath.Join(tomo, "Output", "Binaries")
	flatDir := filepath.Join(ff, "Output", "Binaries")
	for _, d := range []string{filepath.Join(tomo, "Input"), filepath.Join(ff, "Input"), projDir, flatDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}

	scan := map[string]any{"pixel_size_um": 4.5, "propagation_distance_mm": 400.0}
	cmd := map[string]any{
		"stage_position_mm": map[string]any{"camera_beam": 500.0, "object_beam": 100.0},
		"camera": map[string]any{
			"name":   a.CameraName,
			"roi_px": map[string]any{"top": a.Top, "bot": a.Bottom, "left": a.Left, "right": a.Right},
		},
		"acquisition": map[string]any{"total_angle_deg": a.TotalAngleDeg, "step_size_deg": a.StepSizeDeg},
	}
	flat := map[string]any{"camera": map[string]any{"name": a.CameraName}}
	if err := writeJSON(filepath.Join(tomo, "scan_information.json"), scan); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(tomo, "Input", "command.json"), cmd); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(ff, "Input", "command.json"), flat); err != nil {
		return err
	}

	rows, cols := a.Bottom-a.Top+1, a.Right-a.Left+1
	for i := 0; i < a.NumProjections(); i++ {
		i := i
		name := filepath.Join(projDir, fmt.Sprintf("tomo%05d.tif", i))
		if err := WriteTIFF(name, rows, cols, func(r, c int) uint16 { return a.Projection(i, r, c) }); err != nil {
			return err
		}
	}
	// Derived files carry an underscore and must be ignored.
	if err := WriteTIFF(filepath.Join(projDir, "tomo00000_preview.tif"), 2, 2, func(int, int) uint16 { return 1 }); err != nil {
		return err
	}
	for j := 0; j < a.NumFlats; j++ {
		j := j
		name := filepath.Join(flatDir, fmt.Sprintf("ff%05d.tif", j))
		if err := WriteTIFF(name, a.SensorRows, a.SensorCols, func(r, c int) uint16 { return a.Flat(j, r, c) }); err != nil {
			return err
		}
	}
	return nil
}

// WriteTIFF encodes a 16-bit greyscale image.
func WriteTIFF(path string, rows, cols int, value func(r, c int) uint16) error {
	img := image.NewGray16(image.Rect(0, 0, cols, rows))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			img.SetGray16(c, r, color.Gray16{Y: value(r, c)})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := tiff.Encode(f, img, nil); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
