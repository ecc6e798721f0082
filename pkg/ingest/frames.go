package ingest

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/tiff"

	"polaris/internal/models"
	"polaris/pkg/tomoerr"
)

var (
	errNotDir  = errors.New("not a directory")
	errNoFiles = errors.New("no matching files")
)

// Default file name patterns of the acquisition software.
const (
	DefaultProjectionPattern = "tomo*.tif"
	DefaultFlatPattern       = "ff*.tif"
)

// Discover lists the files in dir whose base name matches pattern, sorted
// lexicographically. Names containing an underscore are reserved for
// derived files and skipped. Frame numbers are zero padded by the writer,
// so lexicographic order is acquisition order.
func Discover(dir, pattern string) ([]string, error) {
	if err := checkDir(dir); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, tomoerr.DataNotFound("ingest.discover", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.Contains(name, "_") {
			continue
		}
		ok, err := filepath.Match(pattern, name)
		if err != nil {
			return nil, tomoerr.Configuration("ingest.discover", pattern, "bad pattern: %v", err)
		}
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// FrameLoader reads one detector image.
type FrameLoader func(path string) (*models.Frame, error)

// LoadTIFF decodes a greyscale TIFF frame. Colour images are converted to
// 16-bit luminance.
func LoadTIFF(path string) (*models.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return imageToFrame(img), nil
}

func imageToFrame(img image.Image) *models.Frame {
	b := img.Bounds()
	fr := &models.Frame{Rows: b.Dy(), Cols: b.Dx(), Pixels: make([]float64, b.Dx()*b.Dy())}

	switch m := img.(type) {
	case *image.Gray16:
		for y := 0; y < fr.Rows; y++ {
			for x := 0; x < fr.Cols; x++ {
				fr.Pixels[y*fr.Cols+x] = float64(m.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.Gray:
		for y := 0; y < fr.Rows; y++ {
			for x := 0; x < fr.Cols; x++ {
				fr.Pixels[y*fr.Cols+x] = float64(m.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	default:
		for y := 0; y < fr.Rows; y++ {
			for x := 0; x < fr.Cols; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				fr.Pixels[y*fr.Cols+x] = float64(g.Y)
			}
		}
	}
	return fr
}
