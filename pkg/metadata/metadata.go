// Package metadata parses the per-acquisition JSON records written by the
// instrument and normalises them into physical units (millimetres and
// degrees).
//
// Three records take part: the scan information of the tomography run, the
// command that drove the tomography acquisition, and the command that drove
// the flat-field acquisition. All three must be present and well formed.
package metadata

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"polaris/pkg/progress"
	"polaris/pkg/tomoerr"
)

// DetectorROI is the inclusive pixel window the camera read out during the
// tomography acquisition.
type DetectorROI struct {
	Top    int
	Bottom int
	Left   int
	Right  int
}

// Rows returns the vertical pixel count of the window.
func (r DetectorROI) Rows() int { return r.Bottom - r.Top + 1 }

// Cols returns the horizontal pixel count of the window.
func (r DetectorROI) Cols() int { return r.Right - r.Left + 1 }

// ScanMetadata holds the parsed acquisition facts. It is not modified after
// Parse returns.
type ScanMetadata struct {
	// InstrumentPixelSizeMM is the effective pixel pitch recorded by the
	// instrument, used as the in-plane voxel size of the reconstruction.
	InstrumentPixelSizeMM float64

	// PropagationDistanceMM is the object to detector propagation distance
	// used by phase retrieval.
	PropagationDistanceMM float64

	SourceDetectorMM float64
	SourceObjectMM   float64

	ROI DetectorROI

	TotalAngleDeg float64
	StepSizeDeg   float64

	// CameraName identifies the detector of the tomography acquisition.
	CameraName string

	// DetectorPixelSizeMM is the physical pixel pitch of the detector,
	// resolved from CameraName through a CameraRegistry.
	DetectorPixelSizeMM float64

	// DetectorPixelSizeKnown is false when CameraName was not in the
	// registry and DetectorPixelSizeMM holds the fallback value.
	DetectorPixelSizeKnown bool

	// FlatCameraName is the detector named by the flat-field command, if
	// any.
	FlatCameraName string
}

// Records are the raw bytes of the three metadata documents.
type Records struct {
	Scan        []byte
	TomoCommand []byte
	FlatCommand []byte
}

// ReadRecords loads the three metadata documents from disk.
func ReadRecords(scanPath, tomoCommandPath, flatCommandPath string) (Records, error) {
	var rec Records
	var err error
	if rec.Scan, err = readRecord(scanPath); err != nil {
		return Records{}, err
	}
	if rec.TomoCommand, err = readRecord(tomoCommandPath); err != nil {
		return Records{}, err
	}
	if rec.FlatCommand, err = readRecord(flatCommandPath); err != nil {
		return Records{}, err
	}
	return rec, nil
}

func readRecord(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, tomoerr.Metadata("metadata.read", path, err)
	}
	return data, nil
}

// Parser turns Records into ScanMetadata.
type Parser struct {
	// Cameras resolves detector pixel sizes.
	Cameras CameraRegistry

	// Observer receives the unknown camera warning. May be nil.
	Observer progress.Observer
}

// NewParser returns a parser using the given camera registry.
func NewParser(cameras CameraRegistry, obs progress.Observer) *Parser {
	return &Parser{Cameras: cameras, Observer: obs}
}

// Parse decodes and validates the records.
func (p *Parser) Parse(rec Records) (ScanMetadata, error) {
	scan, err := decode("scan", rec.Scan)
	if err != nil {
		return ScanMetadata{}, err
	}
	tomo, err := decode("tomo_command", rec.TomoCommand)
	if err != nil {
		return ScanMetadata{}, err
	}
	flat, err := decode("flat_command", rec.FlatCommand)
	if err != nil {
		return ScanMetadata{}, err
	}

	var md ScanMetadata
	pixelUM, err := scan.positive("pixel_size_um")
	if err != nil {
		return ScanMetadata{}, err
	}
	md.InstrumentPixelSizeMM = pixelUM / 1000
	if md.PropagationDistanceMM, err = scan.number("propagation_distance_mm"); err != nil {
		return ScanMetadata{}, err
	}

	if md.SourceDetectorMM, err = tomo.positive("stage_position_mm", "camera_beam"); err != nil {
		return ScanMetadata{}, err
	}
	if md.SourceObjectMM, err = tomo.positive("stage_position_mm", "object_beam"); err != nil {
		return ScanMetadata{}, err
	}

	if md.ROI, err = tomo.roi("camera", "roi_px"); err != nil {
		return ScanMetadata{}, err
	}

	if md.TotalAngleDeg, err = tomo.number("acquisition", "total_angle_deg"); err != nil {
		return ScanMetadata{}, err
	}
	if md.TotalAngleDeg < 0 {
		return ScanMetadata{}, tomo.invalid([]string{"acquisition", "total_angle_deg"}, "must not be negative, got %g", md.TotalAngleDeg)
	}
	if md.StepSizeDeg, err = tomo.positive("acquisition", "step_size_deg"); err != nil {
		return ScanMetadata{}, err
	}

	if md.CameraName, err = tomo.str("camera", "name"); err != nil {
		return ScanMetadata{}, err
	}
	if name, err := flat.str("camera", "name"); err == nil {
		md.FlatCameraName = name
		if name != md.CameraName {
			progress.Warn(p.Observer, "metadata",
				"flat-field camera %q differs from tomography camera %q", name, md.CameraName)
		}
	}

	md.DetectorPixelSizeMM, md.DetectorPixelSizeKnown = p.Cameras.Lookup(md.CameraName)
	if !md.DetectorPixelSizeKnown {
		progress.Warn(p.Observer, "metadata",
			"camera %q is unknown, using fallback detector pixel size %g mm; geometry is likely wrong",
			md.CameraName, md.DetectorPixelSizeMM)
	}
	return md, nil
}

// Parse is shorthand for NewParser(cameras, obs).Parse(rec).
func Parse(rec Records, cameras CameraRegistry, obs progress.Observer) (ScanMetadata, error) {
	return NewParser(cameras, obs).Parse(rec)
}

// record is a decoded JSON object with key-path accessors that report the
// full path of a missing or malformed key.
type record struct {
	name string
	obj  map[string]any
}

func decode(name string, data []byte) (record, error) {
	if len(data) == 0 {
		return record{}, tomoerr.Metadata("metadata.parse", name, fmt.Errorf("record is empty"))
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return record{}, tomoerr.Metadata("metadata.parse", name, err)
	}
	if obj == nil {
		return record{}, tomoerr.Metadata("metadata.parse", name, fmt.Errorf("record is not an object"))
	}
	return record{name: name, obj: obj}, nil
}

func (r record) key(path []string) string {
	return r.name + ":" + strings.Join(path, ".")
}

func (r record) missing(path []string) error {
	return tomoerr.Metadata("metadata.parse", r.key(path), fmt.Errorf("key is missing"))
}

func (r record) invalid(path []string, format string, args ...any) error {
	return tomoerr.Metadata("metadata.parse", r.key(path), fmt.Errorf(format, args...))
}

func (r record) lookup(path ...string) (any, error) {
	var cur any = r.obj
	for i, k := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, r.invalid(path[:i], "expected an object, got %T", cur)
		}
		v, ok := m[k]
		if !ok || v == nil {
			return nil, r.missing(path[:i+1])
		}
		cur = v
	}
	return cur, nil
}

func (r record) number(path ...string) (float64, error) {
	v, err := r.lookup(path...)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, r.invalid(path, "expected a number, got %v", v)
	}
	return f, nil
}

func (r record) positive(path ...string) (float64, error) {
	f, err := r.number(path...)
	if err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, r.invalid(path, "must be positive, got %g", f)
	}
	return f, nil
}

func (r record) integer(path ...string) (int, error) {
	f, err := r.number(path...)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, r.invalid(path, "expected an integer, got %g", f)
	}
	return int(f), nil
}

func (r record) str(path ...string) (string, error) {
	v, err := r.lookup(path...)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", r.invalid(path, "expected a string, got %v", v)
	}
	return s, nil
}

func (r record) roi(path ...string) (DetectorROI, error) {
	at := func(k string) []string { return append(append([]string(nil), path...), k) }

	var roi DetectorROI
	var err error
	if roi.Top, err = r.integer(at("top")...); err != nil {
		return DetectorROI{}, err
	}
	if roi.Bottom, err = r.integer(at("bot")...); err != nil {
		return DetectorROI{}, err
	}
	if roi.Left, err = r.integer(at("left")...); err != nil {
		return DetectorROI{}, err
	}
	if roi.Right, err = r.integer(at("right")...); err != nil {
		return DetectorROI{}, err
	}
	if roi.Top < 0 || roi.Left < 0 {
		return DetectorROI{}, r.invalid(path, "negative origin top=%d left=%d", roi.Top, roi.Left)
	}
	if roi.Bottom < roi.Top || roi.Right < roi.Left {
		return DetectorROI{}, r.invalid(path, "empty window %+v", roi)
	}
	return roi, nil
}
