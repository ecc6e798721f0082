// Package geometry derives the cone-beam acquisition geometry and the
// matching reconstruction volume geometry from scan metadata and a region
// descriptor.
//
// Lengths are millimetres and angles are degrees throughout. The rotation
// axis passes through the origin and is parallel to z; the beam travels
// along +y from the source to the detector.
package geometry

import (
	"fmt"
	"math"

	"polaris/pkg/metadata"
	"polaris/pkg/region"
	"polaris/pkg/tomoerr"
)

// Shape is the (angles, vertical, horizontal) extent of a projection stack.
type Shape [3]int

// Elements returns the number of samples in the stack.
func (s Shape) Elements() int { return s[0] * s[1] * s[2] }

// Squeeze drops the vertical axis when it holds a single row, matching the
// layout of 2-D projection data.
func (s Shape) Squeeze() []int {
	if s[1] == 1 {
		return []int{s[0], s[2]}
	}
	return []int{s[0], s[1], s[2]}
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s[0], s[1], s[2])
}

// AcquisitionGeometry describes a circular cone-beam scan. Values are
// copied on assignment; the angle list is only reachable through Angles,
// which returns a copy.
type AcquisitionGeometry struct {
	SourcePosition   [3]float64
	DetectorPosition [3]float64

	// Rows and Cols are the panel pixel counts, vertical and horizontal.
	Rows int
	Cols int

	// PixelSizeMM is the detector pixel pitch.
	PixelSizeMM float64

	// RotationAxisOffsetMM shifts the rotation axis along x. It is zero
	// until a centre-of-rotation correction sets it.
	RotationAxisOffsetMM float64

	// InstrumentPixelSizeMM overrides the in-plane voxel size of every
	// image geometry derived from this acquisition geometry.
	InstrumentPixelSizeMM float64

	// PropagationDistanceMM is carried for phase retrieval.
	PropagationDistanceMM float64

	angles []float64
}

// NewAcquisitionGeometry builds a cone-beam geometry with the source at
// (0, -sourceObjectMM, 0) and the detector at
// (0, sourceDetectorMM-sourceObjectMM, 0).
func NewAcquisitionGeometry(sourceObjectMM, sourceDetectorMM float64, rows, cols int, pixelSizeMM float64, anglesDeg []float64) (AcquisitionGeometry, error) {
	if sourceObjectMM <= 0 || sourceDetectorMM <= sourceObjectMM {
		return AcquisitionGeometry{}, tomoerr.Configuration("geometry.new", "distances",
			"source-object %g mm must be positive and below source-detector %g mm", sourceObjectMM, sourceDetectorMM)
	}
	if rows <= 0 || cols <= 0 {
		return AcquisitionGeometry{}, tomoerr.Configuration("geometry.new", "panel", "panel %dx%d is empty", rows, cols)
	}
	if pixelSizeMM <= 0 {
		return AcquisitionGeometry{}, tomoerr.Configuration("geometry.new", "pixel size", "pixel size %g must be positive", pixelSizeMM)
	}
	if len(anglesDeg) == 0 {
		return AcquisitionGeometry{}, tomoerr.Configuration("geometry.new", "angles", "no acquisition angles")
	}
	return AcquisitionGeometry{
		SourcePosition:   [3]float64{0, -sourceObjectMM, 0},
		DetectorPosition: [3]float64{0, sourceDetectorMM - sourceObjectMM, 0},
		Rows:             rows,
		Cols:             cols,
		PixelSizeMM:      pixelSizeMM,
		angles:           append([]float64(nil), anglesDeg...),
	}, nil
}

// Angles returns a copy of the acquisition angles in degrees.
func (g AcquisitionGeometry) Angles() []float64 {
	return append([]float64(nil), g.angles...)
}

// NumAngles returns the number of projections.
func (g AcquisitionGeometry) NumAngles() int { return len(g.angles) }

// SourceObjectMM is the distance from the source to the rotation axis.
func (g AcquisitionGeometry) SourceObjectMM() float64 { return -g.SourcePosition[1] }

// SourceDetectorMM is the distance from the source to the detector plane.
func (g AcquisitionGeometry) SourceDetectorMM() float64 {
	return g.DetectorPosition[1] - g.SourcePosition[1]
}

// Magnification is the geometric magnification at the rotation axis.
func (g AcquisitionGeometry) Magnification() float64 {
	return g.SourceDetectorMM() / g.SourceObjectMM()
}

// Dimension is 2 for a single-row panel and 3 otherwise.
func (g AcquisitionGeometry) Dimension() int {
	if g.Rows == 1 {
		return 2
	}
	return 3
}

// Shape returns the projection stack extent this geometry describes.
func (g AcquisitionGeometry) Shape() Shape {
	return Shape{len(g.angles), g.Rows, g.Cols}
}

// WithRotationOffset returns a copy with the rotation axis shifted by
// offsetMM.
func (g AcquisitionGeometry) WithRotationOffset(offsetMM float64) AcquisitionGeometry {
	g.angles = g.Angles()
	g.RotationAxisOffsetMM = offsetMM
	return g
}

// ImageGeometry derives the reconstruction volume. Voxel counts follow the
// panel: x and y span the panel columns, z spans the rows. The voxel size is
// the detector pitch demagnified to the rotation axis, except in-plane
// where InstrumentPixelSizeMM is used when set. Deriving through this
// method keeps the override in step with the acquisition geometry.
func (g AcquisitionGeometry) ImageGeometry() ImageGeometry {
	size := g.PixelSizeMM / g.Magnification()
	ig := ImageGeometry{
		VoxelsX:    g.Cols,
		VoxelsY:    g.Cols,
		VoxelSizeX: size,
		VoxelSizeY: size,
		VoxelSizeZ: size,
	}
	if g.Rows > 1 {
		ig.VoxelsZ = g.Rows
	}
	if g.InstrumentPixelSizeMM > 0 {
		ig.VoxelSizeX = g.InstrumentPixelSizeMM
		ig.VoxelSizeY = g.InstrumentPixelSizeMM
	}
	return ig
}

func (g AcquisitionGeometry) String() string {
	return fmt.Sprintf("cone3D source=%v detector=%v panel=%dx%d px=%gmm angles=%d offset=%gmm",
		g.SourcePosition, g.DetectorPosition, g.Rows, g.Cols, g.PixelSizeMM, len(g.angles), g.RotationAxisOffsetMM)
}

// ImageGeometry is the voxel grid of the reconstruction. VoxelsZ is zero
// for a 2-D slice.
type ImageGeometry struct {
	VoxelsX, VoxelsY, VoxelsZ          int
	VoxelSizeX, VoxelSizeY, VoxelSizeZ float64
}

// Dimension is 2 for a single slice and 3 otherwise.
func (ig ImageGeometry) Dimension() int {
	if ig.VoxelsZ == 0 {
		return 2
	}
	return 3
}

// Shape returns the array shape of the volume, (z, y, x) or (y, x).
func (ig ImageGeometry) Shape() []int {
	if ig.VoxelsZ == 0 {
		return []int{ig.VoxelsY, ig.VoxelsX}
	}
	return []int{ig.VoxelsZ, ig.VoxelsY, ig.VoxelsX}
}

// AngleSequence lists the angles from 0 to totalDeg inclusive, stepping by
// stepDeg. A final step that would overshoot totalDeg is not taken.
func AngleSequence(totalDeg, stepDeg float64) ([]float64, error) {
	if stepDeg <= 0 || totalDeg < 0 || math.IsNaN(totalDeg) || math.IsInf(totalDeg, 0) {
		return nil, tomoerr.Configuration("geometry.angles", "angles", "total %g deg with step %g deg", totalDeg, stepDeg)
	}
	n := int(math.Floor(totalDeg/stepDeg+1e-9)) + 1
	angles := make([]float64, n)
	for i := range angles {
		angles[i] = float64(i) * stepDeg
	}
	return angles, nil
}

// Result is the output of Build.
type Result struct {
	Acquisition AcquisitionGeometry
	Image       ImageGeometry

	// ExpectedShape is the stack extent the ingestor must produce.
	ExpectedShape Shape
}

// Build derives the acquisition and image geometries of a scan restricted
// to roi.
func Build(md metadata.ScanMetadata, roi region.Descriptor) (Result, error) {
	rows, cols := md.ROI.Rows(), md.ROI.Cols()

	angles, err := AngleSequence(md.TotalAngleDeg, md.StepSizeDeg)
	if err != nil {
		return Result{}, err
	}
	if angles, err = region.Apply(roi.Angle, angles); err != nil {
		return Result{}, err
	}
	if rows, err = roi.Vertical.OutputLength(rows); err != nil {
		return Result{}, err
	}
	if cols, err = roi.Horizontal.OutputLength(cols); err != nil {
		return Result{}, err
	}

	ag, err := NewAcquisitionGeometry(md.SourceObjectMM, md.SourceDetectorMM, rows, cols, md.DetectorPixelSizeMM, angles)
	if err != nil {
		return Result{}, err
	}
	ag.InstrumentPixelSizeMM = md.InstrumentPixelSizeMM
	ag.PropagationDistanceMM = md.PropagationDistanceMM

	return Result{
		Acquisition:   ag,
		Image:         ag.ImageGeometry(),
		ExpectedShape: ag.Shape(),
	}, nil
}
