package dataset

import (
	"fmt"

	"polaris/pkg/geometry"
)

// Axis labels of acquisition and image data.
const (
	AxisAngle      = "angle"
	AxisVertical   = "vertical"
	AxisHorizontal = "horizontal"
	AxisY          = "y"
	AxisX          = "x"
)

// DefaultAcquisitionOrder is the order projections are ingested in.
var DefaultAcquisitionOrder = []string{AxisAngle, AxisVertical, AxisHorizontal}

// AcquisitionData is a projection stack or sinogram with its geometry.
type AcquisitionData struct {
	array    *Array
	labels   []string
	geometry geometry.AcquisitionGeometry
}

// NewAcquisitionData pairs arr with g. Labels default to the ingestion
// order, without the vertical axis for single-row geometries. The array
// extent must match the geometry along every labelled axis.
func NewAcquisitionData(arr *Array, g geometry.AcquisitionGeometry, labels ...string) (*AcquisitionData, error) {
	if len(labels) == 0 {
		labels = defaultLabels(g)
	}
	if len(labels) != arr.Dims() {
		return nil, fmt.Errorf("labels %v do not match %d-d array", labels, arr.Dims())
	}
	want := make([]int, len(labels))
	for i, l := range labels {
		n, err := acquisitionExtent(g, l)
		if err != nil {
			return nil, err
		}
		want[i] = n
	}
	if !arr.SameShape(want) {
		return nil, fmt.Errorf("array shape %v does not match geometry %v for axes %v", arr.Shape(), want, labels)
	}
	return &AcquisitionData{array: arr, labels: append([]string(nil), labels...), geometry: g}, nil
}

func defaultLabels(g geometry.AcquisitionGeometry) []string {
	if g.Dimension() == 2 {
		return []string{AxisAngle, AxisHorizontal}
	}
	return append([]string(nil), DefaultAcquisitionOrder...)
}

func acquisitionExtent(g geometry.AcquisitionGeometry, label string) (int, error) {
	switch label {
	case AxisAngle:
		return g.NumAngles(), nil
	case AxisVertical:
		return g.Rows, nil
	case AxisHorizontal:
		return g.Cols, nil
	default:
		return 0, fmt.Errorf("unknown acquisition axis %q", label)
	}
}

// Array returns the data array.
func (d *AcquisitionData) Array() *Array { return d.array }

// Geometry returns the acquisition geometry.
func (d *AcquisitionData) Geometry() geometry.AcquisitionGeometry { return d.geometry }

// Labels returns the axis labels in array order.
func (d *AcquisitionData) Labels() []string { return append([]string(nil), d.labels...) }

// Clone returns a copy that shares nothing with d.
func (d *AcquisitionData) Clone() *AcquisitionData {
	return &AcquisitionData{array: d.array.Clone(), labels: d.Labels(), geometry: d.geometry}
}

// Shape returns the array extent.
func (d *AcquisitionData) Shape() []int { return d.array.Shape() }

// DType returns the array precision.
func (d *AcquisitionData) DType() DType { return d.array.DType() }

// WithArray returns a new container holding arr with the same geometry and
// labels.
func (d *AcquisitionData) WithArray(arr *Array) (*AcquisitionData, error) {
	return NewAcquisitionData(arr, d.geometry, d.labels...)
}

// WithGeometry returns a new container sharing the (immutable) array with
// geometry g.
func (d *AcquisitionData) WithGeometry(g geometry.AcquisitionGeometry) (*AcquisitionData, error) {
	return NewAcquisitionData(d.array, g, d.labels...)
}

// AsType returns a copy at the given precision.
func (d *AcquisitionData) AsType(t DType) *AcquisitionData {
	return &AcquisitionData{array: d.array.AsType(t), labels: d.Labels(), geometry: d.geometry}
}

// Reorder returns a copy whose axes follow order. Labels in order that the
// data does not have, such as vertical for 2-D data, are skipped.
func (d *AcquisitionData) Reorder(order []string) (*AcquisitionData, error) {
	pos := make(map[string]int, len(d.labels))
	for i, l := range d.labels {
		pos[l] = i
	}
	var perm []int
	var labels []string
	for _, l := range order {
		if i, ok := pos[l]; ok {
			perm = append(perm, i)
			labels = append(labels, l)
			delete(pos, l)
		}
	}
	if len(pos) != 0 {
		return nil, fmt.Errorf("order %v does not cover axes %v", order, d.labels)
	}
	arr, err := d.array.Transpose(perm)
	if err != nil {
		return nil, err
	}
	return &AcquisitionData{array: arr, labels: labels, geometry: d.geometry}, nil
}

// ImageData is a reconstructed slice or volume with its geometry.
type ImageData struct {
	array    *Array
	geometry geometry.ImageGeometry
}

// NewImageData pairs arr with ig. The array must have the geometry's shape.
func NewImageData(arr *Array, ig geometry.ImageGeometry) (*ImageData, error) {
	if !arr.SameShape(ig.Shape()) {
		return nil, fmt.Errorf("array shape %v does not match image geometry %v", arr.Shape(), ig.Shape())
	}
	return &ImageData{array: arr, geometry: ig}, nil
}

// Array returns the data array.
func (d *ImageData) Array() *Array { return d.array }

// Geometry returns the image geometry.
func (d *ImageData) Geometry() geometry.ImageGeometry { return d.geometry }

// Clone returns a copy that shares nothing with d.
func (d *ImageData) Clone() *ImageData {
	return &ImageData{array: d.array.Clone(), geometry: d.geometry}
}

// Shape returns the array extent.
func (d *ImageData) Shape() []int { return d.array.Shape() }

// Labels returns the axis labels in array order.
func (d *ImageData) Labels() []string {
	if d.geometry.Dimension() == 2 {
		return []string{AxisY, AxisX}
	}
	return []string{AxisVertical, AxisY, AxisX}
}

// MiddleSlice returns the slice at the middle of the leading axis. A 2-D
// image is returned as a copy of itself.
func (d *ImageData) MiddleSlice() (*Array, error) {
	if d.array.Dims() == 2 {
		return d.array.Clone(), nil
	}
	return d.array.Index(d.array.Shape()[0] / 2)
}
