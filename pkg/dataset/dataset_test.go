package dataset

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polaris/pkg/geometry"
)

func sequence(shape ...int) *Array {
	a := NewArray(shape...)
	for i := range a.Data() {
		a.Data()[i] = float64(i)
	}
	return a
}

func testGeometry(t *testing.T, rows, cols, angles int) geometry.AcquisitionGeometry {
	t.Helper()
	a := make([]float64, angles)
	for i := range a {
		a[i] = float64(i)
	}
	g, err := geometry.NewAcquisitionGeometry(100, 500, rows, cols, 0.016, a)
	require.NoError(t, err)
	return g
}

func TestFromSlice(t *testing.T) {
	a, err := FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, a.Shape())
	assert.Equal(t, 6.0, a.At(1, 2))
	assert.Equal(t, 2.0, a.At(0, 1))

	_, err = FromSlice([]float64{1, 2}, 2, 3)
	assert.Error(t, err)
	_, err = FromSlice(nil, 0)
	assert.Error(t, err)
}

func TestTranspose(t *testing.T) {
	a := sequence(2, 3, 4)
	b, err := a.Transpose([]int{2, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2, 3}, b.Shape())
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				if b.At(k, i, j) != a.At(i, j, k) {
					t.Fatalf("Expected %v at (%d,%d,%d), got %v", a.At(i, j, k), k, i, j, b.At(k, i, j))
				}
			}
		}
	}

	_, err = a.Transpose([]int{0, 0, 1})
	assert.Error(t, err)
	_, err = a.Transpose([]int{0, 1})
	assert.Error(t, err)
}

func TestAsTypeRoundsToFloat32(t *testing.T) {
	a, err := FromSlice([]float64{0.1, 1.0 / 3}, 2)
	require.NoError(t, err)

	b := a.AsType(Float32)
	assert.Equal(t, Float32, b.DType())
	assert.Equal(t, float64(float32(0.1)), b.At(0))
	assert.Equal(t, 0.1, a.At(0), "source must be untouched")
	assert.Equal(t, Float64, a.DType())
}

func TestIndexAndMinMax(t *testing.T) {
	a := sequence(3, 2, 2)
	sub, err := a.Index(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5, 6, 7}, sub.Data())

	sub.Data()[0] = -1
	assert.Equal(t, 4.0, a.At(1, 0, 0))

	_, err = a.Index(3)
	assert.Error(t, err)

	a.Data()[2] = math.NaN()
	lo, hi := a.MinMax()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 11.0, hi)
}

func TestAcquisitionDataShapeCheck(t *testing.T) {
	g := testGeometry(t, 3, 4, 5)

	_, err := NewAcquisitionData(NewArray(5, 3, 4), g)
	require.NoError(t, err)

	_, err = NewAcquisitionData(NewArray(5, 4, 3), g)
	assert.Error(t, err)

	flat := testGeometry(t, 1, 4, 5)
	d, err := NewAcquisitionData(NewArray(5, 4), flat)
	require.NoError(t, err)
	assert.Equal(t, []string{AxisAngle, AxisHorizontal}, d.Labels())
}

func TestAcquisitionDataReorder(t *testing.T) {
	g := testGeometry(t, 3, 4, 5)
	d, err := NewAcquisitionData(sequence(5, 3, 4), g)
	require.NoError(t, err)

	r, err := d.Reorder([]string{AxisVertical, AxisAngle, AxisHorizontal})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5, 4}, r.Shape())
	assert.Equal(t, []string{AxisVertical, AxisAngle, AxisHorizontal}, r.Labels())
	assert.Equal(t, d.Array().At(2, 1, 3), r.Array().At(1, 2, 3))

	flat := testGeometry(t, 1, 4, 5)
	d2, err := NewAcquisitionData(sequence(5, 4), flat)
	require.NoError(t, err)
	r2, err := d2.Reorder(DefaultAcquisitionOrder)
	require.NoError(t, err)
	assert.True(t, r2.Array().Equal(d2.Array()))

	_, err = d.Reorder([]string{AxisAngle, AxisHorizontal})
	assert.Error(t, err)
}

func TestImageDataMiddleSlice(t *testing.T) {
	ig := geometry.ImageGeometry{VoxelsX: 2, VoxelsY: 2, VoxelsZ: 5, VoxelSizeX: 1, VoxelSizeY: 1, VoxelSizeZ: 1}
	img, err := NewImageData(sequence(5, 2, 2), ig)
	require.NoError(t, err)

	mid, err := img.MiddleSlice()
	require.NoError(t, err)
	assert.Equal(t, []float64{8, 9, 10, 11}, mid.Data())
	assert.Equal(t, []string{AxisVertical, AxisY, AxisX}, img.Labels())

	_, err = NewImageData(NewArray(4, 2, 2), ig)
	assert.Error(t, err)
}

func TestContainerClonesShareNothing(t *testing.T) {
	d, err := NewAcquisitionData(sequence(5, 3, 4), testGeometry(t, 3, 4, 5))
	require.NoError(t, err)
	c := d.Clone()
	assert.True(t, c.Array().Equal(d.Array()))
	assert.Equal(t, d.Labels(), c.Labels())
	c.Array().Data()[0] = -1
	assert.Equal(t, 0.0, d.Array().At(0, 0, 0))

	ig := geometry.ImageGeometry{VoxelsX: 2, VoxelsY: 2, VoxelsZ: 5, VoxelSizeX: 1, VoxelSizeY: 1, VoxelSizeZ: 1}
	img, err := NewImageData(sequence(5, 2, 2), ig)
	require.NoError(t, err)
	ic := img.Clone()
	assert.Equal(t, img.Geometry(), ic.Geometry())
	ic.Array().Data()[3] = -1
	assert.Equal(t, 3.0, img.Array().At(0, 1, 1))
}
