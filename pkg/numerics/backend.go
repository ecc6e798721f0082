// Package numerics is a compact reference implementation of the numerical
// collaborator used by the reconstruction pipeline.
//
// It favours clarity over fidelity: the centre of rotation comes from
// matching opposed projections, ring removal suppresses column stripes,
// Paganin filtering follows the single-distance formula and the volume is
// reconstructed by per-row filtered back-projection, which approximates FDK
// for small cone angles.
package numerics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"polaris/pkg/dataset"
	"polaris/pkg/geometry"
	"polaris/pkg/reconstruction"
	"polaris/pkg/tomoerr"
)

// Backend implements reconstruction.Backend.
type Backend struct {
	// MinIntensity clips transmission before the logarithm.
	MinIntensity float64

	// RingWindow is the width of the smoothing window used to separate
	// stripes from the column profile.
	RingWindow int

	// MaxShift bounds the centre-of-rotation search, in pixels. Zero
	// searches a quarter of the panel width.
	MaxShift int
}

var _ reconstruction.Backend = (*Backend)(nil)

// New returns a backend with default settings.
func New() *Backend {
	return &Backend{MinIntensity: 1e-6, RingWindow: 9}
}

// sinogramOrder puts the vertical axis first so each detector row is a
// contiguous angle x horizontal sinogram.
var sinogramOrder = []string{dataset.AxisVertical, dataset.AxisAngle, dataset.AxisHorizontal}

// AxisOrder implements reconstruction.Backend.
func (b *Backend) AxisOrder() []string {
	return append([]string(nil), sinogramOrder...)
}

// rows returns data in sinogram order together with the number of detector
// rows, angles and columns.
func rows(d *dataset.AcquisitionData) (*dataset.AcquisitionData, int, int, int, error) {
	ordered, err := d.Reorder(sinogramOrder)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	g := ordered.Geometry()
	return ordered, g.Rows, g.NumAngles(), g.Cols, nil
}

// AbsorptionConvert implements reconstruction.Backend with Beer-Lambert,
// -ln(T). Values below MinIntensity are clipped first.
func (b *Backend) AbsorptionConvert(d *dataset.AcquisitionData) (*dataset.AcquisitionData, error) {
	arr := d.Array().Clone()
	data := arr.Data()
	for i, v := range data {
		if v < b.MinIntensity || math.IsNaN(v) {
			v = b.MinIntensity
		}
		data[i] = -math.Log(v)
	}
	return d.WithArray(arr)
}

// CorrectRotationCentre implements reconstruction.Backend. method selects
// the detector row: "centre" for the middle row or a row number. engine
// must name a supported projector.
func (b *Backend) CorrectRotationCentre(sino *dataset.AcquisitionData, method, engine string) (*dataset.AcquisitionData, error) {
	switch engine {
	case "tigre", "astra", "":
	default:
		return nil, tomoerr.Configuration("numerics.rotation", engine, "unsupported engine")
	}
	ordered, nRows, nAngles, nCols, err := rows(sino)
	if err != nil {
		return nil, err
	}
	row, err := selectRow(method, nRows)
	if err != nil {
		return nil, err
	}

	g := ordered.Geometry()
	shift := b.estimateShift(ordered.Array().Data()[row*nAngles*nCols:(row+1)*nAngles*nCols], g.Angles(), nCols)
	// Offset in object space: half the mirrored shift, demagnified.
	offset := float64(shift) / 2 * g.PixelSizeMM / g.Magnification()

	out, err := dataset.NewAcquisitionData(ordered.Array().Clone(), g.WithRotationOffset(g.RotationAxisOffsetMM+offset), ordered.Labels()...)
	if err != nil {
		return nil, err
	}
	return out.Reorder(sino.Labels())
}

func selectRow(method string, n int) (int, error) {
	if method == "" || method == "centre" || method == "center" {
		return n / 2, nil
	}
	var row int
	if _, err := fmt.Sscanf(method, "%d", &row); err != nil || row < 0 || row >= n {
		return 0, tomoerr.Configuration("numerics.rotation", method, "method must be \"centre\" or a row in [0,%d)", n)
	}
	return row, nil
}

// estimateShift finds the horizontal shift that best aligns projections
// with their mirrored counterparts 180 degrees away. It returns 0 when the
// scan has no opposed pairs.
func (b *Backend) estimateShift(sino []float64, angles []float64, cols int) int {
	maxShift := b.MaxShift
	if maxShift <= 0 {
		maxShift = cols / 4
	}

	type pair struct{ i, j int }
	var pairs []pair
	for i, a := range angles {
		for j := i + 1; j < len(angles); j++ {
			if math.Abs(angles[j]-a-180) < 1e-6 {
				pairs = append(pairs, pair{i, j})
				break
			}
		}
	}
	if len(pairs) == 0 {
		return 0
	}

	best, bestScore := 0, math.Inf(-1)
	x := make([]float64, 0, cols)
	y := make([]float64, 0, cols)
	for s := -maxShift; s <= maxShift; s++ {
		var score float64
		var n int
		for _, p := range pairs {
			x, y = x[:0], y[:0]
			for c := 0; c < cols; c++ {
				// p_j mirrored about the panel centre and shifted by s.
				m := cols - 1 - c + s
				if m < 0 || m >= cols {
					continue
				}
				x = append(x, sino[p.i*cols+c])
				y = append(y, sino[p.j*cols+m])
			}
			if len(x) < 3 {
				continue
			}
			r := stat.Correlation(x, y, nil)
			if math.IsNaN(r) {
				continue
			}
			score += r
			n++
		}
		if n == 0 {
			continue
		}
		score /= float64(n)
		if score > bestScore+1e-12 || (math.Abs(score-bestScore) <= 1e-12 && abs(s) < abs(best)) {
			best, bestScore = s, score
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// RemoveRingArtifacts implements reconstruction.Backend. For every
// detector row, the angle-averaged column profile is split into a smooth
// part and a stripe part; the stripe part is subtracted from every angle.
func (b *Backend) RemoveRingArtifacts(sino *dataset.AcquisitionData) (*dataset.AcquisitionData, error) {
	ordered, nRows, nAngles, nCols, err := rows(sino)
	if err != nil {
		return nil, err
	}
	arr := ordered.Array().Clone()
	data := arr.Data()

	profile := make([]float64, nCols)
	for r := 0; r < nRows; r++ {
		block := data[r*nAngles*nCols : (r+1)*nAngles*nCols]
		for c := range profile {
			profile[c] = 0
		}
		for a := 0; a < nAngles; a++ {
			floats.Add(profile, block[a*nCols:(a+1)*nCols])
		}
		floats.Scale(1/float64(nAngles), profile)
		stripes := make([]float64, nCols)
		floats.SubTo(stripes, profile, smooth(profile, b.RingWindow))
		for a := 0; a < nAngles; a++ {
			floats.Sub(block[a*nCols:(a+1)*nCols], stripes)
		}
	}

	out, err := ordered.WithArray(arr)
	if err != nil {
		return nil, err
	}
	return out.Reorder(sino.Labels())
}

// smooth is a centred moving average with the window clipped at the edges.
func smooth(v []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	half := window / 2
	out := make([]float64, len(v))
	for i := range v {
		lo, hi := i-half, i+half+1
		if lo < 0 {
			lo = 0
		}
		if hi > len(v) {
			hi = len(v)
		}
		out[i] = stat.Mean(v[lo:hi], nil)
	}
	return out
}

// planckEVM is h*c in eV*m.
const planckEVM = 1.23984193e-6

// RetrievePhase implements reconstruction.Backend with the Paganin filter
// 1 / (1 + (delta/mu) * z * k^2), applied to every projection. Distances
// are scaled to the object plane by the geometric magnification.
func (b *Backend) RetrievePhase(sino *dataset.AcquisitionData, p reconstruction.PhaseParams) (*dataset.AcquisitionData, error) {
	if p.Delta <= 0 || p.Beta <= 0 || p.EnergyEV <= 0 {
		return nil, tomoerr.Configuration("numerics.phase", "paganin", "delta %g, beta %g and energy %g eV must be positive", p.Delta, p.Beta, p.EnergyEV)
	}
	ordered, err := sino.Reorder(dataset.DefaultAcquisitionOrder)
	if err != nil {
		return nil, err
	}
	g := ordered.Geometry()
	if g.PropagationDistanceMM <= 0 {
		return nil, tomoerr.Configuration("numerics.phase", "propagation distance", "propagation distance %g mm must be positive", g.PropagationDistanceMM)
	}

	lambda := planckEVM / p.EnergyEV
	mu := 4 * math.Pi * p.Beta / lambda
	mag := g.Magnification()
	z := g.PropagationDistanceMM / 1000 / mag
	px := g.PixelSizeMM / 1000 / mag
	alpha := p.Delta / mu * z

	rowsN, cols := g.Rows, g.Cols
	filter := make([]float64, rowsN*cols)
	for r := 0; r < rowsN; r++ {
		ky := 2 * math.Pi * frequency(r, rowsN) / px
		if rowsN == 1 {
			ky = 0
		}
		for c := 0; c < cols; c++ {
			kx := 2 * math.Pi * frequency(c, cols) / px
			filter[r*cols+c] = 1 / (1 + alpha*(kx*kx+ky*ky))
		}
	}

	arr := ordered.Array().Clone()
	data := arr.Data()
	frame := make([]complex128, rowsN*cols)
	for a := 0; a < g.NumAngles(); a++ {
		proj := data[a*rowsN*cols : (a+1)*rowsN*cols]
		for i, v := range proj {
			frame[i] = complex(v, 0)
		}
		fft2(frame, rowsN, cols, false)
		for i := range frame {
			frame[i] *= complex(filter[i], 0)
		}
		fft2(frame, rowsN, cols, true)
		for i := range proj {
			proj[i] = real(frame[i])
		}
	}
	if p.FullRetrieval {
		// Thickness from attenuation.
		floats.Scale(1/mu, data)
	}

	out, err := ordered.WithArray(arr)
	if err != nil {
		return nil, err
	}
	return out.Reorder(sino.Labels())
}

// Reconstruct implements reconstruction.Backend by filtered back-projection
// of each detector row onto the matching volume slice.
func (b *Backend) Reconstruct(sino *dataset.AcquisitionData, ig geometry.ImageGeometry) (*dataset.ImageData, error) {
	ordered, nRows, nAngles, nCols, err := rows(sino)
	if err != nil {
		return nil, err
	}
	nz := ig.VoxelsZ
	if nz == 0 {
		nz = 1
	}
	if nz != nRows {
		return nil, tomoerr.ShapeMismatch("numerics.reconstruct", []int{nRows}, []int{nz})
	}

	g := ordered.Geometry()
	du := g.PixelSizeMM / g.Magnification()
	filtered := rampFilter(ordered.Array().Data(), nRows*nAngles, nCols, du)

	angles := g.Angles()
	cosT := make([]float64, nAngles)
	sinT := make([]float64, nAngles)
	for i, a := range angles {
		rad := a * math.Pi / 180
		cosT[i], sinT[i] = math.Cos(rad), math.Sin(rad)
	}
	weight := math.Pi / float64(nAngles)
	centre := float64(nCols-1) / 2

	vol := dataset.NewArray(ig.Shape()...)
	out := vol.Data()
	nx, ny := ig.VoxelsX, ig.VoxelsY
	for z := 0; z < nz; z++ {
		rowData := filtered[z*nAngles*nCols : (z+1)*nAngles*nCols]
		slice := out[z*ny*nx : (z+1)*ny*nx]
		for iy := 0; iy < ny; iy++ {
			y := (float64(iy) - float64(ny-1)/2) * ig.VoxelSizeY
			for ix := 0; ix < nx; ix++ {
				x := (float64(ix) - float64(nx-1)/2) * ig.VoxelSizeX
				var sum float64
				for a := 0; a < nAngles; a++ {
					t := x*cosT[a] + y*sinT[a] - g.RotationAxisOffsetMM
					u := t/du + centre
					sum += interp(rowData[a*nCols:(a+1)*nCols], u)
				}
				slice[iy*nx+ix] = sum * weight
			}
		}
	}
	return dataset.NewImageData(vol, ig)
}

// rampFilter convolves each of n rows of length cols with the discrete
// Ram-Lak kernel, using zero padding to avoid wrap-around.
func rampFilter(data []float64, n, cols int, du float64) []float64 {
	size := nextPow2(2 * cols)
	fft := fourier.NewFFT(size)

	kernel := make([]float64, size)
	kernel[0] = 1 / (4 * du * du)
	for k := 1; k < size/2; k++ {
		if k%2 == 1 {
			v := -1 / (float64(k*k) * math.Pi * math.Pi * du * du)
			kernel[k] = v
			kernel[size-k] = v
		}
	}
	response := fft.Coefficients(nil, kernel)

	out := make([]float64, n*cols)
	buf := make([]float64, size)
	coeff := make([]complex128, size/2+1)
	for r := 0; r < n; r++ {
		for i := range buf {
			buf[i] = 0
		}
		copy(buf, data[r*cols:(r+1)*cols])
		fft.Coefficients(coeff, buf)
		for k := range coeff {
			coeff[k] *= response[k]
		}
		fft.Sequence(buf, coeff)
		for c := 0; c < cols; c++ {
			out[r*cols+c] = buf[c] / float64(size) * du
		}
	}
	return out
}

// interp samples p at fractional position u with linear interpolation and
// zero outside the panel.
func interp(p []float64, u float64) float64 {
	if u < 0 || u > float64(len(p)-1) {
		return 0
	}
	i := int(u)
	if i == len(p)-1 {
		return p[i]
	}
	f := u - float64(i)
	return p[i]*(1-f) + p[i+1]*f
}
