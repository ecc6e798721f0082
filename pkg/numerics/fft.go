package numerics

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// fft2 transforms a rows x cols row-major frame in place, forward or
// inverse. The inverse is normalised. Axes of length one are left alone.
func fft2(data []complex128, rows, cols int, inverse bool) {
	if cols > 1 {
		fftRows(data, rows, cols, inverse)
	}
	if rows > 1 {
		fftCols(data, rows, cols, inverse)
	}
	if inverse {
		scale := complex(1/float64(rows*cols), 0)
		for i := range data {
			data[i] *= scale
		}
	}
}

func fftRows(data []complex128, rows, cols int, inverse bool) {
	rowFFT := fourier.NewCmplxFFT(cols)
	row := make([]complex128, cols)
	for r := 0; r < rows; r++ {
		copy(row, data[r*cols:(r+1)*cols])
		if inverse {
			rowFFT.Sequence(data[r*cols:(r+1)*cols], row)
		} else {
			rowFFT.Coefficients(data[r*cols:(r+1)*cols], row)
		}
	}
}

func fftCols(data []complex128, rows, cols int, inverse bool) {
	colFFT := fourier.NewCmplxFFT(rows)
	col := make([]complex128, rows)
	out := make([]complex128, rows)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			col[r] = data[r*cols+c]
		}
		if inverse {
			colFFT.Sequence(out, col)
		} else {
			colFFT.Coefficients(out, col)
		}
		for r := 0; r < rows; r++ {
			data[r*cols+c] = out[r]
		}
	}
}

// frequency returns the signed frequency of bin k of an n-point transform
// in cycles per sample.
func frequency(k, n int) float64 {
	if k > n/2 {
		k -= n
	}
	return float64(k) / float64(n)
}

// nextPow2 returns the smallest power of two >= n.
func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
