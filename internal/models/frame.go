package models

// FrameKind tells projections from flat fields.
type FrameKind int

const (
	Projection FrameKind = iota
	FlatField
)

func (k FrameKind) String() string {
	if k == FlatField {
		return "flat-field"
	}
	return "projection"
}

// Frame is a single detector image as read from disk
type Frame struct {
	// Kind says which acquisition the frame belongs to
	Kind FrameKind

	// Index is the position of this frame in the selected sequence
	Index int

	// Filename is the base name of the file the frame was read from
	Filename string

	// Rows and Cols are the frame extent in pixels
	Rows int
	Cols int

	// Pixels holds Rows*Cols samples in row-major order
	Pixels []float64
}

// At returns the sample at (row, col)
func (f *Frame) At(row, col int) float64 {
	return f.Pixels[row*f.Cols+col]
}

// Crop returns the inclusive window [top,bottom]x[left,right] as a new frame.
// ok is false when the window does not fit inside the frame.
func (f *Frame) Crop(top, bottom, left, right int) (out *Frame, ok bool) {
	if top < 0 || left < 0 || bottom >= f.Rows || right >= f.Cols || bottom < top || right < left {
		return nil, false
	}
	rows, cols := bottom-top+1, right-left+1
	out = &Frame{Kind: f.Kind, Index: f.Index, Filename: f.Filename, Rows: rows, Cols: cols, Pixels: make([]float64, rows*cols)}
	for r := 0; r < rows; r++ {
		copy(out.Pixels[r*cols:(r+1)*cols], f.Pixels[(top+r)*f.Cols+left:(top+r)*f.Cols+right+1])
	}
	return out, true
}

// Select returns a new frame holding the listed rows and columns. A nil
// index list keeps that axis whole. ok is false when an index falls
// outside the frame.
func (f *Frame) Select(rows, cols []int) (out *Frame, ok bool) {
	if rows == nil && cols == nil {
		return f, true
	}
	if rows == nil {
		rows = span(f.Rows)
	}
	if cols == nil {
		cols = span(f.Cols)
	}
	if !within(rows, f.Rows) || !within(cols, f.Cols) {
		return nil, false
	}
	out = &Frame{Kind: f.Kind, Index: f.Index, Filename: f.Filename, Rows: len(rows), Cols: len(cols), Pixels: make([]float64, len(rows)*len(cols))}
	for i, r := range rows {
		base := r * f.Cols
		for j, c := range cols {
			out.Pixels[i*len(cols)+j] = f.Pixels[base+c]
		}
	}
	return out, true
}

func within(idx []int, n int) bool {
	for _, i := range idx {
		if i < 0 || i >= n {
			return false
		}
	}
	return true
}

func span(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
