// Package ingest loads raw projection and flat-field frames, restricts them
// to a region of interest and normalises the projections by the averaged
// flat field.
//
// Projections arrive already cropped to the detector ROI by the camera;
// flat fields are captured at full sensor resolution and are cropped here
// with the same detector ROI before any region slicing. Both are then
// sliced identically so that the flat average and the projection frames
// are congruent.
package ingest

import (
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"polaris/internal/models"
	"polaris/pkg/dataset"
	"polaris/pkg/geometry"
	"polaris/pkg/metadata"
	"polaris/pkg/progress"
	"polaris/pkg/region"
	"polaris/pkg/tomoerr"
)

// Ingestor loads acquisitions. The zero value is usable and loads TIFF
// frames with the default name patterns on all CPUs.
type Ingestor struct {
	// Workers bounds concurrent frame loads. Zero means runtime.NumCPU().
	Workers int

	ProjectionPattern string
	FlatPattern       string

	// Loader reads a frame; defaults to LoadTIFF.
	Loader FrameLoader

	Observer progress.Observer
}

// Request describes one ingestion.
type Request struct {
	ProjectionsDir string
	FlatsDir       string

	Region region.Descriptor

	// DetectorROI is the raw window used to crop the full-sensor flats.
	DetectorROI metadata.DetectorROI

	// Geometry is the output of geometry.Build for the same region.
	Geometry geometry.Result
}

// RequestFor builds the request for an acquisition laid out under l.
func RequestFor(l Layout, md metadata.ScanMetadata, roi region.Descriptor, g geometry.Result) Request {
	return Request{
		ProjectionsDir: l.Projections,
		FlatsDir:       l.Flats,
		Region:         roi,
		DetectorROI:    md.ROI,
		Geometry:       g,
	}
}

// NormalizedProjectionData is the flat-corrected transmission stack.
// Values are projection over averaged flat and are not clamped.
type NormalizedProjectionData struct {
	Data *dataset.AcquisitionData

	ProjectionFiles []string
	FlatFiles       []string

	// FlatMean and FlatStdDev summarise the averaged flat field.
	FlatMean   float64
	FlatStdDev float64
}

// window holds the row and column selections applied to every frame. A
// nil slice leaves that axis untouched.
type window struct {
	rows, cols []int
	nRows      int
	nCols      int
}

func newWindow(roi region.Descriptor, rawRows, rawCols int) (window, error) {
	w := window{nRows: rawRows, nCols: rawCols}
	var err error
	if roi.Vertical.Restricted() {
		if w.rows, err = roi.Vertical.Indices(rawRows); err != nil {
			return window{}, err
		}
		w.nRows = len(w.rows)
	}
	if roi.Horizontal.Restricted() {
		if w.cols, err = roi.Horizontal.Indices(rawCols); err != nil {
			return window{}, err
		}
		w.nCols = len(w.cols)
	}
	return w, nil
}

// Ingest loads, slices and normalises an acquisition. Any failure discards
// everything loaded so far.
func (in *Ingestor) Ingest(req Request) (*NormalizedProjectionData, error) {
	obs := progress.Or(in.Observer)
	start := time.Now()
	obs.Observe(progress.Event{Kind: progress.StageStarted, Stage: "ingest"})

	expected := req.Geometry.ExpectedShape

	if err := checkDir(req.ProjectionsDir); err != nil {
		return nil, err
	}
	if err := checkDir(req.FlatsDir); err != nil {
		return nil, err
	}

	projFiles, err := Discover(req.ProjectionsDir, in.projectionPattern())
	if err != nil {
		return nil, err
	}
	if len(projFiles) == 0 {
		return nil, tomoerr.DataNotFound("ingest", filepath.Join(req.ProjectionsDir, in.projectionPattern()), errNoFiles)
	}
	flatFiles, err := Discover(req.FlatsDir, in.flatPattern())
	if err != nil {
		return nil, err
	}
	if len(flatFiles) == 0 {
		return nil, tomoerr.DataNotFound("ingest", filepath.Join(req.FlatsDir, in.flatPattern()), errNoFiles)
	}

	if projFiles, err = region.Apply(req.Region.Angle, projFiles); err != nil {
		return nil, err
	}
	if len(projFiles) != expected[0] {
		return nil, tomoerr.ShapeMismatch("ingest", []int{len(projFiles), expected[1], expected[2]}, expected[:])
	}

	win, err := newWindow(req.Region, req.DetectorROI.Rows(), req.DetectorROI.Cols())
	if err != nil {
		return nil, err
	}
	frameShape := []int{win.nRows, win.nCols}
	if win.nRows != expected[1] || win.nCols != expected[2] {
		return nil, tomoerr.ShapeMismatch("ingest", []int{len(projFiles), win.nRows, win.nCols}, expected[:])
	}
	frameLen := win.nRows * win.nCols

	projections := dataset.NewArray(len(projFiles), win.nRows, win.nCols)
	rawShape := []int{req.DetectorROI.Rows(), req.DetectorROI.Cols()}
	err = in.loadAll(req.ProjectionsDir, projFiles, models.Projection, func(fr *models.Frame) error {
		// Projections are read out with the detector ROI; anything else
		// would be sliced at the wrong pixels.
		if fr.Rows != rawShape[0] || fr.Cols != rawShape[1] {
			return tomoerr.ShapeMismatch("ingest "+fr.Filename, []int{fr.Rows, fr.Cols}, rawShape)
		}
		sel, ok := fr.Select(win.rows, win.cols)
		if !ok || sel.Rows != win.nRows || sel.Cols != win.nCols {
			return tomoerr.ShapeMismatch("ingest "+fr.Filename, []int{fr.Rows, fr.Cols}, frameShape)
		}
		copy(projections.Data()[fr.Index*frameLen:(fr.Index+1)*frameLen], sel.Pixels)
		return nil
	})
	if err != nil {
		return nil, err
	}

	roi := req.DetectorROI
	flats := make([][]float64, len(flatFiles))
	err = in.loadAll(req.FlatsDir, flatFiles, models.FlatField, func(fr *models.Frame) error {
		cropped, ok := fr.Crop(roi.Top, roi.Bottom, roi.Left, roi.Right)
		if !ok {
			return tomoerr.ShapeMismatch("ingest "+fr.Filename+" crop",
				[]int{fr.Rows, fr.Cols}, []int{roi.Bottom + 1, roi.Right + 1})
		}
		sel, ok := cropped.Select(win.rows, win.cols)
		if !ok || sel.Rows != win.nRows || sel.Cols != win.nCols {
			return tomoerr.ShapeMismatch("ingest "+fr.Filename, []int{cropped.Rows, cropped.Cols}, frameShape)
		}
		flats[fr.Index] = sel.Pixels
		return nil
	})
	if err != nil {
		return nil, err
	}

	avg := averageFrames(flats, frameLen)
	data := projections.Data()
	for i := 0; i < len(projFiles); i++ {
		frame := data[i*frameLen : (i+1)*frameLen]
		floats.Div(frame, avg)
	}

	arr := projections
	if win.nRows == 1 {
		arr, err = dataset.FromSlice(data, len(projFiles), win.nCols)
		if err != nil {
			return nil, err
		}
	}
	if !arr.SameShape(expected.Squeeze()) {
		return nil, tomoerr.ShapeMismatch("ingest", arr.Shape(), expected.Squeeze())
	}
	ad, err := dataset.NewAcquisitionData(arr, req.Geometry.Acquisition)
	if err != nil {
		return nil, tomoerr.ShapeMismatch("ingest", arr.Shape(), expected.Squeeze())
	}

	mean, std := stat.MeanStdDev(avg, nil)
	obs.Observe(progress.Event{Kind: progress.StageFinished, Stage: "ingest", Elapsed: time.Since(start)})
	return &NormalizedProjectionData{
		Data:            ad,
		ProjectionFiles: projFiles,
		FlatFiles:       flatFiles,
		FlatMean:        mean,
		FlatStdDev:      std,
	}, nil
}

// averageFrames returns the per-pixel mean of frames.
func averageFrames(frames [][]float64, n int) []float64 {
	avg := make([]float64, n)
	for _, f := range frames {
		floats.Add(avg, f)
	}
	floats.Scale(1/float64(len(frames)), avg)
	return avg
}

// loadAll reads files concurrently and hands each frame to place, which
// must only write to the slot of fr.Index. It returns after every load has
// finished.
func (in *Ingestor) loadAll(dir string, files []string, kind models.FrameKind, place func(*models.Frame) error) error {
	obs := progress.Or(in.Observer)
	load := in.Loader
	if load == nil {
		load = LoadTIFF
	}
	stage := kind.String() + "s"

	var g errgroup.Group
	g.SetLimit(in.workers())
	var done atomic.Int64
	for i, name := range files {
		i, name := i, name
		g.Go(func() error {
			fr, err := load(filepath.Join(dir, name))
			if err != nil {
				return tomoerr.IO("ingest", name, err)
			}
			fr.Kind, fr.Index, fr.Filename = kind, i, name
			if err := place(fr); err != nil {
				return err
			}
			obs.Observe(progress.Event{Kind: progress.FramesLoaded, Stage: stage, Done: int(done.Add(1)), Total: len(files)})
			return nil
		})
	}
	return g.Wait()
}

func (in *Ingestor) workers() int {
	if in.Workers > 0 {
		return in.Workers
	}
	return runtime.NumCPU()
}

func (in *Ingestor) projectionPattern() string {
	if in.ProjectionPattern != "" {
		return in.ProjectionPattern
	}
	return DefaultProjectionPattern
}

func (in *Ingestor) flatPattern() string {
	if in.FlatPattern != "" {
		return in.FlatPattern
	}
	return DefaultFlatPattern
}
