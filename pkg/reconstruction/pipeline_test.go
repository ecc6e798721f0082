package reconstruction

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polaris/pkg/dataset"
	"polaris/pkg/geometry"
	"polaris/pkg/progress"
	"polaris/pkg/tomoerr"
)

// fakeBackend records calls and produces arrays whose values identify the
// transform applied, so tests can tell which artifact fed which stage.
type fakeBackend struct {
	calls       []string
	phaseParams PhaseParams
	reconInput  *dataset.AcquisitionData
	failOn      string
	wrongShape  bool
}

func (f *fakeBackend) AxisOrder() []string {
	return []string{dataset.AxisVertical, dataset.AxisAngle, dataset.AxisHorizontal}
}

func (f *fakeBackend) mapped(name string, in *dataset.AcquisitionData, fn func(float64) float64) (*dataset.AcquisitionData, error) {
	f.calls = append(f.calls, name)
	if f.failOn == name {
		return nil, fmt.Errorf("%s exploded", name)
	}
	arr := in.Array().Clone()
	for i, v := range arr.Data() {
		arr.Data()[i] = fn(v)
	}
	return in.WithArray(arr)
}

func (f *fakeBackend) AbsorptionConvert(d *dataset.AcquisitionData) (*dataset.AcquisitionData, error) {
	return f.mapped("absorption", d, func(v float64) float64 { return v + 1 })
}

func (f *fakeBackend) CorrectRotationCentre(d *dataset.AcquisitionData, method, engine string) (*dataset.AcquisitionData, error) {
	out, err := f.mapped("rotation:"+method+":"+engine, d, func(v float64) float64 { return v })
	if err != nil {
		return nil, err
	}
	return out.WithGeometry(out.Geometry().WithRotationOffset(0.5))
}

func (f *fakeBackend) RemoveRingArtifacts(d *dataset.AcquisitionData) (*dataset.AcquisitionData, error) {
	return f.mapped("rings", d, func(v float64) float64 { return v + 0.1 })
}

func (f *fakeBackend) RetrievePhase(d *dataset.AcquisitionData, p PhaseParams) (*dataset.AcquisitionData, error) {
	f.phaseParams = p
	return f.mapped("phase", d, func(v float64) float64 { return v * 10 })
}

func (f *fakeBackend) Reconstruct(d *dataset.AcquisitionData, ig geometry.ImageGeometry) (*dataset.ImageData, error) {
	f.calls = append(f.calls, "reconstruct")
	if f.failOn == "reconstruct" {
		return nil, fmt.Errorf("reconstruct exploded")
	}
	f.reconInput = d
	shape := ig.Shape()
	if f.wrongShape {
		shape[0]++
	}
	return dataset.NewImageData(dataset.NewArray(shape...), ig)
}

func testInput(t *testing.T) *dataset.AcquisitionData {
	t.Helper()
	g, err := geometry.NewAcquisitionGeometry(100, 500, 3, 4, 0.016, []float64{0, 90, 180})
	require.NoError(t, err)
	g.InstrumentPixelSizeMM = 0.0045

	arr := dataset.NewArray(3, 3, 4)
	for i := range arr.Data() {
		arr.Data()[i] = 0.5
	}
	d, err := dataset.NewAcquisitionData(arr, g)
	require.NoError(t, err)
	return d
}

func newTestPipeline(t *testing.T, b Backend) *Pipeline {
	t.Helper()
	p, err := NewPipeline(testInput(t), b, DefaultParams(), nil)
	require.NoError(t, err)
	return p
}

func requireState(t *testing.T, err error, required string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, tomoerr.ErrPipelineState), "unexpected error %v", err)
	assert.Contains(t, err.Error(), required)
}

func TestStagesInOrderWithoutPhase(t *testing.T) {
	b := &fakeBackend{}
	p := newTestPipeline(t, b)
	assert.Equal(t, Created, p.State())

	require.NoError(t, p.PrepareSinogram())
	assert.Equal(t, SinogramReady, p.State())
	require.NoError(t, p.CorrectRotation())
	assert.Equal(t, RotationCorrected, p.State())
	require.NoError(t, p.RemoveRingArtifacts())
	assert.Equal(t, RingCorrected, p.State())
	require.NoError(t, p.ReconstructVolume())
	assert.Equal(t, Reconstructed, p.State())

	assert.Equal(t, []string{"absorption", "rotation:centre:tigre", "rings", "reconstruct"}, b.calls)

	ring, ok := p.Artifact(ArtifactRingCorrected)
	require.True(t, ok)
	fed, _ := p.find(ArtifactRingCorrected)
	assert.Same(t, fed.Sinogram.Array(), b.reconInput.Array())
	assert.True(t, ring.Sinogram.Array().Equal(b.reconInput.Array()))
	assert.Equal(t, dataset.Float32, ring.DType())
	assert.Equal(t, []string{dataset.AxisVertical, dataset.AxisAngle, dataset.AxisHorizontal}, ring.Sinogram.Labels())
	assert.Equal(t, []int{3, 3, 4}, ring.Shape())

	vol, err := p.ReconstructedVolume()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 4}, vol.Shape())

	names := make([]ArtifactName, 0)
	for _, a := range p.Artifacts() {
		names = append(names, a.Name)
		assert.Equal(t, p.ID(), a.RunID)
	}
	assert.Equal(t, []ArtifactName{ArtifactSinogram, ArtifactRotationCorrected, ArtifactRingCorrected, ArtifactReconstructed}, names)

	log := p.Log()
	require.Len(t, log, 4)
	assert.Equal(t, ArtifactRingCorrected, log[2].Name)
	assert.Equal(t, []int{3, 3, 4}, log[2].Shape)
	assert.Equal(t, dataset.Float32, log[2].DType)
	assert.Equal(t, []int{3, 4, 4}, log[3].Shape)
	assert.Equal(t, p.ID(), log[3].RunID)
}

func TestPhaseBranchFeedsReconstruction(t *testing.T) {
	b := &fakeBackend{}
	params := DefaultParams()
	params.Phase = PhaseParams{Delta: 2e-6, Beta: 3e-9, EnergyEV: 25000, FullRetrieval: true}
	p, err := NewPipeline(testInput(t), b, params, nil)
	require.NoError(t, err)

	require.NoError(t, p.PrepareSinogram())
	require.NoError(t, p.CorrectRotation())
	require.NoError(t, p.RemoveRingArtifacts())
	require.NoError(t, p.RetrievePhase())
	assert.Equal(t, PhaseRetrieved, p.State())
	require.NoError(t, p.ReconstructVolume())

	phase, ok := p.Artifact(ArtifactPhaseRetrieved)
	require.True(t, ok)
	fed, _ := p.find(ArtifactPhaseRetrieved)
	assert.Same(t, fed.Sinogram.Array(), b.reconInput.Array())
	assert.Equal(t, dataset.Float32, phase.DType())
	assert.False(t, b.phaseParams.FullRetrieval)
	assert.Equal(t, 2e-6, b.phaseParams.Delta)
	assert.Equal(t, 25000.0, b.phaseParams.EnergyEV)

	// (0.5 + 1 + 0.1) * 10, rounded through float32.
	assert.Equal(t, float64(float32(float64(float32(1.6))*10)), phase.Sinogram.Array().At(0, 0, 0))
}

func TestArtifactsAreNotOverwritten(t *testing.T) {
	b := &fakeBackend{}
	p := newTestPipeline(t, b)
	input := p.input.Array().Clone()

	_, err := p.Run(true)
	require.NoError(t, err)

	assert.True(t, input.Equal(p.input.Array()), "input must be untouched")
	sino, _ := p.Artifact(ArtifactSinogram)
	assert.Equal(t, 1.5, sino.Sinogram.Array().At(0, 0, 0))
	ring, _ := p.Artifact(ArtifactRingCorrected)
	assert.InDelta(t, 1.6, ring.Sinogram.Array().At(0, 0, 0), 1e-6)
	assert.Len(t, p.Artifacts(), 5)
}

func TestWritesToReturnedArtifactsDoNotLeak(t *testing.T) {
	b := &fakeBackend{}
	p := newTestPipeline(t, b)
	require.NoError(t, p.PrepareSinogram())
	require.NoError(t, p.CorrectRotation())
	require.NoError(t, p.RemoveRingArtifacts())

	scribble := func(arr *dataset.Array) {
		for i := range arr.Data() {
			arr.Data()[i] = 99
		}
	}
	ring, ok := p.Artifact(ArtifactRingCorrected)
	require.True(t, ok)
	scribble(ring.Sinogram.Array())
	for _, a := range p.Artifacts() {
		scribble(a.Sinogram.Array())
	}

	require.NoError(t, p.ReconstructVolume())
	assert.InDelta(t, 1.6, b.reconInput.Array().At(0, 0, 0), 1e-6, "later stages must see the stored artifact")
	again, _ := p.Artifact(ArtifactRingCorrected)
	assert.InDelta(t, 1.6, again.Sinogram.Array().At(0, 0, 0), 1e-6)
	sino, _ := p.Artifact(ArtifactSinogram)
	assert.Equal(t, 1.5, sino.Sinogram.Array().At(0, 0, 0))

	vol, err := p.ReconstructedVolume()
	require.NoError(t, err)
	scribble(vol.Array())
	vol, err = p.ReconstructedVolume()
	require.NoError(t, err)
	lo, hi := vol.Array().MinMax()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 0.0, hi)
	slice, err := p.MiddleSlice()
	require.NoError(t, err)
	_, hi = slice.MinMax()
	assert.Equal(t, 0.0, hi)
}

func TestOutOfOrderStagesFail(t *testing.T) {
	b := &fakeBackend{}
	p := newTestPipeline(t, b)

	requireState(t, p.CorrectRotation(), "SinogramReady")
	requireState(t, p.RemoveRingArtifacts(), "RotationCorrected")
	requireState(t, p.RetrievePhase(), "RingCorrected")
	requireState(t, p.ReconstructVolume(), "RingCorrected")
	_, err := p.ReconstructedVolume()
	requireState(t, err, "Reconstructed")
	_, err = p.ImageGeometry()
	requireState(t, err, "SinogramReady")

	require.NoError(t, p.PrepareSinogram())
	requireState(t, p.RemoveRingArtifacts(), "RotationCorrected")
	requireState(t, p.ReconstructVolume(), "PhaseRetrieved")
	requireState(t, p.PrepareSinogram(), "Created")

	assert.Equal(t, SinogramReady, p.State())
	assert.Equal(t, []string{"absorption"}, b.calls, "rejected stages must not reach the backend")
}

func TestReconstructFromRingCorrectedOrPhase(t *testing.T) {
	p := newTestPipeline(t, &fakeBackend{})
	require.NoError(t, p.PrepareSinogram())
	require.NoError(t, p.CorrectRotation())
	require.NoError(t, p.RemoveRingArtifacts())
	require.NoError(t, p.ReconstructVolume())
	requireState(t, p.RetrievePhase(), "RingCorrected")
	requireState(t, p.ReconstructVolume(), "RingCorrected")
}

func TestRotationUpdatesImageGeometry(t *testing.T) {
	p := newTestPipeline(t, &fakeBackend{})
	require.NoError(t, p.PrepareSinogram())
	require.NoError(t, p.CorrectRotation())

	rot, _ := p.Artifact(ArtifactRotationCorrected)
	assert.Equal(t, 0.5, rot.Sinogram.Geometry().RotationAxisOffsetMM)

	ig, err := p.ImageGeometry()
	require.NoError(t, err)
	assert.Equal(t, 0.0045, ig.VoxelSizeX)
	assert.Equal(t, 0.0045, ig.VoxelSizeY)
}

func TestBackendFailureKeepsState(t *testing.T) {
	b := &fakeBackend{failOn: "rings"}
	p := newTestPipeline(t, b)
	require.NoError(t, p.PrepareSinogram())
	require.NoError(t, p.CorrectRotation())

	err := p.RemoveRingArtifacts()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rings exploded")
	assert.Equal(t, RotationCorrected, p.State())
	_, ok := p.Artifact(ArtifactRingCorrected)
	assert.False(t, ok)

	b.failOn = ""
	require.NoError(t, p.RemoveRingArtifacts())
}

func TestReconstructShapeMismatch(t *testing.T) {
	p := newTestPipeline(t, &fakeBackend{wrongShape: true})
	_, err := p.Run(false)
	require.Error(t, err)
}

func TestRunAndMiddleSlice(t *testing.T) {
	rec := &progress.Recorder{}
	p, err := NewPipeline(testInput(t), &fakeBackend{}, Params{}, rec)
	require.NoError(t, err)

	_, err = p.MiddleSlice()
	requireState(t, err, "Reconstructed")

	vol, err := p.Run(false)
	require.NoError(t, err)
	assert.Equal(t, Reconstructed, p.State())
	_, ok := p.Artifact(ArtifactPhaseRetrieved)
	assert.False(t, ok)

	mid, err := p.MiddleSlice()
	require.NoError(t, err)
	assert.Equal(t, vol.Shape()[1:], mid.Shape())

	assert.Len(t, rec.Filter(progress.StageStarted), 4)
	assert.Len(t, rec.Filter(progress.StageFinished), 4)
}

func TestRunsDoNotShareArtifacts(t *testing.T) {
	in := testInput(t)
	a, err := NewPipeline(in, &fakeBackend{}, DefaultParams(), nil)
	require.NoError(t, err)
	b, err := NewPipeline(in, &fakeBackend{}, DefaultParams(), nil)
	require.NoError(t, err)

	_, err = a.Run(false)
	require.NoError(t, err)
	_, err = b.Run(false)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
	ra, _ := a.find(ArtifactRingCorrected)
	rb, _ := b.find(ArtifactRingCorrected)
	assert.NotSame(t, ra.Sinogram.Array(), rb.Sinogram.Array())
}

func TestNewPipelineValidation(t *testing.T) {
	_, err := NewPipeline(nil, &fakeBackend{}, DefaultParams(), nil)
	assert.True(t, errors.Is(err, tomoerr.ErrPipelineState))
	_, err = NewPipeline(testInput(t), nil, DefaultParams(), nil)
	assert.True(t, errors.Is(err, tomoerr.ErrConfiguration))
}
