// Package reconstruction sequences the tomographic reconstruction of a
// normalised projection stack.
//
// A Pipeline moves through a fixed series of states:
//
//	Created -> SinogramReady -> RotationCorrected -> RingCorrected
//	        -> [PhaseRetrieved] -> Reconstructed
//
// Each stage may only run from its designated predecessor. Every stage
// writes a new Artifact and never modifies an earlier one, so the full
// history of a run stays inspectable. The numerical work is delegated to a
// Backend.
package reconstruction

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"polaris/pkg/dataset"
	"polaris/pkg/geometry"
	"polaris/pkg/progress"
	"polaris/pkg/tomoerr"
)

// State is the position of a Pipeline in its stage sequence.
type State int

const (
	Created State = iota
	SinogramReady
	RotationCorrected
	RingCorrected
	PhaseRetrieved
	Reconstructed
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case SinogramReady:
		return "SinogramReady"
	case RotationCorrected:
		return "RotationCorrected"
	case RingCorrected:
		return "RingCorrected"
	case PhaseRetrieved:
		return "PhaseRetrieved"
	case Reconstructed:
		return "Reconstructed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ArtifactName labels the product of a stage.
type ArtifactName string

const (
	ArtifactSinogram          ArtifactName = "sinogram"
	ArtifactRotationCorrected ArtifactName = "rotationCorrected"
	ArtifactRingCorrected     ArtifactName = "ringCorrected"
	ArtifactPhaseRetrieved    ArtifactName = "phaseRetrieved"
	ArtifactReconstructed     ArtifactName = "reconstructed"
)

// Artifact is an intermediate or final data product. Exactly one of
// Sinogram and Volume is set. The pipeline never hands out its own arrays:
// every Artifact a caller receives holds private copies.
type Artifact struct {
	Name    ArtifactName
	RunID   uuid.UUID
	Created time.Time

	Sinogram *dataset.AcquisitionData
	Volume   *dataset.ImageData
}

// Shape returns the extent of the artifact's array.
func (a Artifact) Shape() []int {
	if a.Volume != nil {
		return a.Volume.Shape()
	}
	return a.Sinogram.Shape()
}

// DType returns the precision of the artifact's array.
func (a Artifact) DType() dataset.DType {
	if a.Volume != nil {
		return a.Volume.Array().DType()
	}
	return a.Sinogram.DType()
}

func (a Artifact) clone() Artifact {
	if a.Sinogram != nil {
		a.Sinogram = a.Sinogram.Clone()
	}
	if a.Volume != nil {
		a.Volume = a.Volume.Clone()
	}
	return a
}

// Params configures a run.
type Params struct {
	Phase PhaseParams

	// RotationMethod selects the slice the centre of rotation is
	// estimated on; "centre" uses the middle row.
	RotationMethod string

	// RotationEngine names the projector used by the estimate.
	RotationEngine string
}

// DefaultParams returns the parameters of the instrument's standard
// workflow.
func DefaultParams() Params {
	return Params{
		Phase:          PhaseParams{Delta: 1e-6, Beta: 1e-9, EnergyEV: 40000},
		RotationMethod: "centre",
		RotationEngine: "tigre",
	}
}

// Pipeline is a single reconstruction run. It is not safe for concurrent
// use, and no two pipelines share artifacts.
type Pipeline struct {
	id       uuid.UUID
	backend  Backend
	params   Params
	observer progress.Observer

	input *dataset.AcquisitionData
	image geometry.ImageGeometry

	state     State
	artifacts []Artifact
}

// NewPipeline starts a run over normalised projection data.
func NewPipeline(data *dataset.AcquisitionData, backend Backend, params Params, obs progress.Observer) (*Pipeline, error) {
	if data == nil {
		return nil, tomoerr.New(tomoerr.ErrPipelineState, "pipeline.new", "input data", fmt.Errorf("no projection data"))
	}
	if backend == nil {
		return nil, tomoerr.New(tomoerr.ErrConfiguration, "pipeline.new", "backend", fmt.Errorf("no numerical backend"))
	}
	if params.RotationMethod == "" {
		params.RotationMethod = DefaultParams().RotationMethod
	}
	if params.RotationEngine == "" {
		params.RotationEngine = DefaultParams().RotationEngine
	}
	return &Pipeline{
		id:       uuid.New(),
		backend:  backend,
		params:   params,
		observer: progress.Or(obs),
		input:    data,
		state:    Created,
	}, nil
}

// ID identifies the run; every artifact carries it.
func (p *Pipeline) ID() uuid.UUID { return p.id }

// State returns the current state.
func (p *Pipeline) State() State { return p.state }

// Artifacts returns copies of the artifacts produced so far, oldest
// first. Writing to them does not reach later stages.
func (p *Pipeline) Artifacts() []Artifact {
	out := make([]Artifact, len(p.artifacts))
	for i, a := range p.artifacts {
		out[i] = a.clone()
	}
	return out
}

// ArtifactRecord describes an artifact without its data.
type ArtifactRecord struct {
	Name    ArtifactName
	RunID   uuid.UUID
	Created time.Time
	Shape   []int
	DType   dataset.DType
}

// Log describes the artifacts produced so far, oldest first, without
// copying any array.
func (p *Pipeline) Log() []ArtifactRecord {
	out := make([]ArtifactRecord, len(p.artifacts))
	for i, a := range p.artifacts {
		out[i] = ArtifactRecord{Name: a.Name, RunID: a.RunID, Created: a.Created, Shape: a.Shape(), DType: a.DType()}
	}
	return out
}

// Artifact returns a copy of the artifact with the given name.
func (p *Pipeline) Artifact(name ArtifactName) (Artifact, bool) {
	a, ok := p.find(name)
	if !ok {
		return Artifact{}, false
	}
	return a.clone(), true
}

func (p *Pipeline) find(name ArtifactName) (Artifact, bool) {
	for _, a := range p.artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return Artifact{}, false
}

// ImageGeometry returns the reconstruction geometry once the sinogram has
// been prepared.
func (p *Pipeline) ImageGeometry() (geometry.ImageGeometry, error) {
	if p.state == Created {
		return geometry.ImageGeometry{}, tomoerr.PipelineState("pipeline.imageGeometry", p.state.String(), SinogramReady.String())
	}
	return p.image, nil
}

// stage checks the current state against from, runs fn and, if it
// succeeds, records its artifact and moves to to. A failed stage leaves
// the pipeline where it was.
func (p *Pipeline) stage(name string, to State, from []State, fn func() (Artifact, error)) error {
	allowed := false
	for _, s := range from {
		if p.state == s {
			allowed = true
			break
		}
	}
	if !allowed {
		required := make([]string, len(from))
		for i, s := range from {
			required[i] = s.String()
		}
		return tomoerr.PipelineState("pipeline."+name, p.state.String(), required...)
	}

	start := time.Now()
	p.observer.Observe(progress.Event{Kind: progress.StageStarted, Stage: name})
	a, err := fn()
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	a.RunID = p.id
	a.Created = time.Now()
	p.artifacts = append(p.artifacts, a)
	p.state = to
	p.observer.Observe(progress.Event{Kind: progress.StageFinished, Stage: name, Elapsed: time.Since(start)})
	return nil
}

func (p *Pipeline) latest(name ArtifactName) *dataset.AcquisitionData {
	a, ok := p.find(name)
	if !ok {
		return nil
	}
	return a.Sinogram
}

// PrepareSinogram converts the transmission data to absorption.
func (p *Pipeline) PrepareSinogram() error {
	return p.stage("prepare-sinogram", SinogramReady, []State{Created}, func() (Artifact, error) {
		ag := p.input.Geometry()
		if ag.NumAngles() == 0 {
			return Artifact{}, tomoerr.New(tomoerr.ErrPipelineState, "pipeline.prepare-sinogram", "geometry", fmt.Errorf("input has no acquisition geometry"))
		}
		sino, err := p.backend.AbsorptionConvert(p.input)
		if err != nil {
			return Artifact{}, err
		}
		p.image = ag.ImageGeometry()
		return Artifact{Name: ArtifactSinogram, Sinogram: sino}, nil
	})
}

// CorrectRotation reorders the sinogram for the backend and applies a
// centre-of-rotation correction.
func (p *Pipeline) CorrectRotation() error {
	return p.stage("correct-rotation", RotationCorrected, []State{SinogramReady}, func() (Artifact, error) {
		sino := p.latest(ArtifactSinogram)
		if sino == nil || p.image.VoxelsX == 0 {
			return Artifact{}, tomoerr.PipelineState("pipeline.correct-rotation", p.state.String(), "sinogram and image geometry")
		}
		ordered, err := sino.Reorder(p.backend.AxisOrder())
		if err != nil {
			return Artifact{}, err
		}
		corrected, err := p.backend.CorrectRotationCentre(ordered, p.params.RotationMethod, p.params.RotationEngine)
		if err != nil {
			return Artifact{}, err
		}
		// The geometry may have changed; derive again so the voxel size
		// override follows it.
		p.image = corrected.Geometry().ImageGeometry()
		return Artifact{Name: ArtifactRotationCorrected, Sinogram: corrected}, nil
	})
}

// RemoveRingArtifacts applies ring removal. The result is single precision.
func (p *Pipeline) RemoveRingArtifacts() error {
	return p.stage("remove-rings", RingCorrected, []State{RotationCorrected}, func() (Artifact, error) {
		out, err := p.backend.RemoveRingArtifacts(p.latest(ArtifactRotationCorrected))
		if err != nil {
			return Artifact{}, err
		}
		return Artifact{Name: ArtifactRingCorrected, Sinogram: out.AsType(dataset.Float32)}, nil
	})
}

// RetrievePhase applies Paganin phase retrieval in attenuation mode. The
// result is single precision. Skipping this stage is allowed.
func (p *Pipeline) RetrievePhase() error {
	return p.stage("retrieve-phase", PhaseRetrieved, []State{RingCorrected}, func() (Artifact, error) {
		params := p.params.Phase
		params.FullRetrieval = false
		out, err := p.backend.RetrievePhase(p.latest(ArtifactRingCorrected), params)
		if err != nil {
			return Artifact{}, err
		}
		return Artifact{Name: ArtifactPhaseRetrieved, Sinogram: out.AsType(dataset.Float32)}, nil
	})
}

// ReconstructVolume reconstructs from the phase-retrieved sinogram if
// there is one, otherwise from the ring-corrected one.
func (p *Pipeline) ReconstructVolume() error {
	return p.stage("reconstruct", Reconstructed, []State{RingCorrected, PhaseRetrieved}, func() (Artifact, error) {
		in := p.latest(ArtifactPhaseRetrieved)
		if in == nil {
			in = p.latest(ArtifactRingCorrected)
		}
		vol, err := p.backend.Reconstruct(in, p.image)
		if err != nil {
			return Artifact{}, err
		}
		want := p.image.Shape()
		if !vol.Array().SameShape(want) {
			return Artifact{}, tomoerr.ShapeMismatch("pipeline.reconstruct", vol.Shape(), want)
		}
		return Artifact{Name: ArtifactReconstructed, Volume: vol}, nil
	})
}

// ReconstructedVolume returns a copy of the final volume.
func (p *Pipeline) ReconstructedVolume() (*dataset.ImageData, error) {
	vol, err := p.volume()
	if err != nil {
		return nil, err
	}
	return vol.Clone(), nil
}

func (p *Pipeline) volume() (*dataset.ImageData, error) {
	if p.state != Reconstructed {
		return nil, tomoerr.PipelineState("pipeline.reconstructedVolume", p.state.String(), Reconstructed.String())
	}
	a, _ := p.find(ArtifactReconstructed)
	return a.Volume, nil
}

// Run executes every remaining stage in order, including phase retrieval
// when withPhase is set, and returns the volume.
func (p *Pipeline) Run(withPhase bool) (*dataset.ImageData, error) {
	steps := []struct {
		from State
		fn   func() error
	}{
		{Created, p.PrepareSinogram},
		{SinogramReady, p.CorrectRotation},
		{RotationCorrected, p.RemoveRingArtifacts},
	}
	for _, s := range steps {
		if p.state == s.from {
			if err := s.fn(); err != nil {
				return nil, err
			}
		}
	}
	if withPhase && p.state == RingCorrected {
		if err := p.RetrievePhase(); err != nil {
			return nil, err
		}
	}
	if p.state != Reconstructed {
		if err := p.ReconstructVolume(); err != nil {
			return nil, err
		}
	}
	return p.ReconstructedVolume()
}

// MiddleSlice returns the middle slice of the reconstructed volume, the
// preview shown to operators.
func (p *Pipeline) MiddleSlice() (*dataset.Array, error) {
	vol, err := p.volume()
	if err != nil {
		return nil, err
	}
	return vol.MiddleSlice()
}
