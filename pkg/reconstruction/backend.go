package reconstruction

import (
	"polaris/pkg/dataset"
	"polaris/pkg/geometry"
)

// PhaseParams configures Paganin phase retrieval.
type PhaseParams struct {
	// Delta is the refractive index decrement.
	Delta float64

	// Beta is the absorption index.
	Beta float64

	// EnergyEV is the beam energy in electronvolts.
	EnergyEV float64

	// FullRetrieval converts the filtered data to thickness. The pipeline
	// always requests false: downstream stages consume attenuation data.
	FullRetrieval bool
}

// Backend performs the numerical transforms of the pipeline. Every method
// must return a newly allocated container and leave its input untouched;
// the pipeline only inspects the shape and dtype of what comes back.
type Backend interface {
	// AxisOrder is the axis order the backend expects its sinograms in.
	AxisOrder() []string

	// AbsorptionConvert turns transmission ratios into absorption values.
	AbsorptionConvert(data *dataset.AcquisitionData) (*dataset.AcquisitionData, error)

	// CorrectRotationCentre estimates the centre of rotation on the slice
	// selected by method and returns data whose geometry carries the
	// correction. engine names the projector used for the estimate.
	CorrectRotationCentre(sino *dataset.AcquisitionData, method, engine string) (*dataset.AcquisitionData, error)

	// RemoveRingArtifacts suppresses detector stripes in the sinogram.
	RemoveRingArtifacts(sino *dataset.AcquisitionData) (*dataset.AcquisitionData, error)

	// RetrievePhase applies the Paganin filter.
	RetrievePhase(sino *dataset.AcquisitionData, params PhaseParams) (*dataset.AcquisitionData, error)

	// Reconstruct back-projects the sinogram onto the image geometry.
	Reconstruct(sino *dataset.AcquisitionData, ig geometry.ImageGeometry) (*dataset.ImageData, error)
}
