package metadata

// GSense4040XL is the device identity of the Photonic Science GSENSE
// 4040XL camera fitted to the instrument.
const GSense4040XL = "camera-photonicscience-gsense4040xl-221094"

// DefaultUnknownPixelSizeMM is used for cameras missing from the registry.
// A reconstruction built on it is almost certainly mis-scaled, which is why
// Parse always warns when it is applied.
const DefaultUnknownPixelSizeMM = 1.0

// CameraRegistry maps device identities to detector pixel pitch. The
// metadata records do not store the pitch, so it has to come from here.
type CameraRegistry struct {
	PixelSizeMM map[string]float64

	// UnknownPixelSizeMM is returned for identities not in PixelSizeMM.
	UnknownPixelSizeMM float64
}

// DefaultCameras returns the registry of known instrument cameras.
func DefaultCameras() CameraRegistry {
	return CameraRegistry{
		PixelSizeMM: map[string]float64{
			GSense4040XL: 0.016,
		},
		UnknownPixelSizeMM: DefaultUnknownPixelSizeMM,
	}
}

// Lookup returns the pixel pitch of a device and whether it was known.
func (c CameraRegistry) Lookup(id string) (float64, bool) {
	if px, ok := c.PixelSizeMM[id]; ok && px > 0 {
		return px, true
	}
	if c.UnknownPixelSizeMM > 0 {
		return c.UnknownPixelSizeMM, false
	}
	return DefaultUnknownPixelSizeMM, false
}
