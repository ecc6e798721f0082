package tomoerr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindsMatchThroughWrapping(t *testing.T) {
	tests := []struct {
		err  error
		kind error
	}{
		{Configuration("region.resolve", "angle", "step %d", 0), ErrConfiguration},
		{Metadata("metadata.parse", "scan:pixel_size_um", errors.New("missing")), ErrMetadata},
		{DataNotFound("ingest", "/data/01-ff", fs.ErrNotExist), ErrDataNotFound},
		{ShapeMismatch("ingest", []int{2, 3}, []int{2, 4}), ErrShapeMismatch},
		{PipelineState("pipeline.reconstruct", "Created", "RingCorrected"), ErrPipelineState},
		{IO("ingest", "tomo00003.tif", errors.New("bad header")), ErrIO},
	}
	for _, tt := range tests {
		wrapped := fmt.Errorf("stage: %w", tt.err)
		assert.True(t, errors.Is(wrapped, tt.kind), "%v", wrapped)
		for _, other := range []error{ErrConfiguration, ErrMetadata, ErrDataNotFound, ErrShapeMismatch, ErrPipelineState, ErrIO} {
			if other != tt.kind {
				assert.False(t, errors.Is(wrapped, other), "%v matched %v", wrapped, other)
			}
		}
	}
}

func TestErrorContext(t *testing.T) {
	err := IO("ingest", "tomo00003.tif", fs.ErrPermission)

	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "tomo00003.tif", te.Subject)
	assert.True(t, errors.Is(err, fs.ErrPermission), "cause must unwrap")
	assert.Equal(t, "ingest: io error (tomo00003.tif): permission denied", err.Error())

	err = PipelineState("pipeline.reconstructedVolume", "RingCorrected", "Reconstructed")
	assert.Contains(t, err.Error(), "requires [Reconstructed]")
	assert.Contains(t, err.Error(), "state RingCorrected")
}
