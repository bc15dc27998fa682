package dlib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmacy-erp/embed-service/internal/facemodel"
)

func writeModelFiles(t *testing.T, names ...string) string {
	t.Helper()

	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("stub"), 0o600))
	}

	return dir
}

func TestRequiredFiles(t *testing.T) {
	hog, err := RequiredFiles(facemodel.ModelHOG)
	require.NoError(t, err)
	assert.NotContains(t, hog, CNNDetectorFile)

	cnn, err := RequiredFiles(facemodel.ModelCNN)
	require.NoError(t, err)
	assert.Contains(t, cnn, CNNDetectorFile)

	_, err = RequiredFiles("buffalo_l")
	assert.ErrorIs(t, err, facemodel.ErrUnknownModel)
}

func TestValidateOptions(t *testing.T) {
	hogDir := writeModelFiles(t, ShapePredictorFile, RecognitionFile)

	tests := []struct {
		name    string
		opts    facemodel.Options
		wantErr error
	}{
		{
			name: "hog on cpu",
			opts: facemodel.Options{ModelDir: hogDir, Model: facemodel.ModelHOG, Device: facemodel.DeviceCPU},
		},
		{
			name:    "gpu rejected",
			opts:    facemodel.Options{ModelDir: hogDir, Model: facemodel.ModelHOG, Device: facemodel.DeviceGPU},
			wantErr: facemodel.ErrUnsupportedDevice,
		},
		{
			name:    "unknown device",
			opts:    facemodel.Options{ModelDir: hogDir, Model: facemodel.ModelHOG, Device: "tpu"},
			wantErr: facemodel.ErrUnsupportedDevice,
		},
		{
			name:    "unknown model",
			opts:    facemodel.Options{ModelDir: hogDir, Model: "antelope", Device: facemodel.DeviceCPU},
			wantErr: facemodel.ErrUnknownModel,
		},
		{
			name:    "cnn detector missing",
			opts:    facemodel.Options{ModelDir: hogDir, Model: facemodel.ModelCNN, Device: facemodel.DeviceCPU},
			wantErr: ErrModelFileMissing,
		},
		{
			name:    "empty model dir",
			opts:    facemodel.Options{ModelDir: t.TempDir(), Model: facemodel.ModelHOG, Device: facemodel.DeviceCPU},
			wantErr: ErrModelFileMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOptions(tt.opts)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
