// Package dlib implements facemodel.Analyzer on top of dlib through github.com/Kagami/go-face.
// The "hog" model uses dlib's HOG frontal face detector, "cnn" the MMOD CNN detector.
// Both compute 128-dimensional ResNet descriptors. Only CPU execution is supported.
//
// The recognizer needs cgo and the dlib headers, so it is compiled only with the "dlib"
// build tag. Without it New validates its options and then returns ErrNotCompiled.
package dlib

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pharmacy-erp/embed-service/internal/facemodel"
)

const dimensions = 128

// Model files expected in the model directory.
const (
	ShapePredictorFile = "shape_predictor_5_face_landmarks.dat"
	RecognitionFile    = "dlib_face_recognition_resnet_model_v1.dat"
	CNNDetectorFile    = "mmod_human_face_detector.dat"
)

var (
	// ErrModelFileMissing is returned when a required model file is not present in the model directory.
	ErrModelFileMissing = errors.New("dlib: model file missing")
	// ErrNotCompiled is returned by New in binaries built without the "dlib" tag.
	ErrNotCompiled = errors.New("dlib: backend not compiled in (build with -tags dlib)")
)

// RequiredFiles returns the model files needed for the given model variant.
func RequiredFiles(model string) ([]string, error) {
	switch model {
	case facemodel.ModelHOG:
		return []string{ShapePredictorFile, RecognitionFile}, nil
	case facemodel.ModelCNN:
		return []string{ShapePredictorFile, RecognitionFile, CNNDetectorFile}, nil
	default:
		return nil, fmt.Errorf("%w: %q (supported: %s, %s)",
			facemodel.ErrUnknownModel, model, facemodel.ModelHOG, facemodel.ModelCNN)
	}
}

// ValidateOptions checks the model variant, the device and the presence of model files.
func ValidateOptions(opts facemodel.Options) error {
	files, err := RequiredFiles(opts.Model)
	if err != nil {
		return err
	}

	switch opts.Device {
	case facemodel.DeviceCPU, "":
	case facemodel.DeviceGPU:
		return fmt.Errorf("%w: dlib backend is built for cpu only", facemodel.ErrUnsupportedDevice)
	default:
		return fmt.Errorf("%w: %q", facemodel.ErrUnsupportedDevice, opts.Device)
	}

	for _, name := range files {
		path := filepath.Join(opts.ModelDir, name)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrModelFileMissing, path, err)
		}
	}

	return nil
}
