// Package facemodel defines the face analysis contract used by the embed service:
// a detector that returns bounding boxes with unit-length embeddings, and the
// selection of the face the service reports.
package facemodel

import (
	"context"
	"errors"

	"github.com/pharmacy-erp/embed-service/internal/imagedecode"
	"github.com/pharmacy-erp/embed-service/pkg/embeddings"
)

// Supported backends, model variants and compute devices.
const (
	BackendDlib = "dlib"
	BackendMock = "mock"

	ModelHOG = "hog"
	ModelCNN = "cnn"

	DeviceCPU = "cpu"
	DeviceGPU = "gpu"
)

var (
	// ErrUnknownBackend is returned when the configured backend is not supported.
	ErrUnknownBackend = errors.New("facemodel: unknown backend")
	// ErrUnknownModel is returned when the configured model variant is not supported by the backend.
	ErrUnknownModel = errors.New("facemodel: unknown model variant")
	// ErrUnsupportedDevice is returned when the backend cannot run on the configured device.
	ErrUnsupportedDevice = errors.New("facemodel: unsupported compute device")
)

// Options selects and configures the analyzer built at startup.
type Options struct {
	Backend  string
	ModelDir string
	Model    string
	Device   string
}

// Box is a bounding box in pixel coordinates (x1, y1) top-left, (x2, y2) bottom-right.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Area returns (x2-x1)*(y2-y1), or 0 for degenerate boxes.
func (b Box) Area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1

	if w <= 0 || h <= 0 {
		return 0
	}

	return w * h
}

// Face is one detected face with its normalized embedding.
type Face struct {
	Box       Box
	Embedding []float32
}

// Analyzer detects faces and computes their embeddings.
// Implementations return embeddings of length Dimensions() with unit L2 norm.
// Zero faces is a valid result, not an error.
type Analyzer interface {
	Detect(ctx context.Context, img *imagedecode.Decoded) ([]Face, error)
	Dimensions() int
	Name() string
	Close() error
}

// Largest returns the face with the largest bounding-box area.
// The first face wins on ties; ok is false when faces is empty.
func Largest(faces []Face) (face Face, ok bool) {
	if len(faces) == 0 {
		return Face{}, false
	}

	best := 0
	bestArea := faces[0].Box.Area()

	for i := 1; i < len(faces); i++ {
		if area := faces[i].Box.Area(); area > bestArea {
			best = i
			bestArea = area
		}
	}

	return faces[best], true
}

// Normalize returns a copy of v scaled to unit length. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	embeddings.NormalizeL2(out)

	return out
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	return embeddings.Magnitude(v)
}
