//go:build dlib

package dlib

import (
	"context"
	"errors"
	"fmt"

	face "github.com/Kagami/go-face"

	"github.com/pharmacy-erp/embed-service/internal/facemodel"
	"github.com/pharmacy-erp/embed-service/internal/imagedecode"
)

// Compiled reports whether the dlib recognizer is linked into this binary.
const Compiled = true

// Analyzer wraps a go-face recognizer. The recognizer is not safe for concurrent use;
// callers serialize Detect calls.
type Analyzer struct {
	rec   *face.Recognizer
	model string
}

// New validates opts and loads the dlib models. Loading takes a few seconds and is done once at startup.
func New(opts facemodel.Options) (*Analyzer, error) {
	if err := ValidateOptions(opts); err != nil {
		return nil, err
	}

	rec, err := face.NewRecognizer(opts.ModelDir)
	if err != nil {
		return nil, fmt.Errorf("load dlib models from %s: %w", opts.ModelDir, err)
	}

	return &Analyzer{rec: rec, model: opts.Model}, nil
}

// Detect runs detection and descriptor extraction on the image.
// dlib cannot be interrupted, so ctx is only checked before inference starts.
func (a *Analyzer) Detect(ctx context.Context, img *imagedecode.Decoded) ([]facemodel.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := img.JPEG()
	if err != nil {
		return nil, err
	}

	var found []face.Face
	if a.model == facemodel.ModelCNN {
		found, err = a.rec.RecognizeCNN(data)
	} else {
		found, err = a.rec.Recognize(data)
	}

	if err != nil {
		var loadErr face.ImageLoadError
		if errors.As(err, &loadErr) {
			return nil, fmt.Errorf("%w: %w", imagedecode.ErrInvalidImage, err)
		}

		return nil, fmt.Errorf("dlib recognize: %w", err)
	}

	faces := make([]facemodel.Face, 0, len(found))
	for _, f := range found {
		r := f.Rectangle
		faces = append(faces, facemodel.Face{
			Box: facemodel.Box{
				X1: float64(r.Min.X),
				Y1: float64(r.Min.Y),
				X2: float64(r.Max.X),
				Y2: float64(r.Max.Y),
			},
			Embedding: facemodel.Normalize(f.Descriptor[:]),
		})
	}

	return faces, nil
}

// Dimensions returns 128.
func (a *Analyzer) Dimensions() int {
	return dimensions
}

// Name returns the backend and model variant, e.g. "dlib-hog".
func (a *Analyzer) Name() string {
	return facemodel.BackendDlib + "-" + a.model
}

// Close frees the native recognizer.
func (a *Analyzer) Close() error {
	if a.rec != nil {
		a.rec.Close()
		a.rec = nil
	}

	return nil
}

var _ facemodel.Analyzer = (*Analyzer)(nil)
