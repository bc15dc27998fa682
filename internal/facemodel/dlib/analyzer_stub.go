//go:build !dlib

package dlib

import "github.com/pharmacy-erp/embed-service/internal/facemodel"

// Compiled reports whether the dlib recognizer is linked into this binary.
const Compiled = false

// New validates opts like the real constructor, so configuration mistakes are reported the
// same way, then fails with ErrNotCompiled.
func New(opts facemodel.Options) (facemodel.Analyzer, error) {
	if err := ValidateOptions(opts); err != nil {
		return nil, err
	}

	return nil, ErrNotCompiled
}
