package facemodel

import (
	"context"
	"crypto/sha256"
	"image/color"

	"github.com/pharmacy-erp/embed-service/internal/imagedecode"
)

const (
	mockDimensions = 128
	// Pixels darker than this on every channel are treated as background.
	mockBackgroundLevel = 32
	mockMaxFaces        = 64
)

// Mock is a deterministic Analyzer for tests and local development without model files.
// Every distinct non-dark color in the image is one "face": its box is the bounding box of
// the pixels with that color and its embedding is derived from the color alone, so the same
// face yields the same embedding in any image.
type Mock struct {
	dimensions int
}

// NewMock creates a mock analyzer with 128 dimensions, matching the dlib backend.
func NewMock() *Mock {
	return &Mock{dimensions: mockDimensions}
}

// NewMockWithDimensions creates a mock analyzer with custom dimensions.
func NewMockWithDimensions(dimensions int) *Mock {
	return &Mock{dimensions: dimensions}
}

// Detect returns one face per distinct non-background color, in first-seen scan order.
func (m *Mock) Detect(ctx context.Context, img *imagedecode.Decoded) ([]Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Image.Bounds()
	boxes := make(map[color.RGBA]*Box)
	order := make([]color.RGBA, 0)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c, _ := color.RGBAModel.Convert(img.Image.At(x, y)).(color.RGBA)
			if c.R < mockBackgroundLevel && c.G < mockBackgroundLevel && c.B < mockBackgroundLevel {
				continue
			}

			c.A = 255

			box, seen := boxes[c]
			if !seen {
				if len(order) >= mockMaxFaces {
					continue
				}

				box = &Box{X1: float64(x), Y1: float64(y), X2: float64(x + 1), Y2: float64(y + 1)}
				boxes[c] = box
				order = append(order, c)

				continue
			}

			box.X1 = min(box.X1, float64(x))
			box.Y1 = min(box.Y1, float64(y))
			box.X2 = max(box.X2, float64(x+1))
			box.Y2 = max(box.Y2, float64(y+1))
		}
	}

	faces := make([]Face, 0, len(order))
	for _, c := range order {
		faces = append(faces, Face{
			Box:       *boxes[c],
			Embedding: m.EmbeddingFor(c),
		})
	}

	return faces, nil
}

// EmbeddingFor returns the embedding Detect reports for a face drawn in color c.
func (m *Mock) EmbeddingFor(c color.RGBA) []float32 {
	hash := sha256.Sum256([]byte{c.R, c.G, c.B})
	embedding := make([]float32, m.dimensions)

	for i := range embedding {
		embedding[i] = (float32(hash[i%len(hash)]) / 127.5) - 1.0
	}

	return Normalize(embedding)
}

// Dimensions returns the embedding length.
func (m *Mock) Dimensions() int {
	return m.dimensions
}

// Name returns "mock".
func (m *Mock) Name() string {
	return BackendMock
}

// Close is a no-op.
func (m *Mock) Close() error {
	return nil
}

var _ Analyzer = (*Mock)(nil)
