package facemodel

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmacy-erp/embed-service/internal/imagedecode"
)

func TestBox_Area(t *testing.T) {
	tests := []struct {
		name string
		box  Box
		want float64
	}{
		{"regular", Box{X1: 10, Y1: 20, X2: 30, Y2: 60}, 800},
		{"unit", Box{X1: 0, Y1: 0, X2: 1, Y2: 1}, 1},
		{"zero width", Box{X1: 5, Y1: 0, X2: 5, Y2: 10}, 0},
		{"inverted", Box{X1: 30, Y1: 60, X2: 10, Y2: 20}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.box.Area(), 1e-9)
		})
	}
}

func TestLargest(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, ok := Largest(nil)
		assert.False(t, ok)
	})

	t.Run("picks largest area", func(t *testing.T) {
		faces := []Face{
			{Box: Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, Embedding: []float32{1}},
			{Box: Box{X1: 0, Y1: 0, X2: 5, Y2: 50}, Embedding: []float32{2}},
			{Box: Box{X1: 0, Y1: 0, X2: 20, Y2: 10}, Embedding: []float32{3}},
		}

		got, ok := Largest(faces)
		require.True(t, ok)
		assert.Equal(t, []float32{2}, got.Embedding)
	})

	t.Run("first wins on tie", func(t *testing.T) {
		faces := []Face{
			{Box: Box{X1: 0, Y1: 0, X2: 4, Y2: 4}, Embedding: []float32{1}},
			{Box: Box{X1: 0, Y1: 0, X2: 8, Y2: 2}, Embedding: []float32{2}},
			{Box: Box{X1: 0, Y1: 0, X2: 2, Y2: 8}, Embedding: []float32{3}},
		}

		got, ok := Largest(faces)
		require.True(t, ok)
		assert.Equal(t, []float32{1}, got.Embedding)
	})
}

func TestNormalize(t *testing.T) {
	t.Run("unit length", func(t *testing.T) {
		got := Normalize([]float32{3, 4})
		assert.InDelta(t, 0.6, got[0], 1e-6)
		assert.InDelta(t, 0.8, got[1], 1e-6)
		assert.InDelta(t, 1.0, Norm(got), 1e-6)
	})

	t.Run("zero vector unchanged", func(t *testing.T) {
		assert.Equal(t, []float32{0, 0, 0}, Normalize([]float32{0, 0, 0}))
	})

	t.Run("does not modify input", func(t *testing.T) {
		in := []float32{2, 0}
		_ = Normalize(in)
		assert.Equal(t, []float32{2, 0}, in)
	})
}

func drawImage(w, h int, rects map[color.RGBA]image.Rectangle) *imagedecode.Decoded {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	for c, r := range rects {
		draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
	}

	return &imagedecode.Decoded{Image: img, Format: "png"}
}

func TestMock_Detect(t *testing.T) {
	m := NewMock()
	red := color.RGBA{R: 200, A: 255}
	blue := color.RGBA{B: 200, A: 255}

	t.Run("black image has no faces", func(t *testing.T) {
		faces, err := m.Detect(context.Background(), drawImage(64, 64, nil))
		require.NoError(t, err)
		assert.Empty(t, faces)
	})

	t.Run("boxes and embeddings per color", func(t *testing.T) {
		img := drawImage(100, 100, map[color.RGBA]image.Rectangle{
			red:  image.Rect(10, 10, 20, 20),
			blue: image.Rect(40, 40, 90, 80),
		})

		faces, err := m.Detect(context.Background(), img)
		require.NoError(t, err)
		require.Len(t, faces, 2)

		largest, ok := Largest(faces)
		require.True(t, ok)
		assert.Equal(t, Box{X1: 40, Y1: 40, X2: 90, Y2: 80}, largest.Box)
		assert.Equal(t, m.EmbeddingFor(blue), largest.Embedding)
		assert.Len(t, largest.Embedding, m.Dimensions())
		assert.InDelta(t, 1.0, Norm(largest.Embedding), 1e-5)
	})

	t.Run("deterministic", func(t *testing.T) {
		img := drawImage(32, 32, map[color.RGBA]image.Rectangle{red: image.Rect(0, 0, 16, 16)})

		a, err := m.Detect(context.Background(), img)
		require.NoError(t, err)
		b, err := m.Detect(context.Background(), img)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := m.Detect(ctx, drawImage(8, 8, nil))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMock_EmbeddingDistinctPerColor(t *testing.T) {
	m := NewMockWithDimensions(16)

	a := m.EmbeddingFor(color.RGBA{R: 255, A: 255})
	b := m.EmbeddingFor(color.RGBA{G: 255, A: 255})

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}

	assert.Less(t, math.Abs(dot), 0.999)
	assert.Len(t, a, 16)
}
