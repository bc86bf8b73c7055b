package embed

import (
	"context"
	"math"
	"sync/atomic"
)

func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// countingEmbedder returns a fixed vector and counts how many texts it saw.
type countingEmbedder struct {
	texts atomic.Int64
	calls atomic.Int64
	dims  int
}

func (m *countingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	m.calls.Add(1)
	m.texts.Add(1)
	return make([]float32, m.dims), nil
}

func (m *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	m.texts.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, m.dims)
		v[0] = float32(len(texts[i]))
		out[i] = v
	}
	return out, nil
}

func (m *countingEmbedder) Dimensions() int                  { return m.dims }
func (m *countingEmbedder) ModelName() string                { return "counting" }
func (m *countingEmbedder) Available(_ context.Context) bool { return true }
func (m *countingEmbedder) Close() error                     { return nil }
