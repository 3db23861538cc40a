package testutil

import (
	"testing"

	"github.com/hupe1980/annbridge/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRNGDeterminism(t *testing.T) {
	a := NewRNG(42)
	b := NewRNG(42)

	va := make([]float32, 16)
	vb := make([]float32, 16)
	a.FillUniform(va)
	b.FillUniform(vb)
	assert.Equal(t, va, vb)

	a.Reset()
	vc := make([]float32, 16)
	a.FillUniform(vc)
	assert.Equal(t, va, vc)
}

func TestExactTopK(t *testing.T) {
	dataset := [][]float32{
		{2, 0},
		{0, 0},
		{1, 0},
	}
	got := ExactTopK([]float32{0, 0}, dataset, 2, model.MetricL2)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, 2, got[1].Index)
}

func TestRecall(t *testing.T) {
	exact := []Neighbor{{Index: 1}, {Index: 2}}
	assert.Equal(t, 1.0, Recall([]Neighbor{{Index: 2}, {Index: 1}}, exact))
	assert.Equal(t, 0.5, Recall([]Neighbor{{Index: 1}, {Index: 9}}, exact))
	assert.Equal(t, 1.0, Recall(nil, nil))
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	Normalize(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}
