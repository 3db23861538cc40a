// Package testutil provides testing utilities for the adapter.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random vectors and computing
// exact nearest neighbors as ground truth.
package testutil

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/annbridge/distance"
	"github.com/hupe1980/annbridge/model"
)

// Neighbor is one exact-search hit.
type Neighbor struct {
	Index    int
	Distance float32
}

// RNG encapsulates a seeded random number generator.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// FillUniform fills vec with uniform values in [0, 1).
func (r *RNG) FillUniform(vec []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range vec {
		vec[i] = r.rand.Float32()
	}
}

// FillGaussian fills vec with standard normal values.
func (r *RNG) FillGaussian(vec []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range vec {
		vec[i] = float32(r.rand.NormFloat64())
	}
}

// RandomVectors generates count vectors of the given dimension with
// uniform components.
func (r *RNG) RandomVectors(count, dim int) [][]float32 {
	out := make([][]float32, count)
	for i := range out {
		out[i] = make([]float32, dim)
		r.FillUniform(out[i])
	}
	return out
}

// ExactTopK computes the exact k nearest neighbors of query in dataset
// under the given metric, in ascending distance order with index as
// the tiebreaker.
func ExactTopK(query []float32, dataset [][]float32, k int, metric model.Metric) []Neighbor {
	fn := distance.ForMetric(metric)
	neighbors := make([]Neighbor, len(dataset))
	for i, v := range dataset {
		neighbors[i] = Neighbor{Index: i, Distance: fn(query, v)}
	}
	sort.Slice(neighbors, func(a, b int) bool {
		if neighbors[a].Distance != neighbors[b].Distance {
			return neighbors[a].Distance < neighbors[b].Distance
		}
		return neighbors[a].Index < neighbors[b].Index
	})
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors
}

// Recall computes the fraction of expected indexes present in got.
func Recall(got, expected []Neighbor) float64 {
	if len(expected) == 0 {
		return 1
	}
	want := make(map[int]struct{}, len(expected))
	for _, n := range expected {
		want[n.Index] = struct{}{}
	}
	hits := 0
	for _, n := range got {
		if _, ok := want[n.Index]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(expected))
}

// Normalize scales vec to unit length in place. Zero vectors are left
// untouched.
func Normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
