// Package distance provides the metric kernels shared by the embedded
// engine and the brute-force compute backend.
//
// All distances are oriented so that smaller means closer: L2 is the
// squared Euclidean distance, cosine is 1 - cosine similarity, and the
// inner-product metric is the negated dot product.
package distance

import (
	"math"

	"github.com/hupe1980/annbridge/model"
)

// Func computes the distance between two equal-length vectors.
type Func func(a, b []float32) float32

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 calculates the squared L2 (Euclidean) distance.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// CosineDistance calculates 1 - cosine similarity. Zero-magnitude
// operands yield the maximum distance of 1.
func CosineDistance(a, b []float32) float32 {
	dot := Dot(a, b)
	magA := float32(math.Sqrt(float64(Dot(a, a))))
	magB := float32(math.Sqrt(float64(Dot(b, b))))
	if magA == 0 || magB == 0 {
		return 1
	}
	return 1 - dot/(magA*magB)
}

// NegativeDot negates the dot product so that ascending order means
// most similar first.
func NegativeDot(a, b []float32) float32 {
	return -Dot(a, b)
}

// ForMetric returns the kernel for a metric. Unknown metrics fall back
// to squared L2; callers validate metrics at index creation.
func ForMetric(metric model.Metric) Func {
	m, err := model.ParseMetric(string(metric))
	if err != nil {
		return SquaredL2
	}
	switch m {
	case model.MetricCosine:
		return CosineDistance
	case model.MetricDot:
		return NegativeDot
	default:
		return SquaredL2
	}
}
