package distance

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/hupe1980/annbridge/model"
	"golang.org/x/sync/errgroup"
)

// Compute is a brute-force distance-matrix backend. It is an auxiliary
// capability for environments without a vector engine; the index search
// path never uses it.
type Compute interface {
	// Name identifies the backend ("cpu", ...).
	Name() string

	// Available reports whether the backend can run on this host.
	Available() bool

	// Matrix computes the nq x nv distance matrix (row-major) between
	// nq query vectors and nv database vectors, both flat with width dim.
	Matrix(ctx context.Context, queries, vectors []float32, dim int, metric model.Metric) ([]float32, error)
}

var (
	bestOnce sync.Once
	best     Compute
)

// Best returns the best available compute backend, detected once per
// process.
func Best() Compute {
	bestOnce.Do(func() {
		for _, c := range []Compute{cpuCompute{}} {
			if c.Available() {
				best = c
				break
			}
		}
	})
	return best
}

// cpuCompute is the portable fallback. Queries are fanned out across
// GOMAXPROCS workers.
type cpuCompute struct{}

func (cpuCompute) Name() string { return "cpu" }

func (cpuCompute) Available() bool { return true }

func (cpuCompute) Matrix(ctx context.Context, queries, vectors []float32, dim int, metric model.Metric) ([]float32, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("distance: dimension must be positive, got %d", dim)
	}
	if len(queries)%dim != 0 || len(vectors)%dim != 0 {
		return nil, fmt.Errorf("distance: flat input length not a multiple of dimension %d", dim)
	}

	nq := len(queries) / dim
	nv := len(vectors) / dim
	out := make([]float32, nq*nv)
	fn := ForMetric(metric)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for qi := 0; qi < nq; qi++ {
		qi := qi
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			q := queries[qi*dim : (qi+1)*dim]
			row := out[qi*nv : (qi+1)*nv]
			for vi := 0; vi < nv; vi++ {
				row[vi] = fn(q, vectors[vi*dim:(vi+1)*dim])
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
