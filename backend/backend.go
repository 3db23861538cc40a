// Package backend defines the contract between the index lifecycle
// controller and an external vector engine.
//
// The engine is the single source of truth for vector payload bytes and
// for whether a label still resolves to a vector. The adapter consumes
// it through the narrow operation set below and assumes:
//
//   - AddBatch returns labels positionally matching the input order.
//   - Search returns at most k results in ascending distance order and
//     never returns deleted labels.
//   - DeleteBatch is idempotent on already-deleted labels.
//   - Previously returned live labels survive Compact until deleted.
package backend

import (
	"context"

	"github.com/hupe1980/annbridge/model"
)

// Engine creates, opens and destroys datasets.
type Engine interface {
	// Create creates a vector-only dataset at location.
	Create(ctx context.Context, location string, dimension int, metric model.Metric, dataset string) (Dataset, error)

	// CreateFromSchema creates a dataset carrying extra scalar columns
	// alongside each vector.
	CreateFromSchema(ctx context.Context, location string, dimension int, schema model.Schema, metric model.Metric, dataset string) (Dataset, error)

	// Open reopens an existing dataset. The extra-column schema is
	// derived from the stored dataset, not supplied by the caller.
	Open(ctx context.Context, location string, dataset string, metric model.Metric) (Dataset, error)

	// Destroy removes the dataset location recursively. Irreversible.
	Destroy(location string) error
}

// SearchParams are per-call tuning knobs passed through to the engine.
// Zero values select the engine defaults.
type SearchParams struct {
	NProbes      int
	RefineFactor int

	// Predicate is a filter in the engine's predicate language; empty
	// means unfiltered.
	Predicate string
}

// Match is one search hit.
type Match struct {
	Label    model.Label
	Distance float32
}

// Relabel records one label translation performed by Merge.
type Relabel struct {
	Old model.Label
	New model.Label
}

// Dataset is an open handle to one dataset. Handles are owned by
// exactly one index lifecycle controller and must be closed by it.
type Dataset interface {
	// Add stores a single vector and returns its label.
	Add(ctx context.Context, vector []float32) (model.Label, error)

	// AddBatch stores vectors and returns their labels in input order.
	AddBatch(ctx context.Context, vectors [][]float32) ([]model.Label, error)

	// AddColumnBatch stores vectors together with extra-column values.
	AddColumnBatch(ctx context.Context, batch model.Batch) ([]model.Label, error)

	// DeleteBatch makes labels invisible to future Search and Count.
	DeleteBatch(ctx context.Context, labels []model.Label) error

	// Search returns up to k matches in ascending distance order,
	// excluding deleted labels.
	Search(ctx context.Context, query []float32, k int, params SearchParams) ([]Match, error)

	// Merge copies the given live subset of source into this dataset
	// under fresh labels and reports the translations. Only supported
	// when the dataset carries extra columns.
	Merge(ctx context.Context, source Dataset, liveSourceLabels []model.Label) ([]Relabel, error)

	// Compact reclaims tombstoned storage. Live labels stay valid.
	Compact(ctx context.Context) error

	// BuildPartitionedIndex builds an IVF-style acceleration structure.
	BuildPartitionedIndex(ctx context.Context, numPartitions, numSubvectors int) error

	// BuildGraphIndex builds a graph-based acceleration structure.
	BuildGraphIndex(ctx context.Context, m, efConstruction int) error

	// Count returns the number of live vectors.
	Count(ctx context.Context) (int64, error)

	// ExportAll returns every stored vector with its label, including
	// labels the caller may since have tombstoned locally.
	ExportAll(ctx context.Context) ([]model.Label, [][]float32, error)

	// Dimension returns the vector width of the dataset.
	Dimension() int

	// HasExtraColumns reports whether the dataset carries extra columns.
	HasExtraColumns() bool

	// Schema returns the extra-column schema; nil for vector-only.
	Schema() model.Schema

	// Close releases the handle. The dataset stays on disk.
	Close() error
}
