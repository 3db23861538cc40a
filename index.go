package annbridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/annbridge/backend"
	"github.com/hupe1980/annbridge/blockstore"
	"github.com/hupe1980/annbridge/bridge"
	"github.com/hupe1980/annbridge/model"
	"golang.org/x/time/rate"
)

// datasetName is the backend dataset directory under an index location.
const datasetName = "main"

// Constraint is a table constraint attached to an index definition.
type Constraint uint8

const (
	// ConstraintNone is a plain index.
	ConstraintNone Constraint = iota
	// ConstraintUnique is a UNIQUE constraint.
	ConstraintUnique
	// ConstraintPrimaryKey is a PRIMARY KEY constraint.
	ConstraintPrimaryKey
	// ConstraintForeignKey is a FOREIGN KEY constraint.
	ConstraintForeignKey
)

// Definition is what the host hands over at CREATE INDEX time.
type Definition struct {
	Name   string
	Table  string
	Column string

	// Dimension is the arity of the indexed fixed-size float column.
	Dimension int

	// Constraint must be ConstraintNone; vector indexes cannot enforce
	// table constraints.
	Constraint Constraint

	// ExtraColumns are scalar columns stored alongside each vector so
	// predicates can be pushed into the backend. Empty means
	// vector-only storage.
	ExtraColumns model.Schema

	// Options are the DDL options: "metric", "nprobes",
	// "refine_factor". Absent options take their defaults.
	Options map[string]string
}

func (d Definition) params() (model.Params, error) {
	params := model.DefaultParams()
	params.Dimension = d.Dimension

	for key, value := range d.Options {
		switch key {
		case "metric":
			metric, err := model.ParseMetric(value)
			if err != nil {
				return params, err
			}
			params.Metric = metric
		case "nprobes":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return params, fmt.Errorf("option nprobes must be a positive integer, got %q", value)
			}
			params.NProbes = n
		case "refine_factor":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return params, fmt.Errorf("option refine_factor must be a positive integer, got %q", value)
			}
			params.RefineFactor = n
		default:
			return params, fmt.Errorf("unrecognized index option %q", key)
		}
	}
	return params, nil
}

// SearchResult is one nearest-neighbor hit, resolved to a host row id.
type SearchResult struct {
	RowID    model.RowID
	Distance float32
}

// IndexStats is the introspection snapshot of one index.
type IndexStats struct {
	Name        string
	Table       string
	Column      string
	Metric      model.Metric
	Dimension   int
	VectorCount int64
	Location    string
	Dirty       bool
}

// Index is the lifecycle controller for one vector index. It owns the
// identifier bridge, the backend dataset handle and the dirty state.
//
// Structural mutations (Append, Delete, Merge, Vacuum, PersistToDisk,
// Drop) must run under the host's index-maintenance lock; the
// controller performs no internal locking. Search may run concurrently
// with other Search calls only.
type Index struct {
	name   string
	table  string
	column string
	params model.Params
	schema model.Schema

	engine   backend.Engine
	alloc    blockstore.Allocator
	location string
	dataset  backend.Dataset

	bridge *bridge.Bridge

	// created tracks whether the backend dataset exists; it is made
	// lazily on the first Append so empty indexes cost nothing.
	created        bool
	dirty          bool
	pendingDeletes bool
	dropped        bool

	// root is the metadata chain head; stable once allocated, so the
	// host can store it as the index's single durable pointer.
	root   blockstore.Ref
	writer *blockstore.Writer

	logger     *Logger
	metrics    MetricsCollector
	desyncWarn rate.Sometimes
}

// NewIndex creates a fresh index from a DDL definition. Configuration
// errors (constraints, column arity, bad options) are rejected here,
// synchronously, and never retried.
func NewIndex(def Definition, optFns ...Option) (*Index, error) {
	if def.Constraint != ConstraintNone {
		return nil, fmt.Errorf("%w on index %q", ErrUnsupportedConstraint, def.Name)
	}
	if def.Column == "" {
		return nil, &ErrInvalidColumn{Column: def.Column, Reason: "no indexed column"}
	}
	if def.Dimension <= 0 {
		return nil, &ErrInvalidDimension{Dimension: def.Dimension}
	}
	if err := def.ExtraColumns.Validate(); err != nil {
		return nil, err
	}
	params, err := def.params()
	if err != nil {
		return nil, err
	}

	opts := applyOptions(optFns)
	location := opts.location
	if location == "" {
		location = newLocation(opts.baseDir, def.Name)
	}

	return &Index{
		name:       def.Name,
		table:      def.Table,
		column:     def.Column,
		params:     params,
		schema:     def.ExtraColumns,
		engine:     opts.engine,
		alloc:      opts.alloc,
		location:   location,
		bridge:     bridge.New(),
		logger:     opts.logger.WithIndex(def.Name),
		metrics:    opts.metrics,
		desyncWarn: rate.Sometimes{First: 3, Interval: time.Minute},
	}, nil
}

// LoadIndex reconstructs an index from a persisted image rooted at ref.
// The backend dataset is reopened from the stored path; its schema is
// derived from the dataset itself.
func LoadIndex(ctx context.Context, ref blockstore.Ref, optFns ...Option) (*Index, error) {
	opts := applyOptions(optFns)

	img, err := DecodeImage(blockstore.NewReader(opts.alloc, ref))
	if err != nil {
		return nil, fmt.Errorf("load index image: %w", err)
	}

	idx := &Index{
		name:       img.Name,
		params:     img.Params(),
		engine:     opts.engine,
		alloc:      opts.alloc,
		location:   img.Path,
		bridge:     bridge.FromForward(img.Forward),
		root:       ref,
		logger:     opts.logger.WithIndex(img.Name),
		metrics:    opts.metrics,
		desyncWarn: rate.Sometimes{First: 3, Interval: time.Minute},
	}
	if img.Path == "" {
		// Persisted before the first Append; the dataset does not
		// exist yet.
		idx.location = newLocation(opts.baseDir, img.Name)
		return idx, nil
	}

	dataset, err := opts.engine.Open(ctx, img.Path, datasetName, img.Metric)
	if err != nil {
		return nil, translateError("open", err)
	}
	idx.dataset = dataset
	idx.schema = dataset.Schema()
	idx.created = true
	return idx, nil
}

func newLocation(baseDir, name string) string {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return filepath.Join(baseDir, fmt.Sprintf("annbridge-%s-%s", name, uuid.NewString()))
}

// ensureDataset creates the backend dataset on first use.
func (i *Index) ensureDataset(ctx context.Context) error {
	if i.created {
		return nil
	}
	var (
		dataset backend.Dataset
		err     error
	)
	if len(i.schema) > 0 {
		dataset, err = i.engine.CreateFromSchema(ctx, i.location, i.params.Dimension, i.schema, i.params.Metric, datasetName)
	} else {
		dataset, err = i.engine.Create(ctx, i.location, i.params.Dimension, i.params.Metric, datasetName)
	}
	if err != nil {
		return err
	}
	i.dataset = dataset
	i.created = true
	i.dirty = true
	return nil
}

// Append stores vectors for the given row ids. On partial backend
// success the bridge records exactly the prefix of labels the backend
// returned, leaving earlier rows live and consistent.
func (i *Index) Append(ctx context.Context, rowIDs []model.RowID, vectors [][]float32) error {
	return i.append(ctx, rowIDs, model.Batch{Vectors: vectors})
}

// AppendColumns stores vectors with extra-column values for predicate
// pushdown. The batch's vectors correspond positionally to rowIDs.
func (i *Index) AppendColumns(ctx context.Context, rowIDs []model.RowID, batch model.Batch) error {
	return i.append(ctx, rowIDs, batch)
}

// Insert stores a single row.
func (i *Index) Insert(ctx context.Context, rowID model.RowID, vector []float32) error {
	return i.Append(ctx, []model.RowID{rowID}, [][]float32{vector})
}

func (i *Index) append(ctx context.Context, rowIDs []model.RowID, batch model.Batch) error {
	start := time.Now()
	recorded := 0
	err := func() error {
		if i.dropped {
			return ErrIndexDropped
		}
		if len(rowIDs) != batch.Len() {
			return fmt.Errorf("append: %d row ids for %d vectors", len(rowIDs), batch.Len())
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := i.ensureDataset(ctx); err != nil {
			return err
		}

		var (
			labels []model.Label
			err    error
		)
		if len(batch.Columns) > 0 {
			labels, err = i.dataset.AddColumnBatch(ctx, batch)
		} else {
			labels, err = i.dataset.AddBatch(ctx, batch.Vectors)
		}
		// Record whatever prefix succeeded even when the batch failed
		// midway; the backend holds those vectors either way.
		for idx, label := range labels {
			i.bridge.Record(rowIDs[idx], label)
			recorded++
		}
		if recorded > 0 {
			i.dirty = true
		}
		return err
	}()

	err = translateError("add_batch", err)
	i.metrics.RecordAppend(batch.Len(), recorded, time.Since(start), err)
	i.logger.LogAppend(ctx, batch.Len(), recorded, err)
	return err
}

// Delete tombstones the given rows in the bridge and makes their
// vectors invisible in the backend. Row ids not present in the bridge
// are skipped without error.
func (i *Index) Delete(ctx context.Context, rowIDs []model.RowID) error {
	start := time.Now()
	deleted := 0
	err := func() error {
		if i.dropped {
			return ErrIndexDropped
		}

		labels := make([]model.Label, 0, len(rowIDs))
		for _, rowID := range rowIDs {
			if label, ok := i.bridge.Tombstone(rowID); ok {
				labels = append(labels, label)
			}
		}
		deleted = len(labels)
		if deleted == 0 {
			return nil
		}
		i.dirty = true
		i.pendingDeletes = true
		if !i.created {
			return nil
		}
		return i.dataset.DeleteBatch(ctx, labels)
	}()

	err = translateError("delete_batch", err)
	i.metrics.RecordDelete(len(rowIDs), deleted, time.Since(start), err)
	i.logger.LogDelete(ctx, len(rowIDs), deleted, err)
	return err
}

// Search returns the k nearest rows to query in ascending distance
// order. A query of the wrong dimension returns an empty result, not
// an error; the host treats such probes as matching nothing.
func (i *Index) Search(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	return i.SearchFiltered(ctx, query, k, "")
}

// SearchFiltered is Search with a predicate in the backend's predicate
// language pushed into the probe.
func (i *Index) SearchFiltered(ctx context.Context, query []float32, k int, predicate string) ([]SearchResult, error) {
	start := time.Now()
	dropped := 0
	results, err := func() ([]SearchResult, error) {
		if i.dropped {
			return nil, ErrIndexDropped
		}
		if k <= 0 {
			return nil, ErrInvalidK
		}
		if !i.created || len(query) != i.params.Dimension {
			return nil, nil
		}

		matches, err := i.dataset.Search(ctx, query, k, backend.SearchParams{
			NProbes:      i.params.NProbes,
			RefineFactor: i.params.RefineFactor,
			Predicate:    predicate,
		})
		if err != nil {
			return nil, err
		}

		results := make([]SearchResult, 0, len(matches))
		for _, match := range matches {
			rowID, ok := i.bridge.Resolve(match.Label)
			if !ok {
				// Backend returned a label the bridge no longer knows.
				// Treated as recoverable staleness: drop the hit.
				dropped++
				continue
			}
			results = append(results, SearchResult{RowID: rowID, Distance: match.Distance})
		}
		return results, nil
	}()

	err = translateError("search", err)
	if dropped > 0 {
		i.desyncWarn.Do(func() {
			i.logger.WarnContext(ctx, "search returned labels unknown to the bridge",
				"dropped", dropped,
			)
		})
	}
	i.metrics.RecordSearch(k, dropped, time.Since(start), err)
	i.logger.LogSearch(ctx, k, len(results), err)
	return results, err
}

// Merge moves every live row of source into this index and leaves
// source empty. With extra-column storage the backend copies rows
// natively and reports the label translations; vector-only datasets
// fall back to export-and-reinsert. Row ids are preserved either way.
func (i *Index) Merge(ctx context.Context, source *Index) error {
	start := time.Now()
	moved := 0
	err := func() error {
		if i.dropped || source.dropped {
			return ErrIndexDropped
		}
		if source.params.Dimension != i.params.Dimension {
			return &ErrDimensionMismatch{Expected: i.params.Dimension, Actual: source.params.Dimension}
		}
		if !source.created || source.bridge.Live() == 0 {
			return nil
		}
		if err := i.ensureDataset(ctx); err != nil {
			return err
		}

		if i.dataset.HasExtraColumns() {
			liveLabels, _ := source.bridge.LiveSet()
			relabels, err := i.dataset.Merge(ctx, source.dataset, liveLabels)
			if err != nil {
				return err
			}
			for _, relabel := range relabels {
				rowID, ok := source.bridge.Resolve(relabel.Old)
				if !ok {
					continue
				}
				i.bridge.Record(rowID, relabel.New)
				moved++
			}
		} else {
			labels, vectors, err := source.dataset.ExportAll(ctx)
			if err != nil {
				return err
			}
			// The export may carry labels the source bridge has since
			// tombstoned (deletes not yet compacted away); only rows
			// the bridge still vouches for move.
			rowIDs := make([]model.RowID, 0, len(labels))
			liveVectors := make([][]float32, 0, len(labels))
			for idx, label := range labels {
				rowID, ok := source.bridge.Resolve(label)
				if !ok {
					continue
				}
				rowIDs = append(rowIDs, rowID)
				liveVectors = append(liveVectors, vectors[idx])
			}
			newLabels, err := i.dataset.AddBatch(ctx, liveVectors)
			for idx, label := range newLabels {
				i.bridge.Record(rowIDs[idx], label)
				moved++
			}
			if err != nil {
				return err
			}
		}

		i.dirty = true
		return source.clearAfterMerge(ctx)
	}()

	err = translateError("merge", err)
	i.metrics.RecordMerge(moved, time.Since(start), err)
	i.logger.LogMerge(ctx, source.name, moved, err)
	return err
}

// clearAfterMerge empties the source index once its rows have moved.
func (i *Index) clearAfterMerge(ctx context.Context) error {
	labels, _ := i.bridge.LiveSet()
	i.bridge.Rebuild(nil, nil)
	i.dirty = true
	if len(labels) == 0 || !i.created {
		return nil
	}
	i.pendingDeletes = true
	return i.dataset.DeleteBatch(ctx, labels)
}

// Vacuum compacts the backend dataset if deletes are pending. Labels
// survive compaction per the backend contract, so the bridge is left
// untouched.
func (i *Index) Vacuum(ctx context.Context) error {
	start := time.Now()
	compacted := false
	err := func() error {
		if i.dropped {
			return ErrIndexDropped
		}
		if !i.pendingDeletes || !i.created {
			return nil
		}
		if err := i.dataset.Compact(ctx); err != nil {
			return err
		}
		compacted = true
		i.pendingDeletes = false
		i.dirty = true
		return nil
	}()

	err = translateError("compact", err)
	i.metrics.RecordMaintenance("vacuum", time.Since(start), err)
	i.logger.LogVacuum(ctx, compacted, err)
	return err
}

// BuildPartitionedIndex asks the backend to build an IVF-style
// acceleration structure.
func (i *Index) BuildPartitionedIndex(ctx context.Context, numPartitions, numSubvectors int) error {
	start := time.Now()
	err := func() error {
		if i.dropped {
			return ErrIndexDropped
		}
		if err := i.ensureDataset(ctx); err != nil {
			return err
		}
		return i.dataset.BuildPartitionedIndex(ctx, numPartitions, numSubvectors)
	}()
	err = translateError("build_partitioned_index", err)
	i.metrics.RecordMaintenance("build_partitioned_index", time.Since(start), err)
	return err
}

// BuildGraphIndex asks the backend to build a graph-based acceleration
// structure.
func (i *Index) BuildGraphIndex(ctx context.Context, m, efConstruction int) error {
	start := time.Now()
	err := func() error {
		if i.dropped {
			return ErrIndexDropped
		}
		if err := i.ensureDataset(ctx); err != nil {
			return err
		}
		return i.dataset.BuildGraphIndex(ctx, m, efConstruction)
	}()
	err = translateError("build_graph_index", err)
	i.metrics.RecordMaintenance("build_graph_index", time.Since(start), err)
	return err
}

// PersistToDisk flushes the index image into the metadata block chain
// and returns the chain root. A clean index is a no-op returning the
// existing root. The root is allocated once and reused by every later
// flush, so committing it durably exactly once is enough; after that,
// a crash between flushes rolls back to the previous image.
func (i *Index) PersistToDisk(ctx context.Context) (blockstore.Ref, error) {
	start := time.Now()
	ref, err := func() (blockstore.Ref, error) {
		if i.dropped {
			return 0, ErrIndexDropped
		}
		// Nothing changed since the last flush: the chain already holds
		// the current image, so hand the root back without touching it.
		if !i.dirty && i.root.IsValid() {
			return i.root, nil
		}
		if !i.root.IsValid() {
			root, err := i.alloc.New()
			if err != nil {
				return 0, err
			}
			i.root = root
		}
		if i.writer == nil {
			i.writer = blockstore.NewWriter(i.alloc, i.root)
		}
		i.writer.Reset()

		img := &PersistentImage{
			Name:         i.name,
			Forward:      i.bridge.Forward(),
			Dimension:    i.params.Dimension,
			NProbes:      i.params.NProbes,
			RefineFactor: i.params.RefineFactor,
			Metric:       i.params.Metric,
		}
		if i.created {
			img.Path = i.location
		}
		if err := EncodeImage(i.writer, img); err != nil {
			return 0, err
		}
		i.dirty = false
		return i.root, nil
	}()

	err = translateError("persist", err)
	i.metrics.RecordPersist(time.Since(start), err)
	i.logger.LogPersist(ctx, i.bridge.Len(), err)
	return ref, err
}

// Drop destroys the backend dataset. The index accepts no further
// operations afterwards; the host removes the metadata chain.
func (i *Index) Drop(ctx context.Context) error {
	if i.dropped {
		return nil
	}
	if i.dataset != nil {
		i.dataset.Close()
		i.dataset = nil
	}
	i.dropped = true
	if !i.created {
		return nil
	}
	return translateError("destroy", i.engine.Destroy(i.location))
}

// Close releases the backend handle without destroying storage.
func (i *Index) Close() error {
	if i.dataset == nil {
		return nil
	}
	err := i.dataset.Close()
	i.dataset = nil
	return err
}

// Count returns the number of live rows as seen by the bridge.
func (i *Index) Count() int64 {
	return int64(i.bridge.Live())
}

// Name returns the index name.
func (i *Index) Name() string { return i.name }

// Params returns the fixed index parameters.
func (i *Index) Params() model.Params { return i.params }

// Dirty reports whether in-memory state has diverged from the last
// persisted image.
func (i *Index) Dirty() bool { return i.dirty }

// Stats returns the introspection snapshot.
func (i *Index) Stats() IndexStats {
	return IndexStats{
		Name:        i.name,
		Table:       i.table,
		Column:      i.column,
		Metric:      i.params.Metric,
		Dimension:   i.params.Dimension,
		VectorCount: int64(i.bridge.Live()),
		Location:    i.location,
		Dirty:       i.dirty,
	}
}
