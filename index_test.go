package annbridge

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/annbridge/backend"
	"github.com/hupe1980/annbridge/backend/flat"
	"github.com/hupe1980/annbridge/blockstore"
	"github.com/hupe1980/annbridge/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTestEngine() backend.Engine { return flat.NewEngine() }

func testDefinition() Definition {
	return Definition{
		Name:      "items_vec_idx",
		Table:     "items",
		Column:    "embedding",
		Dimension: 3,
	}
}

func newTestIndex(t *testing.T, def Definition, optFns ...Option) *Index {
	t.Helper()
	optFns = append(optFns, WithBaseDir(t.TempDir()))
	idx, err := NewIndex(def, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestSearchLifecycleScenario(t *testing.T) {
	idx := newTestIndex(t, testDefinition())
	ctx := context.Background()

	err := idx.Append(ctx, []model.RowID{1, 2, 3}, [][]float32{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), idx.Count())

	results, err := idx.Search(ctx, []float32{0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, model.RowID(1), results[0].RowID)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-6)
	assert.Equal(t, model.RowID(2), results[1].RowID)
	assert.InDelta(t, 1.0, results[1].Distance, 1e-6)

	require.NoError(t, idx.Delete(ctx, []model.RowID{1}))

	results, err = idx.Search(ctx, []float32{0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, model.RowID(2), results[0].RowID)
	assert.InDelta(t, 1.0, results[0].Distance, 1e-6)
	assert.Equal(t, model.RowID(3), results[1].RowID)
	assert.InDelta(t, 4.0, results[1].Distance, 1e-6)
}

func TestSearchWrongDimensionReturnsEmpty(t *testing.T) {
	idx := newTestIndex(t, testDefinition())
	ctx := context.Background()

	require.NoError(t, idx.Insert(ctx, 1, []float32{0, 0, 0}))

	results, err := idx.Search(ctx, []float32{0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchInvalidK(t *testing.T) {
	idx := newTestIndex(t, testDefinition())
	_, err := idx.Search(context.Background(), []float32{0, 0, 0}, 0)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestSearchBeforeFirstAppend(t *testing.T) {
	idx := newTestIndex(t, testDefinition())
	results, err := idx.Search(context.Background(), []float32{0, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDeleteAbsentRowIsNoop(t *testing.T) {
	idx := newTestIndex(t, testDefinition())
	ctx := context.Background()

	require.NoError(t, idx.Delete(ctx, []model.RowID{42}))
	assert.Equal(t, int64(0), idx.Count())
	assert.False(t, idx.Dirty())
}

func TestDefinitionValidation(t *testing.T) {
	def := testDefinition()
	def.Constraint = ConstraintUnique
	_, err := NewIndex(def)
	assert.ErrorIs(t, err, ErrUnsupportedConstraint)

	def = testDefinition()
	def.Dimension = 0
	_, err = NewIndex(def)
	var invalidDim *ErrInvalidDimension
	assert.ErrorAs(t, err, &invalidDim)

	def = testDefinition()
	def.Column = ""
	_, err = NewIndex(def)
	var invalidCol *ErrInvalidColumn
	assert.ErrorAs(t, err, &invalidCol)

	def = testDefinition()
	def.Options = map[string]string{"metric": "hamming"}
	_, err = NewIndex(def)
	assert.Error(t, err)

	def = testDefinition()
	def.Options = map[string]string{"nprobes": "-1"}
	_, err = NewIndex(def)
	assert.Error(t, err)

	def = testDefinition()
	def.Options = map[string]string{"bogus": "1"}
	_, err = NewIndex(def)
	assert.Error(t, err)
}

func TestDefinitionOptionDefaultsAndSpellings(t *testing.T) {
	idx := newTestIndex(t, testDefinition())
	params := idx.Params()
	assert.Equal(t, model.MetricL2, params.Metric)
	assert.Equal(t, model.DefaultNProbes, params.NProbes)
	assert.Equal(t, model.DefaultRefineFactor, params.RefineFactor)

	def := testDefinition()
	def.Name = "ip_idx"
	def.Options = map[string]string{"metric": "ip", "nprobes": "7", "refine_factor": "3"}
	idx = newTestIndex(t, def)
	params = idx.Params()
	assert.Equal(t, model.MetricDot, params.Metric)
	assert.Equal(t, 7, params.NProbes)
	assert.Equal(t, 3, params.RefineFactor)
}

func TestDirtyFlagLifecycle(t *testing.T) {
	idx := newTestIndex(t, testDefinition())
	ctx := context.Background()

	assert.False(t, idx.Dirty())
	require.NoError(t, idx.Insert(ctx, 1, []float32{0, 0, 0}))
	assert.True(t, idx.Dirty())

	_, err := idx.PersistToDisk(ctx)
	require.NoError(t, err)
	assert.False(t, idx.Dirty())

	require.NoError(t, idx.Delete(ctx, []model.RowID{1}))
	assert.True(t, idx.Dirty())
}

func TestPersistRootIsStableAcrossFlushes(t *testing.T) {
	idx := newTestIndex(t, testDefinition())
	ctx := context.Background()

	require.NoError(t, idx.Insert(ctx, 1, []float32{0, 0, 0}))
	first, err := idx.PersistToDisk(ctx)
	require.NoError(t, err)

	require.NoError(t, idx.Insert(ctx, 2, []float32{1, 0, 0}))
	second, err := idx.PersistToDisk(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// flushCountingAlloc counts for-write block accesses so tests can see
// whether a flush actually rewrote the chain.
type flushCountingAlloc struct {
	*blockstore.Memory
	writes int
}

func (a *flushCountingAlloc) Get(ref blockstore.Ref, forWrite bool) ([]byte, error) {
	if forWrite {
		a.writes++
	}
	return a.Memory.Get(ref, forWrite)
}

func TestPersistIsNoopWhenClean(t *testing.T) {
	ctx := context.Background()
	alloc := &flushCountingAlloc{Memory: blockstore.NewMemory(blockstore.DefaultBlockSize)}
	idx := newTestIndex(t, testDefinition(), WithAllocator(alloc))

	require.NoError(t, idx.Insert(ctx, 1, []float32{0, 0, 0}))
	first, err := idx.PersistToDisk(ctx)
	require.NoError(t, err)
	flushed := alloc.writes
	require.Positive(t, flushed)

	// Clean index: the chain must not be touched again.
	second, err := idx.PersistToDisk(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, flushed, alloc.writes)

	// Any mutation dirties the index and the next flush writes again.
	require.NoError(t, idx.Delete(ctx, []model.RowID{1}))
	third, err := idx.PersistToDisk(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, third)
	assert.Greater(t, alloc.writes, flushed)
}

func TestPersistAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	alloc := blockstore.NewMemory(blockstore.DefaultBlockSize)
	baseDir := t.TempDir()

	idx, err := NewIndex(testDefinition(), WithAllocator(alloc), WithBaseDir(baseDir))
	require.NoError(t, err)

	err = idx.Append(ctx, []model.RowID{100, 200, 300}, [][]float32{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}})
	require.NoError(t, err)
	require.NoError(t, idx.Delete(ctx, []model.RowID{200}))

	ref, err := idx.PersistToDisk(ctx)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	loaded, err := LoadIndex(ctx, ref, WithAllocator(alloc))
	require.NoError(t, err)
	defer loaded.Close()

	assert.Equal(t, "items_vec_idx", loaded.Name())
	assert.Equal(t, int64(2), loaded.Count())
	assert.Equal(t, idx.Params(), loaded.Params())

	results, err := loaded.Search(ctx, []float32{0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, model.RowID(100), results[0].RowID)
	assert.Equal(t, model.RowID(300), results[1].RowID)
}

func TestPersistBeforeFirstAppend(t *testing.T) {
	ctx := context.Background()
	alloc := blockstore.NewMemory(blockstore.DefaultBlockSize)

	idx, err := NewIndex(testDefinition(), WithAllocator(alloc), WithBaseDir(t.TempDir()))
	require.NoError(t, err)

	ref, err := idx.PersistToDisk(ctx)
	require.NoError(t, err)

	loaded, err := LoadIndex(ctx, ref, WithAllocator(alloc), WithBaseDir(t.TempDir()))
	require.NoError(t, err)
	defer loaded.Close()

	assert.Equal(t, int64(0), loaded.Count())
	results, err := loaded.Search(ctx, []float32{0, 0, 0}, 1)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVacuumCompactsOnlyWithPendingDeletes(t *testing.T) {
	idx := newTestIndex(t, testDefinition())
	ctx := context.Background()

	require.NoError(t, idx.Insert(ctx, 1, []float32{0, 0, 0}))
	_, err := idx.PersistToDisk(ctx)
	require.NoError(t, err)

	// No pending deletes: vacuum must not touch anything.
	require.NoError(t, idx.Vacuum(ctx))
	assert.False(t, idx.Dirty())

	require.NoError(t, idx.Delete(ctx, []model.RowID{1}))
	require.NoError(t, idx.Vacuum(ctx))
	assert.True(t, idx.Dirty())

	// A second vacuum has nothing left to compact.
	_, err = idx.PersistToDisk(ctx)
	require.NoError(t, err)
	require.NoError(t, idx.Vacuum(ctx))
	assert.False(t, idx.Dirty())
}

func TestMergeVectorOnly(t *testing.T) {
	ctx := context.Background()
	target := newTestIndex(t, testDefinition())

	srcDef := testDefinition()
	srcDef.Name = "staging_idx"
	source := newTestIndex(t, srcDef)

	require.NoError(t, target.Append(ctx, []model.RowID{1}, [][]float32{{0, 0, 0}}))
	require.NoError(t, source.Append(ctx, []model.RowID{2, 3}, [][]float32{{1, 0, 0}, {2, 0, 0}}))
	require.NoError(t, source.Delete(ctx, []model.RowID{3}))

	require.NoError(t, target.Merge(ctx, source))

	assert.Equal(t, int64(2), target.Count())
	assert.Equal(t, int64(0), source.Count())

	results, err := target.Search(ctx, []float32{0, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, model.RowID(1), results[0].RowID)
	assert.Equal(t, model.RowID(2), results[1].RowID)
}

func TestMergeExtraColumns(t *testing.T) {
	ctx := context.Background()
	schema := model.Schema{{Name: "price", Type: model.TypeInt}}

	def := testDefinition()
	def.ExtraColumns = schema
	target := newTestIndex(t, def)

	srcDef := testDefinition()
	srcDef.Name = "staging_idx"
	srcDef.ExtraColumns = schema
	source := newTestIndex(t, srcDef)

	err := source.AppendColumns(ctx, []model.RowID{7, 8}, model.Batch{
		Vectors: [][]float32{{1, 0, 0}, {2, 0, 0}},
		Columns: map[string][]model.Value{"price": {model.Int(10), model.Int(20)}},
	})
	require.NoError(t, err)

	require.NoError(t, target.Merge(ctx, source))
	assert.Equal(t, int64(2), target.Count())
	assert.Equal(t, int64(0), source.Count())

	results, err := target.SearchFiltered(ctx, []float32{0, 0, 0}, 10, "price = 20")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.RowID(8), results[0].RowID)
}

// Chained merges compose: merging A into B and then B into C leaves C
// holding exactly the union of the three indexes' live rows, for both
// merge strategies.
func TestMergeChainsAccumulateLiveRows(t *testing.T) {
	ctx := context.Background()

	build := func(t *testing.T, name string, schema model.Schema) *Index {
		def := testDefinition()
		def.Name = name
		def.ExtraColumns = schema
		return newTestIndex(t, def)
	}
	appendRows := func(t *testing.T, idx *Index, schema model.Schema, rowIDs []model.RowID, vectors [][]float32) {
		if len(schema) == 0 {
			require.NoError(t, idx.Append(ctx, rowIDs, vectors))
			return
		}
		prices := make([]model.Value, len(rowIDs))
		for i, id := range rowIDs {
			prices[i] = model.Int(id)
		}
		require.NoError(t, idx.AppendColumns(ctx, rowIDs, model.Batch{
			Vectors: vectors,
			Columns: map[string][]model.Value{"price": prices},
		}))
	}

	for _, tc := range []struct {
		name   string
		schema model.Schema
	}{
		{name: "vector only", schema: nil},
		{name: "extra columns", schema: model.Schema{{Name: "price", Type: model.TypeInt}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := build(t, "idx_a", tc.schema)
			b := build(t, "idx_b", tc.schema)
			c := build(t, "idx_c", tc.schema)

			appendRows(t, a, tc.schema, []model.RowID{1, 2}, [][]float32{{1, 0, 0}, {2, 0, 0}})
			appendRows(t, b, tc.schema, []model.RowID{3, 4}, [][]float32{{3, 0, 0}, {4, 0, 0}})
			appendRows(t, c, tc.schema, []model.RowID{5}, [][]float32{{5, 0, 0}})
			require.NoError(t, a.Delete(ctx, []model.RowID{2}))

			require.NoError(t, b.Merge(ctx, a))
			require.NoError(t, c.Merge(ctx, b))

			assert.Equal(t, int64(0), a.Count())
			assert.Equal(t, int64(0), b.Count())
			assert.Equal(t, int64(4), c.Count())

			results, err := c.Search(ctx, []float32{0, 0, 0}, 10)
			require.NoError(t, err)
			require.Len(t, results, 4)
			got := make([]model.RowID, len(results))
			for i, r := range results {
				got[i] = r.RowID
			}
			assert.ElementsMatch(t, []model.RowID{1, 3, 4, 5}, got)

			// Every surviving row keeps its own vector.
			for _, want := range []model.RowID{1, 3, 4, 5} {
				hits, err := c.Search(ctx, []float32{float32(want), 0, 0}, 1)
				require.NoError(t, err)
				require.Len(t, hits, 1)
				assert.Equal(t, want, hits[0].RowID)
				assert.InDelta(t, 0.0, hits[0].Distance, 1e-6)
			}
		})
	}
}

func TestMergeDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	target := newTestIndex(t, testDefinition())

	srcDef := testDefinition()
	srcDef.Name = "wide_idx"
	srcDef.Dimension = 4
	source := newTestIndex(t, srcDef)

	var dm *ErrDimensionMismatch
	assert.ErrorAs(t, target.Merge(ctx, source), &dm)
}

func TestDropRejectsFurtherOperations(t *testing.T) {
	idx := newTestIndex(t, testDefinition())
	ctx := context.Background()

	require.NoError(t, idx.Insert(ctx, 1, []float32{0, 0, 0}))
	require.NoError(t, idx.Drop(ctx))
	require.NoError(t, idx.Drop(ctx)) // idempotent

	assert.ErrorIs(t, idx.Insert(ctx, 2, []float32{1, 0, 0}), ErrIndexDropped)
	_, err := idx.Search(ctx, []float32{0, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrIndexDropped)
	assert.ErrorIs(t, idx.Vacuum(ctx), ErrIndexDropped)
	_, err = idx.PersistToDisk(ctx)
	assert.ErrorIs(t, err, ErrIndexDropped)
}

// partialEngine fails AddBatch midway but still returns the labels of
// the prefix it stored, mimicking a backend with partial batch success.
type partialEngine struct {
	backend.Engine
	failAfter int
}

type partialDataset struct {
	backend.Dataset
	failAfter int
}

func (e *partialEngine) Create(ctx context.Context, location string, dimension int, metric model.Metric, dataset string) (backend.Dataset, error) {
	ds, err := e.Engine.Create(ctx, location, dimension, metric, dataset)
	if err != nil {
		return nil, err
	}
	return &partialDataset{Dataset: ds, failAfter: e.failAfter}, nil
}

func (d *partialDataset) AddBatch(ctx context.Context, vectors [][]float32) ([]model.Label, error) {
	if len(vectors) <= d.failAfter {
		return d.Dataset.AddBatch(ctx, vectors)
	}
	labels, err := d.Dataset.AddBatch(ctx, vectors[:d.failAfter])
	if err != nil {
		return nil, err
	}
	return labels, errors.New("backend ran out of space")
}

func TestAppendPartialBatchRecordsPrefix(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, testDefinition(), WithEngine(&partialEngine{
		Engine:    defaultTestEngine(),
		failAfter: 2,
	}))

	err := idx.Append(ctx, []model.RowID{1, 2, 3}, [][]float32{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}})
	require.Error(t, err)
	var be *backend.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "add_batch", be.Op)

	// The two stored rows stay live and searchable.
	assert.Equal(t, int64(2), idx.Count())
	results, searchErr := idx.Search(ctx, []float32{0, 0, 0}, 3)
	require.NoError(t, searchErr)
	require.Len(t, results, 2)
	assert.Equal(t, model.RowID(1), results[0].RowID)
	assert.Equal(t, model.RowID(2), results[1].RowID)
}
