package flat

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/annbridge/backend"
	"github.com/hupe1980/annbridge/distance"
	"github.com/hupe1980/annbridge/model"
	"github.com/hupe1980/annbridge/resource"
)

// Dataset holds one dataset's rows in struct-of-arrays form. Rows
// deleted via DeleteBatch stay in the arrays until Compact rewrites
// them; the live bitmap is the visibility authority.
type Dataset struct {
	mu sync.RWMutex

	dir  string
	meta meta

	labels   []model.Label
	vectors  []float32 // flat, len == len(labels)*dimension
	cols     map[string][]model.Value
	live     *roaring64.Bitmap
	labelPos map[model.Label]int

	nextLabel model.Label
	logFile   *os.File
	rc        *resource.Controller
	closed    bool
}

var _ backend.Dataset = (*Dataset)(nil)

func newDataset(dir string, m meta, logFile *os.File, rc *resource.Controller) *Dataset {
	d := &Dataset{
		dir:      dir,
		meta:     m,
		live:     roaring64.New(),
		labelPos: make(map[model.Label]int),
		logFile:  logFile,
		rc:       rc,
	}
	if len(m.Columns) > 0 {
		d.cols = make(map[string][]model.Value, len(m.Columns))
	}
	return d
}

// applyRows appends a decoded row block to the arrays and marks every
// label live. Replay-time deletes arrive in later frames.
func (d *Dataset) applyRows(rb rowBlock) {
	base := len(d.labels)
	d.labels = append(d.labels, rb.labels...)
	d.vectors = append(d.vectors, rb.vectors...)
	for _, col := range d.meta.Columns {
		d.cols[col.Name] = append(d.cols[col.Name], rb.cols[col.Name]...)
	}
	for i, l := range rb.labels {
		d.labelPos[l] = base + i
		d.live.Add(uint64(l))
		if l >= d.nextLabel {
			d.nextLabel = l + 1
		}
	}
}

// resetTo replaces the arrays with a snapshot's rows.
func (d *Dataset) resetTo(rb rowBlock, nextLabel model.Label) {
	d.labels = rb.labels
	d.vectors = rb.vectors
	d.live = roaring64.New()
	d.labelPos = make(map[model.Label]int, len(rb.labels))
	if len(d.meta.Columns) > 0 {
		d.cols = make(map[string][]model.Value, len(d.meta.Columns))
		for _, col := range d.meta.Columns {
			d.cols[col.Name] = rb.cols[col.Name]
		}
	}
	for i, l := range rb.labels {
		d.labelPos[l] = i
		d.live.Add(uint64(l))
	}
	d.nextLabel = nextLabel
	if n := len(rb.labels); n > 0 && rb.labels[n-1] >= d.nextLabel {
		d.nextLabel = rb.labels[n-1] + 1
	}
}

func (d *Dataset) appendFrame(ft frameType, payload []byte) error {
	frame, err := encodeFrame(ft, payload)
	if err != nil {
		return err
	}
	if _, err := d.logFile.Write(frame); err != nil {
		return err
	}
	return d.logFile.Sync()
}

// Add stores a single vector and returns its label.
func (d *Dataset) Add(ctx context.Context, vector []float32) (model.Label, error) {
	labels, err := d.AddBatch(ctx, [][]float32{vector})
	if err != nil {
		return 0, err
	}
	return labels[0], nil
}

// AddBatch stores vectors and returns their labels in input order.
// On a dataset with extra columns every column is stored as null.
func (d *Dataset) AddBatch(ctx context.Context, vectors [][]float32) ([]model.Label, error) {
	return d.addRows(ctx, "add_batch", vectors, nil)
}

// AddColumnBatch stores vectors together with extra-column values.
func (d *Dataset) AddColumnBatch(ctx context.Context, batch model.Batch) ([]model.Label, error) {
	for name, values := range batch.Columns {
		if _, ok := d.meta.Columns.Column(name); !ok {
			return nil, backend.Errorf("add_column_batch", "unknown extra column %q", name)
		}
		if len(values) != batch.Len() {
			return nil, backend.Errorf("add_column_batch", "column %q has %d values for %d rows", name, len(values), batch.Len())
		}
	}
	return d.addRows(ctx, "add_column_batch", batch.Vectors, batch.Columns)
}

func (d *Dataset) addRows(ctx context.Context, op string, vectors [][]float32, cols map[string][]model.Value) ([]model.Label, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, backend.Errorf(op, "dataset is closed")
	}

	dim := d.meta.Dimension
	rb := rowBlock{
		labels:  make([]model.Label, len(vectors)),
		vectors: make([]float32, 0, len(vectors)*dim),
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, backend.Errorf(op, "vector %d has dimension %d, want %d", i, len(v), dim)
		}
		rb.labels[i] = d.nextLabel + model.Label(i)
		rb.vectors = append(rb.vectors, v...)
	}
	if len(d.meta.Columns) > 0 {
		rb.cols = make(map[string][]model.Value, len(d.meta.Columns))
		for _, col := range d.meta.Columns {
			values := cols[col.Name]
			if values == nil {
				values = make([]model.Value, len(vectors))
				for i := range values {
					values[i] = model.Null()
				}
			}
			rb.cols[col.Name] = values
		}
	}

	var buf bytes.Buffer
	encodeRowBlock(&buf, rb, dim, d.meta.Columns)
	if err := d.appendFrame(frameAdd, buf.Bytes()); err != nil {
		return nil, backend.Wrap(op, err)
	}

	d.applyRows(rb)
	return rb.labels, nil
}

// DeleteBatch makes labels invisible to Search and Count. Unknown or
// already-deleted labels are ignored.
func (d *Dataset) DeleteBatch(ctx context.Context, labels []model.Label) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return backend.Errorf("delete_batch", "dataset is closed")
	}

	removed := make([]model.Label, 0, len(labels))
	for _, l := range labels {
		if d.live.Contains(uint64(l)) {
			removed = append(removed, l)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	var buf bytes.Buffer
	encodeDeleteBlock(&buf, removed)
	if err := d.appendFrame(frameDelete, buf.Bytes()); err != nil {
		return backend.Wrap("delete_batch", err)
	}
	for _, l := range removed {
		d.live.Remove(uint64(l))
	}
	return nil
}

// Search scans every live row, applies the optional predicate and
// returns the k nearest matches in ascending distance order. Equal
// distances order by label so results are deterministic.
func (d *Dataset) Search(ctx context.Context, query []float32, k int, params backend.SearchParams) ([]backend.Match, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, backend.Errorf("search", "dataset is closed")
	}
	if len(query) != d.meta.Dimension {
		return nil, backend.Errorf("search", "query dimension %d does not match dataset dimension %d", len(query), d.meta.Dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	pred, err := ParsePredicate(params.Predicate)
	if err != nil {
		return nil, backend.Wrap("search", err)
	}

	dim := d.meta.Dimension
	fn := distance.ForMetric(d.meta.Metric)
	matches := make([]backend.Match, 0, k)

	it := d.live.Iterator()
	for it.HasNext() {
		if err := ctx.Err(); err != nil {
			return nil, backend.Wrap("search", err)
		}
		label := model.Label(it.Next())
		pos := d.labelPos[label]
		if pred != nil && !pred.Eval(d.rowAccessor(pos)) {
			continue
		}
		v := d.vectors[pos*dim : (pos+1)*dim]
		matches = append(matches, backend.Match{Label: label, Distance: fn(query, v)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Label < matches[j].Label
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (d *Dataset) rowAccessor(pos int) RowAccessor {
	return func(column string) (model.Value, bool) {
		values, ok := d.cols[column]
		if !ok || pos >= len(values) {
			return model.Value{}, false
		}
		return values[pos], true
	}
}

// Merge copies the given live subset of source into this dataset under
// fresh labels. Only datasets with extra columns support it; the
// vector-only path goes through ExportAll instead.
func (d *Dataset) Merge(ctx context.Context, source backend.Dataset, liveSourceLabels []model.Label) ([]backend.Relabel, error) {
	if !d.HasExtraColumns() {
		return nil, backend.Errorf("merge", "merge requires a dataset with extra columns")
	}
	src, ok := source.(*Dataset)
	if !ok {
		return nil, backend.Errorf("merge", "source dataset is not a flat dataset")
	}
	if src.meta.Dimension != d.meta.Dimension {
		return nil, backend.Errorf("merge", "source dimension %d does not match %d", src.meta.Dimension, d.meta.Dimension)
	}

	src.mu.RLock()
	dim := src.meta.Dimension
	vectors := make([][]float32, 0, len(liveSourceLabels))
	cols := make(map[string][]model.Value, len(d.meta.Columns))
	olds := make([]model.Label, 0, len(liveSourceLabels))
	for _, l := range liveSourceLabels {
		if !src.live.Contains(uint64(l)) {
			continue
		}
		pos := src.labelPos[l]
		v := make([]float32, dim)
		copy(v, src.vectors[pos*dim:(pos+1)*dim])
		vectors = append(vectors, v)
		for _, col := range d.meta.Columns {
			cv, ok := src.rowAccessor(pos)(col.Name)
			if !ok {
				cv = model.Null()
			}
			cols[col.Name] = append(cols[col.Name], cv)
		}
		olds = append(olds, l)
	}
	src.mu.RUnlock()

	news, err := d.addRows(ctx, "merge", vectors, cols)
	if err != nil {
		return nil, err
	}
	relabels := make([]backend.Relabel, len(olds))
	for i := range olds {
		relabels[i] = backend.Relabel{Old: olds[i], New: news[i]}
	}
	return relabels, nil
}

// Compact rewrites the arrays and the log keeping only live rows.
// Labels are preserved. Runs under the resource controller's
// maintenance limits.
func (d *Dataset) Compact(ctx context.Context) error {
	if err := d.rc.AcquireJob(ctx); err != nil {
		return backend.Wrap("compact", err)
	}
	defer d.rc.ReleaseJob()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return backend.Errorf("compact", "dataset is closed")
	}

	dim := d.meta.Dimension
	rb := rowBlock{}
	if len(d.meta.Columns) > 0 {
		rb.cols = make(map[string][]model.Value, len(d.meta.Columns))
	}
	it := d.live.Iterator()
	for it.HasNext() {
		label := model.Label(it.Next())
		pos := d.labelPos[label]
		rb.labels = append(rb.labels, label)
		rb.vectors = append(rb.vectors, d.vectors[pos*dim:(pos+1)*dim]...)
		for _, col := range d.meta.Columns {
			rb.cols[col.Name] = append(rb.cols[col.Name], d.cols[col.Name][pos])
		}
	}

	var buf bytes.Buffer
	putUint64(&buf, uint64(d.nextLabel))
	encodeRowBlock(&buf, rb, dim, d.meta.Columns)
	frame, err := encodeFrame(frameSnapshot, buf.Bytes())
	if err != nil {
		return backend.Wrap("compact", err)
	}

	// Snapshot into a fresh log and rename over the old one; the rename
	// is the point where the pre-compaction history disappears.
	tmpPath := filepath.Join(d.dir, logFileName+".tmp")
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return backend.Wrap("compact", err)
	}
	w := resource.NewRateLimitedWriter(ctx, tmp, d.rc)
	if _, err := w.Write(frame); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return backend.Wrap("compact", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return backend.Wrap("compact", err)
	}
	if err := tmp.Close(); err != nil {
		return backend.Wrap("compact", err)
	}

	logPath := filepath.Join(d.dir, logFileName)
	d.logFile.Close()
	if err := os.Rename(tmpPath, logPath); err != nil {
		return backend.Wrap("compact", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return backend.Wrap("compact", err)
	}
	d.logFile = logFile

	d.resetTo(rb, d.nextLabel)
	return nil
}

// BuildPartitionedIndex records an IVF-style accelerator request. The
// flat engine keeps scanning exhaustively.
func (d *Dataset) BuildPartitionedIndex(ctx context.Context, numPartitions, numSubvectors int) error {
	return d.recordAccelerator(ctx, accelerator{
		Kind:          "ivf",
		NumPartitions: numPartitions,
		NumSubvectors: numSubvectors,
	})
}

// BuildGraphIndex records a graph accelerator request.
func (d *Dataset) BuildGraphIndex(ctx context.Context, m, efConstruction int) error {
	return d.recordAccelerator(ctx, accelerator{
		Kind:           "graph",
		M:              m,
		EfConstruction: efConstruction,
	})
}

func (d *Dataset) recordAccelerator(ctx context.Context, acc accelerator) error {
	if err := d.rc.AcquireJob(ctx); err != nil {
		return backend.Wrap("build_index", err)
	}
	defer d.rc.ReleaseJob()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return backend.Errorf("build_index", "dataset is closed")
	}
	d.meta.Accelerators = append(d.meta.Accelerators, acc)
	return backend.Wrap("build_index", writeMeta(d.dir, d.meta))
}

// Count returns the number of live vectors.
func (d *Dataset) Count(ctx context.Context) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0, backend.Errorf("count", "dataset is closed")
	}
	return int64(d.live.GetCardinality()), nil
}

// ExportAll returns every live vector with its label in ascending label
// order.
func (d *Dataset) ExportAll(ctx context.Context) ([]model.Label, [][]float32, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, nil, backend.Errorf("export_all", "dataset is closed")
	}

	dim := d.meta.Dimension
	n := int(d.live.GetCardinality())
	labels := make([]model.Label, 0, n)
	vectors := make([][]float32, 0, n)
	it := d.live.Iterator()
	for it.HasNext() {
		label := model.Label(it.Next())
		pos := d.labelPos[label]
		v := make([]float32, dim)
		copy(v, d.vectors[pos*dim:(pos+1)*dim])
		labels = append(labels, label)
		vectors = append(vectors, v)
	}
	return labels, vectors, nil
}

// Dimension returns the vector width of the dataset.
func (d *Dataset) Dimension() int { return d.meta.Dimension }

// HasExtraColumns reports whether the dataset carries extra columns.
func (d *Dataset) HasExtraColumns() bool { return len(d.meta.Columns) > 0 }

// Schema returns the extra-column schema; nil for vector-only.
func (d *Dataset) Schema() model.Schema { return d.meta.Columns }

// Close releases the log handle. The dataset stays on disk.
func (d *Dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.logFile != nil {
		return d.logFile.Close()
	}
	return nil
}
