package annbridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/annbridge/plan"
)

// Registry is the process-wide catalog of open indexes. It backs the
// query rewriter (as its plan.Catalog) and the programmatic maintenance
// entry points the host exposes.
//
// Unlike the indexes it holds, the registry is safe for concurrent use;
// registration and lookup happen outside the single-writer discipline.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*registration
	byTable map[string][]*registration
}

type registration struct {
	table  string
	column string
	index  *Index
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]*registration),
		byTable: make(map[string][]*registration),
	}
}

// Register adds an index under its table and indexed column. Names are
// unique across the registry.
func (r *Registry) Register(table, column string, idx *Index) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[idx.Name()]; exists {
		return fmt.Errorf("index %q is already registered", idx.Name())
	}
	reg := &registration{table: table, column: column, index: idx}
	r.byName[idx.Name()] = reg
	r.byTable[table] = append(r.byTable[table], reg)
	return nil
}

// Deregister removes an index by name. Unknown names are a no-op.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byName[name]
	if !ok {
		return
	}
	delete(r.byName, name)
	regs := r.byTable[reg.table]
	for idx, candidate := range regs {
		if candidate == reg {
			r.byTable[reg.table] = append(regs[:idx], regs[idx+1:]...)
			break
		}
	}
	if len(r.byTable[reg.table]) == 0 {
		delete(r.byTable, reg.table)
	}
}

// Get returns a registered index by name.
func (r *Registry) Get(name string) (*Index, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrIndexNotFound, name)
	}
	return reg.index, nil
}

// List returns an introspection snapshot of every registered index.
func (r *Registry) List() []IndexStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]IndexStats, 0, len(r.byName))
	for _, reg := range r.byName {
		stats := reg.index.Stats()
		stats.Table = reg.table
		stats.Column = reg.column
		out = append(out, stats)
	}
	return out
}

// IndexesFor implements plan.Catalog for the query rewriter.
func (r *Registry) IndexesFor(table string) []plan.IndexEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := r.byTable[table]
	entries := make([]plan.IndexEntry, 0, len(regs))
	for _, reg := range regs {
		entries = append(entries, plan.IndexEntry{
			Name:   reg.index.Name(),
			Table:  reg.table,
			Column: reg.column,
			Params: reg.index.Params(),
		})
	}
	return entries
}

// SearchTopK probes an index directly by name, independent of the
// rewrite path.
func (r *Registry) SearchTopK(ctx context.Context, name string, query []float32, k int) ([]SearchResult, error) {
	idx, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return idx.Search(ctx, query, k)
}

// BuildPartitionedIndex builds an IVF-style accelerator on the named
// index.
func (r *Registry) BuildPartitionedIndex(ctx context.Context, name string, numPartitions, numSubvectors int) error {
	idx, err := r.Get(name)
	if err != nil {
		return err
	}
	return idx.BuildPartitionedIndex(ctx, numPartitions, numSubvectors)
}

// BuildGraphIndex builds a graph accelerator on the named index.
func (r *Registry) BuildGraphIndex(ctx context.Context, name string, m, efConstruction int) error {
	idx, err := r.Get(name)
	if err != nil {
		return err
	}
	return idx.BuildGraphIndex(ctx, m, efConstruction)
}

// ExecuteScan runs a rewritten index probe and resolves the results to
// row ids. The scan's results stream in backend order; no re-sorting
// or re-limiting happens here.
func (r *Registry) ExecuteScan(ctx context.Context, scan *plan.IndexScan) ([]SearchResult, error) {
	idx, err := r.Get(scan.Index)
	if err != nil {
		return nil, err
	}
	return idx.SearchFiltered(ctx, scan.Query, scan.K, scan.Predicate)
}
