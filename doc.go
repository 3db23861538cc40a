// Package annbridge adapts a host table engine to an external vector
// backend.
//
// The host owns rows addressed by stable row ids; the backend stores
// vectors addressed by its own dense labels. The adapter keeps the two
// id spaces consistent across inserts, deletes, merges, compaction and
// crash recovery, and rewrites top-k distance queries into index
// probes.
//
// The pieces:
//
//   - Index: the lifecycle controller owning one vector index — its
//     identifier bridge, backend dataset handle and dirty state.
//   - Registry: the process-wide catalog of open indexes, which also
//     serves the query rewriter and the maintenance entry points.
//   - bridge: the row-id/label bijection with tombstone bookkeeping.
//   - blockstore: chunked metadata persistence over a host block
//     allocator, with the root pointer as the sole commit point.
//   - backend: the nine-operation contract an engine must implement;
//     backend/flat is the embedded reference engine.
//   - plan: the query-plan fragment model and the rewrite pass turning
//     ORDER BY distance LIMIT k into an index probe with predicate
//     pushdown.
//
// # Quick start
//
//	ctx := context.Background()
//	idx, err := annbridge.NewIndex(annbridge.Definition{
//	    Name:      "items_vec_idx",
//	    Table:     "items",
//	    Column:    "embedding",
//	    Dimension: 128,
//	    Options:   map[string]string{"metric": "cosine"},
//	})
//	if err != nil {
//	    panic(err)
//	}
//	defer idx.Close()
//
//	err = idx.Append(ctx, []int64{1, 2}, [][]float32{vec1, vec2})
//	results, err := idx.Search(ctx, query, 10)
//
// Structural mutations follow the host's single-writer discipline: the
// adapter performs no internal locking around Append, Delete, Merge,
// Vacuum or PersistToDisk.
package annbridge
