package plan

import (
	"strings"

	"github.com/hupe1980/annbridge/model"
)

// IndexEntry describes one vector index known to the catalog.
type IndexEntry struct {
	Name   string
	Table  string
	Column string
	Params model.Params
}

// Catalog resolves which vector indexes exist on a table.
type Catalog interface {
	IndexesFor(table string) []IndexEntry
}

// Rewrite turns a matching top-k distance query into an index probe.
// It tries the pattern at every node walking down the tree and returns
// the (possibly rebuilt) tree plus whether anything changed. A tree
// that does not match comes back untouched.
func Rewrite(node Node, cat Catalog) (Node, bool) {
	if out, ok := rewriteTopK(node, cat); ok {
		return out, true
	}
	switch n := node.(type) {
	case *Limit:
		if child, ok := Rewrite(n.Input, cat); ok {
			cp := *n
			cp.Input = child
			return &cp, true
		}
	case *Order:
		if child, ok := Rewrite(n.Input, cat); ok {
			cp := *n
			cp.Input = child
			return &cp, true
		}
	case *Filter:
		if child, ok := Rewrite(n.Input, cat); ok {
			cp := *n
			cp.Input = child
			return &cp, true
		}
	case *Projection:
		if child, ok := Rewrite(n.Input, cat); ok {
			cp := *n
			cp.Input = child
			return &cp, true
		}
	}
	return node, false
}

// rewriteTopK matches Limit -> Order -> [Projection] -> [Filter] -> Get
// rooted at node. Any deviation from the pattern aborts: multiple or
// descending sort keys, a non-zero or non-constant offset, a
// non-constant limit or query vector, or a missing matching index.
func rewriteTopK(node Node, cat Catalog) (Node, bool) {
	limit, ok := node.(*Limit)
	if !ok {
		return nil, false
	}
	k, ok := constantInt(limit.Limit)
	if !ok || k < 0 {
		return nil, false
	}
	if limit.Offset != nil {
		off, ok := constantInt(limit.Offset)
		if !ok || off != 0 {
			return nil, false
		}
	}

	order, ok := limit.Input.(*Order)
	if !ok || len(order.Keys) != 1 || order.Keys[0].Order != Ascending {
		return nil, false
	}
	col, query, metric, ok := matchDistanceKey(order.Keys[0].Expr)
	if !ok {
		return nil, false
	}

	// Walk through at most one Projection and one Filter, in either
	// nesting order, down to the base table scan.
	var proj *Projection
	var filter *Filter
	cur := order.Input
walk:
	for {
		switch n := cur.(type) {
		case *Projection:
			if proj != nil {
				return nil, false
			}
			proj = n
			cur = n.Input
		case *Filter:
			if filter != nil {
				return nil, false
			}
			filter = n
			cur = n.Input
		case *Get:
			break walk
		default:
			return nil, false
		}
	}
	get := cur.(*Get)

	entry, ok := findIndex(cat, get.Table, col, metric)
	if !ok {
		return nil, false
	}

	pushed, residual := pushdown(filter)
	var out Node = &IndexScan{
		Table:     get.Table,
		Index:     entry.Name,
		Query:     query,
		K:         k,
		Predicate: pushed,
		Params:    entry.Params,
	}
	if residual != nil {
		out = &Filter{Input: out, Predicate: residual}
	}
	if proj != nil {
		out = &Projection{Input: out, Exprs: proj.Exprs}
	}
	return out, true
}

// matchDistanceKey recognizes distance(col, const-vector) in either
// argument order and reports the column, query vector and metric.
func matchDistanceKey(e Expr) (string, []float32, model.Metric, bool) {
	call, ok := e.(*Call)
	if !ok || len(call.Args) != 2 {
		return "", nil, "", false
	}
	metric, ok := DistanceMetrics[strings.ToLower(call.Fn)]
	if !ok {
		return "", nil, "", false
	}

	for _, args := range [][2]Expr{{call.Args[0], call.Args[1]}, {call.Args[1], call.Args[0]}} {
		col, okC := args[0].(*ColumnRef)
		c, okV := args[1].(*Constant)
		if !okC || !okV {
			continue
		}
		if query, ok := c.Vector(); ok {
			return col.Name, query, metric, true
		}
	}
	return "", nil, "", false
}

// findIndex locates an index on (table, column) whose configured
// metric matches, respecting the inner-product spelling equivalence.
func findIndex(cat Catalog, table, column string, metric model.Metric) (IndexEntry, bool) {
	for _, entry := range cat.IndexesFor(table) {
		if entry.Column == column && entry.Params.Metric.Equal(metric) {
			return entry, true
		}
	}
	return IndexEntry{}, false
}

// pushdown splits the filter into conjuncts and translates each one.
// Translatable conjuncts join into the pushed predicate string; the
// rest come back as the residual expression (nil when everything
// pushed).
func pushdown(filter *Filter) (string, Expr) {
	if filter == nil {
		return "", nil
	}

	var pushedParts []string
	var residual Expr
	for _, conjunct := range SplitConjuncts(filter.Predicate) {
		if s, ok := Translate(conjunct); ok {
			pushedParts = append(pushedParts, s)
			continue
		}
		if residual == nil {
			residual = conjunct
		} else {
			residual = &And{Left: residual, Right: conjunct}
		}
	}
	return strings.Join(pushedParts, " AND "), residual
}

func constantInt(e Expr) (int, bool) {
	c, ok := e.(*Constant)
	if !ok || c.Value.Kind != model.KindInt {
		return 0, false
	}
	return int(c.Value.I64), true
}
