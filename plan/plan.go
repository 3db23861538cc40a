// Package plan models the slice of a host query plan the adapter cares
// about and rewrites top-k distance queries into index probes.
//
// The only shape rewritten is
//
//	Limit -> Order -> [Projection] -> [Filter] -> Get
//
// where the single ascending order key is a distance function between
// an indexed vector column and a constant query vector. Everything
// else is left untouched; the rewrite is an optimization, never a
// requirement for correctness.
package plan

import "github.com/hupe1980/annbridge/model"

// Node is one operator of a plan tree.
type Node interface {
	// Child returns the single input, or nil for leaves.
	Child() Node
}

// Get is a leaf scan of a base table.
type Get struct {
	Table string
}

func (*Get) Child() Node { return nil }

// Filter drops rows whose predicate does not evaluate to true.
type Filter struct {
	Input     Node
	Predicate Expr
}

func (f *Filter) Child() Node { return f.Input }

// Projection computes output columns. The rewriter treats it as
// transparent; the expressions pass through unchanged.
type Projection struct {
	Input Node
	Exprs []Expr
}

func (p *Projection) Child() Node { return p.Input }

// SortOrder is the direction of one order key.
type SortOrder uint8

const (
	// Ascending sorts smallest first.
	Ascending SortOrder = iota
	// Descending sorts largest first.
	Descending
)

// OrderKey is one sort key of an Order node.
type OrderKey struct {
	Expr  Expr
	Order SortOrder
}

// Order sorts its input.
type Order struct {
	Input Node
	Keys  []OrderKey
}

func (o *Order) Child() Node { return o.Input }

// Limit truncates its input. Limit and Offset are expressions because
// hosts allow non-constant forms; the rewriter only fires on constant
// limits and zero offsets.
type Limit struct {
	Input  Node
	Limit  Expr
	Offset Expr // nil means no offset
}

func (l *Limit) Child() Node { return l.Input }

// IndexScan is the rewritten leaf: probe the named index for the K
// nearest neighbours of Query, with Predicate pushed into the engine.
type IndexScan struct {
	Table string
	Index string
	Query []float32
	K     int

	// Predicate is the pushed-down filter in the engine's predicate
	// language; empty means unfiltered.
	Predicate string

	// Params are per-probe tuning knobs taken from the index
	// definition.
	Params model.Params
}

func (*IndexScan) Child() Node { return nil }
