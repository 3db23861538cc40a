package plan_test

import (
	"testing"

	"github.com/hupe1980/annbridge/backend/flat"
	"github.com/hupe1980/annbridge/model"
	"github.com/hupe1980/annbridge/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCatalog map[string][]plan.IndexEntry

func (c stubCatalog) IndexesFor(table string) []plan.IndexEntry { return c[table] }

func testCatalog() stubCatalog {
	return stubCatalog{
		"items": {
			{
				Name:   "items_vec_idx",
				Table:  "items",
				Column: "embedding",
				Params: model.Params{Dimension: 3, Metric: model.MetricL2, NProbes: 10, RefineFactor: 2},
			},
		},
	}
}

func vectorConst(vals ...float64) *plan.Constant {
	vs := make([]model.Value, len(vals))
	for i, v := range vals {
		vs[i] = model.Float(v)
	}
	return &plan.Constant{Value: model.Array(vs...)}
}

func intConst(v int64) *plan.Constant { return &plan.Constant{Value: model.Int(v)} }

func distanceKey(fn string) plan.OrderKey {
	return plan.OrderKey{
		Expr: &plan.Call{
			Fn:   fn,
			Args: []plan.Expr{&plan.ColumnRef{Name: "embedding"}, vectorConst(1, 2, 3)},
		},
		Order: plan.Ascending,
	}
}

func topKPlan(inner plan.Node) plan.Node {
	return &plan.Limit{
		Limit: intConst(5),
		Input: &plan.Order{
			Keys:  []plan.OrderKey{distanceKey("array_distance")},
			Input: inner,
		},
	}
}

func TestRewriteBareTopK(t *testing.T) {
	out, changed := plan.Rewrite(topKPlan(&plan.Get{Table: "items"}), testCatalog())
	require.True(t, changed)

	scan, ok := out.(*plan.IndexScan)
	require.True(t, ok)
	assert.Equal(t, "items", scan.Table)
	assert.Equal(t, "items_vec_idx", scan.Index)
	assert.Equal(t, []float32{1, 2, 3}, scan.Query)
	assert.Equal(t, 5, scan.K)
	assert.Empty(t, scan.Predicate)
	assert.Equal(t, 10, scan.Params.NProbes)
	assert.Equal(t, 2, scan.Params.RefineFactor)
}

func TestRewriteSwappedDistanceArgs(t *testing.T) {
	root := &plan.Limit{
		Limit: intConst(3),
		Input: &plan.Order{
			Keys: []plan.OrderKey{{
				Expr: &plan.Call{
					Fn:   "l2_distance",
					Args: []plan.Expr{vectorConst(1, 2, 3), &plan.ColumnRef{Name: "embedding"}},
				},
				Order: plan.Ascending,
			}},
			Input: &plan.Get{Table: "items"},
		},
	}

	out, changed := plan.Rewrite(root, testCatalog())
	require.True(t, changed)
	scan := out.(*plan.IndexScan)
	assert.Equal(t, []float32{1, 2, 3}, scan.Query)
}

func TestRewriteInnerProductSpellingEquivalence(t *testing.T) {
	cat := stubCatalog{
		"items": {{
			Name:   "ip_idx",
			Table:  "items",
			Column: "embedding",
			Params: model.Params{Metric: model.Metric("ip")},
		}},
	}
	root := &plan.Limit{
		Limit: intConst(1),
		Input: &plan.Order{
			Keys: []plan.OrderKey{{
				Expr: &plan.Call{
					Fn:   "array_negative_inner_product",
					Args: []plan.Expr{&plan.ColumnRef{Name: "embedding"}, vectorConst(1)},
				},
				Order: plan.Ascending,
			}},
			Input: &plan.Get{Table: "items"},
		},
	}

	out, changed := plan.Rewrite(root, cat)
	require.True(t, changed)
	assert.Equal(t, "ip_idx", out.(*plan.IndexScan).Index)
}

func TestRewriteAborts(t *testing.T) {
	cat := testCatalog()

	tests := map[string]plan.Node{
		"non-constant limit": &plan.Limit{
			Limit: &plan.ColumnRef{Name: "k"},
			Input: &plan.Order{Keys: []plan.OrderKey{distanceKey("array_distance")}, Input: &plan.Get{Table: "items"}},
		},
		"non-zero offset": &plan.Limit{
			Limit:  intConst(5),
			Offset: intConst(10),
			Input:  &plan.Order{Keys: []plan.OrderKey{distanceKey("array_distance")}, Input: &plan.Get{Table: "items"}},
		},
		"descending order": &plan.Limit{
			Limit: intConst(5),
			Input: &plan.Order{
				Keys: []plan.OrderKey{{
					Expr:  distanceKey("array_distance").Expr,
					Order: plan.Descending,
				}},
				Input: &plan.Get{Table: "items"},
			},
		},
		"two sort keys": &plan.Limit{
			Limit: intConst(5),
			Input: &plan.Order{
				Keys:  []plan.OrderKey{distanceKey("array_distance"), distanceKey("array_distance")},
				Input: &plan.Get{Table: "items"},
			},
		},
		"unknown function": &plan.Limit{
			Limit: intConst(5),
			Input: &plan.Order{Keys: []plan.OrderKey{distanceKey("levenshtein")}, Input: &plan.Get{Table: "items"}},
		},
		"metric mismatch": &plan.Limit{
			Limit: intConst(5),
			Input: &plan.Order{Keys: []plan.OrderKey{distanceKey("array_cosine_distance")}, Input: &plan.Get{Table: "items"}},
		},
		"no index on table": topKPlan(&plan.Get{Table: "other"}),
		"non-constant query vector": &plan.Limit{
			Limit: intConst(5),
			Input: &plan.Order{
				Keys: []plan.OrderKey{{
					Expr: &plan.Call{
						Fn:   "array_distance",
						Args: []plan.Expr{&plan.ColumnRef{Name: "embedding"}, &plan.ColumnRef{Name: "other_vec"}},
					},
					Order: plan.Ascending,
				}},
				Input: &plan.Get{Table: "items"},
			},
		},
	}

	for name, root := range tests {
		out, changed := plan.Rewrite(root, cat)
		assert.False(t, changed, name)
		assert.Equal(t, root, out, name)
	}
}

func TestRewriteFullPushdown(t *testing.T) {
	pred := &plan.And{
		Left: &plan.Comparison{
			Op:    plan.Eq,
			Left:  &plan.ColumnRef{Name: "category"},
			Right: &plan.Constant{Value: model.String("books")},
		},
		Right: &plan.Comparison{
			Op:    plan.Gt,
			Left:  &plan.ColumnRef{Name: "price"},
			Right: &plan.Constant{Value: model.Int(10)},
		},
	}
	root := topKPlan(&plan.Filter{Predicate: pred, Input: &plan.Get{Table: "items"}})

	out, changed := plan.Rewrite(root, testCatalog())
	require.True(t, changed)

	scan, ok := out.(*plan.IndexScan)
	require.True(t, ok, "full pushdown must drop the filter node")
	assert.Equal(t, "category = 'books' AND price > 10", scan.Predicate)
}

func TestRewritePartialPushdownKeepsResidualFilter(t *testing.T) {
	translatable := &plan.Comparison{
		Op:    plan.Le,
		Left:  &plan.ColumnRef{Name: "price"},
		Right: &plan.Constant{Value: model.Int(100)},
	}
	opaque := &plan.Call{Fn: "jaccard", Args: []plan.Expr{&plan.ColumnRef{Name: "tags"}}}
	root := topKPlan(&plan.Filter{
		Predicate: &plan.And{Left: translatable, Right: opaque},
		Input:     &plan.Get{Table: "items"},
	})

	out, changed := plan.Rewrite(root, testCatalog())
	require.True(t, changed)

	filter, ok := out.(*plan.Filter)
	require.True(t, ok)
	assert.Equal(t, opaque, filter.Predicate)

	scan, ok := filter.Input.(*plan.IndexScan)
	require.True(t, ok)
	assert.Equal(t, "price <= 100", scan.Predicate)
}

func TestRewriteKeepsProjection(t *testing.T) {
	proj := &plan.Projection{
		Exprs: []plan.Expr{&plan.ColumnRef{Name: "id"}},
		Input: &plan.Get{Table: "items"},
	}
	out, changed := plan.Rewrite(topKPlan(proj), testCatalog())
	require.True(t, changed)

	p, ok := out.(*plan.Projection)
	require.True(t, ok)
	_, ok = p.Input.(*plan.IndexScan)
	assert.True(t, ok)
}

func TestRewriteRecursesIntoSubtrees(t *testing.T) {
	root := &plan.Projection{
		Exprs: []plan.Expr{&plan.ColumnRef{Name: "id"}},
		Input: topKPlan(&plan.Get{Table: "items"}),
	}
	out, changed := plan.Rewrite(root, testCatalog())
	require.True(t, changed)

	p := out.(*plan.Projection)
	_, ok := p.Input.(*plan.IndexScan)
	assert.True(t, ok)
}

// Pushed and residual parts together must accept exactly the rows the
// original predicate accepts. The pushed string is parsed back with the
// engine's own predicate parser.
func TestPushdownSoundness(t *testing.T) {
	original := &plan.And{
		Left: &plan.And{
			Left: &plan.Comparison{
				Op:    plan.Ge,
				Left:  &plan.ColumnRef{Name: "price"},
				Right: &plan.Constant{Value: model.Int(10)},
			},
			Right: &plan.In{
				Input: &plan.ColumnRef{Name: "category"},
				Items: []plan.Expr{
					&plan.Constant{Value: model.String("books")},
					&plan.Constant{Value: model.String("games")},
				},
			},
		},
		Right: &plan.Call{Fn: "custom_check", Args: []plan.Expr{&plan.ColumnRef{Name: "flag"}}},
	}

	root := topKPlan(&plan.Filter{Predicate: original, Input: &plan.Get{Table: "items"}})
	out, changed := plan.Rewrite(root, testCatalog())
	require.True(t, changed)

	filter := out.(*plan.Filter)
	scan := filter.Input.(*plan.IndexScan)
	pushed, err := flat.ParsePredicate(scan.Predicate)
	require.NoError(t, err)

	rows := []map[string]model.Value{
		{"price": model.Int(15), "category": model.String("books")},
		{"price": model.Int(5), "category": model.String("books")},
		{"price": model.Int(15), "category": model.String("food")},
		{"price": model.Null(), "category": model.String("games")},
	}
	for _, cols := range rows {
		row := func(name string) (model.Value, bool) {
			v, ok := cols[name]
			return v, ok
		}
		// The opaque call stays residual, so the pushed predicate must
		// behave exactly like the translatable left subtree.
		want := plan.Truthy(original.Left.Eval(row))
		got := pushed.Eval(row)
		assert.Equal(t, want, got, "%#v", cols)
	}
}
