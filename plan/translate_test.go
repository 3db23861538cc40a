package plan_test

import (
	"math"
	"testing"

	"github.com/hupe1980/annbridge/model"
	"github.com/hupe1980/annbridge/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func col(name string) plan.Expr { return &plan.ColumnRef{Name: name} }

func lit(v model.Value) plan.Expr { return &plan.Constant{Value: v} }

func eq(l, r plan.Expr) *plan.Comparison { return &plan.Comparison{Op: plan.Eq, Left: l, Right: r} }

func lt(l, r plan.Expr) *plan.Comparison { return &plan.Comparison{Op: plan.Lt, Left: l, Right: r} }

func TestTranslateComparisons(t *testing.T) {
	tests := []struct {
		expr plan.Expr
		want string
	}{
		{eq(col("price"), lit(model.Int(42))), "price = 42"},
		{lt(col("ratio"), lit(model.Float(0.5))), "ratio < 0.5"},
		{eq(col("name"), lit(model.String("it's"))), "name = 'it''s'"},
		{eq(col("active"), lit(model.Bool(true))), "active = TRUE"},
		{eq(lit(model.Int(1)), col("n")), "1 = n"},
		{&plan.IsNull{Input: col("note")}, "note IS NULL"},
		{&plan.IsNull{Input: col("note"), Negate: true}, "note IS NOT NULL"},
		{&plan.Not{Input: eq(col("a"), lit(model.Int(1)))}, "NOT (a = 1)"},
		{
			&plan.In{Input: col("category"), Items: []plan.Expr{lit(model.String("a")), lit(model.String("b"))}},
			"category IN ('a', 'b')",
		},
		{
			&plan.In{Input: col("n"), Items: []plan.Expr{lit(model.Int(1))}, Negate: true},
			"n NOT IN (1)",
		},
		{
			&plan.Between{Input: col("n"), Lo: lit(model.Int(1)), Hi: lit(model.Int(9))},
			"n BETWEEN 1 AND 9",
		},
		{
			&plan.Or{Left: eq(col("a"), lit(model.Int(1))), Right: eq(col("b"), lit(model.Int(2)))},
			"(a = 1 OR b = 2)",
		},
	}

	for _, tt := range tests {
		got, ok := plan.Translate(tt.expr)
		require.True(t, ok, tt.want)
		assert.Equal(t, tt.want, got)
	}
}

func TestTranslateQuotesAwkwardIdentifiers(t *testing.T) {
	got, ok := plan.Translate(eq(col("order"), lit(model.Int(1))))
	require.True(t, ok)
	assert.Equal(t, `"order" = 1`, got)

	got, ok = plan.Translate(eq(col("weird name"), lit(model.Int(1))))
	require.True(t, ok)
	assert.Equal(t, `"weird name" = 1`, got)

	got, ok = plan.Translate(eq(col("limit"), lit(model.Int(1))))
	require.True(t, ok)
	assert.Equal(t, `"limit" = 1`, got)

	got, ok = plan.Translate(eq(col("between"), lit(model.Int(1))))
	require.True(t, ok)
	assert.Equal(t, `"between" = 1`, got)
}

func TestTranslateRejectsUnsupported(t *testing.T) {
	// Function calls have no rendering.
	_, ok := plan.Translate(&plan.Call{Fn: "lower", Args: []plan.Expr{col("name")}})
	assert.False(t, ok)

	// Array literals have no rendering; the single comparison falls to
	// the residual, not the whole rewrite.
	_, ok = plan.Translate(eq(col("vec"), lit(model.Array(model.Int(1)))))
	assert.False(t, ok)

	// An OR with an untranslatable side cannot be split, so the whole
	// disjunction is residual.
	_, ok = plan.Translate(&plan.Or{
		Left:  eq(col("a"), lit(model.Int(1))),
		Right: &plan.Call{Fn: "f", Args: nil},
	})
	assert.False(t, ok)

	// Non-finite floats have no literal form the engine's parser
	// accepts; they fall to the residual filter.
	_, ok = plan.Translate(eq(col("x"), lit(model.Float(math.NaN()))))
	assert.False(t, ok)
	_, ok = plan.Translate(eq(col("x"), lit(model.Float(math.Inf(1)))))
	assert.False(t, ok)
	_, ok = plan.Translate(eq(col("x"), lit(model.Float(math.Inf(-1)))))
	assert.False(t, ok)
}

func TestSplitConjuncts(t *testing.T) {
	a := eq(col("a"), lit(model.Int(1)))
	b := eq(col("b"), lit(model.Int(2)))
	c := eq(col("c"), lit(model.Int(3)))

	parts := plan.SplitConjuncts(&plan.And{Left: &plan.And{Left: a, Right: b}, Right: c})
	require.Len(t, parts, 3)
	assert.Equal(t, plan.Expr(a), parts[0])
	assert.Equal(t, plan.Expr(c), parts[2])

	parts = plan.SplitConjuncts(a)
	assert.Len(t, parts, 1)
}
