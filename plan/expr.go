package plan

import "github.com/hupe1980/annbridge/model"

// Row resolves a column name to its value for one row.
type Row func(column string) (model.Value, bool)

// Expr is a scalar expression. Eval supports the subset the adapter
// executes itself (residual filters); distance calls are matched
// structurally by the rewriter and never evaluated here.
type Expr interface {
	Eval(row Row) model.Value
}

// ColumnRef names a column of the scanned table.
type ColumnRef struct {
	Name string
}

func (c *ColumnRef) Eval(row Row) model.Value {
	v, ok := row(c.Name)
	if !ok {
		return model.Null()
	}
	return v
}

// Constant is a literal value. Vector literals are arrays of numbers.
type Constant struct {
	Value model.Value
}

func (c *Constant) Eval(Row) model.Value { return c.Value }

// Vector extracts a constant query vector, if this constant is a
// numeric array.
func (c *Constant) Vector() ([]float32, bool) {
	if c.Value.Kind != model.KindArray {
		return nil, false
	}
	out := make([]float32, len(c.Value.A))
	for i, v := range c.Value.A {
		f, ok := v.AsFloat64()
		if !ok {
			return nil, false
		}
		out[i] = float32(f)
	}
	return out, true
}

// Call is a function invocation. The rewriter recognizes the distance
// functions listed in DistanceMetrics; other calls block pushdown but
// are otherwise carried through untouched.
type Call struct {
	Fn   string
	Args []Expr
}

func (c *Call) Eval(Row) model.Value { return model.Null() }

// DistanceMetrics maps recognized distance function names to the index
// metric they correspond to.
var DistanceMetrics = map[string]model.Metric{
	"array_distance":               model.MetricL2,
	"l2_distance":                  model.MetricL2,
	"array_cosine_distance":        model.MetricCosine,
	"cosine_distance":              model.MetricCosine,
	"array_negative_inner_product": model.MetricDot,
	"negative_inner_product":       model.MetricDot,
}

// CmpOp is a comparison operator.
type CmpOp uint8

const (
	// Eq is equality.
	Eq CmpOp = iota
	// Ne is inequality.
	Ne
	// Lt is less-than.
	Lt
	// Le is less-or-equal.
	Le
	// Gt is greater-than.
	Gt
	// Ge is greater-or-equal.
	Ge
)

func (op CmpOp) String() string {
	switch op {
	case Eq:
		return "="
	case Ne:
		return "!="
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	default:
		return "?"
	}
}

// Comparison compares two operands. Comparisons involving NULL are
// false, matching the engine's predicate semantics.
type Comparison struct {
	Op    CmpOp
	Left  Expr
	Right Expr
}

func (c *Comparison) Eval(row Row) model.Value {
	a := c.Left.Eval(row)
	b := c.Right.Eval(row)
	if a.IsNull() || b.IsNull() {
		return model.Bool(false)
	}
	switch c.Op {
	case Eq:
		return model.Bool(a.Equal(b))
	case Ne:
		return model.Bool(!a.Equal(b))
	case Lt:
		return model.Bool(valueLess(a, b))
	case Le:
		return model.Bool(valueLess(a, b) || a.Equal(b))
	case Gt:
		return model.Bool(valueLess(b, a))
	case Ge:
		return model.Bool(valueLess(b, a) || a.Equal(b))
	default:
		return model.Bool(false)
	}
}

func valueLess(a, b model.Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return a.Less(b)
	}
	if a.Kind == model.KindString && b.Kind == model.KindString {
		return a.S < b.S
	}
	return false
}

// And is logical conjunction.
type And struct {
	Left  Expr
	Right Expr
}

func (a *And) Eval(row Row) model.Value {
	return model.Bool(Truthy(a.Left.Eval(row)) && Truthy(a.Right.Eval(row)))
}

// Or is logical disjunction.
type Or struct {
	Left  Expr
	Right Expr
}

func (o *Or) Eval(row Row) model.Value {
	return model.Bool(Truthy(o.Left.Eval(row)) || Truthy(o.Right.Eval(row)))
}

// Not is logical negation.
type Not struct {
	Input Expr
}

func (n *Not) Eval(row Row) model.Value {
	return model.Bool(!Truthy(n.Input.Eval(row)))
}

// IsNull tests for null.
type IsNull struct {
	Input  Expr
	Negate bool
}

func (i *IsNull) Eval(row Row) model.Value {
	return model.Bool(i.Input.Eval(row).IsNull() != i.Negate)
}

// In tests membership in a literal list.
type In struct {
	Input  Expr
	Items  []Expr
	Negate bool
}

func (in *In) Eval(row Row) model.Value {
	v := in.Input.Eval(row)
	if v.IsNull() {
		return model.Bool(false)
	}
	for _, item := range in.Items {
		if v.Equal(item.Eval(row)) {
			return model.Bool(!in.Negate)
		}
	}
	return model.Bool(in.Negate)
}

// Between tests an inclusive range.
type Between struct {
	Input  Expr
	Lo, Hi Expr
	Negate bool
}

func (b *Between) Eval(row Row) model.Value {
	v := b.Input.Eval(row)
	lo := b.Lo.Eval(row)
	hi := b.Hi.Eval(row)
	if v.IsNull() || lo.IsNull() || hi.IsNull() {
		return model.Bool(false)
	}
	in := (valueLess(lo, v) || lo.Equal(v)) && (valueLess(v, hi) || v.Equal(hi))
	return model.Bool(in != b.Negate)
}

// Truthy reports whether a predicate result counts as a match. Only
// boolean true does.
func Truthy(v model.Value) bool {
	return v.Kind == model.KindBool && v.B
}
