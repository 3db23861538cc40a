package model

import (
	"fmt"
	"strconv"
	"strings"
)

// RowID is the host-assigned, stable identifier for a logical table row.
// It is unique within a table and never reused while the row is visible.
type RowID = int64

// Label is the backend-assigned, dense identifier for one stored vector.
// Labels are opaque to the adapter; only compaction may renumber them.
type Label = int64

// TombstoneRowID marks a forward-mapping slot whose label is unused or
// whose row has been deleted.
const TombstoneRowID RowID = -1

// Metric identifies the distance metric of an index.
type Metric string

const (
	// MetricL2 is squared Euclidean distance.
	MetricL2 Metric = "l2"
	// MetricCosine is cosine distance (1 - cosine similarity).
	MetricCosine Metric = "cosine"
	// MetricDot is negative inner product ("ip" is an accepted spelling).
	MetricDot Metric = "dot"
)

// ParseMetric normalizes a metric name. The inner-product metric accepts
// both "dot" and "ip" spellings.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l2", "euclidean":
		return MetricL2, nil
	case "cosine":
		return MetricCosine, nil
	case "dot", "ip":
		return MetricDot, nil
	default:
		return "", fmt.Errorf("unsupported metric: %q", s)
	}
}

// Equal reports whether two metric names denote the same metric,
// respecting the dot/ip spelling equivalence.
func (m Metric) Equal(other Metric) bool {
	a, errA := ParseMetric(string(m))
	b, errB := ParseMetric(string(other))
	if errA != nil || errB != nil {
		return m == other
	}
	return a == b
}

// Default index tuning knobs, applied when the corresponding DDL option
// is absent.
const (
	DefaultNProbes      = 20
	DefaultRefineFactor = 1
)

// Params holds the index parameters fixed at creation time.
type Params struct {
	// Dimension is the vector width. Fixed at index creation, except when
	// the schema is derived from the backend on reopen.
	Dimension int

	// Metric is the distance metric.
	Metric Metric

	// NProbes is the number of partitions probed by an IVF-style backend.
	NProbes int

	// RefineFactor is the candidate-pool multiplier for reranking.
	RefineFactor int
}

// DefaultParams returns Params with the default tuning knobs and an
// unset dimension.
func DefaultParams() Params {
	return Params{
		Metric:       MetricL2,
		NProbes:      DefaultNProbes,
		RefineFactor: DefaultRefineFactor,
	}
}

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindInvalid represents an invalid kind.
	KindInvalid Kind = iota
	// KindNull represents a null value.
	KindNull
	// KindInt represents an integer value.
	KindInt
	// KindFloat represents a float value.
	KindFloat
	// KindString represents a string value.
	KindString
	// KindBool represents a boolean value.
	KindBool
	// KindArray represents an array value.
	KindArray
)

// Value is a small typed scalar used for extra-column payloads and
// predicate literals.
//
// The representation is designed to make comparisons fast and
// predictable: no reflection and no fmt-based stringification.
type Value struct {
	Kind Kind
	I64  int64
	F64  float64
	S    string
	B    bool
	A    []Value
}

// Null returns a null Value.
func Null() Value { return Value{Kind: KindNull} }

// Int returns an int64 Value.
func Int(v int64) Value { return Value{Kind: KindInt, I64: v} }

// Float returns a float64 Value.
func Float(v float64) Value { return Value{Kind: KindFloat, F64: v} }

// String returns a string Value.
func String(v string) Value { return Value{Kind: KindString, S: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// Array returns an array Value.
func Array(v ...Value) Value { return Value{Kind: KindArray, A: v} }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsNumber reports whether the value is an int or a float.
func (v Value) IsNumber() bool { return v.Kind == KindInt || v.Kind == KindFloat }

// AsFloat64 widens a numeric value to float64.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I64), true
	case KindFloat:
		return v.F64, true
	default:
		return 0, false
	}
}

// Equal compares two values. Numbers compare across int/float kinds.
func (v Value) Equal(other Value) bool {
	if v.Kind == KindNull || other.Kind == KindNull {
		return v.Kind == KindNull && other.Kind == KindNull
	}
	if v.IsNumber() && other.IsNumber() {
		if v.Kind == KindInt && other.Kind == KindInt {
			return v.I64 == other.I64
		}
		a, _ := v.AsFloat64()
		b, _ := other.AsFloat64()
		return a == b
	}
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.S == other.S
	case KindBool:
		return v.B == other.B
	case KindArray:
		if len(v.A) != len(other.A) {
			return false
		}
		for i := range v.A {
			if !v.A[i].Equal(other.A[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Less compares two numeric values. Non-numeric operands never order.
func (v Value) Less(other Value) bool {
	a, okA := v.AsFloat64()
	b, okB := other.AsFloat64()
	if !okA || !okB {
		return false
	}
	return a < b
}

// GoString returns a compact debug representation.
func (v Value) GoString() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt:
		return strconv.FormatInt(v.I64, 10)
	case KindFloat:
		return strconv.FormatFloat(v.F64, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.S)
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindArray:
		parts := make([]string, len(v.A))
		for i := range v.A {
			parts[i] = v.A[i].GoString()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "invalid"
	}
}

// ColumnType identifies the storage type of an extra scalar column.
type ColumnType uint8

const (
	// TypeInvalid represents an invalid column type.
	TypeInvalid ColumnType = iota
	// TypeInt is a signed 64-bit integer column.
	TypeInt
	// TypeFloat is a 64-bit float column.
	TypeFloat
	// TypeText is a string column.
	TypeText
	// TypeBool is a boolean column.
	TypeBool
)

// String returns the column type name.
func (t ColumnType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeText:
		return "text"
	case TypeBool:
		return "bool"
	default:
		return "invalid"
	}
}

// Column describes one extra scalar column carried alongside each vector.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Schema is the ordered set of extra scalar columns of a dataset.
// An empty schema means vector-only storage.
type Schema []Column

// Column returns the column with the given name.
func (s Schema) Column(name string) (Column, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Validate checks column names and types.
func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, c := range s {
		if c.Name == "" {
			return fmt.Errorf("extra column with empty name")
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate extra column: %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		switch c.Type {
		case TypeInt, TypeFloat, TypeText, TypeBool:
		default:
			return fmt.Errorf("unsupported extra column type for %q", c.Name)
		}
	}
	return nil
}

// Batch is a columnar insert batch. Columns maps extra-column names to
// per-row values and must be nil for vector-only datasets.
type Batch struct {
	Vectors [][]float32
	Columns map[string][]Value
}

// Len returns the number of rows in the batch.
func (b Batch) Len() int { return len(b.Vectors) }
