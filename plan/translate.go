package plan

import (
	"math"
	"strconv"
	"strings"

	"github.com/hupe1980/annbridge/model"
)

// SplitConjuncts flattens nested conjunctions into a slice of
// conjuncts. A non-AND expression is its own single conjunct.
func SplitConjuncts(e Expr) []Expr {
	if a, ok := e.(*And); ok {
		return append(SplitConjuncts(a.Left), SplitConjuncts(a.Right)...)
	}
	return []Expr{e}
}

// Translate renders a filter expression in the engine's predicate
// language. It returns false when the expression uses anything the
// language cannot express, in which case the caller keeps it as a
// residual filter.
func Translate(e Expr) (string, bool) {
	switch e := e.(type) {
	case *ColumnRef:
		return quoteIdent(e.Name), true
	case *Constant:
		return renderLiteral(e.Value)
	case *Comparison:
		left, okL := translateOperand(e.Left)
		right, okR := translateOperand(e.Right)
		if !okL || !okR {
			return "", false
		}
		return left + " " + e.Op.String() + " " + right, true
	case *And:
		left, okL := Translate(e.Left)
		right, okR := Translate(e.Right)
		if !okL || !okR {
			return "", false
		}
		return "(" + left + " AND " + right + ")", true
	case *Or:
		left, okL := Translate(e.Left)
		right, okR := Translate(e.Right)
		if !okL || !okR {
			return "", false
		}
		return "(" + left + " OR " + right + ")", true
	case *Not:
		inner, ok := Translate(e.Input)
		if !ok {
			return "", false
		}
		return "NOT (" + inner + ")", true
	case *IsNull:
		target, ok := translateOperand(e.Input)
		if !ok {
			return "", false
		}
		if e.Negate {
			return target + " IS NOT NULL", true
		}
		return target + " IS NULL", true
	case *In:
		target, ok := translateOperand(e.Input)
		if !ok || len(e.Items) == 0 {
			return "", false
		}
		items := make([]string, len(e.Items))
		for i, item := range e.Items {
			s, ok := translateOperand(item)
			if !ok {
				return "", false
			}
			items[i] = s
		}
		kw := " IN ("
		if e.Negate {
			kw = " NOT IN ("
		}
		return target + kw + strings.Join(items, ", ") + ")", true
	case *Between:
		target, okT := translateOperand(e.Input)
		lo, okL := translateOperand(e.Lo)
		hi, okH := translateOperand(e.Hi)
		if !okT || !okL || !okH {
			return "", false
		}
		kw := " BETWEEN "
		if e.Negate {
			kw = " NOT BETWEEN "
		}
		return target + kw + lo + " AND " + hi, true
	default:
		return "", false
	}
}

// translateOperand renders column references and scalar literals; any
// other expression blocks pushdown of the enclosing predicate.
func translateOperand(e Expr) (string, bool) {
	switch e := e.(type) {
	case *ColumnRef:
		return quoteIdent(e.Name), true
	case *Constant:
		return renderLiteral(e.Value)
	default:
		return "", false
	}
}

func renderLiteral(v model.Value) (string, bool) {
	switch v.Kind {
	case model.KindNull:
		return "NULL", true
	case model.KindInt:
		return strconv.FormatInt(v.I64, 10), true
	case model.KindFloat:
		// NaN and infinities have no literal form in the predicate
		// language; comparisons against them stay residual.
		if math.IsNaN(v.F64) || math.IsInf(v.F64, 0) {
			return "", false
		}
		return strconv.FormatFloat(v.F64, 'g', -1, 64), true
	case model.KindString:
		return "'" + strings.ReplaceAll(v.S, "'", "''") + "'", true
	case model.KindBool:
		if v.B {
			return "TRUE", true
		}
		return "FALSE", true
	default:
		// Arrays have no literal form in the predicate language.
		return "", false
	}
}

// quoteIdent quotes a column name unless it is a plain lowercase
// identifier that cannot collide with a keyword.
func quoteIdent(name string) string {
	if isPlainIdent(name) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// predicateKeywords holds the predicate language's own keywords plus
// the common SQL reserved words, so that a column named after any of
// them always renders quoted.
var predicateKeywords = map[string]struct{}{
	"and": {}, "or": {}, "not": {}, "is": {}, "in": {},
	"between": {}, "null": {}, "true": {}, "false": {},
	"select": {}, "from": {}, "where": {}, "group": {}, "having": {},
	"order": {}, "by": {}, "limit": {}, "offset": {}, "as": {},
	"distinct": {}, "join": {}, "on": {}, "asc": {}, "desc": {},
	"insert": {}, "update": {}, "delete": {}, "create": {}, "drop": {},
	"table": {}, "index": {}, "values": {}, "set": {}, "union": {},
	"all": {}, "case": {}, "when": {}, "then": {}, "else": {},
	"end": {}, "exists": {}, "like": {}, "cast": {},
}

func isPlainIdent(name string) bool {
	if name == "" {
		return false
	}
	if _, kw := predicateKeywords[strings.ToLower(name)]; kw {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
