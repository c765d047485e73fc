package pgast

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// aggregateFuncs is the set of aggregate function names the rewriter
// recognizes. DuckDB exposes more, but constraints are restricted to
// aggregates of source columns and these cover the constraint language.
var aggregateFuncs = map[string]bool{
	"avg":                   true,
	"array_agg":             true,
	"bool_and":              true,
	"bool_or":               true,
	"count":                 true,
	"count_if":              true,
	"countif":               true,
	"approx_count_distinct": true,
	"first":                 true,
	"last":                  true,
	"any_value":             true,
	"max":                   true,
	"median":                true,
	"min":                   true,
	"mode":                  true,
	"product":               true,
	"regr_count":            true,
	"stddev":                true,
	"stddev_pop":            true,
	"stddev_samp":           true,
	"string_agg":            true,
	"sum":                   true,
	"var_pop":               true,
	"var_samp":              true,
	"variance":              true,
}

// IsAggregateCall reports whether a function call is a recognized aggregate.
func IsAggregateCall(fc *pg_query.FuncCall) bool {
	return aggregateFuncs[FuncName(fc)]
}

// countLikeFuncs are aggregates whose single-row value is the row count.
var countLikeFuncs = map[string]bool{
	"count":                 true,
	"approx_count_distinct": true,
	"regr_count":            true,
}

// IsCountLike reports whether an aggregate counts rows rather than folding
// a column value.
func IsCountLike(name string) bool {
	return countLikeFuncs[name]
}

// childExprs returns the direct expression children of a node. SubLink
// subselects are intentionally not descended into: their columns belong to
// the inner query's scope.
func childExprs(n *pg_query.Node) []*pg_query.Node {
	if n == nil {
		return nil
	}
	switch v := n.Node.(type) {
	case *pg_query.Node_AExpr:
		return []*pg_query.Node{v.AExpr.Lexpr, v.AExpr.Rexpr}
	case *pg_query.Node_BoolExpr:
		return v.BoolExpr.Args
	case *pg_query.Node_FuncCall:
		children := append([]*pg_query.Node{}, v.FuncCall.Args...)
		children = append(children, v.FuncCall.AggFilter)
		return children
	case *pg_query.Node_TypeCast:
		return []*pg_query.Node{v.TypeCast.Arg}
	case *pg_query.Node_CaseExpr:
		children := []*pg_query.Node{v.CaseExpr.Arg}
		children = append(children, v.CaseExpr.Args...)
		children = append(children, v.CaseExpr.Defresult)
		return children
	case *pg_query.Node_CaseWhen:
		return []*pg_query.Node{v.CaseWhen.Expr, v.CaseWhen.Result}
	case *pg_query.Node_CoalesceExpr:
		return v.CoalesceExpr.Args
	case *pg_query.Node_MinMaxExpr:
		return v.MinMaxExpr.Args
	case *pg_query.Node_NullTest:
		return []*pg_query.Node{v.NullTest.Arg}
	case *pg_query.Node_BooleanTest:
		return []*pg_query.Node{v.BooleanTest.Arg}
	case *pg_query.Node_AIndirection:
		return []*pg_query.Node{v.AIndirection.Arg}
	case *pg_query.Node_AArrayExpr:
		return v.AArrayExpr.Elements
	case *pg_query.Node_RowExpr:
		return v.RowExpr.Args
	case *pg_query.Node_List:
		return v.List.Items
	case *pg_query.Node_ResTarget:
		return []*pg_query.Node{v.ResTarget.Val}
	case *pg_query.Node_SortBy:
		return []*pg_query.Node{v.SortBy.Node}
	case *pg_query.Node_NamedArgExpr:
		return []*pg_query.Node{v.NamedArgExpr.Arg}
	}
	return nil
}

// WalkExprs visits n and every expression node beneath it in pre-order.
// Returning false from fn stops descent below that node.
func WalkExprs(n *pg_query.Node, fn func(*pg_query.Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range childExprs(n) {
		WalkExprs(c, fn)
	}
}

// Columns collects every ColumnRef under n, in visit order.
func Columns(n *pg_query.Node) []*pg_query.ColumnRef {
	var refs []*pg_query.ColumnRef
	WalkExprs(n, func(node *pg_query.Node) bool {
		if cr, ok := node.Node.(*pg_query.Node_ColumnRef); ok {
			refs = append(refs, cr.ColumnRef)
		}
		return true
	})
	return refs
}

// AggregateCalls collects every recognized aggregate FuncCall under n.
func AggregateCalls(n *pg_query.Node) []*pg_query.FuncCall {
	var calls []*pg_query.FuncCall
	WalkExprs(n, func(node *pg_query.Node) bool {
		if fc, ok := node.Node.(*pg_query.Node_FuncCall); ok && IsAggregateCall(fc.FuncCall) {
			calls = append(calls, fc.FuncCall)
		}
		return true
	})
	return calls
}

// HasAggregate reports whether any recognized aggregate call appears under n.
func HasAggregate(n *pg_query.Node) bool {
	found := false
	WalkExprs(n, func(node *pg_query.Node) bool {
		if found {
			return false
		}
		if fc, ok := node.Node.(*pg_query.Node_FuncCall); ok && IsAggregateCall(fc.FuncCall) {
			found = true
			return false
		}
		return true
	})
	return found
}

// ColumnsOutsideAggregates collects ColumnRefs under n that are not inside
// a recognized aggregate call.
func ColumnsOutsideAggregates(n *pg_query.Node) []*pg_query.ColumnRef {
	var refs []*pg_query.ColumnRef
	WalkExprs(n, func(node *pg_query.Node) bool {
		if fc, ok := node.Node.(*pg_query.Node_FuncCall); ok && IsAggregateCall(fc.FuncCall) {
			return false
		}
		if cr, ok := node.Node.(*pg_query.Node_ColumnRef); ok {
			refs = append(refs, cr.ColumnRef)
		}
		return true
	})
	return refs
}

// IsBooleanExpr reports whether the expression's root can yield a boolean:
// comparisons, AND/OR/NOT, IS NULL / IS TRUE tests, IN/EXISTS sublinks,
// boolean literals, or a boolean cast. This is a structural check, not a
// type-checker; it rejects the obviously non-boolean constraint shapes
// (bare column references, arithmetic, string literals).
func IsBooleanExpr(n *pg_query.Node) bool {
	if n == nil {
		return false
	}
	switch v := n.Node.(type) {
	case *pg_query.Node_AExpr:
		switch v.AExpr.Kind {
		case pg_query.A_Expr_Kind_AEXPR_OP,
			pg_query.A_Expr_Kind_AEXPR_OP_ANY,
			pg_query.A_Expr_Kind_AEXPR_OP_ALL,
			pg_query.A_Expr_Kind_AEXPR_DISTINCT,
			pg_query.A_Expr_Kind_AEXPR_NOT_DISTINCT,
			pg_query.A_Expr_Kind_AEXPR_IN,
			pg_query.A_Expr_Kind_AEXPR_LIKE,
			pg_query.A_Expr_Kind_AEXPR_ILIKE,
			pg_query.A_Expr_Kind_AEXPR_SIMILAR,
			pg_query.A_Expr_Kind_AEXPR_BETWEEN,
			pg_query.A_Expr_Kind_AEXPR_NOT_BETWEEN,
			pg_query.A_Expr_Kind_AEXPR_BETWEEN_SYM,
			pg_query.A_Expr_Kind_AEXPR_NOT_BETWEEN_SYM:
			return true
		}
		return false
	case *pg_query.Node_BoolExpr:
		return true
	case *pg_query.Node_NullTest:
		return true
	case *pg_query.Node_BooleanTest:
		return true
	case *pg_query.Node_SubLink:
		return true
	case *pg_query.Node_AConst:
		_, ok := v.AConst.Val.(*pg_query.A_Const_Boolval)
		return ok
	case *pg_query.Node_TypeCast:
		tn := v.TypeCast.TypeName
		if tn == nil || len(tn.Names) == 0 {
			return false
		}
		if s, ok := tn.Names[len(tn.Names)-1].Node.(*pg_query.Node_String_); ok {
			name := s.String_.Sval
			return name == "bool" || name == "boolean"
		}
		return false
	case *pg_query.Node_CaseExpr:
		// Boolean iff every branch is boolean.
		for _, arm := range v.CaseExpr.Args {
			if cw, ok := arm.Node.(*pg_query.Node_CaseWhen); ok {
				if !IsBooleanExpr(cw.CaseWhen.Result) {
					return false
				}
			}
		}
		return v.CaseExpr.Defresult == nil || IsBooleanExpr(v.CaseExpr.Defresult)
	}
	return false
}
