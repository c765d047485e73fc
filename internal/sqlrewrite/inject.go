package sqlrewrite

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"dfc-rewriter/internal/pgast"
)

// ValidColumn is the boolean output column added by INVALIDATE
// policies.
const ValidColumn = "valid"

// conjoinHaving ANDs predicate onto the SELECT's HAVING clause,
// creating one if absent.
func conjoinHaving(sel *pg_query.SelectStmt, predicate *pg_query.Node) {
	if sel.HavingClause == nil {
		sel.HavingClause = predicate
		return
	}
	sel.HavingClause = pgast.And(sel.HavingClause, predicate)
}

// conjoinWhere ANDs predicate onto the SELECT's WHERE clause.
func conjoinWhere(sel *pg_query.SelectStmt, predicate *pg_query.Node) {
	if sel.WhereClause == nil {
		sel.WhereClause = predicate
		return
	}
	sel.WhereClause = pgast.And(sel.WhereClause, predicate)
}

// addValidColumn appends the boolean valid output column. If the query
// already carries one (an earlier INVALIDATE policy, or the caller's
// own), the new condition is ANDed into it instead of shadowing it.
func addValidColumn(sel *pg_query.SelectStmt, condition *pg_query.Node) {
	for _, target := range sel.TargetList {
		rt := target.GetResTarget()
		if rt == nil || !strings.EqualFold(rt.Name, ValidColumn) {
			continue
		}
		rt.Val = pgast.And(rt.Val, condition)
		return
	}
	sel.TargetList = append(sel.TargetList, pgast.ResTarget(ValidColumn, condition))
}

// wrapKill turns a constraint into an expression that aborts the whole
// query when any scope instance violates it. DuckDB's error() raises
// at execution time, so a single failing group fails the query rather
// than being filtered.
func wrapKill(condition *pg_query.Node, description string) *pg_query.Node {
	msg := "query killed by data flow control policy"
	if description != "" {
		msg += ": " + description
	}
	return pgast.CaseWhenElse(
		condition,
		pgast.BoolConst(true),
		pgast.FuncCall("error", pgast.StringConst(msg)),
	)
}

// demoteAggregates rewrites a per-group predicate for use on a scan
// query, where each row is its own scope instance. COUNT-family calls
// become the literal 1 (each row counts once), COUNT_IF becomes a
// CASE over its condition, ARRAY_AGG becomes a single-element array so
// comparisons against array literals keep their type, and any other
// aggregate collapses to its argument.
func demoteAggregates(n *pg_query.Node) *pg_query.Node {
	if n == nil {
		return nil
	}
	if fc := n.GetFuncCall(); fc != nil && pgast.IsAggregateCall(fc) {
		name := pgast.FuncName(fc)
		switch {
		case name == "count_if" || name == "countif":
			if len(fc.Args) == 1 {
				return pgast.CaseWhenElse(demoteAggregates(fc.Args[0]),
					pgast.IntConst(1), pgast.IntConst(0))
			}
			return pgast.IntConst(1)
		case pgast.IsCountLike(name):
			return pgast.IntConst(1)
		case name == "array_agg" && len(fc.Args) == 1:
			return pgast.Array(demoteAggregates(fc.Args[0]))
		case len(fc.Args) > 0:
			return demoteAggregates(fc.Args[0])
		default:
			return pgast.IntConst(1)
		}
	}
	rewriteChildren(n, demoteAggregates)
	return n
}

// rewriteChildren applies fn to each child expression of n in place.
// Only node kinds that can appear inside a constraint predicate are
// handled.
func rewriteChildren(n *pg_query.Node, fn func(*pg_query.Node) *pg_query.Node) {
	switch v := n.Node.(type) {
	case *pg_query.Node_AExpr:
		v.AExpr.Lexpr = fn(v.AExpr.Lexpr)
		v.AExpr.Rexpr = fn(v.AExpr.Rexpr)
	case *pg_query.Node_BoolExpr:
		for i, arg := range v.BoolExpr.Args {
			v.BoolExpr.Args[i] = fn(arg)
		}
	case *pg_query.Node_FuncCall:
		for i, arg := range v.FuncCall.Args {
			v.FuncCall.Args[i] = fn(arg)
		}
	case *pg_query.Node_TypeCast:
		v.TypeCast.Arg = fn(v.TypeCast.Arg)
	case *pg_query.Node_CaseExpr:
		if v.CaseExpr.Arg != nil {
			v.CaseExpr.Arg = fn(v.CaseExpr.Arg)
		}
		for i, w := range v.CaseExpr.Args {
			v.CaseExpr.Args[i] = fn(w)
		}
		if v.CaseExpr.Defresult != nil {
			v.CaseExpr.Defresult = fn(v.CaseExpr.Defresult)
		}
	case *pg_query.Node_CaseWhen:
		v.CaseWhen.Expr = fn(v.CaseWhen.Expr)
		v.CaseWhen.Result = fn(v.CaseWhen.Result)
	case *pg_query.Node_CoalesceExpr:
		for i, arg := range v.CoalesceExpr.Args {
			v.CoalesceExpr.Args[i] = fn(arg)
		}
	case *pg_query.Node_MinMaxExpr:
		for i, arg := range v.MinMaxExpr.Args {
			v.MinMaxExpr.Args[i] = fn(arg)
		}
	case *pg_query.Node_NullTest:
		v.NullTest.Arg = fn(v.NullTest.Arg)
	case *pg_query.Node_BooleanTest:
		v.BooleanTest.Arg = fn(v.BooleanTest.Arg)
	}
}
