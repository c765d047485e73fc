package sqlrewrite

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"dfc-rewriter/internal/pgast"
)

const (
	baseQueryName  = "base_query"
	policyEvalName = "policy_eval"

	// twoPhaseKey is the synthetic singleton group key used when the
	// base query aggregates without GROUP BY: the policy evaluation
	// produces at most one row, joined back with a cross join.
	twoPhaseKey = "__dfc_two_phase_key"
)

// buildTwoPhase wraps the filtered query in two CTEs: base_query is
// the caller's query unchanged, policy_eval recomputes only the group
// keys over the same FROM and WHERE, filtered by the combined
// predicate. The final SELECT joins them so enforcement cost stays out
// of the base query's plan. ORDER BY and LIMIT belong to the base
// computation and stay inside base_query.
func buildTwoPhase(sel *pg_query.SelectStmt, combined *pg_query.Node) (*pg_query.SelectStmt, error) {
	keys, err := groupKeyNames(sel)
	if err != nil {
		return nil, err
	}

	base := pgast.CloneSelect(sel)

	// Input CTEs hoist into the outer WITH so both phases see them.
	var ctes []*pg_query.Node
	if base.WithClause != nil {
		ctes = append(ctes, base.WithClause.Ctes...)
		base.WithClause = nil
	}

	eval := &pg_query.SelectStmt{
		FromClause:   cloneNodes(base.FromClause),
		WhereClause:  pgast.Clone(base.WhereClause),
		HavingClause: pgast.Clone(base.HavingClause),
		LimitOption:  pg_query.LimitOption_LIMIT_OPTION_DEFAULT,
	}
	conjoinHaving(eval, combined)

	var join *pg_query.Node
	if len(keys) == 0 {
		eval.TargetList = []*pg_query.Node{
			pgast.ResTarget(twoPhaseKey, pgast.IntConst(1)),
		}
		join = pgast.CrossJoin(
			pgast.RangeVar(baseQueryName, ""),
			pgast.RangeVar(policyEvalName, ""),
		)
	} else {
		eval.TargetList = make([]*pg_query.Node, 0, len(keys))
		eval.GroupClause = make([]*pg_query.Node, 0, len(keys))
		for i, g := range base.GroupClause {
			expr := groupKeyExpr(base, g)
			eval.TargetList = append(eval.TargetList,
				pgast.ResTarget(targetName(expr, keys[i]), pgast.Clone(expr)))
			eval.GroupClause = append(eval.GroupClause, pgast.Clone(expr))
		}
		join = pgast.JoinUsing(
			pgast.RangeVar(baseQueryName, ""),
			pgast.RangeVar(policyEvalName, ""),
			keys,
		)
	}

	ctes = append(ctes,
		pgast.CTE(baseQueryName, pgast.SelectNode(base)),
		pgast.CTE(policyEvalName, pgast.SelectNode(eval)),
	)

	outer := &pg_query.SelectStmt{
		WithClause: &pg_query.WithClause{Ctes: ctes},
		TargetList: []*pg_query.Node{
			pgast.ResTarget("", pgast.StarRef(baseQueryName)),
		},
		FromClause:  []*pg_query.Node{join},
		LimitOption: pg_query.LimitOption_LIMIT_OPTION_DEFAULT,
	}
	return outer, nil
}

// groupKeyExpr resolves positional GROUP BY entries (GROUP BY 1) to
// the select target they point at, so policy_eval can group by the
// expression itself regardless of target positions.
func groupKeyExpr(sel *pg_query.SelectStmt, key *pg_query.Node) *pg_query.Node {
	c := key.GetAConst()
	if c == nil {
		return key
	}
	iv, ok := c.Val.(*pg_query.A_Const_Ival)
	if !ok {
		return key
	}
	idx := int(iv.Ival.Ival) - 1
	if idx < 0 || idx >= len(sel.TargetList) {
		return key
	}
	if rt := sel.TargetList[idx].GetResTarget(); rt != nil {
		return rt.Val
	}
	return key
}

// targetName aliases a policy_eval projection only when the group key
// expression would not already expose the name the join needs.
func targetName(key *pg_query.Node, name string) string {
	if ref := key.GetColumnRef(); ref != nil {
		_, column := pgast.ColumnParts(ref)
		if column == name {
			return ""
		}
	}
	return name
}

func cloneNodes(nodes []*pg_query.Node) []*pg_query.Node {
	if nodes == nil {
		return nil
	}
	out := make([]*pg_query.Node, len(nodes))
	for i, n := range nodes {
		out[i] = pgast.Clone(n)
	}
	return out
}
