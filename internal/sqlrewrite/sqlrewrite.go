// Package sqlrewrite turns registered data flow control policies into
// SQL enforcement. Transform parses a query, matches policies to its
// table references, and emits a rewritten query whose result respects
// every applicable policy: failing groups filtered (REMOVE), flagged
// (INVALIDATE), or fatal (KILL).
package sqlrewrite

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"dfc-rewriter/internal/pgast"
	"dfc-rewriter/policy"
)

// Options selects the rewrite strategy.
type Options struct {
	// TwoPhase isolates policy evaluation into its own CTE joined back
	// to the base query, instead of growing the base query's HAVING
	// clause. Scan queries always use the in-place form.
	TwoPhase bool
}

// Transform rewrites sql so that the result respects every applicable
// policy. Policies whose sources do not appear in the query are
// skipped. Non-SELECT statements pass through unchanged. A rewritten
// query is always a deparse of the modified parse tree, so its
// formatting is dialect-normalized.
func Transform(sql string, policies []policy.Policy, opts Options) (string, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return "", &ParseError{SQL: sql, Err: err}
	}
	if len(result.Stmts) != 1 {
		return sql, nil
	}
	sel := result.Stmts[0].Stmt.GetSelectStmt()
	if sel == nil {
		return sql, nil
	}

	if sel.Op != pg_query.SetOperation_SETOP_NONE {
		// Set operations would need per-arm enforcement; refuse rather
		// than emit a query that guards only one arm.
		matched, err := resolveScopes(armSelect(sel), policies)
		if err != nil {
			return "", err
		}
		if len(matched) > 0 {
			return "", internalErrorf("set operation queries are not supported")
		}
		return sql, nil
	}

	matches, err := resolveScopes(sel, policies)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return sql, nil
	}

	filters, invalidates := partition(matches)
	agg := isAggregation(sel)
	if !agg {
		demoteAll(filters)
		demoteAll(invalidates)
	}
	killWrap(filters)

	if len(invalidates) > 0 {
		// The valid column must land before any two-phase restructure:
		// buildTwoPhase clones sel into the base_query CTE, whose star
		// projection then carries the column to the final output.
		addValidColumn(sel, CombineNodes(flatten(invalidates)))
	}

	if len(filters) > 0 {
		combined := CombineNodes(flatten(filters))
		switch {
		case !agg:
			conjoinWhere(sel, combined)
		case opts.TwoPhase:
			outer, err := buildTwoPhase(sel, combined)
			if err != nil {
				return "", err
			}
			result.Stmts[0].Stmt = pgast.SelectNode(outer)
		default:
			conjoinHaving(sel, combined)
		}
	}

	out, err := pg_query.Deparse(result)
	if err != nil {
		return "", internalErrorf("deparse rewritten query: %v", err)
	}
	return out, nil
}

// partition splits matches into filtering scopes and INVALIDATE
// scopes. KILL scopes are ordered before REMOVE scopes so a scope
// failing both aborts the query instead of being silently dropped.
func partition(matches []scopeMatch) (filters, invalidates []scopeMatch) {
	for _, m := range matches {
		if m.policy.OnFail == policy.Kill {
			filters = append(filters, m)
		}
	}
	for _, m := range matches {
		switch m.policy.OnFail {
		case policy.Remove:
			filters = append(filters, m)
		case policy.Invalidate:
			invalidates = append(invalidates, m)
		}
	}
	return filters, invalidates
}

// killWrap replaces each KILL scope's predicates with the aborting
// CASE form in place.
func killWrap(matches []scopeMatch) {
	for _, m := range matches {
		if m.policy.OnFail != policy.Kill {
			continue
		}
		for j, pred := range m.predicates {
			m.predicates[j] = wrapKill(pred, m.policy.Description)
		}
	}
}

// demoteAll rewrites every predicate for per-row evaluation on a scan
// query.
func demoteAll(matches []scopeMatch) {
	for _, m := range matches {
		for j, pred := range m.predicates {
			m.predicates[j] = demoteAggregates(pred)
		}
	}
}

func flatten(matches []scopeMatch) []*pg_query.Node {
	var out []*pg_query.Node
	for _, m := range matches {
		out = append(out, m.predicates...)
	}
	return out
}

// armSelect exposes every arm of a set operation for source matching
// only. Arms can themselves be set operations, so the FROM lists are
// gathered recursively.
func armSelect(sel *pg_query.SelectStmt) *pg_query.SelectStmt {
	probe := &pg_query.SelectStmt{}
	collectArmFroms(sel, probe)
	return probe
}

func collectArmFroms(sel, probe *pg_query.SelectStmt) {
	if sel == nil {
		return
	}
	if sel.WithClause != nil {
		if probe.WithClause == nil {
			probe.WithClause = &pg_query.WithClause{}
		}
		probe.WithClause.Ctes = append(probe.WithClause.Ctes, sel.WithClause.Ctes...)
	}
	if sel.Op != pg_query.SetOperation_SETOP_NONE {
		collectArmFroms(sel.Larg, probe)
		collectArmFroms(sel.Rarg, probe)
		return
	}
	probe.FromClause = append(probe.FromClause, sel.FromClause...)
}
