package sqlrewrite

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"dfc-rewriter/internal/pgast"
	"dfc-rewriter/policy"
)

// scopeMatch is one applicable policy with its constraint instantiated
// against the query's actual table bindings.
type scopeMatch struct {
	policy     policy.Policy
	predicates []*pg_query.Node
}

// resolveScopes matches the registered policies against the query's
// table bindings. Policies whose relations are absent do not apply and
// are skipped without error. For each match the constraint template is
// instantiated once per binding combination: a relation joined under
// several aliases contributes one expanded predicate per alias.
func resolveScopes(sel *pg_query.SelectStmt, policies []policy.Policy) ([]scopeMatch, error) {
	refs := collectTableRefs(sel)
	var matches []scopeMatch
	for _, p := range policies {
		template, err := pgast.ParseExpr(p.Constraint)
		if err != nil {
			return nil, &ParseError{SQL: p.Constraint, Err: err}
		}
		relations := boundRelations(p, template)
		bindings := make([][]tableRef, len(relations))
		applies := true
		for i, rel := range relations {
			b := bindingsFor(refs, rel)
			if len(b) == 0 {
				applies = false
				break
			}
			bindings[i] = b
		}
		if !applies {
			continue
		}
		matches = append(matches, scopeMatch{
			policy:     p,
			predicates: instantiate(template, relations, bindings),
		})
	}
	return matches, nil
}

// boundRelations lists the relations the query must contain for the
// policy to apply: every source, plus the sink when the constraint
// reads its columns.
func boundRelations(p policy.Policy, template *pg_query.Node) []string {
	if p.Sink == "" || p.HasSource(p.Sink) || len(constraintColumns(template, p.Sink)) == 0 {
		return p.Sources
	}
	relations := make([]string, 0, len(p.Sources)+1)
	relations = append(relations, p.Sources...)
	return append(relations, p.Sink)
}

// instantiate expands the constraint template over the cartesian
// product of each relation's bindings.
func instantiate(template *pg_query.Node, relations []string, bindings [][]tableRef) []*pg_query.Node {
	combos := crossProduct(bindings)
	predicates := make([]*pg_query.Node, 0, len(combos))
	for _, combo := range combos {
		pred := pgast.Clone(template)
		for i, rel := range relations {
			ref := combo[i]
			remapQualifier(pred, rel, ref.qualifier)
			if ref.inner != nil {
				exposeColumns(ref, constraintColumns(template, rel))
			}
		}
		predicates = append(predicates, pred)
	}
	return predicates
}

func crossProduct(bindings [][]tableRef) [][]tableRef {
	combos := [][]tableRef{{}}
	for _, options := range bindings {
		next := make([][]tableRef, 0, len(combos)*len(options))
		for _, combo := range combos {
			for _, opt := range options {
				row := make([]tableRef, len(combo), len(combo)+1)
				copy(row, combo)
				next = append(next, append(row, opt))
			}
		}
		combos = next
	}
	return combos
}

// remapQualifier rewrites column qualifiers from the declared source
// name to the qualifier the query actually binds it under.
func remapQualifier(expr *pg_query.Node, source, qualifier string) {
	if strings.EqualFold(source, qualifier) {
		return
	}
	pgast.WalkExprs(expr, func(n *pg_query.Node) bool {
		ref := n.GetColumnRef()
		if ref == nil || len(ref.Fields) < 2 {
			return true
		}
		if strings.EqualFold(ref.Fields[0].GetString_().GetSval(), source) {
			ref.Fields[0] = pgast.String(qualifier)
		}
		return true
	})
}

// constraintColumns lists the column names the constraint reads from
// one source.
func constraintColumns(template *pg_query.Node, source string) []string {
	var cols []string
	seen := map[string]struct{}{}
	for _, ref := range pgast.Columns(template) {
		table, column := pgast.ColumnParts(ref)
		if !strings.EqualFold(table, source) {
			continue
		}
		key := strings.ToLower(column)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cols = append(cols, column)
	}
	return cols
}

// exposeColumns appends the columns a constraint needs to a subquery
// or CTE target list so the outer predicate can reference them through
// the subquery alias. A star projection already exposes everything,
// and a grouped subquery cannot grow bare columns without changing its
// meaning, so both are left alone.
func exposeColumns(ref tableRef, columns []string) {
	inner := ref.inner
	if len(inner.GroupClause) > 0 {
		return
	}
	for _, target := range inner.TargetList {
		rt := target.GetResTarget()
		if rt == nil {
			continue
		}
		if cr := rt.Val.GetColumnRef(); cr != nil {
			for _, f := range cr.Fields {
				if f.GetAStar() != nil {
					return
				}
			}
		}
	}
	for _, col := range columns {
		if subqueryExposes(inner, col) {
			continue
		}
		inner.TargetList = append(inner.TargetList,
			pgast.ResTarget("", pgast.ColumnRef(ref.innerQualifier, col)))
	}
}

func subqueryExposes(inner *pg_query.SelectStmt, column string) bool {
	for _, target := range inner.TargetList {
		rt := target.GetResTarget()
		if rt == nil {
			continue
		}
		if strings.EqualFold(rt.Name, column) {
			return true
		}
		if rt.Name == "" {
			if cr := rt.Val.GetColumnRef(); cr != nil {
				_, col := pgast.ColumnParts(cr)
				if strings.EqualFold(col, column) {
					return true
				}
			}
		}
	}
	return false
}
