package sqlrewrite

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"dfc-rewriter/internal/pgast"
)

// tableRef binds one relation visible to constraint qualifiers. For a
// plain FROM entry the qualifier is the alias (or the relation name
// itself). For a source reached through a subquery or CTE, qualifier
// is the outer alias and inner points at the SELECT whose target list
// may need extra columns, with innerQualifier naming the relation as
// it is known inside that SELECT.
type tableRef struct {
	relation       string
	qualifier      string
	inner          *pg_query.SelectStmt
	innerQualifier string
}

// collectTableRefs walks a SELECT's FROM list and WITH clause and
// returns every relation a policy source could bind to.
func collectTableRefs(sel *pg_query.SelectStmt) []tableRef {
	var refs []tableRef

	// CTE bodies first: a FROM entry naming a CTE binds through it.
	ctes := map[string]*pg_query.SelectStmt{}
	if sel.WithClause != nil {
		for _, node := range sel.WithClause.Ctes {
			cte := node.GetCommonTableExpr()
			if cte == nil {
				continue
			}
			if inner := cte.Ctequery.GetSelectStmt(); inner != nil {
				ctes[strings.ToLower(cte.Ctename)] = inner
			}
		}
	}

	for _, node := range sel.FromClause {
		collectFromNode(node, ctes, &refs)
	}
	return refs
}

func collectFromNode(node *pg_query.Node, ctes map[string]*pg_query.SelectStmt, refs *[]tableRef) {
	if node == nil {
		return
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_RangeVar:
		rv := n.RangeVar
		qualifier := rv.Relname
		if rv.Alias != nil && rv.Alias.Aliasname != "" {
			qualifier = rv.Alias.Aliasname
		}
		if inner, ok := ctes[strings.ToLower(rv.Relname)]; ok {
			for _, innerRef := range collectTableRefs(inner) {
				*refs = append(*refs, tableRef{
					relation:       innerRef.relation,
					qualifier:      qualifier,
					inner:          inner,
					innerQualifier: innerRef.qualifier,
				})
			}
			return
		}
		*refs = append(*refs, tableRef{relation: rv.Relname, qualifier: qualifier})
	case *pg_query.Node_JoinExpr:
		collectFromNode(n.JoinExpr.Larg, ctes, refs)
		collectFromNode(n.JoinExpr.Rarg, ctes, refs)
	case *pg_query.Node_RangeSubselect:
		inner := n.RangeSubselect.Subquery.GetSelectStmt()
		if inner == nil || n.RangeSubselect.Alias == nil {
			return
		}
		qualifier := n.RangeSubselect.Alias.Aliasname
		for _, innerRef := range collectTableRefs(inner) {
			*refs = append(*refs, tableRef{
				relation:       innerRef.relation,
				qualifier:      qualifier,
				inner:          inner,
				innerQualifier: innerRef.qualifier,
			})
		}
	}
}

// bindingsFor returns the refs a policy source name resolves to,
// matching relation names case-insensitively.
func bindingsFor(refs []tableRef, source string) []tableRef {
	var out []tableRef
	for _, r := range refs {
		if strings.EqualFold(r.relation, source) {
			out = append(out, r)
		}
	}
	return out
}

// isAggregation reports whether the outermost SELECT computes per-group
// results: it groups, filters groups, or aggregates in its target list.
func isAggregation(sel *pg_query.SelectStmt) bool {
	if len(sel.GroupClause) > 0 || sel.HavingClause != nil {
		return true
	}
	for _, target := range sel.TargetList {
		rt := target.GetResTarget()
		if rt != nil && pgast.HasAggregate(rt.Val) {
			return true
		}
	}
	return false
}

// groupKeyNames resolves the outermost GROUP BY entries to output
// column names usable in a USING clause. A plain column reference uses
// its column name; any other expression must match a named target in
// the SELECT list, whose alias is used; otherwise the key is ambiguous.
func groupKeyNames(sel *pg_query.SelectStmt) ([]string, error) {
	names := make([]string, 0, len(sel.GroupClause))
	for _, g := range sel.GroupClause {
		if ref := g.GetColumnRef(); ref != nil {
			_, column := pgast.ColumnParts(ref)
			names = append(names, column)
			continue
		}
		if c := g.GetAConst(); c != nil {
			if iv, ok := c.Val.(*pg_query.A_Const_Ival); ok {
				name, err := positionalKeyName(sel, iv.Ival.Ival)
				if err != nil {
					return nil, err
				}
				names = append(names, name)
				continue
			}
		}
		name, err := aliasedKeyName(sel, g)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func positionalKeyName(sel *pg_query.SelectStmt, pos int32) (string, error) {
	idx := int(pos) - 1
	if idx < 0 || idx >= len(sel.TargetList) {
		return "", internalErrorf("GROUP BY position %d out of range", pos)
	}
	rt := sel.TargetList[idx].GetResTarget()
	if rt == nil {
		return "", internalErrorf("GROUP BY position %d has no resolvable target", pos)
	}
	if rt.Name != "" {
		return rt.Name, nil
	}
	if ref := rt.Val.GetColumnRef(); ref != nil {
		_, column := pgast.ColumnParts(ref)
		return column, nil
	}
	return "", internalErrorf("GROUP BY position %d is an unnamed expression", pos)
}

func aliasedKeyName(sel *pg_query.SelectStmt, key *pg_query.Node) (string, error) {
	keySQL, err := pgast.DeparseExpr(key)
	if err != nil {
		return "", internalErrorf("cannot render GROUP BY expression: %v", err)
	}
	for _, target := range sel.TargetList {
		rt := target.GetResTarget()
		if rt == nil || rt.Name == "" {
			continue
		}
		targetSQL, err := pgast.DeparseExpr(rt.Val)
		if err != nil {
			continue
		}
		if targetSQL == keySQL {
			return rt.Name, nil
		}
	}
	return "", internalErrorf("GROUP BY expression %q has no named select target to join on", keySQL)
}
