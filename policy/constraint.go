package policy

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"dfc-rewriter/internal/pgast"
)

// checkConstraint verifies the constraint expression without a schema:
// it must parse as a single boolean expression, every column reference
// must be qualified with a declared source or the sink, and every such
// column must sit under an aggregate function. Aggregation is what
// gives the constraint per-scope (rather than per-row) semantics, so a
// bare column would silently change meaning.
func checkConstraint(constraint string, sources []string, sink string) error {
	expr, err := pgast.ParseExpr(constraint)
	if err != nil {
		return fmt.Errorf("constraint %q does not parse as an expression: %w", constraint, err)
	}
	if !pgast.IsBooleanExpr(expr) {
		return fmt.Errorf("constraint %q is not a boolean expression", constraint)
	}

	declared := func(name string) bool {
		if sink != "" && strings.EqualFold(sink, name) {
			return true
		}
		for _, s := range sources {
			if strings.EqualFold(s, name) {
				return true
			}
		}
		return false
	}

	for _, col := range pgast.Columns(expr) {
		table, column := pgast.ColumnParts(col)
		if table == "" {
			return fmt.Errorf("constraint column %q must be qualified as source.column", column)
		}
		if !declared(table) {
			return fmt.Errorf("constraint references %s.%s but %q is not a declared source or sink", table, column, table)
		}
	}

	if bare := bareDeclaredColumn(expr, declared); bare != "" {
		return fmt.Errorf("constraint column %s must appear inside an aggregate function", bare)
	}
	return nil
}

// bareDeclaredColumn returns the first declared-relation column
// referenced outside any aggregate call, rendered as table.column, or
// "" when none.
func bareDeclaredColumn(expr *pg_query.Node, declared func(string) bool) string {
	for _, col := range pgast.ColumnsOutsideAggregates(expr) {
		table, column := pgast.ColumnParts(col)
		if declared(table) {
			return table + "." + column
		}
	}
	return ""
}
