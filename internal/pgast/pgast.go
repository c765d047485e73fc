// Package pgast provides small helpers over the pg_query parse tree:
// parsing and serializing single expressions, walking expression nodes,
// and constructing the handful of node shapes the rewriter emits.
//
// The PostgreSQL grammar is close enough to DuckDB's that queries round-trip
// through parse → deparse unchanged in meaning; DuckDB-specific syntax the
// grammar rejects surfaces as a parse error at the API boundary.
package pgast

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"
)

// ParseExpr parses a single SQL expression (not a statement). The expression
// is wrapped in a SELECT target to reuse the statement parser, then unwrapped.
func ParseExpr(expr string) (*pg_query.Node, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return nil, fmt.Errorf("expected an expression, got a SELECT statement")
	}

	result, err := pg_query.Parse("SELECT (" + trimmed + ")")
	if err != nil {
		return nil, fmt.Errorf("parse expression: %w", err)
	}
	if len(result.Stmts) != 1 {
		return nil, fmt.Errorf("expected a single expression, got %d statements", len(result.Stmts))
	}
	sel := result.Stmts[0].Stmt.GetSelectStmt()
	if sel == nil || len(sel.TargetList) != 1 {
		return nil, fmt.Errorf("expected a single expression")
	}
	target := sel.TargetList[0].GetResTarget()
	if target == nil || target.Val == nil {
		return nil, fmt.Errorf("expected a single expression")
	}
	return target.Val, nil
}

// DeparseExpr serializes an expression node back to SQL text. The node is
// spliced into a parsed SELECT scaffold so the deparser sees a valid tree.
func DeparseExpr(expr *pg_query.Node) (string, error) {
	scaffold, err := pg_query.Parse("SELECT 1")
	if err != nil {
		return "", fmt.Errorf("build deparse scaffold: %w", err)
	}
	scaffold.Stmts[0].Stmt.GetSelectStmt().TargetList[0].GetResTarget().Val = expr

	out, err := pg_query.Deparse(scaffold)
	if err != nil {
		return "", fmt.Errorf("deparse expression: %w", err)
	}
	return strings.TrimPrefix(out, "SELECT "), nil
}

// Clone returns a deep copy of a parse tree node. Rewrites splice policy
// constraints into several places; sharing subtrees across them would make
// later mutations visible everywhere.
func Clone(n *pg_query.Node) *pg_query.Node {
	if n == nil {
		return nil
	}
	return proto.Clone(n).(*pg_query.Node)
}

// CloneSelect deep-copies a SELECT statement.
func CloneSelect(s *pg_query.SelectStmt) *pg_query.SelectStmt {
	if s == nil {
		return nil
	}
	return proto.Clone(s).(*pg_query.SelectStmt)
}

// ColumnParts splits a ColumnRef into (table, column). Compound references
// like db.schema.t.col use the last two fields; unqualified columns return
// an empty table. A star reference returns ("", "*").
func ColumnParts(ref *pg_query.ColumnRef) (table, column string) {
	var parts []string
	star := false
	for _, f := range ref.Fields {
		switch fn := f.Node.(type) {
		case *pg_query.Node_String_:
			parts = append(parts, fn.String_.Sval)
		case *pg_query.Node_AStar:
			star = true
		}
	}
	if star {
		if len(parts) > 0 {
			return parts[len(parts)-1], "*"
		}
		return "", "*"
	}
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	default:
		return parts[len(parts)-2], parts[len(parts)-1]
	}
}

// FuncName returns the (lowercased) unqualified name of a function call.
func FuncName(fc *pg_query.FuncCall) string {
	if len(fc.Funcname) == 0 {
		return ""
	}
	last := fc.Funcname[len(fc.Funcname)-1]
	if s, ok := last.Node.(*pg_query.Node_String_); ok {
		return strings.ToLower(s.String_.Sval)
	}
	return ""
}
