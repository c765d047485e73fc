package sqlrewrite

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"dfc-rewriter/internal/pgast"
)

// CombineBalanced parses each predicate and folds the list into a
// balanced binary AND tree. Engines cap expression recursion depth, so
// a left-linear chain of N conjuncts fails for large N where the
// balanced form stays within ceil(log2(N))+1 levels.
//
// No predicates yields the boolean literal TRUE so an empty policy set
// is a no-op filter. A single predicate is returned as parsed.
func CombineBalanced(predicates []string) (*pg_query.Node, error) {
	nodes := make([]*pg_query.Node, 0, len(predicates))
	for _, p := range predicates {
		node, err := pgast.ParseExpr(p)
		if err != nil {
			return nil, &ParseError{SQL: p, Err: err}
		}
		nodes = append(nodes, node)
	}
	return CombineNodes(nodes), nil
}

// CombineNodes folds already-parsed predicates into a balanced binary
// AND tree, halving the list each round.
func CombineNodes(nodes []*pg_query.Node) *pg_query.Node {
	if len(nodes) == 0 {
		return pgast.BoolConst(true)
	}
	for len(nodes) > 1 {
		folded := make([]*pg_query.Node, 0, (len(nodes)+1)/2)
		for i := 0; i+1 < len(nodes); i += 2 {
			folded = append(folded, pgast.And(nodes[i], nodes[i+1]))
		}
		if len(nodes)%2 == 1 {
			folded = append(folded, nodes[len(nodes)-1])
		}
		nodes = folded
	}
	return nodes[0]
}

// AndDepth measures the depth of a combined tree counted in AND
// levels. Leaves have depth 1.
func AndDepth(n *pg_query.Node) int {
	be := n.GetBoolExpr()
	if be == nil || be.Boolop != pg_query.BoolExprType_AND_EXPR {
		return 1
	}
	max := 0
	for _, arg := range be.Args {
		if d := AndDepth(arg); d > max {
			max = d
		}
	}
	return max + 1
}
