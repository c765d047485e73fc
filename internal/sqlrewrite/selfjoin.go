package sqlrewrite

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"dfc-rewriter/internal/pgast"
)

// Self-join agreement enforcement: a constraint that requires N
// aliases of the same relation to agree on a column. The aliases and
// the comparison edges between them are modeled explicitly rather
// than as nested query objects, and above a threshold the aliases are
// batched into pre-aggregated chunk subqueries so neither the
// FROM-list nor any single predicate grows with N.

// Shape selects how comparison edges are generated over the aliases.
type Shape int

const (
	// Pairwise compares every ordered alias pair: N*(N-1) predicates.
	Pairwise Shape = iota
	// Star compares every alias against the first: N-1 predicates.
	// Agreement is transitive through the reference alias, so on
	// consistent data Star and Pairwise select the same rows.
	Star
)

// Chunking defaults.
const (
	DefaultChunkThreshold = 100
	DefaultChunkBatchSize = 32
)

const chunkKeyColumn = "base_rowid"

// ParseShape parses a shape name ("pairwise" or "star").
func ParseShape(s string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pairwise":
		return Pairwise, nil
	case "star":
		return Star, nil
	default:
		return Pairwise, fmt.Errorf("unknown shape %q (want pairwise or star)", s)
	}
}

// AliasSet describes one self-joined relation: the aliases it is
// joined under, the row-identity column the aliases are matched on,
// and the column whose aggregate must agree across aliases.
type AliasSet struct {
	Relation  string
	KeyColumn string
	Column    string
	Aliases   []string
}

// ChunkOptions bound the self-join FROM-list. Zero values take the
// defaults.
type ChunkOptions struct {
	Threshold int
	BatchSize int
}

func (o ChunkOptions) threshold() int {
	if o.Threshold > 0 {
		return o.Threshold
	}
	return DefaultChunkThreshold
}

func (o ChunkOptions) batchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return DefaultChunkBatchSize
}

// Chunked reports whether the alias count is at or above the
// batching threshold.
func (s AliasSet) Chunked(opts ChunkOptions) bool {
	return len(s.Aliases) >= opts.threshold()
}

// edges returns the alias pairs to compare under the given shape.
func (s AliasSet) edges(shape Shape) [][2]string {
	n := len(s.Aliases)
	var out [][2]string
	switch shape {
	case Star:
		for _, a := range s.Aliases[1:] {
			out = append(out, [2]string{s.Aliases[0], a})
		}
	default:
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if i != j {
					out = append(out, [2]string{s.Aliases[i], s.Aliases[j]})
				}
			}
		}
	}
	return out
}

// Predicates generates the agreement predicates as SQL text, one per
// comparison edge: MAX(<left>) = MAX(<right>). When the alias count
// crosses the chunking threshold the operands reference the chunk
// subquery columns produced by Apply instead of the raw aliases.
func (s AliasSet) Predicates(shape Shape, opts ChunkOptions) []string {
	operand := s.directOperand
	if s.Chunked(opts) {
		operand = s.chunkedOperand(opts)
	}
	edges := s.edges(shape)
	preds := make([]string, 0, len(edges))
	for _, e := range edges {
		preds = append(preds, fmt.Sprintf("MAX(%s) = MAX(%s)", operand(e[0]), operand(e[1])))
	}
	return preds
}

func (s AliasSet) directOperand(alias string) string {
	return alias + "." + s.Column
}

// chunkedOperand maps an alias to the chunk subquery column carrying
// its value. The primary alias stays in the FROM-list directly.
func (s AliasSet) chunkedOperand(opts ChunkOptions) func(string) string {
	batch := make(map[string]int, len(s.Aliases))
	for i, a := range s.Aliases[1:] {
		batch[strings.ToLower(a)] = i / opts.batchSize()
	}
	return func(alias string) string {
		if strings.EqualFold(alias, s.Aliases[0]) {
			return s.directOperand(alias)
		}
		return fmt.Sprintf("chunk_%d.%s", batch[strings.ToLower(alias)], s.chunkColumn(alias))
	}
}

func (s AliasSet) chunkColumn(alias string) string {
	return alias + "_" + s.Column
}

// BuildQuery emits the agreement-check query for the alias set: every
// alias of the relation joined on row identity, counting the rows on
// which the aliases' aggregated columns agree under the given shape.
// At or above the chunking threshold the FROM-list uses batch
// subqueries instead of one join per alias.
func (s AliasSet) BuildQuery(shape Shape, opts ChunkOptions) (string, error) {
	if s.Relation == "" || s.KeyColumn == "" || s.Column == "" {
		return "", internalErrorf("alias set needs relation, key column, and column")
	}
	if len(s.Aliases) < 2 {
		return "", internalErrorf("agreement needs at least 2 aliases, got %d", len(s.Aliases))
	}

	combined, err := CombineBalanced(s.Predicates(shape, opts))
	if err != nil {
		return "", err
	}

	sel := &pg_query.SelectStmt{
		TargetList: []*pg_query.Node{
			pgast.ResTarget("", pgast.CountStar()),
		},
		LimitOption: pg_query.LimitOption_LIMIT_OPTION_DEFAULT,
	}
	if s.Chunked(opts) {
		if err := s.Apply(sel, opts); err != nil {
			return "", err
		}
	} else {
		primary := s.Aliases[0]
		from := pgast.RangeVar(s.Relation, primary)
		for _, a := range s.Aliases[1:] {
			from = pgast.JoinOn(from, pgast.RangeVar(s.Relation, a),
				pgast.Equals(
					pgast.ColumnRef(primary, s.KeyColumn),
					pgast.ColumnRef(a, s.KeyColumn),
				))
		}
		sel.FromClause = []*pg_query.Node{from}
	}
	conjoinHaving(sel, combined)

	out, err := pg_query.Deparse(&pg_query.ParseResult{
		Stmts: []*pg_query.RawStmt{{Stmt: pgast.SelectNode(sel)}},
	})
	if err != nil {
		return "", internalErrorf("deparse agreement query: %v", err)
	}
	return out, nil
}

// Apply restructures the SELECT for a chunked self-join: the primary
// alias stays as-is, every other alias leaves the FROM-list and is
// replaced by batch subqueries joined back on row identity, and the
// WHERE predicates that matched those aliases' key columns are dropped
// since the chunk joins subsume them. Below the threshold the query is
// left untouched.
func (s AliasSet) Apply(sel *pg_query.SelectStmt, opts ChunkOptions) error {
	if !s.Chunked(opts) {
		return nil
	}
	if len(s.Aliases) < 2 {
		return internalErrorf("self-join chunking needs at least 2 aliases, got %d", len(s.Aliases))
	}

	primary := s.Aliases[0]
	from := pgast.RangeVar(s.Relation, primary)
	rest := s.Aliases[1:]
	size := opts.batchSize()
	for i := 0; i*size < len(rest); i++ {
		batch := rest[i*size : min((i+1)*size, len(rest))]
		chunkAlias := fmt.Sprintf("chunk_%d", i)
		from = pgast.JoinOn(from, s.chunkSubquery(batch, chunkAlias),
			pgast.Equals(
				pgast.ColumnRef(primary, s.KeyColumn),
				pgast.ColumnRef(chunkAlias, chunkKeyColumn),
			))
	}
	sel.FromClause = []*pg_query.Node{from}
	sel.WhereClause = s.dropKeyPredicates(sel.WhereClause)
	return nil
}

// chunkSubquery pre-joins one batch of aliases and projects their
// compared columns keyed by row identity, bounding the outer
// FROM-list at one join per batch.
func (s AliasSet) chunkSubquery(batch []string, chunkAlias string) *pg_query.Node {
	first := batch[0]
	targets := []*pg_query.Node{
		pgast.ResTarget(chunkKeyColumn, pgast.ColumnRef(first, s.KeyColumn)),
	}
	from := pgast.RangeVar(s.Relation, first)
	for _, a := range batch {
		targets = append(targets,
			pgast.ResTarget(s.chunkColumn(a), pgast.ColumnRef(a, s.Column)))
		if a == first {
			continue
		}
		from = pgast.JoinOn(from, pgast.RangeVar(s.Relation, a),
			pgast.Equals(
				pgast.ColumnRef(first, s.KeyColumn),
				pgast.ColumnRef(a, s.KeyColumn),
			))
	}
	return pgast.Subselect(&pg_query.SelectStmt{
		TargetList:  targets,
		FromClause:  []*pg_query.Node{from},
		LimitOption: pg_query.LimitOption_LIMIT_OPTION_DEFAULT,
	}, chunkAlias)
}

// dropKeyPredicates removes "a.key = b.key" conjuncts between chunked
// aliases from a WHERE clause; the chunk joins enforce row identity
// already. Returns nil when nothing survives.
func (s AliasSet) dropKeyPredicates(where *pg_query.Node) *pg_query.Node {
	if where == nil {
		return nil
	}
	if be := where.GetBoolExpr(); be != nil && be.Boolop == pg_query.BoolExprType_AND_EXPR {
		var kept []*pg_query.Node
		for _, arg := range be.Args {
			if surviving := s.dropKeyPredicates(arg); surviving != nil {
				kept = append(kept, surviving)
			}
		}
		switch len(kept) {
		case 0:
			return nil
		case 1:
			return kept[0]
		default:
			be.Args = kept
			return where
		}
	}
	if s.isKeyEquality(where) {
		return nil
	}
	return where
}

func (s AliasSet) isKeyEquality(n *pg_query.Node) bool {
	ae := n.GetAExpr()
	if ae == nil || ae.Kind != pg_query.A_Expr_Kind_AEXPR_OP {
		return false
	}
	if len(ae.Name) != 1 || ae.Name[0].GetString_().GetSval() != "=" {
		return false
	}
	return s.isAliasKey(ae.Lexpr) && s.isAliasKey(ae.Rexpr)
}

func (s AliasSet) isAliasKey(n *pg_query.Node) bool {
	ref := n.GetColumnRef()
	if ref == nil {
		return false
	}
	table, column := pgast.ColumnParts(ref)
	if !strings.EqualFold(column, s.KeyColumn) {
		return false
	}
	for _, a := range s.Aliases {
		if strings.EqualFold(a, table) {
			return true
		}
	}
	return false
}
