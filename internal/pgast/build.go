package pgast

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// String wraps a raw identifier string into a parse tree node.
func String(s string) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_String_{
			String_: &pg_query.String{Sval: s},
		},
	}
}

// ColumnRef builds a column reference, qualified when table is non-empty.
func ColumnRef(table, column string) *pg_query.Node {
	var fields []*pg_query.Node
	if table != "" {
		fields = append(fields, String(table))
	}
	fields = append(fields, String(column))
	return &pg_query.Node{
		Node: &pg_query.Node_ColumnRef{
			ColumnRef: &pg_query.ColumnRef{Fields: fields},
		},
	}
}

// StarRef builds "qualifier.*" (or bare "*" when qualifier is empty).
func StarRef(qualifier string) *pg_query.Node {
	var fields []*pg_query.Node
	if qualifier != "" {
		fields = append(fields, String(qualifier))
	}
	fields = append(fields, &pg_query.Node{Node: &pg_query.Node_AStar{AStar: &pg_query.A_Star{}}})
	return &pg_query.Node{
		Node: &pg_query.Node_ColumnRef{
			ColumnRef: &pg_query.ColumnRef{Fields: fields},
		},
	}
}

// ResTarget builds a SELECT target, aliased when name is non-empty.
func ResTarget(name string, val *pg_query.Node) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_ResTarget{
			ResTarget: &pg_query.ResTarget{Name: name, Val: val},
		},
	}
}

// BoolConst builds a boolean literal.
func BoolConst(v bool) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_AConst{
			AConst: &pg_query.A_Const{
				Val: &pg_query.A_Const_Boolval{Boolval: &pg_query.Boolean{Boolval: v}},
			},
		},
	}
}

// IntConst builds an integer literal.
func IntConst(v int32) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_AConst{
			AConst: &pg_query.A_Const{
				Val: &pg_query.A_Const_Ival{Ival: &pg_query.Integer{Ival: v}},
			},
		},
	}
}

// StringConst builds a string literal.
func StringConst(v string) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_AConst{
			AConst: &pg_query.A_Const{
				Val: &pg_query.A_Const_Sval{Sval: &pg_query.String{Sval: v}},
			},
		},
	}
}

// And builds a two-argument AND node. Combining pairwise (rather than
// appending to one n-ary BoolExpr) is what lets the combiner control the
// shape of the emitted expression.
func And(left, right *pg_query.Node) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_BoolExpr{
			BoolExpr: &pg_query.BoolExpr{
				Boolop: pg_query.BoolExprType_AND_EXPR,
				Args:   []*pg_query.Node{left, right},
			},
		},
	}
}

// FuncCall builds a plain function call.
func FuncCall(name string, args ...*pg_query.Node) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_FuncCall{
			FuncCall: &pg_query.FuncCall{
				Funcname:   []*pg_query.Node{String(name)},
				Args:       args,
				Funcformat: pg_query.CoercionForm_COERCE_EXPLICIT_CALL,
			},
		},
	}
}

// Array builds "ARRAY[elems...]".
func Array(elems ...*pg_query.Node) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_AArrayExpr{
			AArrayExpr: &pg_query.A_ArrayExpr{Elements: elems},
		},
	}
}

// CountStar builds "count(*)".
func CountStar() *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_FuncCall{
			FuncCall: &pg_query.FuncCall{
				Funcname:   []*pg_query.Node{String("count")},
				AggStar:    true,
				Funcformat: pg_query.CoercionForm_COERCE_EXPLICIT_CALL,
			},
		},
	}
}

// CaseWhenElse builds CASE WHEN cond THEN then ELSE else_ END.
func CaseWhenElse(cond, then, else_ *pg_query.Node) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_CaseExpr{
			CaseExpr: &pg_query.CaseExpr{
				Args: []*pg_query.Node{
					{
						Node: &pg_query.Node_CaseWhen{
							CaseWhen: &pg_query.CaseWhen{Expr: cond, Result: then},
						},
					},
				},
				Defresult: else_,
			},
		},
	}
}

// RangeVar builds a table reference, aliased when alias is non-empty.
func RangeVar(relname, alias string) *pg_query.Node {
	rv := &pg_query.RangeVar{
		Relname:        relname,
		Inh:            true,
		Relpersistence: "p",
	}
	if alias != "" {
		rv.Alias = &pg_query.Alias{Aliasname: alias}
	}
	return &pg_query.Node{Node: &pg_query.Node_RangeVar{RangeVar: rv}}
}

// JoinUsing builds "larg JOIN rarg USING (cols...)".
func JoinUsing(larg, rarg *pg_query.Node, cols []string) *pg_query.Node {
	using := make([]*pg_query.Node, len(cols))
	for i, c := range cols {
		using[i] = String(c)
	}
	return &pg_query.Node{
		Node: &pg_query.Node_JoinExpr{
			JoinExpr: &pg_query.JoinExpr{
				Jointype:    pg_query.JoinType_JOIN_INNER,
				Larg:        larg,
				Rarg:        rarg,
				UsingClause: using,
			},
		},
	}
}

// CrossJoin builds "larg CROSS JOIN rarg".
func CrossJoin(larg, rarg *pg_query.Node) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_JoinExpr{
			JoinExpr: &pg_query.JoinExpr{
				Jointype: pg_query.JoinType_JOIN_INNER,
				Larg:     larg,
				Rarg:     rarg,
			},
		},
	}
}

// JoinOn builds "larg JOIN rarg ON quals".
func JoinOn(larg, rarg, quals *pg_query.Node) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_JoinExpr{
			JoinExpr: &pg_query.JoinExpr{
				Jointype: pg_query.JoinType_JOIN_INNER,
				Larg:     larg,
				Rarg:     rarg,
				Quals:    quals,
			},
		},
	}
}

// Subselect wraps a SELECT as an aliased FROM item.
func Subselect(sel *pg_query.SelectStmt, alias string) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_RangeSubselect{
			RangeSubselect: &pg_query.RangeSubselect{
				Subquery: SelectNode(sel),
				Alias:    &pg_query.Alias{Aliasname: alias},
			},
		},
	}
}

// SelectNode wraps a SelectStmt into a Node.
func SelectNode(sel *pg_query.SelectStmt) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: sel}}
}

// CTE builds a named common table expression over a statement node.
func CTE(name string, query *pg_query.Node) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_CommonTableExpr{
			CommonTableExpr: &pg_query.CommonTableExpr{
				Ctename:         name,
				Ctematerialized: pg_query.CTEMaterialize_CTEMaterializeDefault,
				Ctequery:        query,
			},
		},
	}
}

// Equals builds "left = right".
func Equals(left, right *pg_query.Node) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_AExpr{
			AExpr: &pg_query.A_Expr{
				Kind:  pg_query.A_Expr_Kind_AEXPR_OP,
				Name:  []*pg_query.Node{String("=")},
				Lexpr: left,
				Rexpr: right,
			},
		},
	}
}
