package sqlrewrite

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"dfc-rewriter/internal/pgast"
)

func somePredicates(n int) []string {
	preds := make([]string, n)
	for i := range preds {
		preds[i] = fmt.Sprintf("max(t.c%d) > %d", i, i)
	}
	return preds
}

func maxDepth(n int) int {
	if n < 1 {
		n = 1
	}
	return int(math.Ceil(math.Log2(float64(n)))) + 1
}

func TestCombineEmptyIsTrue(t *testing.T) {
	combined, err := CombineBalanced(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sql, err := pgast.DeparseExpr(combined)
	if err != nil {
		t.Fatal(err)
	}
	if sql != "true" {
		t.Errorf("empty combine = %q, want true", sql)
	}
}

func TestCombineSingleIsUnchanged(t *testing.T) {
	combined, err := CombineBalanced([]string{"max(t.x) >= 1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sql, err := pgast.DeparseExpr(combined)
	if err != nil {
		t.Fatal(err)
	}
	if sql != "max(t.x) >= 1" {
		t.Errorf("single combine = %q", sql)
	}
	if d := AndDepth(combined); d != 1 {
		t.Errorf("depth = %d, want 1", d)
	}
}

func TestCombineBalanceProperty(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 5, 7, 8, 9, 100, 431, 1000} {
		combined, err := CombineBalanced(somePredicates(n))
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if d, want := AndDepth(combined), maxDepth(n); d > want {
			t.Errorf("n=%d: depth %d exceeds %d", n, d, want)
		}
	}
}

func TestCombineContainmentProperty(t *testing.T) {
	preds := somePredicates(41)
	combined, err := CombineBalanced(preds)
	if err != nil {
		t.Fatal(err)
	}
	sql, err := pgast.DeparseExpr(combined)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range preds {
		if !strings.Contains(sql, p) {
			t.Errorf("combined output missing predicate %q", p)
		}
	}
}

func TestCombineRoundTrips(t *testing.T) {
	combined, err := CombineBalanced(somePredicates(17))
	if err != nil {
		t.Fatal(err)
	}
	sql, err := pgast.DeparseExpr(combined)
	if err != nil {
		t.Fatal(err)
	}
	reparsed, err := pgast.ParseExpr(sql)
	if err != nil {
		t.Fatalf("combined output does not reparse: %v", err)
	}
	again, err := pgast.DeparseExpr(reparsed)
	if err != nil {
		t.Fatal(err)
	}
	if again != sql {
		t.Errorf("round trip changed expression:\n%s\n%s", sql, again)
	}
}

func TestCombineThousandPoliciesStaysShallow(t *testing.T) {
	combined, err := CombineBalanced(somePredicates(1000))
	if err != nil {
		t.Fatal(err)
	}
	if d := AndDepth(combined); d > 11 {
		t.Errorf("depth = %d, want <= 11", d)
	}
}

func TestCombineRejectsInvalidPredicate(t *testing.T) {
	_, err := CombineBalanced([]string{"max(t.x) >= 1", "not ) valid ("})
	if err == nil {
		t.Fatal("expected error for unparseable predicate")
	}
}
