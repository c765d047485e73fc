package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"dfc-rewriter/policy"
)

// fakeSchema is an in-memory SchemaProvider keyed by lowercase table
// name.
type fakeSchema map[string][]string

func (f fakeSchema) TableExists(_ context.Context, table string) (bool, error) {
	_, ok := f[strings.ToLower(table)]
	return ok, nil
}

func (f fakeSchema) Columns(_ context.Context, table string) ([]string, error) {
	return f[strings.ToLower(table)], nil
}

func testSchema() fakeSchema {
	return fakeSchema{
		"t":      {"g", "v", "x"},
		"orders": {"o_orderkey", "o_totalprice"},
	}
}

func mustPolicy(t *testing.T, sources []string, constraint string, onFail policy.Resolution) policy.Policy {
	t.Helper()
	p, err := policy.New(sources, "", constraint, onFail, "")
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRegisterAssignsID(t *testing.T) {
	r := New(testSchema())
	p, err := r.Register(context.Background(),
		mustPolicy(t, []string{"t"}, "max(t.x) >= 1", policy.Remove))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == "" {
		t.Error("registered policy should carry an ID")
	}
	if got := r.Policies(); len(got) != 1 || got[0].ID != p.ID {
		t.Errorf("Policies() = %v", got)
	}
}

func TestRegisterDuplicateIsNoop(t *testing.T) {
	r := New(testSchema())
	ctx := context.Background()
	first, err := r.Register(ctx, mustPolicy(t, []string{"t"}, "max(t.x) >= 1", policy.Remove))
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Register(ctx, mustPolicy(t, []string{"t"}, "max(t.x)  >=  1", policy.Remove))
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("duplicate registration created a second copy: %s vs %s", first.ID, second.ID)
	}
	if got := r.Policies(); len(got) != 1 {
		t.Errorf("got %d policies, want 1", len(got))
	}
}

func TestRegisterRejectsUnknownTable(t *testing.T) {
	r := New(testSchema())
	_, err := r.Register(context.Background(),
		mustPolicy(t, []string{"missing"}, "max(missing.x) >= 1", policy.Remove))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if ve.Identifier != "missing" {
		t.Errorf("error should name the table, got %q", ve.Identifier)
	}
}

func TestRegisterRejectsUnknownColumn(t *testing.T) {
	r := New(testSchema())
	_, err := r.Register(context.Background(),
		mustPolicy(t, []string{"t"}, "max(t.nope) >= 1", policy.Remove))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if ve.Identifier != "t.nope" {
		t.Errorf("error should name the column, got %q", ve.Identifier)
	}
}

func TestRegisterValidatesSink(t *testing.T) {
	r := New(testSchema())
	p, err := policy.New([]string{"t"}, "missing_sink", "max(t.x) >= 1", policy.Remove, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(context.Background(), p); err == nil {
		t.Fatal("expected error for unknown sink table")
	}
}

func TestRegisterValidatesSinkColumns(t *testing.T) {
	r := New(testSchema())
	p, err := policy.New(nil, "orders", "sum(orders.nope) > 0", policy.Remove, "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Register(context.Background(), p)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if ve.Identifier != "orders.nope" {
		t.Errorf("error should name the sink column, got %q", ve.Identifier)
	}
}

func TestRegisterSinkOnlyPolicy(t *testing.T) {
	r := New(testSchema())
	p, err := policy.New(nil, "orders", "sum(orders.o_totalprice) > 0", policy.Invalidate, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPoliciesStableOrder(t *testing.T) {
	r := New(testSchema())
	ctx := context.Background()
	for _, c := range []string{"max(t.x) >= 1", "min(t.v) > 0", "count(t.g) > 2"} {
		if _, err := r.Register(ctx, mustPolicy(t, []string{"t"}, c, policy.Remove)); err != nil {
			t.Fatal(err)
		}
	}
	got := r.Policies()
	if len(got) != 3 {
		t.Fatalf("got %d policies", len(got))
	}
	for i, want := range []string{"max(t.x) >= 1", "min(t.v) > 0", "count(t.g) > 2"} {
		if got[i].Constraint != want {
			t.Errorf("policy %d = %q, want %q", i, got[i].Constraint, want)
		}
	}
}

func TestDeleteByTriple(t *testing.T) {
	r := New(testSchema())
	ctx := context.Background()
	if _, err := r.Register(ctx, mustPolicy(t, []string{"t"}, "max(t.x) >= 1", policy.Remove)); err != nil {
		t.Fatal(err)
	}
	if err := r.Delete([]string{"t"}, "max(t.x) >= 1", policy.Remove); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := r.Policies(); len(got) != 0 {
		t.Errorf("policy survived delete: %v", got)
	}
}

func TestDeleteMissReturnsNotFound(t *testing.T) {
	r := New(testSchema())
	err := r.Delete([]string{"t"}, "max(t.x) >= 1", policy.Remove)
	if !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}
}

func TestDeleteRespectsOnFail(t *testing.T) {
	r := New(testSchema())
	ctx := context.Background()
	if _, err := r.Register(ctx, mustPolicy(t, []string{"t"}, "max(t.x) >= 1", policy.Remove)); err != nil {
		t.Fatal(err)
	}
	if err := r.Delete([]string{"t"}, "max(t.x) >= 1", policy.Kill); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("delete with wrong on_fail should miss, got %v", err)
	}
}

func TestDeleteByID(t *testing.T) {
	r := New(testSchema())
	ctx := context.Background()
	p, err := r.Register(ctx, mustPolicy(t, []string{"t"}, "max(t.x) >= 1", policy.Remove))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteByID(p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.DeleteByID(p.ID); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("second delete should miss, got %v", err)
	}
}
