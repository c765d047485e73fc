package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewValidPolicy(t *testing.T) {
	p, err := New([]string{"t"}, "", "max(t.x) >= 1", Remove, "keep big x groups")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Sources) != 1 || p.Sources[0] != "t" {
		t.Errorf("sources = %v, want [t]", p.Sources)
	}
	if p.OnFail != Remove {
		t.Errorf("on_fail = %v, want REMOVE", p.OnFail)
	}
	if p.ID != "" {
		t.Errorf("unregistered policy should have no ID, got %q", p.ID)
	}
}

func TestNewMultiSourcePolicy(t *testing.T) {
	_, err := New([]string{"a", "b"}, "sink_table",
		"sum(a.v) > 0 AND count(b.id) > 10", Invalidate, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewSinkOnlyPolicy(t *testing.T) {
	_, err := New(nil, "s", "count(s.id) < 1000", Remove, "")
	if err != nil {
		t.Fatalf("sink-qualified constraint rejected: %v", err)
	}
}

func TestNewRejectsBareSinkColumn(t *testing.T) {
	_, err := New(nil, "s", "s.id < 1000", Remove, "")
	if err == nil {
		t.Fatal("expected error for non-aggregated sink column")
	}
}

func TestNewRejectsUnqualifiedColumn(t *testing.T) {
	_, err := New([]string{"t"}, "", "max(x) >= 1", Remove, "")
	if err == nil {
		t.Fatal("expected error for unqualified column")
	}
}

func TestNewRejectsUndeclaredSource(t *testing.T) {
	_, err := New([]string{"t"}, "", "max(other.x) >= 1", Remove, "")
	if err == nil {
		t.Fatal("expected error for column of an undeclared source")
	}
}

func TestNewRejectsBareSourceColumn(t *testing.T) {
	// t.x outside an aggregate would evaluate per row, not per scope.
	_, err := New([]string{"t"}, "", "t.x >= 1", Remove, "")
	if err == nil {
		t.Fatal("expected error for non-aggregated source column")
	}
}

func TestNewRejectsNonBooleanConstraint(t *testing.T) {
	_, err := New([]string{"t"}, "", "max(t.x) + 1", Remove, "")
	if err == nil {
		t.Fatal("expected error for non-boolean constraint")
	}
}

func TestNewRejectsStatementConstraint(t *testing.T) {
	_, err := New([]string{"t"}, "", "SELECT 1", Remove, "")
	if err == nil {
		t.Fatal("expected error for statement used as constraint")
	}
}

func TestNewRejectsDuplicateSources(t *testing.T) {
	_, err := New([]string{"t", "T"}, "", "max(t.x) >= 1", Remove, "")
	if err == nil {
		t.Fatal("expected error for duplicate sources")
	}
}

func TestNewRejectsEmptySourcesAndSink(t *testing.T) {
	_, err := New(nil, "", "max(t.x) >= 1", Remove, "")
	if err == nil {
		t.Fatal("expected error for policy without sources or sink")
	}
}

func TestParseResolution(t *testing.T) {
	cases := map[string]Resolution{
		"REMOVE":     Remove,
		"remove":     Remove,
		" Invalidate ": Invalidate,
		"kill":       Kill,
	}
	for in, want := range cases {
		got, err := ParseResolution(in)
		if err != nil {
			t.Errorf("ParseResolution(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseResolution(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseResolution("DISCARD"); err == nil {
		t.Error("expected error for unknown resolution")
	}
}

func TestStructuralKeyIgnoresDescriptionAndFormatting(t *testing.T) {
	a, err := New([]string{"t"}, "", "max(t.x) >= 1", Remove, "first")
	if err != nil {
		t.Fatal(err)
	}
	b, err := New([]string{"T"}, "other_sink", "max(t.x)  >=   1", Remove, "second")
	if err != nil {
		t.Fatal(err)
	}
	if a.Key() != b.Key() {
		t.Errorf("keys differ: %q vs %q", a.Key(), b.Key())
	}
	if !a.Matches([]string{"t"}, "max(t.x) >= 1", Remove) {
		t.Error("policy should match its own identity triple")
	}
	if a.Matches([]string{"t"}, "max(t.x) >= 1", Kill) {
		t.Error("policy should not match a different on_fail")
	}
}

func TestKeyDiffersAcrossSources(t *testing.T) {
	a, _ := New([]string{"t"}, "", "max(t.x) >= 1", Remove, "")
	b, _ := New([]string{"t", "u"}, "", "max(t.x) >= 1", Remove, "")
	if a.Key() == b.Key() {
		t.Error("policies with different sources should have different keys")
	}
}

func TestParseText(t *testing.T) {
	p, err := ParseText("SOURCES orders, lineitem SINK report CONSTRAINT count(orders.o_orderkey) > 5 ON FAIL kill DESCRIPTION minimum group size")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Sources) != 2 || p.Sources[0] != "orders" || p.Sources[1] != "lineitem" {
		t.Errorf("sources = %v", p.Sources)
	}
	if p.Sink != "report" {
		t.Errorf("sink = %q, want report", p.Sink)
	}
	if p.OnFail != Kill {
		t.Errorf("on_fail = %v, want KILL", p.OnFail)
	}
	if p.Description != "minimum group size" {
		t.Errorf("description = %q", p.Description)
	}
}

func TestParseTextMinimal(t *testing.T) {
	p, err := ParseText("source t constraint max(t.x) >= 1 on fail remove")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Sink != "" || p.Description != "" {
		t.Errorf("sink/description should be empty: %q %q", p.Sink, p.Description)
	}
}

func TestParseTextRejectsMalformed(t *testing.T) {
	for _, text := range []string{
		"",
		"CONSTRAINT max(t.x) >= 1 ON FAIL REMOVE",
		"SOURCES t CONSTRAINT max(t.x) >= 1",
		"SOURCES t CONSTRAINT max(t.x) >= 1 ON FAIL EXPLODE",
	} {
		if _, err := ParseText(text); err == nil {
			t.Errorf("expected error for %q", text)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	content := `
- sources: [t]
  constraint: "max(t.x) >= 1"
  on_fail: REMOVE
  description: threshold
- sources: [a, b]
  sink: out
  constraint: "sum(a.v) > 0 AND min(b.w) < 10"
  on_fail: invalidate
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	policies, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("got %d policies, want 2", len(policies))
	}
	if policies[1].OnFail != Invalidate {
		t.Errorf("on_fail = %v, want INVALIDATE", policies[1].OnFail)
	}
}

func TestLoadFileRejectsInvalidEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	content := `
- sources: [t]
  constraint: "max(other.x) >= 1"
  on_fail: REMOVE
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for constraint over undeclared source")
	}
}
