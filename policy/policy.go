// Package policy defines the data flow control policy model: an
// immutable value type binding source relations to an aggregate SQL
// constraint and a resolution action taken when the constraint fails.
package policy

import (
	"fmt"
	"sort"
	"strings"
)

// Resolution is the action taken for scope instances that fail a
// policy's constraint.
type Resolution string

const (
	// Remove filters failing scope instances out of the result set.
	Remove Resolution = "REMOVE"
	// Invalidate keeps all instances and flags failures in a boolean
	// "valid" output column.
	Invalidate Resolution = "INVALIDATE"
	// Kill aborts the whole query at execution time if any scope
	// instance fails.
	Kill Resolution = "KILL"
)

// ParseResolution maps a case-insensitive action name to a Resolution.
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(Remove):
		return Remove, nil
	case string(Invalidate):
		return Invalidate, nil
	case string(Kill):
		return Kill, nil
	default:
		return "", fmt.Errorf("unknown resolution %q (want REMOVE, INVALIDATE or KILL)", s)
	}
}

// Policy is the unit of enforcement. It is a value type: once
// registered it is never mutated, and lookup/delete match on the
// structural identity (sources, constraint, on_fail).
type Policy struct {
	// ID is an opaque identifier assigned at registration. Empty on
	// unregistered policies.
	ID string `yaml:"-" json:"id,omitempty"`

	// Sources are the relation names the constraint reads from,
	// ordered and unique.
	Sources []string `yaml:"sources" json:"sources"`

	// Sink is the destination relation the policy protects. The
	// constraint may read its columns like a source's; a policy may
	// declare a sink without any sources.
	Sink string `yaml:"sink,omitempty" json:"sink,omitempty"`

	// Constraint is a SQL boolean expression over aggregates of
	// qualified source columns, e.g. "MAX(t.x) >= 1".
	Constraint string `yaml:"constraint" json:"constraint"`

	// OnFail selects what happens to scope instances that fail the
	// constraint.
	OnFail Resolution `yaml:"on_fail" json:"on_fail"`

	// Description is informational only.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// New builds a policy and checks it syntactically: sources are
// non-empty and unique, the resolution is known, and the constraint is
// a boolean expression whose columns are qualified with declared
// sources and aggregated. Schema existence is checked later, at
// registration, against the live connection.
func New(sources []string, sink, constraint string, onFail Resolution, description string) (Policy, error) {
	p := Policy{
		Sources:     normalizeSources(sources),
		Sink:        strings.TrimSpace(sink),
		Constraint:  strings.TrimSpace(constraint),
		OnFail:      onFail,
		Description: strings.TrimSpace(description),
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks the policy's shape without touching a database.
func (p Policy) Validate() error {
	if len(p.Sources) == 0 && p.Sink == "" {
		return fmt.Errorf("policy needs at least one source or a sink")
	}
	seen := make(map[string]struct{}, len(p.Sources))
	for _, s := range p.Sources {
		if s == "" {
			return fmt.Errorf("policy has an empty source name")
		}
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate source %q", s)
		}
		seen[key] = struct{}{}
	}
	if p.Constraint == "" {
		return fmt.Errorf("policy has an empty constraint")
	}
	if _, err := ParseResolution(string(p.OnFail)); err != nil {
		return err
	}
	return checkConstraint(p.Constraint, p.Sources, p.Sink)
}

// Key returns the structural identity used for lookup and delete:
// sources lowercased and sorted, the constraint whitespace-normalized,
// and the resolution. Description and sink do not participate.
func (p Policy) Key() string {
	return structuralKey(p.Sources, p.Constraint, p.OnFail)
}

// Matches reports whether the policy matches the given identity triple.
func (p Policy) Matches(sources []string, constraint string, onFail Resolution) bool {
	return p.Key() == structuralKey(sources, constraint, onFail)
}

// HasSource reports whether name is one of the declared sources,
// case-insensitively.
func (p Policy) HasSource(name string) bool {
	for _, s := range p.Sources {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

func (p Policy) String() string {
	var b strings.Builder
	b.WriteString("SOURCES ")
	b.WriteString(strings.Join(p.Sources, ", "))
	if p.Sink != "" {
		b.WriteString(" SINK ")
		b.WriteString(p.Sink)
	}
	b.WriteString(" CONSTRAINT ")
	b.WriteString(p.Constraint)
	b.WriteString(" ON FAIL ")
	b.WriteString(string(p.OnFail))
	return b.String()
}

func normalizeSources(sources []string) []string {
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func structuralKey(sources []string, constraint string, onFail Resolution) string {
	lowered := make([]string, len(sources))
	for i, s := range sources {
		lowered[i] = strings.ToLower(strings.TrimSpace(s))
	}
	sort.Strings(lowered)
	return strings.Join(lowered, ",") + "|" + strings.Join(strings.Fields(constraint), " ") + "|" + string(onFail)
}
