// Package registry holds the active policy set of one rewrite engine
// instance and validates policies against the live schema when they
// are registered.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"dfc-rewriter/internal/pgast"
	"dfc-rewriter/policy"
)

// ErrPolicyNotFound is returned by Delete when no registered policy
// matches the identity triple.
var ErrPolicyNotFound = errors.New("policy not found")

// ValidationError reports the first identifier in a policy that does
// not resolve against the connected schema, or a constraint that does
// not type-check as boolean.
type ValidationError struct {
	Identifier string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.Identifier != "" {
		return fmt.Sprintf("policy validation failed: %s: %s", e.Identifier, e.Reason)
	}
	return "policy validation failed: " + e.Reason
}

// SchemaProvider answers existence questions about the connected
// database. Implemented over information_schema by the engine package.
type SchemaProvider interface {
	TableExists(ctx context.Context, table string) (bool, error)
	Columns(ctx context.Context, table string) ([]string, error)
}

// Registry is the mutable policy store. Register and Delete take the
// write lock; Snapshot is what Transform reads and never blocks
// writers for longer than a copy.
type Registry struct {
	mu       sync.RWMutex
	schema   SchemaProvider
	policies []policy.Policy
}

// New creates an empty registry bound to a schema provider.
func New(schema SchemaProvider) *Registry {
	return &Registry{schema: schema}
}

// Register validates p against the schema and inserts it. Registering
// a policy structurally identical to an existing one is a no-op that
// returns the existing policy: observable state stays idempotent, no
// second active copy is created.
func (r *Registry) Register(ctx context.Context, p policy.Policy) (policy.Policy, error) {
	if err := p.Validate(); err != nil {
		return policy.Policy{}, &ValidationError{Reason: err.Error()}
	}
	if err := r.validateSchema(ctx, p); err != nil {
		return policy.Policy{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := p.Key()
	for _, existing := range r.policies {
		if existing.Key() == key {
			return existing, nil
		}
	}
	p.ID = uuid.NewString()
	r.policies = append(r.policies, p)
	return p, nil
}

// Policies returns the registered policies in registration order.
func (r *Registry) Policies() []policy.Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]policy.Policy, len(r.policies))
	copy(out, r.policies)
	return out
}

// Delete removes the policy matching the identity triple.
func (r *Registry) Delete(sources []string, constraint string, onFail policy.Resolution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.policies {
		if p.Matches(sources, constraint, onFail) {
			r.policies = append(r.policies[:i], r.policies[i+1:]...)
			return nil
		}
	}
	return ErrPolicyNotFound
}

// DeleteByID removes the policy with the given registration ID. IDs
// are unambiguous where the structural triple is not.
func (r *Registry) DeleteByID(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.policies {
		if p.ID == id {
			r.policies = append(r.policies[:i], r.policies[i+1:]...)
			return nil
		}
	}
	return ErrPolicyNotFound
}

// validateSchema checks that every declared relation exists and that
// every constraint column exists in the relation it is qualified with.
func (r *Registry) validateSchema(ctx context.Context, p policy.Policy) error {
	for _, source := range p.Sources {
		if err := r.checkTable(ctx, source); err != nil {
			return err
		}
	}
	if p.Sink != "" {
		if err := r.checkTable(ctx, p.Sink); err != nil {
			return err
		}
	}

	expr, err := pgast.ParseExpr(p.Constraint)
	if err != nil {
		return &ValidationError{Identifier: p.Constraint, Reason: err.Error()}
	}
	columns := map[string][]string{}
	for _, ref := range pgast.Columns(expr) {
		table, column := pgast.ColumnParts(ref)
		known, ok := columns[strings.ToLower(table)]
		if !ok {
			known, err = r.schema.Columns(ctx, table)
			if err != nil {
				return fmt.Errorf("schema lookup for %s: %w", table, err)
			}
			columns[strings.ToLower(table)] = known
		}
		if !containsFold(known, column) {
			return &ValidationError{
				Identifier: table + "." + column,
				Reason:     "column does not exist",
			}
		}
	}
	return nil
}

func (r *Registry) checkTable(ctx context.Context, table string) error {
	ok, err := r.schema.TableExists(ctx, table)
	if err != nil {
		return fmt.Errorf("schema lookup for %s: %w", table, err)
	}
	if !ok {
		return &ValidationError{Identifier: table, Reason: "table does not exist"}
	}
	return nil
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
