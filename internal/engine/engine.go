// Package engine binds the rewrite kernel to a DuckDB connection: it
// owns the policy registry, validates registrations against the live
// schema, and executes rewritten queries.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"dfc-rewriter/internal/registry"
	"dfc-rewriter/internal/sqlrewrite"
	"dfc-rewriter/policy"
)

// Engine wraps a DuckDB connection with data flow control enforcement.
// The connection is borrowed: the engine uses it for schema lookups at
// registration time and for executing rewritten queries, but never
// closes it.
type Engine struct {
	db       *sql.DB
	registry *registry.Registry
	logger   *slog.Logger
}

// New creates an engine with an empty policy registry bound to the
// connection's schema.
func New(db *sql.DB, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:       db,
		registry: registry.New(&InformationSchema{DB: db}),
		logger:   logger,
	}
}

// Register validates and stores a policy.
func (e *Engine) Register(ctx context.Context, p policy.Policy) (policy.Policy, error) {
	registered, err := e.registry.Register(ctx, p)
	if err != nil {
		return policy.Policy{}, err
	}
	e.logger.Info("policy registered",
		"id", registered.ID,
		"sources", registered.Sources,
		"on_fail", string(registered.OnFail))
	return registered, nil
}

// RegisterAll registers a batch of policies, stopping at the first
// failure.
func (e *Engine) RegisterAll(ctx context.Context, policies []policy.Policy) error {
	for _, p := range policies {
		if _, err := e.Register(ctx, p); err != nil {
			return fmt.Errorf("register policy %q: %w", p.Constraint, err)
		}
	}
	return nil
}

// Policies returns the registered policies in registration order.
func (e *Engine) Policies() []policy.Policy {
	return e.registry.Policies()
}

// Delete removes a policy by its identity triple.
func (e *Engine) Delete(sources []string, constraint string, onFail policy.Resolution) error {
	if err := e.registry.Delete(sources, constraint, onFail); err != nil {
		return err
	}
	e.logger.Info("policy deleted", "sources", sources, "on_fail", string(onFail))
	return nil
}

// DeleteByID removes a policy by its registration ID. IDs stay
// unambiguous when two policies differ only by description.
func (e *Engine) DeleteByID(id string) error {
	if err := e.registry.DeleteByID(id); err != nil {
		return err
	}
	e.logger.Info("policy deleted", "id", id)
	return nil
}

// Transform rewrites sql under the current policy set without
// executing it.
func (e *Engine) Transform(sql string, opts sqlrewrite.Options) (string, error) {
	policies := e.registry.Policies()
	out, err := sqlrewrite.Transform(sql, policies, opts)
	if err != nil {
		return "", err
	}
	if out == sql && len(policies) > 0 {
		e.logger.Debug("no policy applied to query", "policies", len(policies))
	}
	return out, nil
}

// Query transforms sql and executes the result. KILL policy violations
// surface here as execution errors raised by the database, not by the
// rewriter.
func (e *Engine) Query(ctx context.Context, sql string, opts sqlrewrite.Options) (*Result, error) {
	rewritten, err := e.Transform(sql, opts)
	if err != nil {
		return nil, err
	}
	if rewritten != sql {
		e.logger.Debug("query rewritten", "original", sql, "rewritten", rewritten)
	}

	rows, err := e.db.QueryContext(ctx, rewritten)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()
	return collectResult(rows)
}

// Result is a fully materialized query result.
type Result struct {
	Columns []string
	Rows    [][]any
}

func collectResult(rows *sql.Rows) (*Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	result := &Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}
