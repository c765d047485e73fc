// Package api exposes policy management and query execution over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"dfc-rewriter/internal/engine"
	"dfc-rewriter/internal/sqlrewrite"
	"dfc-rewriter/policy"
)

// Handler serves the policy and query endpoints over one engine.
type Handler struct {
	engine   *engine.Engine
	logger   *slog.Logger
	twoPhase bool
	chunk    sqlrewrite.ChunkOptions
}

// New creates a handler. twoPhase sets the default rewrite strategy
// for requests that do not specify one; chunk bounds self-join
// agreement queries.
func New(e *engine.Engine, logger *slog.Logger, twoPhase bool, chunk sqlrewrite.ChunkOptions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: e, logger: logger, twoPhase: twoPhase, chunk: chunk}
}

// Routes builds the router.
func (h *Handler) Routes(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", h.health)
	r.Route("/policies", func(r chi.Router) {
		r.Get("/", h.listPolicies)
		r.Post("/", h.registerPolicy)
		r.Delete("/", h.deletePolicy)
		r.Delete("/{id}", h.deletePolicyByID)
	})
	r.Post("/transform", h.transform)
	r.Post("/query", h.query)
	r.Post("/selfjoin", h.selfJoin)
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listPolicies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"policies": h.engine.Policies()})
}

// policyRequest accepts either the structured fields or the textual
// authoring format in "text".
type policyRequest struct {
	Text        string   `json:"text,omitempty"`
	Sources     []string `json:"sources,omitempty"`
	Sink        string   `json:"sink,omitempty"`
	Constraint  string   `json:"constraint,omitempty"`
	OnFail      string   `json:"on_fail,omitempty"`
	Description string   `json:"description,omitempty"`
}

func (r policyRequest) toPolicy() (policy.Policy, error) {
	if r.Text != "" {
		return policy.ParseText(r.Text)
	}
	onFail, err := policy.ParseResolution(r.OnFail)
	if err != nil {
		return policy.Policy{}, err
	}
	return policy.New(r.Sources, r.Sink, r.Constraint, onFail, r.Description)
}

func (h *Handler) registerPolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := req.toPolicy()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	registered, err := h.engine.Register(r.Context(), p)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, registered)
}

type deleteRequest struct {
	Sources    []string `json:"sources"`
	Constraint string   `json:"constraint"`
	OnFail     string   `json:"on_fail"`
}

func (h *Handler) deletePolicy(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	onFail, err := policy.ParseResolution(req.OnFail)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.engine.Delete(req.Sources, req.Constraint, onFail); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deletePolicyByID(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteByID(chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type queryRequest struct {
	SQL      string `json:"sql"`
	TwoPhase *bool  `json:"two_phase,omitempty"`
}

func (h *Handler) options(req queryRequest) sqlrewrite.Options {
	opts := sqlrewrite.Options{TwoPhase: h.twoPhase}
	if req.TwoPhase != nil {
		opts.TwoPhase = *req.TwoPhase
	}
	return opts
}

func (h *Handler) transform(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := h.engine.Transform(req.SQL, h.options(req))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sql": out})
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.engine.Query(r.Context(), req.SQL, h.options(req))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"columns":   result.Columns,
		"rows":      result.Rows,
		"row_count": len(result.Rows),
	})
}

// selfJoinRequest describes a self-join agreement check. Aliases are
// given explicitly or generated as prefix1..prefixN from count.
type selfJoinRequest struct {
	Relation  string   `json:"relation"`
	KeyColumn string   `json:"key_column"`
	Column    string   `json:"column"`
	Aliases   []string `json:"aliases,omitempty"`
	Count     int      `json:"count,omitempty"`
	Prefix    string   `json:"prefix,omitempty"`
	Shape     string   `json:"shape,omitempty"`
}

func (r selfJoinRequest) aliases() []string {
	if len(r.Aliases) > 0 {
		return r.Aliases
	}
	prefix := r.Prefix
	if prefix == "" {
		prefix = "a"
	}
	out := make([]string, r.Count)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i+1)
	}
	return out
}

func (h *Handler) selfJoin(w http.ResponseWriter, r *http.Request) {
	var req selfJoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shape, err := sqlrewrite.ParseShape(req.Shape)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	set := sqlrewrite.AliasSet{
		Relation:  req.Relation,
		KeyColumn: req.KeyColumn,
		Column:    req.Column,
		Aliases:   req.aliases(),
	}
	sql, err := set.BuildQuery(shape, h.chunk)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sql":     sql,
		"chunked": set.Chunked(h.chunk),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
