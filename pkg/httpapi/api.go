// Package httpapi exposes the decision engine to enforcement-point SDKs and
// UIs over HTTP/JSON. All Decision fields, including the matched_policies
// trace, survive serialisation; outcomes are reported as the uppercase
// tokens ALLOW, DENY, REVIEW.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/aegisgov/decision-engine/pkg/domain"
	"github.com/aegisgov/decision-engine/pkg/engine"
	"github.com/aegisgov/decision-engine/pkg/repository"
)

// ErrorResponse is the standard JSON error model: a stable machine-readable
// code plus a human-readable message.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler serves the decision API.
type Handler struct {
	engine *engine.Engine
	log    zerolog.Logger
}

// NewHandler constructs the API handler.
func NewHandler(eng *engine.Engine, log zerolog.Logger) *Handler {
	return &Handler{engine: eng, log: log}
}

// Routes mounts the API on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/evaluate", h.evaluate)
		r.Post("/batch", h.batch)
		r.Post("/simulate", h.simulate)
		r.Get("/explain/{decisionID}", h.explain)
		r.Get("/stats", h.stats)
	})
	return r
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req domain.EvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "MALFORMED_REQUEST", "request body is not valid JSON")
		return
	}

	decision, err := h.engine.Evaluate(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, decision)
}

type batchRequest struct {
	Requests []domain.EvaluationRequest `json:"requests"`
}

type batchEntry struct {
	Decision *domain.Decision `json:"decision,omitempty"`
	Error    *ErrorResponse   `json:"error,omitempty"`
}

type batchResponse struct {
	Results []batchEntry `json:"results"`
}

func (h *Handler) batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "MALFORMED_REQUEST", "request body is not valid JSON")
		return
	}

	results := h.engine.BatchEvaluate(r.Context(), req.Requests)
	resp := batchResponse{Results: make([]batchEntry, len(results))}
	for i, res := range results {
		if res.Err != nil {
			code, _ := classify(res.Err)
			resp.Results[i] = batchEntry{Error: &ErrorResponse{Code: code, Message: res.Err.Error()}}
			continue
		}
		decision := res.Decision
		resp.Results[i] = batchEntry{Decision: &decision}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type simulateRequest struct {
	Request  domain.EvaluationRequest `json:"request"`
	Policies []repository.PolicySpec  `json:"policies"`
}

func (h *Handler) simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "MALFORMED_REQUEST", "request body is not valid JSON")
		return
	}

	candidate, err := repository.CompileAll(r.Context(), req.Policies)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_POLICY", err.Error())
		return
	}

	decision, err := h.engine.Simulate(r.Context(), req.Request, candidate)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) explain(w http.ResponseWriter, r *http.Request) {
	decisionID := chi.URLParam(r, "decisionID")
	decision, err := h.engine.Explain(decisionID)
	if err != nil {
		if errors.Is(err, domain.ErrDecisionNotFound) {
			h.writeError(w, http.StatusNotFound, "DECISION_NOT_FOUND", "no trace retained for decision "+decisionID)
			return
		}
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) stats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Health(r.Context()))
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	code, status := classify(err)
	h.writeError(w, status, code, err.Error())
}

func classify(err error) (code string, status int) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return "INVALID_REQUEST", http.StatusBadRequest
	case errors.Is(err, domain.ErrDeadlineExceeded):
		return "EVALUATION_TIMEOUT", http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrRepositoryUnavailable):
		return "POLICY_REPOSITORY_UNAVAILABLE", http.StatusServiceUnavailable
	default:
		return "INTERNAL", http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("encode response failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
