package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/opsloop/saiban/internal/config"
	"github.com/opsloop/saiban/internal/decision"
	"github.com/opsloop/saiban/internal/execute"
	"github.com/opsloop/saiban/internal/explain"
	"github.com/opsloop/saiban/internal/ingest"
	"github.com/opsloop/saiban/internal/learner"
	"github.com/opsloop/saiban/internal/model"
	"github.com/opsloop/saiban/internal/storage"
)

// HandlersDeps is the set of component services a Handlers value routes to.
type HandlersDeps struct {
	Ingest   *ingest.Service
	Decision *decision.Service
	Explain  *explain.Service
	Execute  *execute.Service
	Learner  *learner.Service
	Cfg      config.Config
	Logger   *slog.Logger
}

// Handlers implements the HTTP surface for every saiban component: Ingest,
// Decision, Explain, Execute, and Learner all answer through the same
// process, so one Handlers value owns the full route table.
type Handlers struct {
	ingest   *ingest.Service
	decision *decision.Service
	explain  *explain.Service
	execute  *execute.Service
	learner  *learner.Service
	cfg      config.Config
	logger   *slog.Logger
}

// NewHandlers constructs the route handlers from the deps bundle.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		ingest:   deps.Ingest,
		decision: deps.Decision,
		explain:  deps.Explain,
		execute:  deps.Execute,
		learner:  deps.Learner,
		cfg:      deps.Cfg,
		logger:   deps.Logger,
	}
}

// --- Ingest ---

func (h *Handlers) createWorkItem(w http.ResponseWriter, r *http.Request) {
	var in model.CreateWorkItemInput
	if err := decodeJSON(r, &in, h.cfg.MaxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed request body: "+err.Error())
		return
	}
	if in.Service == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "service is required")
		return
	}
	if !model.ValidSeverity(in.Severity) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown severity: "+string(in.Severity))
		return
	}
	if in.Type == "" {
		in.Type = model.WorkItemIncident
	}

	wi, err := h.ingest.CreateWorkItem(r.Context(), in)
	if err != nil {
		h.writeInternalError(w, r, "create work item failed", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, wi)
}

func (h *Handlers) getWorkItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid work item id")
		return
	}
	wi, err := h.ingest.GetWorkItem(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "work item not found")
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "get work item failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, wi)
}

func (h *Handlers) listWorkItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.WorkItemFilter{
		Service:  q.Get("service"),
		Severity: model.Severity(q.Get("severity")),
		Limit:    atoiDefault(q.Get("limit"), 0),
		Offset:   atoiDefault(q.Get("offset"), 0),
	}
	if f.Severity != "" && !model.ValidSeverity(f.Severity) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown severity: "+string(f.Severity))
		return
	}
	items, err := h.ingest.ListWorkItems(r.Context(), f)
	if err != nil {
		h.writeInternalError(w, r, "list work items failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, items)
}

func (h *Handlers) recordOutcome(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid work item id")
		return
	}
	var o model.Outcome
	if err := decodeJSON(r, &o, h.cfg.MaxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed request body: "+err.Error())
		return
	}
	if o.EventID == "" || o.ActorID == "" || !model.ValidOutcomeType(o.Type) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "event_id, actor_id, and a valid type are required")
		return
	}

	result, err := h.ingest.RecordOutcome(r.Context(), id, o)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "work item not found")
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "record outcome failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (h *Handlers) ingestWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.MaxRequestBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "failed to read request body")
		return
	}

	if err := h.ingest.VerifySignature(body, r.Header.Get("X-Signature")); err != nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeInvalidInput, "invalid webhook signature")
		return
	}

	wi, err := h.ingest.Webhook(r.Context(), body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	writeJSON(w, r, http.StatusCreated, wi)
}

// --- Decision ---

type decideRequest struct {
	WorkItemID uuid.UUID `json:"work_item_id"`
}

func (h *Handlers) decide(w http.ResponseWriter, r *http.Request) {
	var in decideRequest
	if err := decodeJSON(r, &in, h.cfg.MaxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed request body: "+err.Error())
		return
	}
	if in.WorkItemID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "work_item_id is required")
		return
	}

	d, err := h.decision.Decide(r.Context(), in.WorkItemID)
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusOK, d)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "work item not found")
	case errors.Is(err, decision.ErrNoCandidates):
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeConstraintExhausted, "no candidates are known for this service")
	case errors.Is(err, decision.ErrConstraintExhausted):
		audit, auditErr := h.decision.GetAudit(r.Context(), in.WorkItemID)
		details := map[string]any{}
		if auditErr == nil {
			details["constraints"] = audit.Constraints
			details["candidates"] = audit.Candidates
		}
		writeErrorDetails(w, r, http.StatusUnprocessableEntity, model.ErrCodeConstraintExhausted, "all candidates were filtered by constraints", details)
	default:
		h.writeInternalError(w, r, "decide failed", err)
	}
}

func (h *Handlers) getDecision(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("work_item_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid work item id")
		return
	}
	d, err := h.decision.GetDecision(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no decision for this work item")
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "get decision failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

func (h *Handlers) getAudit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("work_item_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid work item id")
		return
	}
	audit, err := h.decision.GetAudit(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no decision for this work item")
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "get audit failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, audit)
}

// --- Explain ---

func (h *Handlers) explainDecision(w http.ResponseWriter, r *http.Request) {
	var req model.ExplainRequest
	if err := decodeJSON(r, &req, h.cfg.MaxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed request body: "+err.Error())
		return
	}
	if req.DecisionID == uuid.Nil || req.Primary.HumanID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "decision_id and primary candidate are required")
		return
	}

	out, err := h.explain.Explain(r.Context(), req)
	if err != nil {
		h.writeInternalError(w, r, "explain failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

// --- Execute ---

func (h *Handlers) executeDecision(w http.ResponseWriter, r *http.Request) {
	var req model.ExecuteRequest
	if err := decodeJSON(r, &req, h.cfg.MaxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed request body: "+err.Error())
		return
	}
	if req.DecisionID == uuid.Nil || req.PrimaryHumanID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "decision_id and primary_human_id are required")
		return
	}

	action, err := h.execute.Execute(r.Context(), req)
	if errors.Is(err, execute.ErrMappingInvalid) {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeConstraintExhausted, err.Error())
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "execute failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, action)
}

func (h *Handlers) listExecutedActions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.URL.Query().Get("decision_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "decision_id is required")
		return
	}
	actions, err := h.execute.ListByDecision(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, "list executed actions failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, actions)
}

// --- Learner ---

func (h *Handlers) getProfiles(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	if service == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "service is required")
		return
	}
	profiles, err := h.learner.GetProfiles(r.Context(), service)
	if err != nil {
		h.writeInternalError(w, r, "get profiles failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, profiles)
}

func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	humanID := r.URL.Query().Get("human_id")
	if humanID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "human_id is required")
		return
	}
	stats, err := h.learner.GetStats(r.Context(), humanID)
	if err != nil {
		h.writeInternalError(w, r, "get stats failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

func (h *Handlers) postOutcome(w http.ResponseWriter, r *http.Request) {
	var o model.Outcome
	if err := decodeJSON(r, &o, h.cfg.MaxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed request body: "+err.Error())
		return
	}
	if o.EventID == "" || o.ActorID == "" || o.Service == "" || !model.ValidOutcomeType(o.Type) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "event_id, actor_id, service, and a valid type are required")
		return
	}
	result, err := h.learner.ProcessOutcome(r.Context(), o)
	if err != nil {
		h.writeInternalError(w, r, "process outcome failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (h *Handlers) syncClosed(w http.ResponseWriter, r *http.Request) {
	var req model.SyncClosedRequest
	if err := decodeJSON(r, &req, h.cfg.MaxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed request body: "+err.Error())
		return
	}
	applied, err := h.learner.SyncClosed(r.Context(), req)
	if err != nil {
		h.writeInternalError(w, r, "sync closed failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{"applied": applied})
}

// --- Health ---

func (h *Handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// writeErrorDetails writes a JSON error response carrying structured details
// (the filter reasons and candidate breakdown a 422 body needs), reusing the
// same envelope shape as writeError.
func writeErrorDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := model.APIError{
		Error: model.ErrorDetail{Code: code, Message: message, Details: details},
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("failed to encode JSON error response", "error", err, "request_id", RequestIDFromContext(r.Context()))
	}
}
