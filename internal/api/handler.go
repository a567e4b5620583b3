package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// DefaultMaxBatch caps the number of transactions in one batch request.
const DefaultMaxBatch = 1000

// Detector produces verdicts. *detect.Orchestrator satisfies it.
type Detector interface {
	Detect(ctx context.Context, tx *domain.Transaction) domain.Verdict
	DetectBatch(ctx context.Context, txs []domain.Transaction) map[string]domain.Verdict
}

// RuleExplainer reports every active rule's outcome. *rules.Engine satisfies it.
type RuleExplainer interface {
	EvaluateAll(ctx context.Context, tx *domain.EnrichedTransaction) ([]domain.RuleResult, error)
}

// Deps are the collaborators served over HTTP. Only Detector is required.
type Deps struct {
	Detector  Detector
	Explainer RuleExplainer
	Features  features.Options
	Rules     *rules.Manager
	Repo     domain.Repository
	Cache    *cache.RuleCache
	Bus      domain.EventBus
	Metrics  *metrics.Collector
	Version  string
	MaxBatch int
}

// Handler holds dependencies for API handlers.
type Handler struct {
	detector  Detector
	explainer RuleExplainer
	features  features.Options
	rules     *rules.Manager
	repo     domain.Repository
	cache    *cache.RuleCache
	bus      domain.EventBus
	metrics  *metrics.Collector
	validate *validator.Validate
	version  string
	maxBatch int
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.MaxBatch <= 0 {
		deps.MaxBatch = DefaultMaxBatch
	}
	return &Handler{
		detector:  deps.Detector,
		explainer: deps.Explainer,
		features:  deps.Features,
		rules:     deps.Rules,
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		metrics:  deps.Metrics,
		validate: validator.New(),
		version:  deps.Version,
		maxBatch: deps.MaxBatch,
	}
}

// BatchRequest is the request body for POST /detect/batch.
type BatchRequest struct {
	Transactions []domain.Transaction `json:"transactions" validate:"required"`
}

// BatchResponse maps transaction IDs to verdicts.
type BatchResponse struct {
	Results map[string]domain.VerdictResponse `json:"results"`
}

// VerdictRecord is a stored verdict as served by GET /verdicts/{id}: the
// verdict fields plus whether fraud was since reported.
type VerdictRecord struct {
	domain.VerdictResponse
	Reported bool `json:"is_fraud_reported"`
}

// EvaluationResponse lists each active rule's outcome for one transaction,
// in evaluation order.
type EvaluationResponse struct {
	TransactionID string              `json:"transaction_id"`
	MatchedRuleID *int64              `json:"matched_rule_id"`
	Results       []domain.RuleResult `json:"results"`
}

// FraudReportResponse acknowledges a fraud report.
type FraudReportResponse struct {
	TransactionID string `json:"transaction_id"`
	Acknowledged  bool   `json:"reporting_acknowledged"`
	FailureCode   int    `json:"failure_code,omitempty"`
}

// RuleRequest is the request body for creating or replacing a rule.
type RuleRequest struct {
	Name        string          `json:"name" validate:"required,max=255"`
	Description string          `json:"description"`
	Condition   json.RawMessage `json:"condition" validate:"required"`
	Priority    int             `json:"priority"`
	Active      *bool           `json:"is_active"`
}

func (req *RuleRequest) apply(rule *domain.Rule) {
	rule.Name = req.Name
	rule.Description = req.Description
	rule.Condition = req.Condition
	rule.Priority = req.Priority
	rule.Active = req.Active == nil || *req.Active
}

// RuleUpdateRequest is the request body for PUT /rules/{id}. Only the fields
// present in the body change; absent fields keep their stored values.
type RuleUpdateRequest struct {
	Name        *string         `json:"name" validate:"omitempty,max=255"`
	Description *string         `json:"description"`
	Condition   json.RawMessage `json:"condition"`
	Priority    *int            `json:"priority"`
	Active      *bool           `json:"is_active"`
}

func (req *RuleUpdateRequest) apply(rule *domain.Rule) {
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if len(req.Condition) > 0 {
		rule.Condition = req.Condition
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
}

// Detect handles POST /detect.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	var tx domain.Transaction
	if !h.decode(w, r, &tx) {
		return
	}

	v := h.detector.Detect(r.Context(), &tx)
	writeJSON(w, http.StatusOK, v.Response())
}

// DetectBatch handles POST /detect/batch. Entries without a transaction_id
// are skipped.
func (h *Handler) DetectBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Transactions) > h.maxBatch {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch exceeds %d transactions", h.maxBatch))
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveBatch(len(req.Transactions))
	}

	verdicts := h.detector.DetectBatch(r.Context(), req.Transactions)
	resp := BatchResponse{Results: make(map[string]domain.VerdictResponse, len(verdicts))}
	for id, v := range verdicts {
		resp.Results[id] = v.Response()
	}

	slog.Info("batch detection completed",
		"transactions", len(req.Transactions),
		"verdicts", len(verdicts),
		"duration_ms", time.Since(start).Milliseconds(),
		"trace_id", GetTraceID(r.Context()),
	)
	writeJSON(w, http.StatusOK, resp)
}

// GetVerdict handles GET /verdicts/{id}.
func (h *Handler) GetVerdict(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	txID := chi.URLParam(r, "id")
	v, err := h.repo.GetVerdict(r.Context(), txID)
	if err != nil {
		h.storeError(w, "verdict", err)
		return
	}
	writeJSON(w, http.StatusOK, VerdictRecord{VerdictResponse: v.Response(), Reported: v.Reported})
}

// ReportFraud handles POST /fraud-reports.
func (h *Handler) ReportFraud(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	var report domain.FraudReport
	if !h.decode(w, r, &report) {
		return
	}

	resp := FraudReportResponse{TransactionID: report.TransactionID}
	err := h.repo.ReportFraud(r.Context(), &report)
	switch {
	case err == nil:
		resp.Acknowledged = true
		slog.Info("fraud report accepted", "tx_id", report.TransactionID, "reporting_entity", report.Channel)
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, repository.ErrNotFound):
		resp.FailureCode = http.StatusNotFound
		slog.Warn("fraud report for unknown transaction", "tx_id", report.TransactionID)
		writeJSON(w, http.StatusNotFound, resp)
	default:
		slog.Error("failed to record fraud report", "tx_id", report.TransactionID, "error", err)
		resp.FailureCode = http.StatusInternalServerError
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

// ListRules handles GET /rules. ?active_only=true limits the list to active rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireRules(w) {
		return
	}

	list, err := h.rules.List(r.Context())
	if err != nil {
		h.storeError(w, "rules", err)
		return
	}

	if activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active_only")); activeOnly {
		active := list[:0]
		for _, rule := range list {
			if rule.Active {
				active = append(active, rule)
			}
		}
		list = active
	}
	if list == nil {
		list = []domain.Rule{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRules(w) {
		return
	}
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	rule, err := h.rules.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, "rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRules(w) {
		return
	}

	var req RuleRequest
	if !h.decode(w, r, &req) {
		return
	}

	var rule domain.Rule
	req.apply(&rule)
	if err := h.rules.Create(r.Context(), &rule); err != nil {
		h.storeError(w, "rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule handles PUT /rules/{id} as a partial update.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRules(w) {
		return
	}
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	var req RuleUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	rule, err := h.rules.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, "rule", err)
		return
	}
	req.apply(rule)
	if err := h.rules.Update(r.Context(), rule); err != nil {
		h.storeError(w, "rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// EvaluateRules handles POST /rules/evaluate. It runs every active rule
// against the transaction without stopping at the first match and without
// recording a verdict.
func (h *Handler) EvaluateRules(w http.ResponseWriter, r *http.Request) {
	if h.explainer == nil {
		writeError(w, http.StatusServiceUnavailable, "rule evaluation not available")
		return
	}

	var tx domain.Transaction
	if !h.decode(w, r, &tx) {
		return
	}

	results, err := h.explainer.EvaluateAll(r.Context(), h.features.Enrich(&tx))
	if err != nil {
		slog.Error("rule evaluation failed", "tx_id", tx.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "rule store unavailable")
		return
	}

	resp := EvaluationResponse{TransactionID: tx.ID, Results: results}
	for i := range results {
		if results[i].Matched() {
			resp.MatchedRuleID = &results[i].RuleID
			break
		}
	}
	if resp.Results == nil {
		resp.Results = []domain.RuleResult{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteRule handles DELETE /rules/{id}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRules(w) {
		return
	}
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	if err := h.rules.Delete(r.Context(), id); err != nil {
		h.storeError(w, "rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether every configured backend answers a ping.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	check := func(name string, ping func(context.Context) error) {
		if err := ping(r.Context()); err != nil {
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}

	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache.Enabled() {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("event_bus", h.bus.Ping)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return false
	}
	return true
}

func (h *Handler) requireRules(w http.ResponseWriter) bool {
	if h.rules == nil {
		writeError(w, http.StatusServiceUnavailable, "rule management not available")
		return false
	}
	return true
}

// storeError maps repository and rule errors to HTTP status codes.
func (h *Handler) storeError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, rules.ErrInvalidRule), errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed", "resource", what, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "rule id must be a positive integer")
		return 0, false
	}
	return id, true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "validation failed: " + err.Error()
	}
	fields := make([]string, len(verrs))
	for i, fe := range verrs {
		fields[i] = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
	return "validation failed: " + strings.Join(fields, ", ")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
