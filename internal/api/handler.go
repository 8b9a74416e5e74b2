package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/siamfx/naga/internal/backoffice"
	"github.com/siamfx/naga/internal/domain"
	"github.com/siamfx/naga/internal/excel"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *backoffice.Service
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *backoffice.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		svc:     svc,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		version: version,
	}
}

// TransactionRequest carries a prospective or committed exchange.
type TransactionRequest struct {
	ID              string               `json:"id,omitempty"`
	CustomerID      string               `json:"customer_id"`
	CustomerCountry string               `json:"customer_country,omitempty"`
	CustomerAge     *int                 `json:"customer_age,omitempty"`
	Currency        string               `json:"currency"`
	Direction       domain.Direction     `json:"direction"`
	PaymentMethod   domain.PaymentMethod `json:"payment_method"`
	ExchangeType    domain.ExchangeType  `json:"exchange_type,omitempty"`
	UseFCD          bool                 `json:"use_fcd,omitempty"`
	AmountForeign   decimal.Decimal      `json:"amount_foreign"`
	Rate            decimal.Decimal      `json:"rate"`
}

func (req *TransactionRequest) validate() error {
	if req.CustomerID == "" {
		return errors.New("customer_id is required")
	}
	if req.Currency == "" {
		return errors.New("currency is required")
	}
	if req.Direction != domain.DirectionBuy && req.Direction != domain.DirectionSell {
		return errors.New("direction must be buy or sell")
	}
	if !req.AmountForeign.IsPositive() {
		return errors.New("amount_foreign must be positive")
	}
	if !req.Rate.IsPositive() {
		return errors.New("rate is required")
	}
	return nil
}

func (req *TransactionRequest) toTransaction(branchID string) *domain.ExchangeTransaction {
	exchangeType := req.ExchangeType
	if exchangeType == "" {
		exchangeType = domain.ExchangeNormal
	}
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	return &domain.ExchangeTransaction{
		ID:              id,
		BranchID:        branchID,
		CustomerID:      req.CustomerID,
		CustomerCountry: req.CustomerCountry,
		CustomerAge:     req.CustomerAge,
		Currency:        req.Currency,
		Direction:       req.Direction,
		PaymentMethod:   req.PaymentMethod,
		ExchangeType:    exchangeType,
		UseFCD:          req.UseFCD,
		AmountForeign:   req.AmountForeign,
		Rate:            req.Rate,
		Status:          domain.TransactionCompleted,
		CreatedAt:       time.Now().UTC(),
	}
}

// CheckTriggers handles POST /triggers/{family}/check.
func (h *Handler) CheckTriggers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	family := domain.ReportType(chi.URLParam(r, "family"))

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if err := req.validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	decision, err := h.svc.CheckTriggers(ctx, family, req.toTransaction(GetBranchID(ctx)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// CheckAllTriggers handles POST /triggers/check.
func (h *Handler) CheckAllTriggers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if err := req.validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	decisions, err := h.svc.CheckAllTriggers(ctx, req.toTransaction(GetBranchID(ctx)))
	if err != nil {
		writeError(w, err)
		return
	}

	byFamily := make(map[domain.ReportType]*domain.Decision, len(decisions))
	for _, d := range decisions {
		byFamily[d.ReportType] = d
	}
	writeJSON(w, http.StatusOK, byFamily)
}

// CreateReservationRequest is the request body for POST /reservations.
type CreateReservationRequest struct {
	ReportType  domain.ReportType  `json:"report_type"`
	OperatorID  string             `json:"operator_id"`
	FormData    map[string]any     `json:"form_data,omitempty"`
	Transaction TransactionRequest `json:"transaction"`
}

// CreateReservation handles POST /reservations.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if req.ReportType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "report_type is required"})
		return
	}
	if err := req.Transaction.validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	res, err := h.svc.CreateReservation(ctx, req.ReportType, req.Transaction.toTransaction(GetBranchID(ctx)), req.FormData, req.OperatorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetReservation handles GET /reservations/{id}.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GetReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListReservations handles GET /reservations.
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := domain.ReservationFilter{
		BranchID:    GetBranchID(ctx),
		ReportType:  domain.ReportType(q.Get("report_type")),
		Status:      domain.ReservationStatus(q.Get("status")),
		CustomerRef: q.Get("customer_ref"),
	}
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	result, err := h.svc.ListReservations(ctx, filter, page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// AuditRequest is the request body for POST /reservations/{id}/audit.
type AuditRequest struct {
	Action          domain.AuditAction `json:"action"`
	Auditor         string             `json:"auditor"`
	Note            string             `json:"note,omitempty"`
	RejectionReason string             `json:"rejection_reason,omitempty"`
}

// AuditReservation handles POST /reservations/{id}/audit.
func (h *Handler) AuditReservation(w http.ResponseWriter, r *http.Request) {
	var req AuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if req.Auditor == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "auditor is required"})
		return
	}

	res, err := h.svc.AuditReservation(r.Context(), chi.URLParam(r, "id"), req.Action, req.Auditor, req.Note, req.RejectionReason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SignatureRequest is the request body for POST /reservations/{id}/signatures.
type SignatureRequest struct {
	Kind    domain.SignatureKind `json:"kind"`
	Payload string               `json:"payload"`
}

// AttachSignature handles POST /reservations/{id}/signatures.
func (h *Handler) AttachSignature(w http.ResponseWriter, r *http.Request) {
	var req SignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}

	res, err := h.svc.AttachSignature(r.Context(), chi.URLParam(r, "id"), req.Kind, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// MaterializeReports handles POST /transactions/{id}/materialize.
func (h *Handler) MaterializeReports(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.MaterializeReports(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// AdjustmentRequest is the request body for POST /adjustments.
type AdjustmentRequest struct {
	Currency   string          `json:"currency"`
	Amount     decimal.Decimal `json:"amount"`
	Increase   bool            `json:"increase"`
	AdjustedAt time.Time       `json:"adjusted_at,omitempty"`
}

// RecordAdjustment handles POST /adjustments.
func (h *Handler) RecordAdjustment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if req.Currency == "" || !req.Amount.IsPositive() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "currency and a positive amount are required"})
		return
	}
	adjustedAt := req.AdjustedAt
	if adjustedAt.IsZero() {
		adjustedAt = time.Now().UTC()
	}

	row, decision, err := h.svc.RecordAdjustment(ctx, &domain.BranchAdjustment{
		ID:         uuid.New().String(),
		BranchID:   GetBranchID(ctx),
		Currency:   req.Currency,
		Amount:     req.Amount,
		Increase:   req.Increase,
		AdjustedAt: adjustedAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decision": decision,
		"report":   row,
	})
}

// GetReport handles GET /reports/{id}.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report":  rec,
		"overdue": rec.Overdue(time.Now().UTC()),
	})
}

// ListReports handles GET /reports.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := domain.ReportFilter{
		BranchID:   GetBranchID(ctx),
		ReportType: domain.ReportType(q.Get("report_type")),
		Unreported: q.Get("unreported") == "true",
	}
	records, err := h.svc.ListReports(ctx, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": records,
		"count":   len(records),
	})
}

// EmitPDF handles POST /reports/{id}/pdf.
func (h *Handler) EmitPDF(w http.ResponseWriter, r *http.Request) {
	path, err := h.svc.EmitPDF(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pdf_path": path})
}

// MarkReported handles POST /reports/{id}/reported.
func (h *Handler) MarkReported(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.MarkReported(r.Context(), chi.URLParam(r, "id"), time.Now().UTC()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reported"})
}

// ExportBOT handles GET /exports/bot/{variant}?date=YYYY-MM-DD. The response
// body is the workbook itself.
func (h *Handler) ExportBOT(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	variant := domain.BOTVariant(chi.URLParam(r, "variant"))

	date := time.Now().UTC()
	if s := r.URL.Query().Get("date"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
			return
		}
		date = parsed
	}

	data, err := h.svc.ExportBOTExcel(ctx, variant, date, GetBranchID(ctx))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", excel.Filename(variant, date)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.svc.ListRules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rule id must be numeric"})
		return
	}
	rule, err := h.svc.GetRule(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /rules. Unknown fields and malformed trees are
// rejected here; active checks pick the rule up after the snapshot drop.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.TriggerRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid rule body: " + err.Error()})
		return
	}
	if rule.ReportType == "" || rule.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "report_type and name are required"})
		return
	}

	saved, err := h.svc.SaveRule(r.Context(), &rule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// DeactivateRule handles POST /rules/{id}/deactivate.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rule id must be numeric"})
		return
	}
	if err := h.svc.DeactivateRule(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ReloadRules handles POST /rules/reload: drops the branch's cached rule
// snapshots so the next check reads fresh rows.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.svc.ReloadRules(ctx, GetBranchID(ctx)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// RateRequest is the request body for POST /rates.
type RateRequest struct {
	Currency string          `json:"currency"`
	Date     string          `json:"date"`
	Buy      decimal.Decimal `json:"buy"`
	Sell     decimal.Decimal `json:"sell"`
}

// SaveRate handles POST /rates: posts the day's buy/sell pair for a currency.
func (h *Handler) SaveRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if req.Currency == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "currency is required"})
		return
	}
	date := time.Now().UTC()
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
			return
		}
		date = parsed
	}

	rate := &domain.ExchangeRate{
		BranchID: GetBranchID(ctx),
		Currency: req.Currency,
		Date:     date,
		Buy:      req.Buy,
		Sell:     req.Sell,
	}
	if err := h.svc.SaveRate(ctx, rate); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rate)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// statusFor maps a domain error kind to an HTTP status.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidStateTransition:
		return http.StatusConflict
	case domain.KindSignatureTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.KindSignatureBadFormat, domain.KindRuleSchema:
		return http.StatusBadRequest
	case domain.KindRateUnavailable, domain.KindTemplateMissing, domain.KindTemplateFieldUnmapped:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError serializes a failure. Domain errors carry their kind and the
// localized message table; anything else is an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		writeJSON(w, statusFor(de.Kind), map[string]any{
			"error":   string(de.Kind),
			"message": de.Message,
		})
		return
	}

	slog.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "internal server error",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
