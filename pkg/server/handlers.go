package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"keywordlab/gatekeeper/pkg/admission"
	"keywordlab/gatekeeper/pkg/admission/quota"
	"keywordlab/gatekeeper/pkg/middleware"
	"keywordlab/gatekeeper/pkg/telemetry/logging"
	"keywordlab/gatekeeper/pkg/telemetry/tracing"
)

// maxAdmitBody bounds the decision request body.
const maxAdmitBody = 64 << 10

// AdmitRequest is the body of POST /v1/admit.
type AdmitRequest struct {
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	Endpoint  string `json:"endpoint"`
	Operation string `json:"operation"`
	Amount    int64  `json:"amount"`
}

// AdmitResponse is the body of a POST /v1/admit response.
type AdmitResponse struct {
	Allowed   bool                `json:"allowed"`
	Outcome   admission.Outcome   `json:"outcome"`
	Limit     int64               `json:"limit"`
	Remaining int64               `json:"remaining"`
	ResetAt   time.Time           `json:"reset_at,omitzero"`
	DeniedBy  admission.Mechanism `json:"denied_by,omitempty"`
	QuotaKind admission.QuotaKind `json:"quota_kind,omitempty"`
	Reason    string              `json:"reason,omitempty"`
}

// UsageResponse is the body of GET /v1/usage.
type UsageResponse struct {
	Usage []quota.Usage `json:"usage"`
}

// handleAdmit answers 200 for allowed calls and 429 for denials. Both carry
// the verdict and the X-RateLimit-* headers.
func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	var req AdmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdmitBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.TenantID == "" || req.Operation == "" {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "tenant_id and operation are required")
		return
	}
	if req.Amount < 0 {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "amount must not be negative")
		return
	}

	ctx := logging.WithTenant(r.Context(), req.TenantID)
	if req.UserID != "" {
		ctx = logging.WithUser(ctx, req.UserID)
	}

	caller := admission.Caller{TenantID: req.TenantID, UserID: req.UserID, Endpoint: req.Endpoint}
	span := tracing.SpanFromContext(ctx)
	tracing.SetCallerAttributes(span, caller, req.Operation, req.Amount)

	v := s.opts.Guard.AdmitAmount(ctx, caller, req.Operation, req.Amount)
	tracing.SetVerdictAttributes(span, v)

	middleware.SetLimitHeaders(w.Header(), v)
	status := http.StatusOK
	if !v.Allowed {
		middleware.SetRetryAfter(w.Header(), v, s.opts.Now())
		status = http.StatusTooManyRequests
	}

	writeJSON(w, status, AdmitResponse{
		Allowed:   v.Allowed,
		Outcome:   v.Outcome(),
		Limit:     v.Limit,
		Remaining: v.Remaining,
		ResetAt:   v.ResetAt,
		DeniedBy:  v.DeniedBy,
		QuotaKind: v.QuotaKind,
		Reason:    v.Reason,
	})
}

// handleUsage reports the current period, or every period in [from, to]
// when a range is given. Dates are YYYY-MM-DD or RFC 3339.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	tenant := q.Get("tenant")
	if tenant == "" {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "tenant is required")
		return
	}
	kind, err := admission.ParseQuotaKind(q.Get("kind"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	fromStr, toStr := q.Get("from"), q.Get("to")
	if (fromStr == "") != (toStr == "") {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "from and to must be given together")
		return
	}

	ctx := logging.WithTenant(r.Context(), tenant)

	var usage []quota.Usage
	if fromStr == "" {
		u, err := s.opts.Usage.ReportUsage(ctx, tenant, kind, s.opts.Now())
		if err != nil {
			writeUsageError(w, err)
			return
		}
		usage = []quota.Usage{u}
	} else {
		from, err := parseDate(fromStr)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid from: %v", err))
			return
		}
		to, err := parseDate(toStr)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid to: %v", err))
			return
		}
		usage, err = s.opts.Usage.UsageHistory(ctx, tenant, kind, from, to)
		if err != nil {
			writeUsageError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, UsageResponse{Usage: usage})
}

// DefaultReportDays is the report range when from and to are omitted.
const DefaultReportDays = 7

// handleUsageReport summarizes every quota kind of a tenant over the days
// from through to, with the alerts raised in that range. Without a range the
// last DefaultReportDays days are reported.
func (s *Server) handleUsageReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	tenant := q.Get("tenant")
	if tenant == "" {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "tenant is required")
		return
	}

	fromStr, toStr := q.Get("from"), q.Get("to")
	if (fromStr == "") != (toStr == "") {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "from and to must be given together")
		return
	}

	to := s.opts.Now().UTC()
	from := to.AddDate(0, 0, 1-DefaultReportDays)
	if fromStr != "" {
		var err error
		if from, err = parseDate(fromStr); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid from: %v", err))
			return
		}
		if to, err = parseDate(toStr); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid to: %v", err))
			return
		}
	}

	rep, err := s.opts.Usage.Report(logging.WithTenant(r.Context(), tenant), tenant, from, to)
	if err != nil {
		writeUsageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func writeUsageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, admission.ErrUnknownQuotaKind), errors.Is(err, quota.ErrInvalidRange):
		middleware.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, admission.ErrTenantNotFound):
		middleware.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, admission.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		middleware.WriteError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		middleware.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
