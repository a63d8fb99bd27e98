package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/yourorg/valetgate/internal/security/middleware"
	"github.com/yourorg/valetgate/internal/service"
)

// ReportHandler exposes the tenant-scoped report endpoints. The tenant id is
// always taken from the session claims, never from the request.
type ReportHandler struct {
	reports *service.ReportService
	rp      *Responder
	logger  *slog.Logger
}

// NewReportHandler creates a new report handler
func NewReportHandler(reports *service.ReportService, rp *Responder, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, rp: rp, logger: logger}
}

// DailyMovement handles GET /api/reports/daily-movement
func (h *ReportHandler) DailyMovement(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	report, err := h.reports.DailyMovement(
		r.Context(),
		middleware.GetTenantFromContext(r.Context()),
		q.Get("date"),
		q.Get("start_date"),
		q.Get("end_date"),
	)
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, report)
}

// PeakHours handles GET /api/reports/peak-hours
func (h *ReportHandler) PeakHours(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	days := 0
	if raw := q.Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.rp.badRequest(w, "days must be a non-negative integer")
			return
		}
		days = parsed
	}

	report, err := h.reports.PeakHours(r.Context(), middleware.GetTenantFromContext(r.Context()), service.PeakHoursQuery{
		GroupBy:   q.Get("group_by"),
		Days:      days,
		AllTime:   q.Get("all_time") == "true",
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
	})
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, report)
}

// Vehicles handles GET /api/reports/vehicles
func (h *ReportHandler) Vehicles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	report, err := h.reports.Vehicles(
		r.Context(),
		middleware.GetTenantFromContext(r.Context()),
		q.Get("start_date"),
		q.Get("end_date"),
	)
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, report)
}

// Parked handles GET /api/reports/parked-vehicles
func (h *ReportHandler) Parked(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.reports.Parked(middleware.GetTenantFromContext(r.Context()))
	if err != nil {
		h.rp.fail(w, err)
		return
	}
	h.rp.ok(w, http.StatusOK, snapshot)
}
