package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/vigilstack/vigil-vmhealth/internal/engine"
	"github.com/vigilstack/vigil-vmhealth/internal/models"
	"github.com/vigilstack/vigil-vmhealth/internal/rules"
	"github.com/vigilstack/vigil-vmhealth/internal/utils"
)

// HealthAPI is the slice of the health service the HTTP layer depends on.
type HealthAPI interface {
	AnalyzeStatus(ctx context.Context, entity string, rng models.TimeRange) (models.StatusReport, error)
	AnalyzeFleet(ctx context.Context, entities []string, rng models.TimeRange) ([]models.FleetEntry, error)
	DataCompleteness(ctx context.Context, entity, metric string, rng models.TimeRange, expectedIntervalMinutes float64) (models.GapReport, error)
	Rules() []models.AlertRule
	UpdateRule(name string, update models.RuleUpdate) (models.AlertRule, error)
	RecentAlerts(limit int) []models.Alert
}

// Handler wires the health service into HTTP endpoints.
type Handler struct {
	service HealthAPI
	logger  *slog.Logger
	started time.Time
}

// NewHandler constructs the HTTP handler set. A nil logger falls back to
// slog.Default().
func NewHandler(service HealthAPI, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: service,
		logger:  logger,
		started: time.Now().UTC(),
	}
}

type statusRequest struct {
	Entity string `json:"entity"`
	Start  string `json:"start"`
	End    string `json:"end"`
}

type fleetRequest struct {
	Entities []string `json:"entities"`
	Start    string   `json:"start"`
	End      string   `json:"end"`
}

type completenessRequest struct {
	Entity                  string  `json:"entity"`
	Metric                  string  `json:"metric"`
	Start                   string  `json:"start"`
	End                     string  `json:"end"`
	ExpectedIntervalMinutes float64 `json:"expected_interval_minutes"`
}

type ruleUpdateRequest struct {
	Thresholds   *thresholdsDTO `json:"thresholds"`
	TimeFraction *float64       `json:"time_fraction"`
	Severity     *string        `json:"severity"`
}

type thresholdsDTO struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

type ruleDTO struct {
	Name         string        `json:"name"`
	Metric       string        `json:"metric"`
	Condition    string        `json:"condition"`
	Thresholds   thresholdsDTO `json:"thresholds"`
	Severity     string        `json:"severity"`
	Description  string        `json:"description"`
	TimeFraction float64       `json:"time_fraction"`
}

type alertDTO struct {
	ID        string    `json:"id"`
	Rule      ruleDTO   `json:"rule"`
	Entity    string    `json:"entity"`
	Value     float64   `json:"value"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type summaryDTO struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Max    float64 `json:"max"`
	Min    float64 `json:"min"`
	StdDev float64 `json:"stddev"`
}

type statusResponse struct {
	Entity         string                `json:"entity"`
	Status         string                `json:"status"`
	Alerts         []alertDTO            `json:"alerts"`
	MetricsSummary map[string]summaryDTO `json:"metrics_summary"`
	WindowStart    time.Time             `json:"window_start"`
	WindowEnd      time.Time             `json:"window_end"`
	SampleCount    int                   `json:"sample_count"`
	EvaluatedAt    time.Time             `json:"evaluated_at"`
}

type fleetEntryDTO struct {
	Entity string          `json:"entity"`
	Report *statusResponse `json:"report,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type fleetResponse struct {
	Entries []fleetEntryDTO `json:"entries"`
}

type gapIntervalDTO struct {
	GapStart                time.Time `json:"gap_start"`
	GapEnd                  time.Time `json:"gap_end"`
	GapDurationMinutes      float64   `json:"gap_duration_minutes"`
	ExpectedIntervalMinutes float64   `json:"expected_interval_minutes"`
	MissingPoints           int       `json:"missing_points"`
}

type completenessResponse struct {
	Entity                 string           `json:"entity"`
	Metric                 string           `json:"metric"`
	ExpectedPoints         int              `json:"expected_points"`
	ActualPoints           int              `json:"actual_points"`
	MissingPoints          int              `json:"missing_points"`
	CompletenessPercentage float64          `json:"completeness_percentage"`
	MissingIntervals       []gapIntervalDTO `json:"missing_intervals"`
	MissingIntervalsCount  int              `json:"missing_intervals_count"`
}

type rulesResponse struct {
	Rules []ruleDTO `json:"rules"`
}

type alertsResponse struct {
	Alerts []alertDTO `json:"alerts"`
}

type healthzResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func toRuleDTO(rule models.AlertRule) ruleDTO {
	return ruleDTO{
		Name:      rule.Name,
		Metric:    rule.Metric,
		Condition: string(rule.Condition),
		Thresholds: thresholdsDTO{
			Low:  rule.Thresholds.Low,
			High: rule.Thresholds.High,
		},
		Severity:     string(rule.Severity),
		Description:  rule.Description,
		TimeFraction: rule.TimeFraction,
	}
}

func toAlertDTO(alert models.Alert) alertDTO {
	return alertDTO{
		ID:        alert.ID,
		Rule:      toRuleDTO(alert.Rule),
		Entity:    alert.Entity,
		Value:     alert.Value,
		Message:   alert.Message,
		Timestamp: alert.Timestamp,
	}
}

func toStatusResponse(report models.StatusReport) statusResponse {
	resp := statusResponse{
		Entity:         report.Entity,
		Status:         string(report.Status),
		Alerts:         make([]alertDTO, 0, len(report.Alerts)),
		MetricsSummary: make(map[string]summaryDTO, len(report.Summary)),
		WindowStart:    report.Window.Start,
		WindowEnd:      report.Window.End,
		SampleCount:    report.SampleCount,
		EvaluatedAt:    report.EvaluatedAt,
	}
	for _, alert := range report.Alerts {
		resp.Alerts = append(resp.Alerts, toAlertDTO(alert))
	}
	for metric, summary := range report.Summary {
		resp.MetricsSummary[metric] = summaryDTO{
			Count:  summary.Count,
			Mean:   summary.Mean,
			Max:    summary.Max,
			Min:    summary.Min,
			StdDev: summary.StdDev,
		}
	}
	return resp
}

func toCompletenessResponse(entity, metric string, report models.GapReport) completenessResponse {
	resp := completenessResponse{
		Entity:                 entity,
		Metric:                 metric,
		ExpectedPoints:         report.ExpectedPoints,
		ActualPoints:           report.ActualPoints,
		MissingPoints:          report.MissingPoints,
		CompletenessPercentage: report.CompletenessPercentage,
		MissingIntervals:       make([]gapIntervalDTO, 0, len(report.MissingIntervals)),
		MissingIntervalsCount:  len(report.MissingIntervals),
	}
	for _, gap := range report.MissingIntervals {
		resp.MissingIntervals = append(resp.MissingIntervals, gapIntervalDTO{
			GapStart:                gap.GapStart,
			GapEnd:                  gap.GapEnd,
			GapDurationMinutes:      gap.GapDurationMinutes,
			ExpectedIntervalMinutes: gap.ExpectedIntervalMinutes,
			MissingPoints:           gap.MissingPointsEstimate,
		})
	}
	return resp
}

func parseWindow(start, end string) (models.TimeRange, error) {
	if start == "" || end == "" {
		return models.TimeRange{}, fmt.Errorf("start and end are required")
	}
	from, err := utils.ParseRFC3339(start)
	if err != nil {
		return models.TimeRange{}, fmt.Errorf("invalid start: %w", err)
	}
	to, err := utils.ParseRFC3339(end)
	if err != nil {
		return models.TimeRange{}, fmt.Errorf("invalid end: %w", err)
	}
	return models.TimeRange{Start: from, End: to}, nil
}

// Status evaluates a single entity over the requested window.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("decode request: %v", err))
		return
	}
	rng, err := parseWindow(req.Start, req.End)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	report, err := h.service.AnalyzeStatus(r.Context(), req.Entity, rng)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toStatusResponse(report))
}

// Fleet evaluates a set of entities concurrently. An empty entity list asks
// the metric store for its full inventory.
func (h *Handler) Fleet(w http.ResponseWriter, r *http.Request) {
	var req fleetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("decode request: %v", err))
		return
	}
	rng, err := parseWindow(req.Start, req.End)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	entries, err := h.service.AnalyzeFleet(r.Context(), req.Entities, rng)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := fleetResponse{Entries: make([]fleetEntryDTO, 0, len(entries))}
	for _, entry := range entries {
		dto := fleetEntryDTO{Entity: entry.Entity, Error: entry.Error}
		if entry.Report != nil {
			report := toStatusResponse(*entry.Report)
			dto.Report = &report
		}
		resp.Entries = append(resp.Entries, dto)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Completeness reports expected versus actual sample counts plus the gap list
// for one metric of one entity.
func (h *Handler) Completeness(w http.ResponseWriter, r *http.Request) {
	var req completenessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("decode request: %v", err))
		return
	}
	rng, err := parseWindow(req.Start, req.End)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	report, err := h.service.DataCompleteness(r.Context(), req.Entity, req.Metric, rng, req.ExpectedIntervalMinutes)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toCompletenessResponse(req.Entity, req.Metric, report))
}

// ListRules returns the active rule catalogue in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, _ *http.Request) {
	catalogue := h.service.Rules()
	resp := rulesResponse{Rules: make([]ruleDTO, 0, len(catalogue))}
	for _, rule := range catalogue {
		resp.Rules = append(resp.Rules, toRuleDTO(rule))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// UpdateRule patches thresholds, time fraction, or severity of a named rule.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req ruleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("decode request: %v", err))
		return
	}

	update := models.RuleUpdate{TimeFraction: req.TimeFraction}
	if req.Thresholds != nil {
		update.Thresholds = &models.Thresholds{
			Low:  req.Thresholds.Low,
			High: req.Thresholds.High,
		}
	}
	if req.Severity != nil {
		sev := models.Severity(*req.Severity)
		update.Severity = &sev
	}

	rule, err := h.service.UpdateRule(name, update)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRuleDTO(rule))
}

// Alerts returns recently fired alerts, newest last. The optional ?limit=N
// query parameter caps the result.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	alerts := h.service.RecentAlerts(limit)
	resp := alertsResponse{Alerts: make([]alertDTO, 0, len(alerts))}
	for _, alert := range alerts {
		resp.Alerts = append(resp.Alerts, toAlertDTO(alert))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Healthz reports process liveness.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, healthzResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.started).Seconds(),
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rules.ErrRuleNotFound):
		h.writeError(w, http.StatusNotFound, "RULE_NOT_FOUND", err.Error())
	case errors.Is(err, engine.ErrInvalidRange),
		errors.Is(err, engine.ErrInvalidInterval),
		errors.Is(err, engine.ErrMalformedWindow):
		h.writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	default:
		var appErr *utils.AppError
		if errors.As(err, &appErr) && appErr.Op != "" {
			h.logger.Error("request failed", "op", appErr.Op, "error", err)
		} else {
			h.logger.Error("request failed", "error", err)
		}
		h.writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, errorResponse{Error: message, Code: code})
}
