package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vigilstack/vigil-vmhealth/internal/engine"
	"github.com/vigilstack/vigil-vmhealth/internal/models"
	"github.com/vigilstack/vigil-vmhealth/internal/rules"
)

type fakeHealthAPI struct {
	statusReport models.StatusReport
	statusErr    error
	fleetEntries []models.FleetEntry
	gapReport    models.GapReport
	catalogue    []models.AlertRule
	updatedRule  models.AlertRule
	updateErr    error
	alerts       []models.Alert

	gotEntity   string
	gotMetric   string
	gotRange    models.TimeRange
	gotEntities []string
	gotInterval float64
	gotName     string
	gotUpdate   models.RuleUpdate
	gotLimit    int
}

func (f *fakeHealthAPI) AnalyzeStatus(_ context.Context, entity string, rng models.TimeRange) (models.StatusReport, error) {
	f.gotEntity = entity
	f.gotRange = rng
	return f.statusReport, f.statusErr
}

func (f *fakeHealthAPI) AnalyzeFleet(_ context.Context, entities []string, rng models.TimeRange) ([]models.FleetEntry, error) {
	f.gotEntities = entities
	f.gotRange = rng
	return f.fleetEntries, nil
}

func (f *fakeHealthAPI) DataCompleteness(_ context.Context, entity, metric string, rng models.TimeRange, expectedIntervalMinutes float64) (models.GapReport, error) {
	f.gotEntity = entity
	f.gotMetric = metric
	f.gotRange = rng
	f.gotInterval = expectedIntervalMinutes
	return f.gapReport, f.statusErr
}

func (f *fakeHealthAPI) Rules() []models.AlertRule {
	return f.catalogue
}

func (f *fakeHealthAPI) UpdateRule(name string, update models.RuleUpdate) (models.AlertRule, error) {
	f.gotName = name
	f.gotUpdate = update
	return f.updatedRule, f.updateErr
}

func (f *fakeHealthAPI) RecentAlerts(limit int) []models.Alert {
	f.gotLimit = limit
	return f.alerts
}

func serveRequest(service HealthAPI, method, target, body string) *httptest.ResponseRecorder {
	router := NewRouter(NewHandler(service, nil))
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpointReturnsReport(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	service := &fakeHealthAPI{
		statusReport: models.StatusReport{
			Entity: "web-server-01",
			Status: models.StatusOverloaded,
			Alerts: []models.Alert{
				{
					ID:        "alert-1",
					Rule:      models.AlertRule{Name: "high_cpu_usage", Metric: models.MetricCPUUsage},
					Entity:    "web-server-01",
					Value:     92.5,
					Message:   "High CPU usage: average 92.5 above threshold 85.0",
					Timestamp: now,
				},
			},
			Summary:     map[string]models.MetricSummary{models.MetricCPUUsage: {Count: 5, Mean: 90}},
			Window:      models.TimeRange{Start: now.Add(-2 * time.Hour), End: now},
			SampleCount: 5,
			EvaluatedAt: now,
		},
	}

	body := `{"entity":"web-server-01","start":"2026-03-10T10:00:00Z","end":"2026-03-10T12:00:00Z"}`
	rec := serveRequest(service, http.MethodPost, "/api/v1/vmhealth/status", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if service.gotEntity != "web-server-01" {
		t.Fatalf("unexpected entity passed to service: %q", service.gotEntity)
	}
	if !service.gotRange.Start.Equal(now.Add(-2 * time.Hour)) {
		t.Fatalf("unexpected range start: %v", service.gotRange.Start)
	}

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(models.StatusOverloaded) {
		t.Fatalf("unexpected status: %s", resp.Status)
	}
	if len(resp.Alerts) != 1 || resp.Alerts[0].Rule.Name != "high_cpu_usage" {
		t.Fatalf("unexpected alerts: %+v", resp.Alerts)
	}
	if resp.MetricsSummary[models.MetricCPUUsage].Mean != 90 {
		t.Fatalf("unexpected summary: %+v", resp.MetricsSummary)
	}
}

func TestStatusEndpointRejectsBadTimestamp(t *testing.T) {
	body := `{"entity":"web-server-01","start":"yesterday","end":"2026-03-10T12:00:00Z"}`
	rec := serveRequest(&fakeHealthAPI{}, http.MethodPost, "/api/v1/vmhealth/status", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != "BAD_REQUEST" {
		t.Fatalf("unexpected error code: %s", resp.Code)
	}
}

func TestStatusEndpointMapsRangeErrorTo400(t *testing.T) {
	service := &fakeHealthAPI{
		statusErr: fmt.Errorf("analyze: %w", engine.ErrInvalidRange),
	}
	body := `{"entity":"web-server-01","start":"2026-03-10T12:00:00Z","end":"2026-03-10T10:00:00Z"}`
	rec := serveRequest(service, http.MethodPost, "/api/v1/vmhealth/status", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestFleetEndpointKeepsPerEntityErrors(t *testing.T) {
	report := models.StatusReport{Entity: "vm-a", Status: models.StatusNormal}
	service := &fakeHealthAPI{
		fleetEntries: []models.FleetEntry{
			{Entity: "vm-a", Report: &report},
			{Entity: "vm-b", Error: "fetch series: boom"},
		},
	}

	body := `{"entities":["vm-a","vm-b"],"start":"2026-03-10T10:00:00Z","end":"2026-03-10T12:00:00Z"}`
	rec := serveRequest(service, http.MethodPost, "/api/v1/vmhealth/fleet", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(service.gotEntities) != 2 {
		t.Fatalf("entities not forwarded: %v", service.gotEntities)
	}

	var resp fleetResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(resp.Entries))
	}
	if resp.Entries[0].Report == nil || resp.Entries[0].Report.Status != string(models.StatusNormal) {
		t.Fatalf("unexpected first entry: %+v", resp.Entries[0])
	}
	if resp.Entries[1].Report != nil || resp.Entries[1].Error == "" {
		t.Fatalf("expected inline error for second entry: %+v", resp.Entries[1])
	}
}

func TestCompletenessEndpoint(t *testing.T) {
	gapStart := time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)
	service := &fakeHealthAPI{
		gapReport: models.GapReport{
			ExpectedPoints:         12,
			ActualPoints:           5,
			MissingPoints:          7,
			CompletenessPercentage: 41.67,
			MissingIntervals: []models.GapInterval{
				{
					GapStart:                gapStart,
					GapEnd:                  gapStart.Add(2 * time.Hour),
					GapDurationMinutes:      120,
					ExpectedIntervalMinutes: 30,
					MissingPointsEstimate:   3,
				},
			},
		},
	}

	body := `{"entity":"db-server-01","metric":"cpu_usage","start":"2026-03-10T07:00:00Z","end":"2026-03-10T12:30:00Z","expected_interval_minutes":30}`
	rec := serveRequest(service, http.MethodPost, "/api/v1/vmhealth/completeness", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if service.gotMetric != "cpu_usage" || service.gotInterval != 30 {
		t.Fatalf("request not forwarded: metric=%q interval=%v", service.gotMetric, service.gotInterval)
	}

	var resp completenessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.CompletenessPercentage != 41.67 || resp.MissingPoints != 7 {
		t.Fatalf("unexpected totals: %+v", resp)
	}
	if resp.MissingIntervalsCount != 1 || resp.MissingIntervals[0].MissingPoints != 3 {
		t.Fatalf("unexpected gap list: %+v", resp.MissingIntervals)
	}
}

func TestListRulesEndpoint(t *testing.T) {
	service := &fakeHealthAPI{
		catalogue: []models.AlertRule{
			{Name: "high_cpu_usage", Metric: models.MetricCPUUsage, Condition: models.ConditionGreaterThan, Thresholds: models.Thresholds{High: 85}, Severity: models.SeverityCritical, TimeFraction: 0.2},
			{Name: "low_cpu_usage", Metric: models.MetricCPUUsage, Condition: models.ConditionLessThan, Thresholds: models.Thresholds{Low: 15}, Severity: models.SeverityWarning, TimeFraction: 0.8},
		},
	}

	rec := serveRequest(service, http.MethodGet, "/api/v1/vmhealth/rules", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp rulesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Rules) != 2 || resp.Rules[0].Name != "high_cpu_usage" {
		t.Fatalf("unexpected catalogue: %+v", resp.Rules)
	}
	if resp.Rules[0].Thresholds.High != 85 {
		t.Fatalf("thresholds not mapped: %+v", resp.Rules[0])
	}
}

func TestUpdateRuleEndpoint(t *testing.T) {
	service := &fakeHealthAPI{
		updatedRule: models.AlertRule{
			Name:         "high_cpu_usage",
			Metric:       models.MetricCPUUsage,
			Condition:    models.ConditionGreaterThan,
			Thresholds:   models.Thresholds{High: 90},
			Severity:     models.SeverityWarning,
			TimeFraction: 0.2,
		},
	}

	body := `{"thresholds":{"low":0,"high":90},"severity":"warning"}`
	rec := serveRequest(service, http.MethodPatch, "/api/v1/vmhealth/rules/high_cpu_usage", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if service.gotName != "high_cpu_usage" {
		t.Fatalf("rule name not extracted from path: %q", service.gotName)
	}
	if service.gotUpdate.Thresholds == nil || service.gotUpdate.Thresholds.High != 90 {
		t.Fatalf("thresholds not forwarded: %+v", service.gotUpdate)
	}
	if service.gotUpdate.Severity == nil || *service.gotUpdate.Severity != models.SeverityWarning {
		t.Fatalf("severity not forwarded: %+v", service.gotUpdate)
	}
	if service.gotUpdate.TimeFraction != nil {
		t.Fatalf("time fraction should stay unset: %+v", service.gotUpdate)
	}

	var resp ruleDTO
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Thresholds.High != 90 || resp.Severity != "warning" {
		t.Fatalf("unexpected rule in response: %+v", resp)
	}
}

func TestUpdateRuleUnknownNameReturns404(t *testing.T) {
	service := &fakeHealthAPI{
		updateErr: fmt.Errorf("%w: no_such_rule", rules.ErrRuleNotFound),
	}

	rec := serveRequest(service, http.MethodPatch, "/api/v1/vmhealth/rules/no_such_rule", `{}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != "RULE_NOT_FOUND" {
		t.Fatalf("unexpected error code: %s", resp.Code)
	}
}

func TestAlertsEndpointForwardsLimit(t *testing.T) {
	service := &fakeHealthAPI{
		alerts: []models.Alert{
			{ID: "a1", Rule: models.AlertRule{Name: "high_cpu_usage"}},
			{ID: "a2", Rule: models.AlertRule{Name: "low_memory_usage"}},
		},
	}

	rec := serveRequest(service, http.MethodGet, "/api/v1/vmhealth/alerts?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if service.gotLimit != 2 {
		t.Fatalf("limit not forwarded: %d", service.gotLimit)
	}

	var resp alertsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Alerts) != 2 || resp.Alerts[1].ID != "a2" {
		t.Fatalf("unexpected alerts: %+v", resp.Alerts)
	}
}

func TestAlertsEndpointRejectsBadLimit(t *testing.T) {
	rec := serveRequest(&fakeHealthAPI{}, http.MethodGet, "/api/v1/vmhealth/alerts?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	rec := serveRequest(&fakeHealthAPI{}, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp healthzResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("unexpected healthz payload: %+v", resp)
	}
}
