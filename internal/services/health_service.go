package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/vigilstack/vigil-vmhealth/internal/engine"
	"github.com/vigilstack/vigil-vmhealth/internal/metrics"
	"github.com/vigilstack/vigil-vmhealth/internal/models"
	"github.com/vigilstack/vigil-vmhealth/internal/rules"
	"github.com/vigilstack/vigil-vmhealth/internal/utils"
)

// MetricStore defines the vigil-core read operations the service depends on.
type MetricStore interface {
	FetchSeries(ctx context.Context, entity, metric string, start, end time.Time) ([]models.Sample, error)
	ListEntities(ctx context.Context) ([]string, error)
}

// Options tunes the health service. Zero values fall back to defaults.
type Options struct {
	ExpectedIntervalMinutes float64
	NetworkCapacityMbps     float64
	HistoryLimit            int
	FleetConcurrency        int
}

// HealthService answers status, fleet and completeness questions for
// monitored entities and owns the mutable rule catalogue.
type HealthService struct {
	logger     *slog.Logger
	store      MetricStore
	analyzer   *engine.GapAnalyzer
	classifier *engine.StatusClassifier
	catalogue  *rules.RuleSet
	history    *AlertHistory
	latencies  *utils.LatencyTracker

	expectedIntervalMinutes float64
	networkCapacityMbps     float64
	fleetConcurrency        int
}

// NewHealthService wires the engine pieces together. Nil collaborators are
// replaced with defaults so tests can construct partial services.
func NewHealthService(logger *slog.Logger, store MetricStore, analyzer *engine.GapAnalyzer, classifier *engine.StatusClassifier, catalogue *rules.RuleSet, opts Options) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	if analyzer == nil {
		analyzer = engine.NewGapAnalyzer(0)
	}
	if classifier == nil {
		classifier = engine.NewStatusClassifier(logger)
	}
	if catalogue == nil {
		catalogue = rules.NewDefaultRuleSet()
	}
	if opts.ExpectedIntervalMinutes <= 0 {
		opts.ExpectedIntervalMinutes = engine.DefaultExpectedIntervalMinutes
	}
	if opts.NetworkCapacityMbps <= 0 {
		opts.NetworkCapacityMbps = engine.DefaultNetworkCapacityMbps
	}
	if opts.FleetConcurrency <= 0 {
		opts.FleetConcurrency = 4
	}

	return &HealthService{
		logger:                  logger,
		store:                   store,
		analyzer:                analyzer,
		classifier:              classifier,
		catalogue:               catalogue,
		history:                 NewAlertHistory(opts.HistoryLimit),
		latencies:               utils.NewLatencyTracker(1024),
		expectedIntervalMinutes: opts.ExpectedIntervalMinutes,
		networkCapacityMbps:     opts.NetworkCapacityMbps,
		fleetConcurrency:        opts.FleetConcurrency,
	}
}

// AnalyzeStatus evaluates one entity's metric window over the range and
// reports its operational status with the alerts that fired.
func (s *HealthService) AnalyzeStatus(ctx context.Context, entity string, rng models.TimeRange) (models.StatusReport, error) {
	if strings.TrimSpace(entity) == "" {
		return models.StatusReport{}, utils.NewAppError("health.status", "entity is required", nil)
	}
	if rng.End.Before(rng.Start) {
		return models.StatusReport{}, utils.NewAppError("health.status", "invalid time range", engine.ErrInvalidRange)
	}
	if s.store == nil {
		return models.StatusReport{}, utils.NewAppError("health.status", "metric store not configured", nil)
	}

	started := time.Now()

	seriesByMetric := make(map[string][]models.Sample)
	for _, metric := range metricsToFetch(s.catalogue.Rules()) {
		samples, err := s.store.FetchSeries(ctx, entity, metric, rng.Start, rng.End)
		if err != nil {
			metrics.ObserveEvaluation(time.Since(started), metrics.OutcomeError)
			return models.StatusReport{}, utils.NewAppError("health.status", "fetch series "+metric, err)
		}
		if len(samples) == 0 {
			s.logger.Debug("metric series empty",
				slog.String("entity", entity),
				slog.String("metric", metric))
			continue
		}
		seriesByMetric[metric] = samples
	}

	window := engine.BuildWindow(seriesByMetric)
	window = engine.DeriveNetworkUsage(window, s.networkCapacityMbps)

	evaluation, err := s.classifier.Evaluate(window, entity, s.catalogue)
	if err != nil {
		metrics.ObserveEvaluation(time.Since(started), metrics.OutcomeError)
		return models.StatusReport{}, utils.NewAppError("health.status", "evaluate window", err)
	}

	duration := time.Since(started)
	s.latencies.Observe(duration)
	metrics.ObserveEvaluation(duration, metrics.OutcomeSuccess)
	for _, alert := range evaluation.Alerts {
		metrics.AlertFired(string(alert.Rule.Severity))
	}
	s.history.Append(evaluation.Alerts...)

	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("evaluation latency",
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Int("samples", count))
	}
	s.logger.Info("entity evaluated",
		slog.String("entity", entity),
		slog.String("status", string(evaluation.Status)),
		slog.Int("alerts", len(evaluation.Alerts)),
		slog.Int("points", window.Len()))

	return models.StatusReport{
		Entity:      entity,
		Status:      evaluation.Status,
		Alerts:      evaluation.Alerts,
		Summary:     engine.SummarizeWindow(window),
		Window:      rng,
		SampleCount: window.Len(),
		EvaluatedAt: time.Now().UTC(),
	}, nil
}

// AnalyzeFleet evaluates many entities with bounded concurrency. An empty
// entity list means the whole inventory. Per-entity failures land in that
// entity's slot instead of failing the sweep.
func (s *HealthService) AnalyzeFleet(ctx context.Context, entities []string, rng models.TimeRange) ([]models.FleetEntry, error) {
	if s.store == nil {
		return nil, utils.NewAppError("health.fleet", "metric store not configured", nil)
	}
	if len(entities) == 0 {
		known, err := s.store.ListEntities(ctx)
		if err != nil {
			return nil, utils.NewAppError("health.fleet", "list entities", err)
		}
		entities = known
	}

	results := make([]models.FleetEntry, len(entities))
	workers := pool.New().WithMaxGoroutines(s.fleetConcurrency)
	for i, entity := range entities {
		i, entity := i, entity // per-iteration copies: required for correct capture under go <1.22
		workers.Go(func() {
			report, err := s.AnalyzeStatus(ctx, entity, rng)
			if err != nil {
				results[i] = models.FleetEntry{Entity: entity, Error: err.Error()}
				return
			}
			results[i] = models.FleetEntry{Entity: entity, Report: &report}
		})
	}
	workers.Wait()

	return results, nil
}

// DataCompleteness reports schedule coverage for one metric series. A
// non-positive interval falls back to the service default.
func (s *HealthService) DataCompleteness(ctx context.Context, entity, metric string, rng models.TimeRange, expectedIntervalMinutes float64) (models.GapReport, error) {
	if strings.TrimSpace(entity) == "" {
		return models.GapReport{}, utils.NewAppError("health.completeness", "entity is required", nil)
	}
	if strings.TrimSpace(metric) == "" {
		return models.GapReport{}, utils.NewAppError("health.completeness", "metric is required", nil)
	}
	if s.store == nil {
		return models.GapReport{}, utils.NewAppError("health.completeness", "metric store not configured", nil)
	}
	if expectedIntervalMinutes <= 0 {
		expectedIntervalMinutes = s.expectedIntervalMinutes
	}

	samples, err := s.store.FetchSeries(ctx, entity, metric, rng.Start, rng.End)
	if err != nil {
		metrics.ObserveCompleteness(metrics.OutcomeError)
		return models.GapReport{}, utils.NewAppError("health.completeness", "fetch series "+metric, err)
	}

	report, err := s.analyzer.ComputeCompleteness(samples, rng.Start, rng.End, expectedIntervalMinutes)
	if err != nil {
		metrics.ObserveCompleteness(metrics.OutcomeError)
		return models.GapReport{}, utils.NewAppError("health.completeness", "compute completeness", err)
	}

	metrics.ObserveCompleteness(metrics.OutcomeSuccess)
	return report, nil
}

// Rules returns the active catalogue snapshot in evaluation order.
func (s *HealthService) Rules() []models.AlertRule {
	return s.catalogue.Rules()
}

// UpdateRule applies a partial update to one rule and returns the merged
// result.
func (s *HealthService) UpdateRule(name string, update models.RuleUpdate) (models.AlertRule, error) {
	if err := s.catalogue.UpdateRule(name, update); err != nil {
		return models.AlertRule{}, err
	}
	rule, _ := s.catalogue.Rule(name)
	s.logger.Info("alert rule updated", slog.String("rule", name))
	return rule, nil
}

// RecentAlerts lists up to limit recently fired alerts, oldest first.
func (s *HealthService) RecentAlerts(limit int) []models.Alert {
	return s.history.Recent(limit)
}

// ListEntities exposes the store's entity inventory.
func (s *HealthService) ListEntities(ctx context.Context) ([]string, error) {
	if s.store == nil {
		return nil, utils.NewAppError("health.entities", "metric store not configured", nil)
	}
	entities, err := s.store.ListEntities(ctx)
	if err != nil {
		return nil, utils.NewAppError("health.entities", "list entities", err)
	}
	return entities, nil
}

// metricsToFetch derives the store queries from the catalogue. Utilisation
// is computed from raw throughput, so rules on it pull the raw series.
func metricsToFetch(catalogue []models.AlertRule) []string {
	seen := make(map[string]struct{}, len(catalogue))
	out := make([]string, 0, len(catalogue))
	for _, rule := range catalogue {
		metric := rule.Metric
		if metric == models.MetricNetworkUsagePercent {
			metric = models.MetricNetworkInMbps
		}
		if _, ok := seen[metric]; ok {
			continue
		}
		seen[metric] = struct{}{}
		out = append(out, metric)
	}
	return out
}
