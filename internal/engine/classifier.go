package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/vigilstack/vigil-vmhealth/internal/models"
)

// ErrMalformedWindow rejects windows whose series disagree with the
// timestamp axis on length.
var ErrMalformedWindow = errors.New("window series length mismatch")

// underloadQuorum is how many warning-level underload signals must agree
// before the verdict flips to underloaded.
const underloadQuorum = 3

// RuleSource supplies the rule catalogue and the signal metadata the status
// derivation reads. Implementations must return rules in evaluation order.
type RuleSource interface {
	Rules() []models.AlertRule
	OverloadSignals() []string
	UnderloadSignals() []string
}

// StatusClassifier scores metric windows against a rule catalogue and
// derives an overall status from the alerts that fire.
type StatusClassifier struct {
	logger *slog.Logger
}

// NewStatusClassifier creates a classifier.
func NewStatusClassifier(logger *slog.Logger) *StatusClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusClassifier{logger: logger}
}

// Evaluate runs every applicable rule against the window and derives the
// entity's status. Rules whose metric is absent from the window are skipped;
// an empty window yields StatusUnknown with no alerts. Alerts come back in
// catalogue order and carry the window's last timestamp.
func (c *StatusClassifier) Evaluate(window models.MetricWindow, entity string, rules RuleSource) (models.Evaluation, error) {
	total := window.Len()
	for metric, series := range window.Series {
		if len(series) != total {
			return models.Evaluation{}, fmt.Errorf("%w: %s has %d values for %d timestamps", ErrMalformedWindow, metric, len(series), total)
		}
	}
	if total == 0 {
		return models.Evaluation{Status: models.StatusUnknown, Alerts: []models.Alert{}}, nil
	}

	lastSeen := window.Timestamps[total-1]
	alerts := make([]models.Alert, 0)
	for _, rule := range rules.Rules() {
		series, ok := window.Series[rule.Metric]
		if !ok {
			continue
		}
		alert, fired := c.scoreRule(rule, series, entity, lastSeen)
		if fired {
			alerts = append(alerts, alert)
		}
	}

	return models.Evaluation{
		Status: deriveStatus(alerts, rules),
		Alerts: alerts,
	}, nil
}

// scoreRule applies one rule to one series. The sustain requirement is
// floor(len(series) * TimeFraction) matching samples, and at least one
// sample must match so the triggering average is always defined.
func (c *StatusClassifier) scoreRule(rule models.AlertRule, series []float64, entity string, asOf time.Time) (models.Alert, bool) {
	required := int(math.Floor(float64(len(series)) * rule.TimeFraction))

	var value float64
	var message string
	switch rule.Condition {
	case models.ConditionGreaterThan:
		matching := make([]float64, 0, len(series))
		for _, v := range series {
			if v > rule.Thresholds.High {
				matching = append(matching, v)
			}
		}
		if len(matching) < required || len(matching) == 0 {
			return models.Alert{}, false
		}
		value = mean(matching)
		message = fmt.Sprintf("%s: average %.1f above threshold %.1f", rule.Description, value, rule.Thresholds.High)

	case models.ConditionLessThan:
		matching := make([]float64, 0, len(series))
		for _, v := range series {
			if v < rule.Thresholds.Low {
				matching = append(matching, v)
			}
		}
		if len(matching) < required || len(matching) == 0 {
			return models.Alert{}, false
		}
		value = mean(matching)
		message = fmt.Sprintf("%s: average %.1f below threshold %.1f", rule.Description, value, rule.Thresholds.Low)

	case models.ConditionRange:
		// Range rules attest that the whole window stayed in band, so the
		// sustain fraction is not consulted.
		for _, v := range series {
			if v < rule.Thresholds.Low || v > rule.Thresholds.High {
				return models.Alert{}, false
			}
		}
		value = mean(series)
		message = fmt.Sprintf("%s: average %.1f within %.1f-%.1f", rule.Description, value, rule.Thresholds.Low, rule.Thresholds.High)

	default:
		c.logger.Warn("skipping rule with unknown condition",
			slog.String("rule", rule.Name),
			slog.String("condition", string(rule.Condition)))
		return models.Alert{}, false
	}

	return models.Alert{
		ID:        uuid.NewString(),
		Rule:      rule,
		Entity:    entity,
		Value:     value,
		Message:   message,
		Timestamp: asOf,
	}, true
}

// deriveStatus inspects the full alert set after scoring. Any critical alert
// on an overload signal wins outright; otherwise a quorum of warning alerts
// on underload signals flips the verdict to underloaded.
func deriveStatus(alerts []models.Alert, rules RuleSource) models.ServerStatus {
	overload := toSet(rules.OverloadSignals())
	underload := toSet(rules.UnderloadSignals())

	overloaded := false
	warnings := 0
	for _, alert := range alerts {
		switch alert.Rule.Severity {
		case models.SeverityCritical:
			if _, ok := overload[alert.Rule.Metric]; ok {
				overloaded = true
			}
		case models.SeverityWarning:
			if _, ok := underload[alert.Rule.Metric]; ok {
				warnings++
			}
		}
	}

	switch {
	case overloaded:
		return models.StatusOverloaded
	case warnings >= underloadQuorum:
		return models.StatusUnderloaded
	default:
		return models.StatusNormal
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}
