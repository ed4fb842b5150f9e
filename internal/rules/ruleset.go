package rules

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vigilstack/vigil-vmhealth/internal/models"
)

// ErrRuleNotFound signals an update that references an unknown rule name.
var ErrRuleNotFound = errors.New("rule not found")

// RuleSet holds the ordered alert catalogue plus the signal metadata the
// status derivation reads. All accessors are safe for concurrent use; reads
// return copies so callers can never alias internal state.
type RuleSet struct {
	mu               sync.RWMutex
	rules            []models.AlertRule
	index            map[string]int
	overloadSignals  []string
	underloadSignals []string
}

// NewDefaultRuleSet seeds the built-in catalogue: three critical overload
// rules, three warning underload rules, three informational range rules and
// a disk latency rule, in that order.
func NewDefaultRuleSet() *RuleSet {
	return newRuleSet(defaultRules(), defaultOverloadSignals(), defaultUnderloadSignals())
}

func newRuleSet(catalogue []models.AlertRule, overload, underload []string) *RuleSet {
	rs := &RuleSet{
		rules:            catalogue,
		index:            make(map[string]int, len(catalogue)),
		overloadSignals:  overload,
		underloadSignals: underload,
	}
	for i, rule := range catalogue {
		rs.index[rule.Name] = i
	}
	return rs
}

func defaultRules() []models.AlertRule {
	return []models.AlertRule{
		{
			Name:         "high_cpu_usage",
			Metric:       models.MetricCPUUsage,
			Condition:    models.ConditionGreaterThan,
			Thresholds:   models.Thresholds{High: 85},
			Severity:     models.SeverityCritical,
			Description:  "High CPU usage",
			TimeFraction: 0.2,
		},
		{
			Name:         "high_memory_usage",
			Metric:       models.MetricMemoryUsage,
			Condition:    models.ConditionGreaterThan,
			Thresholds:   models.Thresholds{High: 80},
			Severity:     models.SeverityCritical,
			Description:  "High memory usage",
			TimeFraction: 0.2,
		},
		{
			Name:         "cpu_ready_time",
			Metric:       models.MetricCPUReadySummation,
			Condition:    models.ConditionGreaterThan,
			Thresholds:   models.Thresholds{High: 10},
			Severity:     models.SeverityCritical,
			Description:  "High CPU ready time",
			TimeFraction: 0.2,
		},
		{
			Name:         "low_cpu_usage",
			Metric:       models.MetricCPUUsage,
			Condition:    models.ConditionLessThan,
			Thresholds:   models.Thresholds{Low: 15},
			Severity:     models.SeverityWarning,
			Description:  "Low CPU usage",
			TimeFraction: 0.8,
		},
		{
			Name:         "low_memory_usage",
			Metric:       models.MetricMemoryUsage,
			Condition:    models.ConditionLessThan,
			Thresholds:   models.Thresholds{Low: 25},
			Severity:     models.SeverityWarning,
			Description:  "Low memory usage",
			TimeFraction: 0.8,
		},
		{
			Name:         "low_network_usage",
			Metric:       models.MetricNetworkUsagePercent,
			Condition:    models.ConditionLessThan,
			Thresholds:   models.Thresholds{Low: 5},
			Severity:     models.SeverityWarning,
			Description:  "Low network usage",
			TimeFraction: 0.8,
		},
		{
			Name:         "normal_cpu_range",
			Metric:       models.MetricCPUUsage,
			Condition:    models.ConditionRange,
			Thresholds:   models.Thresholds{Low: 15, High: 85},
			Severity:     models.SeverityInfo,
			Description:  "CPU usage in normal range",
			TimeFraction: 1.0,
		},
		{
			Name:         "normal_memory_range",
			Metric:       models.MetricMemoryUsage,
			Condition:    models.ConditionRange,
			Thresholds:   models.Thresholds{Low: 25, High: 85},
			Severity:     models.SeverityInfo,
			Description:  "Memory usage in normal range",
			TimeFraction: 1.0,
		},
		{
			Name:         "normal_network_range",
			Metric:       models.MetricNetworkUsagePercent,
			Condition:    models.ConditionRange,
			Thresholds:   models.Thresholds{Low: 6, High: 85},
			Severity:     models.SeverityInfo,
			Description:  "Network usage in normal range",
			TimeFraction: 1.0,
		},
		{
			Name:         "high_disk_latency",
			Metric:       models.MetricDiskLatency,
			Condition:    models.ConditionGreaterThan,
			Thresholds:   models.Thresholds{High: 25},
			Severity:     models.SeverityCritical,
			Description:  "High disk latency",
			TimeFraction: 0.2,
		},
	}
}

func defaultOverloadSignals() []string {
	return []string{models.MetricCPUUsage, models.MetricMemoryUsage, models.MetricCPUReadySummation}
}

func defaultUnderloadSignals() []string {
	return []string{models.MetricCPUUsage, models.MetricMemoryUsage, models.MetricNetworkUsagePercent}
}

// Rules returns a copy of the catalogue in declaration order.
func (r *RuleSet) Rules() []models.AlertRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.AlertRule(nil), r.rules...)
}

// Rule returns one rule by name.
func (r *RuleSet) Rule(name string) (models.AlertRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return models.AlertRule{}, false
	}
	return r.rules[i], true
}

// Len returns the number of rules in the catalogue.
func (r *RuleSet) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// OverloadSignals returns the metrics whose critical alerts mean overload.
func (r *RuleSet) OverloadSignals() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.overloadSignals...)
}

// UnderloadSignals returns the metrics whose warning alerts count toward the
// underload quorum.
func (r *RuleSet) UnderloadSignals() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.underloadSignals...)
}

// UpdateRule applies the supplied fields to the named rule. Invalid updates
// are rejected before anything mutates; a rule's name, metric and condition
// cannot change through this path.
func (r *RuleSet) UpdateRule(name string, update models.RuleUpdate) error {
	if update.TimeFraction != nil {
		if f := *update.TimeFraction; f < 0 || f > 1 {
			return fmt.Errorf("time fraction %v outside [0, 1]", f)
		}
	}
	if update.Severity != nil && !update.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", *update.Severity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}
	if update.Thresholds != nil {
		r.rules[i].Thresholds = *update.Thresholds
	}
	if update.TimeFraction != nil {
		r.rules[i].TimeFraction = *update.TimeFraction
	}
	if update.Severity != nil {
		r.rules[i].Severity = *update.Severity
	}
	return nil
}

// Replace swaps in a whole new catalogue, keeping the current signal sets
// when the replacement does not name its own.
func (r *RuleSet) Replace(catalogue []models.AlertRule, overload, underload []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules = catalogue
	r.index = make(map[string]int, len(catalogue))
	for i, rule := range catalogue {
		r.index[rule.Name] = i
	}
	if len(overload) > 0 {
		r.overloadSignals = overload
	}
	if len(underload) > 0 {
		r.underloadSignals = underload
	}
}
