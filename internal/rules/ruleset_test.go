package rules

import (
	"errors"
	"testing"

	"github.com/vigilstack/vigil-vmhealth/internal/models"
)

func TestDefaultRuleSetCatalogue(t *testing.T) {
	rs := NewDefaultRuleSet()

	catalogue := rs.Rules()
	if len(catalogue) != 10 {
		t.Fatalf("expected 10 default rules, got %d", len(catalogue))
	}

	wantOrder := []string{
		"high_cpu_usage",
		"high_memory_usage",
		"cpu_ready_time",
		"low_cpu_usage",
		"low_memory_usage",
		"low_network_usage",
		"normal_cpu_range",
		"normal_memory_range",
		"normal_network_range",
		"high_disk_latency",
	}
	for i, name := range wantOrder {
		if catalogue[i].Name != name {
			t.Fatalf("rule %d: got %s, want %s", i, catalogue[i].Name, name)
		}
	}

	highCPU, ok := rs.Rule("high_cpu_usage")
	if !ok {
		t.Fatal("expected high_cpu_usage to exist")
	}
	if highCPU.Thresholds.High != 85 || highCPU.TimeFraction != 0.2 {
		t.Fatalf("unexpected high_cpu_usage tuning: %+v", highCPU)
	}
	if highCPU.Severity != models.SeverityCritical {
		t.Fatalf("unexpected severity: %s", highCPU.Severity)
	}

	overload := rs.OverloadSignals()
	if len(overload) != 3 || overload[2] != models.MetricCPUReadySummation {
		t.Fatalf("unexpected overload signals: %v", overload)
	}
	underload := rs.UnderloadSignals()
	if len(underload) != 3 || underload[2] != models.MetricNetworkUsagePercent {
		t.Fatalf("unexpected underload signals: %v", underload)
	}
}

func TestUpdateRulePartialMerge(t *testing.T) {
	rs := NewDefaultRuleSet()

	newHigh := models.Thresholds{High: 90}
	if err := rs.UpdateRule("high_cpu_usage", models.RuleUpdate{Thresholds: &newHigh}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rule, _ := rs.Rule("high_cpu_usage")
	if rule.Thresholds.High != 90 {
		t.Fatalf("threshold not applied: %+v", rule.Thresholds)
	}
	// Fields absent from the update keep their values.
	if rule.TimeFraction != 0.2 {
		t.Fatalf("time fraction should be untouched, got %v", rule.TimeFraction)
	}
	if rule.Severity != models.SeverityCritical {
		t.Fatalf("severity should be untouched, got %s", rule.Severity)
	}
	if rule.Metric != models.MetricCPUUsage || rule.Condition != models.ConditionGreaterThan {
		t.Fatalf("identity fields changed: %+v", rule)
	}

	fraction := 0.5
	severity := models.SeverityWarning
	if err := rs.UpdateRule("high_cpu_usage", models.RuleUpdate{TimeFraction: &fraction, Severity: &severity}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rule, _ = rs.Rule("high_cpu_usage")
	if rule.TimeFraction != 0.5 || rule.Severity != models.SeverityWarning {
		t.Fatalf("second update not applied: %+v", rule)
	}
	if rule.Thresholds.High != 90 {
		t.Fatalf("first update lost: %+v", rule.Thresholds)
	}
}

func TestUpdateRuleUnknownName(t *testing.T) {
	rs := NewDefaultRuleSet()

	err := rs.UpdateRule("no_such_rule", models.RuleUpdate{})
	if !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestUpdateRuleRejectsInvalidValues(t *testing.T) {
	rs := NewDefaultRuleSet()

	badFraction := 1.5
	if err := rs.UpdateRule("high_cpu_usage", models.RuleUpdate{TimeFraction: &badFraction}); err == nil {
		t.Fatal("expected error for out-of-range time fraction")
	}

	badSeverity := models.Severity("fatal")
	if err := rs.UpdateRule("high_cpu_usage", models.RuleUpdate{Severity: &badSeverity}); err == nil {
		t.Fatal("expected error for unknown severity")
	}

	// Rejected updates must not mutate the rule.
	rule, _ := rs.Rule("high_cpu_usage")
	if rule.TimeFraction != 0.2 || rule.Severity != models.SeverityCritical {
		t.Fatalf("rejected update mutated the rule: %+v", rule)
	}
}

func TestRulesReturnsACopy(t *testing.T) {
	rs := NewDefaultRuleSet()

	snapshot := rs.Rules()
	snapshot[0].Thresholds.High = 1

	rule, _ := rs.Rule("high_cpu_usage")
	if rule.Thresholds.High != 85 {
		t.Fatalf("mutating the snapshot leaked into the catalogue: %+v", rule.Thresholds)
	}
}

func TestReplaceKeepsSignalsWhenAbsent(t *testing.T) {
	rs := NewDefaultRuleSet()

	replacement := []models.AlertRule{{
		Name:         "custom_rule",
		Metric:       models.MetricCPUUsage,
		Condition:    models.ConditionGreaterThan,
		Thresholds:   models.Thresholds{High: 70},
		Severity:     models.SeverityWarning,
		TimeFraction: 0.5,
	}}
	rs.Replace(replacement, nil, nil)

	if rs.Len() != 1 {
		t.Fatalf("expected 1 rule after replace, got %d", rs.Len())
	}
	if _, ok := rs.Rule("high_cpu_usage"); ok {
		t.Fatal("old catalogue should be gone")
	}
	if len(rs.OverloadSignals()) != 3 {
		t.Fatalf("signals should survive a replace without signals: %v", rs.OverloadSignals())
	}

	rs.Replace(replacement, []string{models.MetricDiskLatency}, nil)
	overload := rs.OverloadSignals()
	if len(overload) != 1 || overload[0] != models.MetricDiskLatency {
		t.Fatalf("expected replaced overload signals, got %v", overload)
	}
}
