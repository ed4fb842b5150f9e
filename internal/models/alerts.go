package models

import "time"

// Condition selects how a rule compares a metric series against its thresholds.
type Condition string

const (
	ConditionGreaterThan Condition = "gt"
	ConditionLessThan    Condition = "lt"
	ConditionRange       Condition = "range"
)

// Valid reports whether the condition is a supported comparison.
func (c Condition) Valid() bool {
	switch c {
	case ConditionGreaterThan, ConditionLessThan, ConditionRange:
		return true
	}
	return false
}

// Severity ranks the impact of a fired rule.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Valid reports whether the severity is a known level.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// ServerStatus is the overall operational verdict for an entity.
type ServerStatus string

const (
	StatusOverloaded  ServerStatus = "overloaded"
	StatusUnderloaded ServerStatus = "underloaded"
	StatusNormal      ServerStatus = "normal"
	StatusUnknown     ServerStatus = "unknown"
)

// Thresholds carries the bounds a rule compares against. Which side is read
// depends on the condition: gt uses High, lt uses Low, range uses both.
type Thresholds struct {
	Low  float64
	High float64
}

// AlertRule is a named threshold condition over one metric.
type AlertRule struct {
	Name         string
	Metric       string
	Condition    Condition
	Thresholds   Thresholds
	Severity     Severity
	Description  string
	TimeFraction float64
}

// RuleUpdate is a partial rule mutation. Nil fields leave the current value
// untouched; a non-nil Thresholds replaces both bounds.
type RuleUpdate struct {
	Thresholds   *Thresholds
	TimeFraction *float64
	Severity     *Severity
}

// Alert records one rule firing against an entity's window.
type Alert struct {
	ID        string
	Rule      AlertRule
	Entity    string
	Value     float64
	Message   string
	Timestamp time.Time
}

// Evaluation bundles the classifier verdict with the alerts that produced it.
type Evaluation struct {
	Status ServerStatus
	Alerts []Alert
}
