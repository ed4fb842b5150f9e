package models

import "time"

// GapInterval describes one hole between consecutive samples that exceeds
// the tolerated spacing.
type GapInterval struct {
	GapStart                time.Time
	GapEnd                  time.Time
	GapDurationMinutes      float64
	ExpectedIntervalMinutes float64
	MissingPointsEstimate   int
}

// GapReport scores the coverage of one metric series over a time range.
type GapReport struct {
	ExpectedPoints         int
	ActualPoints           int
	MissingPoints          int
	CompletenessPercentage float64
	MissingIntervals       []GapInterval
}

// StatusReport is the service-level result of evaluating one entity.
type StatusReport struct {
	Entity      string
	Status      ServerStatus
	Alerts      []Alert
	Summary     map[string]MetricSummary
	Window      TimeRange
	SampleCount int
	EvaluatedAt time.Time
}

// FleetEntry is one entity's slot in a fleet evaluation. Either Report or
// Error is set, never both.
type FleetEntry struct {
	Entity string
	Report *StatusReport
	Error  string
}
