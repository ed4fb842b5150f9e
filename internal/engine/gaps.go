package engine

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/vigilstack/vigil-vmhealth/internal/models"
	"github.com/vigilstack/vigil-vmhealth/internal/utils"
)

// Defaults applied when a caller leaves gap tuning unset.
const (
	DefaultExpectedIntervalMinutes = 30.0
	DefaultToleranceFactor         = 1.5
)

var (
	// ErrInvalidInterval rejects non-positive expected sampling intervals.
	ErrInvalidInterval = errors.New("expected interval must be positive")
	// ErrInvalidRange rejects ranges that end before they start.
	ErrInvalidRange = errors.New("range end before range start")
)

// GapAnalyzer finds holes in a sample schedule and scores coverage of a
// series against the cadence the collector is expected to keep.
type GapAnalyzer struct {
	toleranceFactor float64
}

// NewGapAnalyzer creates an analyzer. A spacing between consecutive samples
// only counts as a gap once it exceeds expected interval times
// toleranceFactor; non-positive factors fall back to the default.
func NewGapAnalyzer(toleranceFactor float64) *GapAnalyzer {
	if toleranceFactor <= 0 {
		toleranceFactor = DefaultToleranceFactor
	}
	return &GapAnalyzer{toleranceFactor: toleranceFactor}
}

// DetectGaps scans a series in timestamp order and reports every spacing
// that exceeds the tolerated interval. Fewer than two samples can hold no
// gap. Input order does not matter; samples are sorted before scanning.
func (a *GapAnalyzer) DetectGaps(samples []models.Sample, expectedIntervalMinutes float64) ([]models.GapInterval, error) {
	if expectedIntervalMinutes <= 0 {
		return nil, ErrInvalidInterval
	}
	if len(samples) < 2 {
		return nil, nil
	}

	ordered := sortedByTime(samples)
	maxSpacing := expectedIntervalMinutes * a.toleranceFactor

	gaps := make([]models.GapInterval, 0)
	for i := 0; i < len(ordered)-1; i++ {
		spacing := utils.DurationMinutes(ordered[i].Timestamp, ordered[i+1].Timestamp)
		if spacing <= maxSpacing {
			continue
		}
		missing := int(math.Floor(spacing/expectedIntervalMinutes)) - 1
		if missing < 0 {
			missing = 0
		}
		gaps = append(gaps, models.GapInterval{
			GapStart:                ordered[i].Timestamp,
			GapEnd:                  ordered[i+1].Timestamp,
			GapDurationMinutes:      spacing,
			ExpectedIntervalMinutes: expectedIntervalMinutes,
			MissingPointsEstimate:   missing,
		})
	}
	return gaps, nil
}

// ComputeCompleteness scores how much of the expected sample schedule the
// series actually covers between rangeStart and rangeEnd inclusive. The
// expected count assumes one sample at rangeStart and one every interval
// after it; samples outside the range are ignored.
func (a *GapAnalyzer) ComputeCompleteness(samples []models.Sample, rangeStart, rangeEnd time.Time, expectedIntervalMinutes float64) (models.GapReport, error) {
	if expectedIntervalMinutes <= 0 {
		return models.GapReport{}, ErrInvalidInterval
	}
	if rangeEnd.Before(rangeStart) {
		return models.GapReport{}, ErrInvalidRange
	}

	totalMinutes := rangeEnd.Sub(rangeStart).Minutes()
	expected := int(math.Floor(totalMinutes/expectedIntervalMinutes)) + 1

	inRange := make([]models.Sample, 0, len(samples))
	for _, s := range samples {
		if s.Timestamp.Before(rangeStart) || s.Timestamp.After(rangeEnd) {
			continue
		}
		inRange = append(inRange, s)
	}

	gaps, err := a.DetectGaps(inRange, expectedIntervalMinutes)
	if err != nil {
		return models.GapReport{}, err
	}

	completeness := 0.0
	if expected > 0 {
		completeness = math.Round(float64(len(inRange))/float64(expected)*100*100) / 100
	}
	missing := expected - len(inRange)
	if missing < 0 {
		missing = 0
	}

	return models.GapReport{
		ExpectedPoints:         expected,
		ActualPoints:           len(inRange),
		MissingPoints:          missing,
		CompletenessPercentage: completeness,
		MissingIntervals:       gaps,
	}, nil
}

func sortedByTime(samples []models.Sample) []models.Sample {
	if sort.SliceIsSorted(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	}) {
		return samples
	}
	ordered := append([]models.Sample(nil), samples...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	return ordered
}
