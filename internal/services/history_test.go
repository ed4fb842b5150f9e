package services

import (
	"fmt"
	"testing"

	"github.com/vigilstack/vigil-vmhealth/internal/models"
)

func alertNamed(name string) models.Alert {
	return models.Alert{ID: name, Rule: models.AlertRule{Name: name}}
}

func TestAlertHistoryBoundsSize(t *testing.T) {
	history := NewAlertHistory(5)

	for i := 0; i < 12; i++ {
		history.Append(alertNamed(fmt.Sprintf("a%d", i)))
	}

	if history.Count() != 5 {
		t.Fatalf("expected bounded history of 5, got %d", history.Count())
	}

	recent := history.Recent(5)
	if recent[0].ID != "a7" || recent[4].ID != "a11" {
		t.Fatalf("expected oldest entries dropped, got %v", recent)
	}
}

func TestAlertHistoryRecentLimits(t *testing.T) {
	history := NewAlertHistory(10)
	for i := 0; i < 6; i++ {
		history.Append(alertNamed(fmt.Sprintf("a%d", i)))
	}

	recent := history.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(recent))
	}
	if recent[0].ID != "a3" || recent[2].ID != "a5" {
		t.Fatalf("expected newest three in order, got %v", recent)
	}

	// Asking for more than retained returns everything.
	if got := history.Recent(50); len(got) != 6 {
		t.Fatalf("expected 6 alerts, got %d", len(got))
	}
	// A non-positive limit falls back to the default.
	if got := history.Recent(0); len(got) != 6 {
		t.Fatalf("expected default limit to return all 6, got %d", len(got))
	}
}

func TestAlertHistoryAppendBatch(t *testing.T) {
	history := NewAlertHistory(3)

	history.Append(alertNamed("a"), alertNamed("b"), alertNamed("c"), alertNamed("d"))
	if history.Count() != 3 {
		t.Fatalf("expected 3 retained, got %d", history.Count())
	}
	recent := history.Recent(3)
	if recent[0].ID != "b" || recent[2].ID != "d" {
		t.Fatalf("unexpected retained window: %v", recent)
	}

	history.Append()
	if history.Count() != 3 {
		t.Fatalf("empty append must be a no-op, got %d", history.Count())
	}
}
