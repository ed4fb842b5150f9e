package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vigilstack/vigil-vmhealth/internal/models"
)

// packFile is the YAML root of a rule pack.
type packFile struct {
	OverloadSignals  []string   `yaml:"overload_signals"`
	UnderloadSignals []string   `yaml:"underload_signals"`
	Rules            []packRule `yaml:"rules"`
}

// packRule mirrors one catalogue entry in YAML form. Threshold sides are
// pointers so the parser can tell an absent bound from an explicit zero.
type packRule struct {
	Name       string `yaml:"name"`
	Metric     string `yaml:"metric"`
	Condition  string `yaml:"condition"`
	Thresholds struct {
		Low  *float64 `yaml:"low"`
		High *float64 `yaml:"high"`
	} `yaml:"thresholds"`
	Severity     string  `yaml:"severity"`
	Description  string  `yaml:"description"`
	TimeFraction float64 `yaml:"time_fraction"`
}

// Load reads a rule pack from path and returns a RuleSet. An empty path or a
// missing file falls back to the built-in defaults; a malformed pack is an
// error so a bad deploy cannot silently wipe the catalogue.
func Load(path string, logger *slog.Logger) (*RuleSet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return NewDefaultRuleSet(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("rule pack not found, using built-in defaults", slog.String("path", path))
			return NewDefaultRuleSet(), nil
		}
		return nil, fmt.Errorf("read rule pack: %w", err)
	}

	catalogue, overload, underload, err := parsePack(data)
	if err != nil {
		return nil, fmt.Errorf("parse rule pack %s: %w", path, err)
	}
	if len(catalogue) == 0 {
		logger.Warn("rule pack has no rules, using built-in defaults", slog.String("path", path))
		return NewDefaultRuleSet(), nil
	}

	if len(overload) == 0 {
		overload = defaultOverloadSignals()
	}
	if len(underload) == 0 {
		underload = defaultUnderloadSignals()
	}
	logger.Info("rule pack loaded", slog.String("path", path), slog.Int("rules", len(catalogue)))
	return newRuleSet(catalogue, overload, underload), nil
}

func parsePack(data []byte) ([]models.AlertRule, []string, []string, error) {
	var file packFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, nil, err
	}

	seen := make(map[string]struct{}, len(file.Rules))
	catalogue := make([]models.AlertRule, 0, len(file.Rules))
	for i, entry := range file.Rules {
		rule, err := entry.toRule()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if _, dup := seen[rule.Name]; dup {
			return nil, nil, nil, fmt.Errorf("rule %d: duplicate name %q", i, rule.Name)
		}
		seen[rule.Name] = struct{}{}
		catalogue = append(catalogue, rule)
	}
	return catalogue, file.OverloadSignals, file.UnderloadSignals, nil
}

func (p packRule) toRule() (models.AlertRule, error) {
	if p.Name == "" {
		return models.AlertRule{}, fmt.Errorf("missing name")
	}
	if p.Metric == "" {
		return models.AlertRule{}, fmt.Errorf("rule %q missing metric", p.Name)
	}

	condition := models.Condition(p.Condition)
	if !condition.Valid() {
		return models.AlertRule{}, fmt.Errorf("rule %q has unknown condition %q", p.Name, p.Condition)
	}
	severity := models.Severity(p.Severity)
	if !severity.Valid() {
		return models.AlertRule{}, fmt.Errorf("rule %q has unknown severity %q", p.Name, p.Severity)
	}
	if p.TimeFraction < 0 || p.TimeFraction > 1 {
		return models.AlertRule{}, fmt.Errorf("rule %q time fraction %v outside [0, 1]", p.Name, p.TimeFraction)
	}

	var thresholds models.Thresholds
	switch condition {
	case models.ConditionGreaterThan:
		if p.Thresholds.High == nil {
			return models.AlertRule{}, fmt.Errorf("rule %q needs a high threshold", p.Name)
		}
		thresholds.High = *p.Thresholds.High
	case models.ConditionLessThan:
		if p.Thresholds.Low == nil {
			return models.AlertRule{}, fmt.Errorf("rule %q needs a low threshold", p.Name)
		}
		thresholds.Low = *p.Thresholds.Low
	case models.ConditionRange:
		if p.Thresholds.Low == nil || p.Thresholds.High == nil {
			return models.AlertRule{}, fmt.Errorf("rule %q needs both thresholds", p.Name)
		}
		if *p.Thresholds.Low > *p.Thresholds.High {
			return models.AlertRule{}, fmt.Errorf("rule %q has low threshold above high", p.Name)
		}
		thresholds.Low = *p.Thresholds.Low
		thresholds.High = *p.Thresholds.High
	}

	return models.AlertRule{
		Name:         p.Name,
		Metric:       p.Metric,
		Condition:    condition,
		Thresholds:   thresholds,
		Severity:     severity,
		Description:  p.Description,
		TimeFraction: p.TimeFraction,
	}, nil
}
