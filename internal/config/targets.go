package config

import (
	"fmt"
	"os"

	"github.com/pulsewatch/signals-bot/internal/models"
	"gopkg.in/yaml.v3"
)

type targetsFile struct {
	Targets []models.Target `yaml:"targets"`
}

// LoadTargets reads the monitored-target roster from the configured YAML
// file. Targets are onboarded by editing this file; the pipeline treats
// them as read-only.
func LoadTargets(path string) ([]models.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}

	var tf targetsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse targets file: %w", err)
	}

	if len(tf.Targets) == 0 {
		return nil, fmt.Errorf("targets file %s defines no targets", path)
	}

	seen := make(map[string]bool)
	for _, t := range tf.Targets {
		if t.ID == "" || t.Name == "" {
			return nil, fmt.Errorf("target entries require id and name")
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate target id %q", t.ID)
		}
		seen[t.ID] = true

		switch t.Type {
		case models.TargetSelf, models.TargetCompetitor, models.TargetStakeholder:
		default:
			return nil, fmt.Errorf("target %s has unknown type %q", t.ID, t.Type)
		}
	}

	return tf.Targets, nil
}
