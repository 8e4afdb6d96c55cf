package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mescon/InfinityStatus/internal/domain"
)

// TimerPreset describes a timer created at startup.
type TimerPreset struct {
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name"`
	Duration time.Duration `yaml:"duration"`
}

// presetFile is the YAML layout:
//
//	timers:
//	  - id: frame
//	    name: Frame Timer
//	    duration: 1m30s
type presetFile struct {
	Timers []TimerPreset `yaml:"timers"`
}

// DefaultTimerPresets returns the built-in pair of timers.
func DefaultTimerPresets() []TimerPreset {
	return []TimerPreset{
		{ID: "frame", Name: "Frame Timer", Duration: 90 * time.Second},
		{ID: "twelve", Name: `12" Timer`, Duration: 60 * time.Second},
	}
}

// ParseTimerPresets decodes and validates a preset document.
func ParseTimerPresets(data []byte) ([]TimerPreset, error) {
	var pf presetFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse timer presets: %w", err)
	}
	if len(pf.Timers) == 0 {
		return nil, fmt.Errorf("timer presets: at least one timer is required")
	}

	seen := make(map[string]bool, len(pf.Timers))
	for i, p := range pf.Timers {
		if p.ID == "" {
			return nil, fmt.Errorf("timer presets: entry %d has no id", i)
		}
		if err := domain.ValidateTimerID(p.ID); err != nil {
			return nil, fmt.Errorf("timer presets: entry %d: %w", i, err)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("timer presets: duplicate id %q", p.ID)
		}
		seen[p.ID] = true
		if p.Duration <= 0 {
			return nil, fmt.Errorf("timer presets: %q has non-positive duration %s", p.ID, p.Duration)
		}
		if p.Name == "" {
			pf.Timers[i].Name = p.ID
		}
	}
	return pf.Timers, nil
}

// LoadTimerPresets reads presets from path, or returns the defaults when path is empty.
func LoadTimerPresets(path string) ([]TimerPreset, error) {
	if path == "" {
		return DefaultTimerPresets(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timer presets %s: %w", path, err)
	}
	return ParseTimerPresets(data)
}
