package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Snapshot is the persisted/shared representation of one timer.
// StartTime is epoch milliseconds; Duration and PausedOffset are seconds.
type Snapshot struct {
	Name         string  `json:"name,omitempty"`
	Duration     float64 `json:"duration"`
	StartTime    int64   `json:"start_time"`
	Cycles       int64   `json:"cycles"`
	Running      bool    `json:"running"`
	PausedOffset float64 `json:"paused_offset"`
}

// Document is the shared document holding one Snapshot per timer id.
type Document map[string]Snapshot

// SnapshotOf converts a TimerState into its shared representation.
func SnapshotOf(s TimerState) Snapshot {
	return Snapshot{
		Name:         s.Name,
		Duration:     s.Duration.Seconds(),
		StartTime:    s.AnchorTime.UnixMilli(),
		Cycles:       s.Cycles,
		Running:      s.Running,
		PausedOffset: s.PausedOffset.Seconds(),
	}
}

// State converts a Snapshot back into a TimerState for the given id.
func (s Snapshot) State(id string) TimerState {
	return TimerState{
		ID:           id,
		Name:         s.Name,
		Duration:     secondsToDuration(s.Duration),
		AnchorTime:   time.UnixMilli(s.StartTime),
		Running:      s.Running,
		PausedOffset: secondsToDuration(s.PausedOffset),
		Cycles:       s.Cycles,
	}
}

// Validate checks the record invariants that a remote writer could violate.
func (s Snapshot) Validate() error {
	if s.Duration <= 0 || math.IsNaN(s.Duration) || math.IsInf(s.Duration, 0) {
		return fmt.Errorf("%w: got %v seconds", ErrInvalidDuration, s.Duration)
	}
	if s.Cycles < 0 {
		return fmt.Errorf("cycles must not be negative: %d", s.Cycles)
	}
	return nil
}

// SameTiming reports whether two records describe the same timer position.
// The display name is ignored.
func (s Snapshot) SameTiming(o Snapshot) bool {
	return s.Duration == o.Duration &&
		s.StartTime == o.StartTime &&
		s.Cycles == o.Cycles &&
		s.Running == o.Running &&
		s.PausedOffset == o.PausedOffset
}

// Clone returns a copy that can be mutated without affecting d.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for id, s := range d {
		out[id] = s
	}
	return out
}

// IDs returns the timer ids in the document, sorted.
func (d Document) IDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Flat field suffixes of the monolithic document layout (frame_duration, frame_cycles, ...).
// Longer suffixes are matched first.
var flatSuffixes = []string{"_paused_offset", "_start_time", "_duration", "_running", "_cycles", "_name"}

// Flatten renders the document with parallel fields per timer, e.g.
// frame_duration, frame_start_time, frame_cycles.
func (d Document) Flatten() map[string]interface{} {
	flat := make(map[string]interface{}, len(d)*len(flatSuffixes))
	for id, s := range d {
		flat[id+"_duration"] = s.Duration
		flat[id+"_start_time"] = s.StartTime
		flat[id+"_cycles"] = s.Cycles
		flat[id+"_running"] = s.Running
		flat[id+"_paused_offset"] = s.PausedOffset
		if s.Name != "" {
			flat[id+"_name"] = s.Name
		}
	}
	return flat
}

// ParseFlatDocument reads a flat document. A timer exists when its <id>_duration
// field is present; missing companion fields take zero values. Unknown keys are ignored.
func ParseFlatDocument(flat map[string]interface{}) (Document, error) {
	doc := make(Document)
	for key, raw := range flat {
		id, suffix, ok := splitFlatKey(key)
		if !ok {
			continue
		}
		s := doc[id]
		switch suffix {
		case "_duration":
			v, ok := toFloat(raw)
			if !ok {
				return nil, fmt.Errorf("field %s: expected number, got %T", key, raw)
			}
			s.Duration = v
		case "_start_time":
			v, ok := toFloat(raw)
			if !ok {
				return nil, fmt.Errorf("field %s: expected number, got %T", key, raw)
			}
			s.StartTime = int64(v)
		case "_cycles":
			v, ok := toFloat(raw)
			if !ok {
				return nil, fmt.Errorf("field %s: expected number, got %T", key, raw)
			}
			s.Cycles = int64(v)
		case "_paused_offset":
			v, ok := toFloat(raw)
			if !ok {
				return nil, fmt.Errorf("field %s: expected number, got %T", key, raw)
			}
			s.PausedOffset = v
		case "_running":
			v, ok := raw.(bool)
			if !ok {
				return nil, fmt.Errorf("field %s: expected bool, got %T", key, raw)
			}
			s.Running = v
		case "_name":
			v, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("field %s: expected string, got %T", key, raw)
			}
			s.Name = v
		}
		doc[id] = s
	}

	// Companion fields without a duration do not describe a timer.
	for id := range doc {
		if _, ok := flat[id+"_duration"]; !ok {
			delete(doc, id)
		}
	}
	return doc, nil
}

func splitFlatKey(key string) (id, suffix string, ok bool) {
	for _, sfx := range flatSuffixes {
		if strings.HasSuffix(key, sfx) && len(key) > len(sfx) {
			return strings.TrimSuffix(key, sfx), sfx, true
		}
	}
	return "", "", false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(math.Round(sec * float64(time.Second)))
}
