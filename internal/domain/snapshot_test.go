package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotOf_State_RoundTrip(t *testing.T) {
	anchor := time.UnixMilli(1_700_000_000_123)
	st := TimerState{
		ID:           "twelve",
		Name:         `12" Timer`,
		Duration:     60 * time.Second,
		AnchorTime:   anchor,
		Running:      false,
		PausedOffset: 12500 * time.Millisecond,
		Cycles:       3,
	}

	snap := SnapshotOf(st)
	assert.Equal(t, 60.0, snap.Duration)
	assert.Equal(t, int64(1_700_000_000_123), snap.StartTime)
	assert.Equal(t, 12.5, snap.PausedOffset)

	back := snap.State("twelve")
	assert.Equal(t, st.ID, back.ID)
	assert.Equal(t, st.Name, back.Name)
	assert.Equal(t, st.Duration, back.Duration)
	assert.True(t, st.AnchorTime.Equal(back.AnchorTime))
	assert.Equal(t, st.PausedOffset, back.PausedOffset)
	assert.Equal(t, st.Cycles, back.Cycles)
}

func TestSnapshot_Validate(t *testing.T) {
	assert.NoError(t, Snapshot{Duration: 90}.Validate())

	err := Snapshot{Duration: 0}.Validate()
	assert.True(t, errors.Is(err, ErrInvalidDuration))

	assert.Error(t, Snapshot{Duration: 10, Cycles: -1}.Validate())
}

func TestDocument_FlattenAndParse(t *testing.T) {
	doc := Document{
		"frame":  {Name: "Frame Timer", Duration: 90, StartTime: 1000, Cycles: 2, Running: true},
		"twelve": {Duration: 60, StartTime: 2000, PausedOffset: 5},
	}

	flat := doc.Flatten()
	assert.Equal(t, 90.0, flat["frame_duration"])
	assert.Equal(t, int64(1000), flat["frame_start_time"])
	assert.Equal(t, int64(2), flat["frame_cycles"])
	assert.Equal(t, "Frame Timer", flat["frame_name"])
	_, hasName := flat["twelve_name"]
	assert.False(t, hasName, "empty names are omitted")

	parsed, err := ParseFlatDocument(flat)
	require.NoError(t, err)
	assert.Equal(t, doc, parsed)
}

func TestParseFlatDocument_JSONNumbersAndUnknownKeys(t *testing.T) {
	// Shapes produced by encoding/json: every number is a float64.
	flat := map[string]interface{}{
		"frame_duration":   float64(90),
		"frame_start_time": float64(1_700_000_000_000),
		"frame_cycles":     float64(4),
		"orphan_cycles":    float64(1),
		"unrelated":        "x",
	}

	doc, err := ParseFlatDocument(flat)
	require.NoError(t, err)
	require.Len(t, doc, 1, "a timer needs its _duration field")
	assert.Equal(t, int64(1_700_000_000_000), doc["frame"].StartTime)
	assert.Equal(t, int64(4), doc["frame"].Cycles)
	assert.False(t, doc["frame"].Running)
}

func TestParseFlatDocument_WrongType(t *testing.T) {
	_, err := ParseFlatDocument(map[string]interface{}{"frame_duration": "ninety"})
	assert.Error(t, err)

	_, err = ParseFlatDocument(map[string]interface{}{"frame_duration": 90.0, "frame_running": "yes"})
	assert.Error(t, err)
}

func TestDocument_CloneAndIDs(t *testing.T) {
	doc := Document{"twelve": {Duration: 60}, "frame": {Duration: 90}}
	clone := doc.Clone()
	clone["frame"] = Snapshot{Duration: 1}

	assert.Equal(t, 90.0, doc["frame"].Duration, "clone must not alias")
	assert.Equal(t, []string{"frame", "twelve"}, doc.IDs())
}

func TestSnapshot_SameTiming(t *testing.T) {
	base := Snapshot{Name: "Frame", Duration: 90, StartTime: 1000, Cycles: 2, Running: true}

	renamed := base
	renamed.Name = "Other"
	assert.True(t, base.SameTiming(renamed), "name is ignored")

	stopped := base
	stopped.Running = false
	stopped.PausedOffset = 12
	assert.False(t, base.SameTiming(stopped))

	caughtUp := base
	caughtUp.Cycles = 3
	caughtUp.StartTime = 91000
	assert.False(t, base.SameTiming(caughtUp))
}
