package domain

// TimerView is the JSON shape of a Reading shown to viewers.
type TimerView struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Display          string  `json:"display"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	DurationSeconds  float64 `json:"duration_seconds"`
	DurationMinutes  int     `json:"duration_minutes"`
	DurationRemSecs  int     `json:"duration_rem_seconds"`
	Progress         float64 `json:"progress"`
	Running          bool    `json:"running"`
	JustFinished     bool    `json:"just_finished"`
	Cycles           int64   `json:"cycles"`
}

// ViewOf renders a Reading for display.
func ViewOf(r Reading) TimerView {
	minutes, seconds := SplitDuration(r.Duration)
	return TimerView{
		ID:               r.ID,
		Name:             r.Name,
		Display:          FormatRemaining(r.Remaining),
		RemainingSeconds: r.Remaining.Seconds(),
		DurationSeconds:  r.Duration.Seconds(),
		DurationMinutes:  minutes,
		DurationRemSecs:  seconds,
		Progress:         r.Progress,
		Running:          r.Running,
		JustFinished:     r.JustFinished,
		Cycles:           r.Cycles,
	}
}

// ViewsOf renders several readings, skipping unknown timers.
func ViewsOf(rs []Reading) []TimerView {
	out := make([]TimerView, 0, len(rs))
	for _, r := range rs {
		if !r.Found {
			continue
		}
		out = append(out, ViewOf(r))
	}
	return out
}
