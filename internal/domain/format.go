package domain

import (
	"fmt"
	"time"
)

// FormatRemaining renders a duration as M:SS. Minutes are not padded, seconds are
// floored and zero padded. Negative values render as 0:00.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// DurationFromParts combines separate minutes and seconds inputs into a cycle length.
func DurationFromParts(minutes, seconds int) (time.Duration, error) {
	if minutes < 0 || seconds < 0 {
		return 0, fmt.Errorf("%w: minutes and seconds must not be negative", ErrInvalidDuration)
	}
	d := time.Duration(minutes*60+seconds) * time.Second
	if err := ValidateDuration(d); err != nil {
		return 0, err
	}
	return d, nil
}

// SplitDuration is the inverse of DurationFromParts, used to prefill inputs.
// Fractional seconds are dropped.
func SplitDuration(d time.Duration) (minutes, seconds int) {
	total := int(d / time.Second)
	return total / 60, total % 60
}
