package profile

import (
	"fmt"
	"time"
)

// QuietHours suppresses notifications during a daily window in the
// subscriber's local time. A window whose start equals its end is treated as
// disabled. Overnight windows (start after end) wrap midnight.
type QuietHours struct {
	Enabled  bool   `yaml:"enabled"`
	Start    string `yaml:"start"` // "23:00"
	End      string `yaml:"end"`   // "07:00"
	Timezone string `yaml:"timezone"`
	// AllowCritical lets critical notifications break through.
	AllowCritical bool `yaml:"allow_critical"`
}

func (q QuietHours) validate() error {
	if !q.Enabled {
		return nil
	}
	if _, err := parseClock(q.Start); err != nil {
		return fmt.Errorf("quiet hours start: %w", err)
	}
	if _, err := parseClock(q.End); err != nil {
		return fmt.Errorf("quiet hours end: %w", err)
	}
	if _, err := q.location(); err != nil {
		return err
	}
	return nil
}

// Active reports whether the instant falls inside the quiet window.
func (q QuietHours) Active(at time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}
	loc, err := q.location()
	if err != nil {
		return false
	}

	local := at.In(loc)
	minute := local.Hour()*60 + local.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func (q QuietHours) location() (*time.Location, error) {
	if q.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return nil, fmt.Errorf("quiet hours timezone %q: %w", q.Timezone, err)
	}
	return loc, nil
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("clock %q must be HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
