package models

import "time"

// Severity grades a notification for downstream rendering.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for comparison.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// Stronger reports whether s outranks other.
func (s Severity) Stronger(other Severity) bool {
	return s.Rank() > other.Rank()
}

// Notification is one alert bound for a destination. Kills is empty for a
// single-kill notification; rollup digests carry the collapsed kill IDs there.
type Notification struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Destination string    `json:"destination"`
	ProfileID   string    `json:"profile_id"`

	Trigger  string   `json:"trigger"`
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Body     string   `json:"body"`

	KillID        int64   `json:"kill_id,omitempty"`
	SolarSystemID int32   `json:"solar_system_id,omitempty"`
	TotalValue    float64 `json:"total_value,omitempty"`
	Interest      float64 `json:"interest,omitempty"`

	Rollup bool    `json:"rollup,omitempty"`
	Kills  []int64 `json:"kills,omitempty"`
}

// DestinationHealth summarises delivery outcomes for one destination.
type DestinationHealth struct {
	Destination string    `json:"destination"`
	Sent        int64     `json:"sent"`
	Failed      int64     `json:"failed"`
	Dropped     int64     `json:"dropped"`
	QueueDepth  int       `json:"queue_depth"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	// RecentRatio is the success share over the recent delivery window,
	// 1.0 when nothing was attempted yet.
	RecentRatio float64 `json:"recent_ratio"`
}

// Healthy applies the default health rule: the destination is considered
// degraded once recent deliveries fail more often than they succeed.
func (h DestinationHealth) Healthy() bool {
	return h.RecentRatio >= 0.5
}
