package models

import "time"

// Confidence grades a gatecamp detection.
type Confidence string

const (
	ConfidenceNone   Confidence = "none"
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Rank orders confidences so callers can compare them numerically.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceLow:
		return 1
	case ConfidenceMedium:
		return 2
	case ConfidenceHigh:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether c is the same confidence as min or a stronger one.
func (c Confidence) AtLeast(min Confidence) bool {
	return c.Rank() >= min.Rank()
}

// ParseConfidence maps a config string onto a Confidence, defaulting to none.
func ParseConfidence(s string) Confidence {
	switch s {
	case "low":
		return ConfidenceLow
	case "medium":
		return ConfidenceMedium
	case "high":
		return ConfidenceHigh
	default:
		return ConfidenceNone
	}
}

// DetectionRecord is an emitted gatecamp detection for one location.
type DetectionRecord struct {
	ID            string     `json:"id"`
	SolarSystemID int32      `json:"solar_system_id"`
	DetectedAt    time.Time  `json:"detected_at"`
	Confidence    Confidence `json:"confidence"`

	KillCount    int     `json:"kill_count"`
	PodCount     int     `json:"pod_count"`
	OverlapRatio float64 `json:"overlap_ratio"`
	Smartbomb    bool    `json:"smartbomb"`

	// Corporations appearing on the attacker side of the clustered kills,
	// most frequent first.
	TopCorporations []int64 `json:"top_corporations,omitempty"`
	TotalValue      float64 `json:"total_value"`
}

// ActivitySummary is a point-in-time view of recent hostile activity at one
// location, derived from the windowed kill history.
type ActivitySummary struct {
	SolarSystemID int32      `json:"solar_system_id"`
	KillsShort    int        `json:"kills_short"`
	KillsLong     int        `json:"kills_long"`
	LastKillAt    time.Time  `json:"last_kill_at,omitempty"`
	CampState     Confidence `json:"camp_state"`
}

// Active reports whether the location shows any recent activity at all.
func (a ActivitySummary) Active() bool {
	return a.KillsShort > 0 || a.KillsLong > 0
}
