package models

import "time"

// PollerStatus is a point-in-time view of the feed poller.
type PollerStatus struct {
	Running        bool      `json:"running"`
	Healthy        bool      `json:"healthy"`
	LastPollAt     time.Time `json:"last_poll_at,omitempty"`
	LastKillAt     time.Time `json:"last_kill_at,omitempty"`
	LastKillID     int64     `json:"last_kill_id,omitempty"`
	Polls          int64     `json:"polls"`
	Quiet          int64     `json:"quiet"`
	Duplicates     int64     `json:"duplicates"`
	Filtered       int64     `json:"filtered"`
	RecentFailures int       `json:"recent_failures"`
	RateLimited    int64     `json:"rate_limited"`
}

// QueueStatus reports occupancy for one bounded queue.
type QueueStatus struct {
	Name     string `json:"name"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
	Dropped  int64  `json:"dropped"`
}

// ServiceStatus aggregates component states for the status endpoint.
type ServiceStatus struct {
	StartedAt    time.Time           `json:"started_at"`
	Poller       PollerStatus        `json:"poller"`
	Queues       []QueueStatus       `json:"queues"`
	Destinations []DestinationHealth `json:"destinations"`
	Profiles     int                 `json:"profiles"`
	Detections   int64               `json:"detections"`
}
