package threat

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"killwatch/pkg/models"
)

// Config controls gatecamp detection.
type Config struct {
	Window        time.Duration // clustering window a camp must fill
	LongWindow    time.Duration // background activity window
	MinKills      int
	HighKills     int
	OverlapMedium float64
	OverlapHigh   float64
	Cooldown      time.Duration
	MaxKills      int // per-location history cap
	// SmartbombTypes lists weapon types whose final blow counts as a
	// smartbomb signature. Empty disables the signature.
	SmartbombTypes []int32

	smartbombs map[int32]bool
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = 20 * time.Minute
	}
	if c.LongWindow <= c.Window {
		c.LongWindow = 60 * time.Minute
	}
	if c.MinKills <= 0 {
		c.MinKills = 3
	}
	if c.HighKills <= 0 {
		c.HighKills = 5
	}
	if c.OverlapMedium <= 0 {
		c.OverlapMedium = 0.6
	}
	if c.OverlapHigh <= 0 {
		c.OverlapHigh = 0.75
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.MaxKills <= 0 {
		c.MaxKills = 200
	}
}

// WithDefaults returns the config with unset fields filled in. Callers that
// classify outside a Cache use it to get the same thresholds.
func (c Config) WithDefaults() Config {
	c.applyDefaults()
	return c
}

func smartbombSet(types []int32) map[int32]bool {
	set := make(map[int32]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

// Cache keeps windowed kill history per location and emits gatecamp
// detections when a location's recent activity crosses the camp thresholds.
type Cache struct {
	mu       sync.Mutex
	cfg      Config
	bySystem map[int32]*systemState
	now      func() time.Time
}

type systemState struct {
	kills         []*models.ProcessedKill
	lastDetection time.Time
}

// NewCache creates a cache with defaulted thresholds.
func NewCache(cfg Config) *Cache {
	cfg.applyDefaults()
	cfg.smartbombs = smartbombSet(cfg.SmartbombTypes)
	return &Cache{
		cfg:      cfg,
		bySystem: make(map[int32]*systemState),
		now:      time.Now,
	}
}

// Observe ingests one enriched kill and returns a detection when the
// location's clustering window crosses the camp thresholds, nil otherwise.
// Window math runs on kill time, so replayed history classifies the same
// way live traffic did.
func (c *Cache) Observe(k *models.ProcessedKill) *models.DetectionRecord {
	if k == nil || k.SolarSystemID == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.bySystem[k.SolarSystemID]
	if state == nil {
		state = &systemState{}
		c.bySystem[k.SolarSystemID] = state
	}

	if k.Time.IsZero() {
		k.Time = c.now()
	}
	state.kills = append(state.kills, k)
	c.prune(state, k.Time)

	recent := killsSince(state.kills, k.Time.Add(-c.cfg.Window))
	assessment := Classify(recent, c.cfg)
	if assessment.Confidence == models.ConfidenceNone {
		return nil
	}

	// One detection per location per cooldown, regardless of confidence.
	if !state.lastDetection.IsZero() && k.Time.Sub(state.lastDetection) < c.cfg.Cooldown {
		return nil
	}
	state.lastDetection = k.Time

	return &models.DetectionRecord{
		ID:              newDetectionID(k.SolarSystemID),
		SolarSystemID:   k.SolarSystemID,
		DetectedAt:      k.Time,
		Confidence:      assessment.Confidence,
		KillCount:       assessment.KillCount,
		PodCount:        assessment.PodCount,
		OverlapRatio:    assessment.OverlapRatio,
		Smartbomb:       assessment.Smartbomb,
		TopCorporations: assessment.TopCorporations,
		TotalValue:      assessment.TotalValue,
	}
}

// Summary returns the current activity view for one location.
func (c *Cache) Summary(systemID int32) models.ActivitySummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := models.ActivitySummary{
		SolarSystemID: systemID,
		CampState:     models.ConfidenceNone,
	}
	state := c.bySystem[systemID]
	if state == nil {
		return out
	}

	now := c.now()
	short := killsSince(state.kills, now.Add(-c.cfg.Window))
	long := killsSince(state.kills, now.Add(-c.cfg.LongWindow))
	out.KillsShort = len(short)
	out.KillsLong = len(long)
	if n := len(state.kills); n > 0 {
		out.LastKillAt = state.kills[n-1].Time
	}
	out.CampState = Classify(short, c.cfg).Confidence
	return out
}

// Sweep drops locations whose entire history has aged out of the long
// window. Called periodically by the cleanup loop.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.cfg.LongWindow)
	for sys, state := range c.bySystem {
		state.kills = killsSince(state.kills, cutoff)
		if len(state.kills) == 0 {
			delete(c.bySystem, sys)
		}
	}
}

// Locations returns the number of locations with live history.
func (c *Cache) Locations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bySystem)
}

func (c *Cache) prune(state *systemState, ref time.Time) {
	cutoff := ref.Add(-c.cfg.LongWindow)
	idx := 0
	for idx < len(state.kills) {
		if !state.kills[idx].Time.Before(cutoff) {
			break
		}
		idx++
	}
	if idx > 0 {
		state.kills = state.kills[idx:]
	}
	if len(state.kills) > c.cfg.MaxKills {
		state.kills = state.kills[len(state.kills)-c.cfg.MaxKills:]
	}
}

func killsSince(kills []*models.ProcessedKill, cutoff time.Time) []*models.ProcessedKill {
	idx := 0
	for idx < len(kills) {
		if !kills[idx].Time.Before(cutoff) {
			break
		}
		idx++
	}
	return kills[idx:]
}

func newDetectionID(systemID int32) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d-%s", systemID, time.Now().Format("20060102150405"))
	}
	return fmt.Sprintf("%d-%s", systemID, hex.EncodeToString(buf))
}
