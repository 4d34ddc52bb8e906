package profile

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"killwatch/pkg/models"
)

// Profile is one notification subscription: who cares about what, where it
// must happen, when the subscriber wants to hear about it, and where the
// notification goes.
type Profile struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Enabled     bool   `yaml:"enabled"`
	Destination string `yaml:"destination"`

	QuietHours QuietHours     `yaml:"quiet_hours"`
	Scope      Scope          `yaml:"scope"`
	Watch      WatchConfig    `yaml:"watch"`
	Interest   InterestConfig `yaml:"interest"`
	Triggers   TriggersConfig `yaml:"triggers"`

	ThrottleWindow time.Duration `yaml:"throttle_window"`
}

// Scope restricts a profile geographically. An empty system list means the
// whole universe.
type Scope struct {
	Systems []int32 `yaml:"systems"`
	Radius  int     `yaml:"radius"`
	// WatchBypass lets kills involving watched entities ignore the scope.
	WatchBypass bool `yaml:"watch_bypass"`
}

// WatchConfig lists the entities a profile tracks.
type WatchConfig struct {
	Characters   []int64 `yaml:"characters"`
	Corporations []int64 `yaml:"corporations"`
	Alliances    []int64 `yaml:"alliances"`
}

// Set converts the config lists into a watch set.
func (w WatchConfig) Set() models.WatchSet {
	set := models.NewWatchSet()
	for _, id := range w.Characters {
		set.Characters[id] = true
	}
	for _, id := range w.Corporations {
		set.Corporations[id] = true
	}
	for _, id := range w.Alliances {
		set.Alliances[id] = true
	}
	return set
}

// RouteConfig is a named corridor of systems.
type RouteConfig struct {
	Name    string  `yaml:"name"`
	Systems []int32 `yaml:"systems"`
}

// AssetConfig marks a system holding assets.
type AssetConfig struct {
	System int32   `yaml:"system"`
	Weight float64 `yaml:"weight"`
}

// InterestConfig controls the profile's interest scoring.
type InterestConfig struct {
	// Threshold in (0, 1] turns interest scoring on; a kill scoring at or
	// above it notifies even when no discrete trigger fires.
	Threshold     float64       `yaml:"threshold"`
	EscalationCap float64       `yaml:"escalation_cap"`
	// Layers selects which layers run (geography, entity, route, asset).
	// Empty enables all of them.
	Layers []string      `yaml:"layers"`
	Routes []RouteConfig `yaml:"routes"`
	Assets []AssetConfig `yaml:"assets"`
}

// TriggersConfig enables the profile's discrete notification triggers.
type TriggersConfig struct {
	// MinValue notifies on kills at or above this ISK value. Zero disables.
	MinValue float64 `yaml:"min_value"`
	// Watchlist notifies on any kill involving a watched entity.
	Watchlist bool `yaml:"watchlist"`
	// Gatecamp notifies when the location's camp state reaches this
	// confidence ("medium" when set to an empty string). "off" disables.
	Gatecamp string `yaml:"gatecamp"`
	// War notifies on kills under a formal war declaration.
	War bool `yaml:"war"`
	// Factions notifies on kills involving any of these warring factions.
	Factions []int64 `yaml:"factions"`
	// Tags notifies when a custom rule with one of these identifiers
	// matched the kill during enrichment.
	Tags []string `yaml:"tags"`
}

// GatecampMin resolves the configured confidence floor for the gatecamp
// trigger, or none when the trigger is off.
func (t TriggersConfig) GatecampMin() models.Confidence {
	switch t.Gatecamp {
	case "off":
		return models.ConfidenceNone
	case "":
		return models.ConfidenceMedium
	default:
		if c := models.ParseConfidence(t.Gatecamp); c != models.ConfidenceNone {
			return c
		}
		return models.ConfidenceNone
	}
}

// Set is one loaded profile generation. Snapshots are immutable; a reload
// builds a fresh Set and swaps it in atomically.
type Set struct {
	Profiles []*Profile
	Watch    models.WatchSet
	LoadedAt time.Time
}

type profilesFile struct {
	Profiles []*Profile `yaml:"profiles"`
}

// LoadFile reads and validates a profiles YAML file.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates profile YAML.
func Parse(data []byte) (*Set, error) {
	var f profilesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}

	set := &Set{
		Watch:    models.NewWatchSet(),
		LoadedAt: time.Now().UTC(),
	}
	seen := make(map[string]bool)
	for i, p := range f.Profiles {
		if p == nil {
			continue
		}
		if err := validate(p); err != nil {
			return nil, fmt.Errorf("profile %d (%s): %w", i, p.ID, err)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("profile id %q appears twice", p.ID)
		}
		seen[p.ID] = true
		set.Profiles = append(set.Profiles, p)
		mergeWatch(set.Watch, p.Watch.Set())
	}
	if len(set.Profiles) == 0 {
		return nil, fmt.Errorf("profiles file defines no profiles")
	}
	return set, nil
}

func validate(p *Profile) error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Destination == "" {
		return fmt.Errorf("destination is required")
	}
	if p.Interest.Threshold < 0 || p.Interest.Threshold > 1 {
		return fmt.Errorf("interest threshold %f outside [0, 1]", p.Interest.Threshold)
	}
	for _, l := range p.Interest.Layers {
		switch l {
		case "geography", "entity", "route", "asset":
		default:
			return fmt.Errorf("unknown interest layer %q", l)
		}
	}
	if p.Triggers.Gatecamp != "" && p.Triggers.Gatecamp != "off" {
		if models.ParseConfidence(p.Triggers.Gatecamp) == models.ConfidenceNone {
			return fmt.Errorf("unknown gatecamp confidence %q", p.Triggers.Gatecamp)
		}
	}
	if err := p.QuietHours.validate(); err != nil {
		return err
	}
	return nil
}

func mergeWatch(dst, src models.WatchSet) {
	for id := range src.Characters {
		dst.Characters[id] = true
	}
	for id := range src.Corporations {
		dst.Corporations[id] = true
	}
	for id := range src.Alliances {
		dst.Alliances[id] = true
	}
}
