package pipeline

import (
	"context"
	"time"

	"killwatch/internal/logger"
	"killwatch/internal/presence"
	"killwatch/internal/profile"
	"killwatch/internal/universe"
	"killwatch/pkg/models"
)

// ProfileSource exposes the current profile generation and the location-only
// interest variant used before kills are enriched.
type ProfileSource interface {
	Snapshot() *profile.Set
	LocationInterest(ctx context.Context, systemID int32) bool
}

// FilterConfig controls the pre-fetch admission filter.
type FilterConfig struct {
	Enabled        bool
	Radius         int // extra hops past each profile scope
	PresenceWindow time.Duration
}

// Filter decides whether a feed stub earns a detail fetch. Lookup failures
// admit the stub: a flaky topology or presence backend must not starve the
// fetch queue.
type Filter struct {
	cfg      FilterConfig
	presence presence.Index
	oracle   universe.Oracle
	profiles ProfileSource
	now      func() time.Time
}

// NewFilter creates an admission filter.
func NewFilter(cfg FilterConfig, idx presence.Index, oracle universe.Oracle, profiles ProfileSource) *Filter {
	if cfg.PresenceWindow <= 0 {
		cfg.PresenceWindow = time.Hour
	}
	return &Filter{cfg: cfg, presence: idx, oracle: oracle, profiles: profiles, now: time.Now}
}

// Admit reports whether the stub should be enriched. A disabled filter or an
// empty profile set admits everything.
func (f *Filter) Admit(ctx context.Context, stub *models.KillStub) bool {
	if f == nil || !f.cfg.Enabled {
		return true
	}
	var set *profile.Set
	if f.profiles != nil {
		set = f.profiles.Snapshot()
	}
	if set == nil || len(set.Profiles) == 0 {
		return true
	}
	if set.Watch.MatchesStub(stub) {
		return true
	}
	if f.presence != nil {
		active, err := f.presence.ActiveAt(stub.SolarSystemID, f.now().Add(-f.cfg.PresenceWindow))
		if err != nil {
			logger.Warnf("Presence lookup failed for system %d, admitting kill %d: %v", stub.SolarSystemID, stub.KillID, err)
			return true
		}
		if active {
			return true
		}
	}
	for _, p := range set.Profiles {
		if !p.Enabled {
			continue
		}
		if len(p.Scope.Systems) == 0 {
			return true
		}
		in, err := universe.WithinRadius(ctx, f.oracle, stub.SolarSystemID, p.Scope.Systems, p.Scope.Radius+f.cfg.Radius)
		if err != nil {
			logger.Warnf("Scope check failed for system %d, admitting kill %d: %v", stub.SolarSystemID, stub.KillID, err)
			return true
		}
		if in {
			return true
		}
	}
	// Interest routes and asset systems reach past every profile scope.
	return f.profiles.LocationInterest(ctx, stub.SolarSystemID)
}
