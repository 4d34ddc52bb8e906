package profile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"killwatch/internal/interest"
	"killwatch/internal/universe"
	"killwatch/pkg/models"
)

// Match is one profile the kill should notify, with the winning trigger.
type Match struct {
	Profile  *Profile
	Trigger  string
	Severity models.Severity
	Interest models.InterestScore
	Reason   string
}

type compiledProfile struct {
	profile *Profile
	watch   models.WatchSet
	engine  *interest.Engine
}

// Evaluator decides which profiles a kill notifies. Profile generations are
// swapped in whole via SetProfiles; evaluation always sees one consistent
// generation.
type Evaluator struct {
	oracle   universe.Oracle
	activity interest.ActivitySource
	throttle *Throttle
	now      func() time.Time

	mu       sync.Mutex
	set      *Set
	compiled []compiledProfile
}

// NewEvaluator creates an evaluator. Call SetProfiles before Evaluate.
func NewEvaluator(oracle universe.Oracle, activity interest.ActivitySource, throttle *Throttle) *Evaluator {
	return &Evaluator{
		oracle:   oracle,
		activity: activity,
		throttle: throttle,
		now:      time.Now,
	}
}

// SetProfiles installs a profile generation, compiling watch sets and
// per-profile interest engines.
func (ev *Evaluator) SetProfiles(set *Set) {
	compiled := make([]compiledProfile, 0, len(set.Profiles))
	for _, p := range set.Profiles {
		cp := compiledProfile{
			profile: p,
			watch:   p.Watch.Set(),
		}
		if p.Interest.Threshold > 0 {
			cp.engine = ev.buildEngine(p)
		}
		compiled = append(compiled, cp)
	}

	ev.mu.Lock()
	ev.set = set
	ev.compiled = compiled
	ev.mu.Unlock()
}

// Snapshot returns the current profile generation, nil before the first load.
func (ev *Evaluator) Snapshot() *Set {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.set
}

// ProfileCount returns the number of loaded profiles.
func (ev *Evaluator) ProfileCount() int {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.set == nil {
		return 0
	}
	return len(ev.set.Profiles)
}

// LocationInterest reports whether any profile's location-scored interest
// layers care about the system. It backs the admission filter's pre-fetch
// check; profiles without an interest block are covered by their scope.
func (ev *Evaluator) LocationInterest(ctx context.Context, systemID int32) bool {
	ev.mu.Lock()
	compiled := ev.compiled
	ev.mu.Unlock()
	for _, cp := range compiled {
		if cp.engine == nil || !cp.profile.Enabled {
			continue
		}
		if cp.engine.EvaluateLocation(ctx, systemID).Base > 0 {
			return true
		}
	}
	return false
}

const defaultGeographyRadius = 4

func (ev *Evaluator) buildEngine(p *Profile) *interest.Engine {
	enabled := func(name string) bool {
		if len(p.Interest.Layers) == 0 {
			return true
		}
		for _, l := range p.Interest.Layers {
			if l == name {
				return true
			}
		}
		return false
	}

	var layers []interest.Layer
	if enabled("geography") && len(p.Scope.Systems) > 0 {
		radius := p.Scope.Radius
		if radius <= 0 {
			radius = defaultGeographyRadius
		}
		layers = append(layers, &interest.GeographyLayer{
			Oracle:  ev.oracle,
			Anchors: p.Scope.Systems,
			Radius:  radius,
		})
	}
	if enabled("entity") {
		layers = append(layers, &interest.EntityLayer{Watch: p.Watch.Set()})
	}
	if enabled("route") && len(p.Interest.Routes) > 0 {
		routes := make([]interest.Route, 0, len(p.Interest.Routes))
		for _, r := range p.Interest.Routes {
			routes = append(routes, interest.Route{Name: r.Name, Systems: r.Systems})
		}
		layers = append(layers, &interest.RouteLayer{Oracle: ev.oracle, Routes: routes})
	}
	if enabled("asset") && len(p.Interest.Assets) > 0 {
		systems := make(map[int32]float64, len(p.Interest.Assets))
		for _, a := range p.Interest.Assets {
			systems[a.System] = a.Weight
		}
		layers = append(layers, &interest.AssetLayer{Systems: systems})
	}

	return interest.NewEngine(layers, ev.activity, p.Interest.EscalationCap)
}

// Evaluate runs every profile against one enriched kill and returns the
// matches that survived scope, quiet hours and throttling.
func (ev *Evaluator) Evaluate(ctx context.Context, k *models.ProcessedKill) ([]Match, error) {
	if k == nil {
		return nil, nil
	}

	ev.mu.Lock()
	compiled := ev.compiled
	ev.mu.Unlock()
	if len(compiled) == 0 {
		return nil, nil
	}

	ts := k.Time
	if ts.IsZero() {
		ts = ev.now()
	}
	var summary models.ActivitySummary
	if ev.activity != nil {
		summary = ev.activity.Summary(k.SolarSystemID)
	}

	var matches []Match
	for _, cp := range compiled {
		m, err := ev.evaluateProfile(ctx, cp, k, ts, summary)
		if err != nil {
			return nil, err
		}
		if m != nil {
			matches = append(matches, *m)
		}
	}
	return matches, nil
}

type candidate struct {
	name     string
	severity models.Severity
	reason   string
}

func (ev *Evaluator) evaluateProfile(ctx context.Context, cp compiledProfile, k *models.ProcessedKill, ts time.Time, summary models.ActivitySummary) (*Match, error) {
	p := cp.profile
	if !p.Enabled {
		return nil, nil
	}

	watchMatch := cp.watch.MatchesKill(k)

	inScope := true
	if len(p.Scope.Systems) > 0 {
		var err error
		inScope, err = universe.WithinRadius(ctx, ev.oracle, k.SolarSystemID, p.Scope.Systems, p.Scope.Radius)
		if err != nil {
			return nil, fmt.Errorf("profile %s scope: %w", p.ID, err)
		}
	}
	if !inScope && !(p.Scope.WatchBypass && watchMatch) {
		return nil, nil
	}

	var candidates []candidate

	if min := p.Triggers.GatecampMin(); min != models.ConfidenceNone && summary.CampState.AtLeast(min) {
		sev := models.SeverityWarning
		if summary.CampState == models.ConfidenceHigh {
			sev = models.SeverityCritical
		}
		candidates = append(candidates, candidate{
			name:     "gatecamp",
			severity: sev,
			reason:   fmt.Sprintf("%s confidence camp at location", summary.CampState),
		})
	}

	if p.Triggers.Watchlist && watchMatch {
		sev := models.SeverityWarning
		reason := "watched entity on kill"
		if cp.watch.Characters[k.VictimCharacterID] || cp.watch.Corporations[k.VictimCorporationID] || cp.watch.Alliances[k.VictimAllianceID] {
			sev = models.SeverityCritical
			reason = "watched entity destroyed"
		}
		candidates = append(candidates, candidate{name: "watchlist", severity: sev, reason: reason})
	}

	if p.Triggers.MinValue > 0 && k.TotalValue >= p.Triggers.MinValue {
		sev := models.SeverityWarning
		if k.TotalValue >= 5*p.Triggers.MinValue {
			sev = models.SeverityCritical
		}
		candidates = append(candidates, candidate{
			name:     "value",
			severity: sev,
			reason:   fmt.Sprintf("kill value %.0f above threshold", k.TotalValue),
		})
	}

	for _, f := range p.Triggers.Factions {
		if k.InvolvesFaction(f) {
			candidates = append(candidates, candidate{
				name:     "faction",
				severity: models.SeverityWarning,
				reason:   fmt.Sprintf("faction %d engaged", f),
			})
			break
		}
	}

	if p.Triggers.War && k.WarID != 0 {
		candidates = append(candidates, candidate{
			name:     "war",
			severity: models.SeverityWarning,
			reason:   fmt.Sprintf("war %d kill", k.WarID),
		})
	}

	for _, tag := range p.Triggers.Tags {
		if k.HasRuleTag(tag) {
			candidates = append(candidates, candidate{
				name:     "rule",
				severity: models.SeverityWarning,
				reason:   fmt.Sprintf("rule %s matched", tag),
			})
			break
		}
	}

	score := models.InterestScore{Multiplier: 1.0}
	if cp.engine != nil {
		score = cp.engine.Evaluate(ctx, k)
		if score.Final >= p.Interest.Threshold {
			sev := models.SeverityInfo
			if score.Final >= 0.9 {
				sev = models.SeverityWarning
			}
			candidates = append(candidates, candidate{
				name:     "interest",
				severity: sev,
				reason:   fmt.Sprintf("interest %.2f (%s)", score.Final, score.Dominant().Reason),
			})
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.severity.Stronger(best.severity) {
			best = c
		}
	}

	if p.QuietHours.Active(ts) && !(p.QuietHours.AllowCritical && best.severity == models.SeverityCritical) {
		return nil, nil
	}

	if !ev.throttle.Allow(p.ID, k.SolarSystemID, ts, p.ThrottleWindow) {
		return nil, nil
	}

	return &Match{
		Profile:  p,
		Trigger:  best.name,
		Severity: best.severity,
		Interest: score,
		Reason:   best.reason,
	}, nil
}
