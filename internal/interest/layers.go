package interest

import (
	"context"
	"fmt"

	"killwatch/internal/universe"
	"killwatch/pkg/models"
)

// GeographyLayer scores kills by proximity to operational systems.
type GeographyLayer struct {
	Oracle  universe.Oracle
	Anchors []int32
	Radius  int
}

// Name implements Layer.
func (l *GeographyLayer) Name() string { return "geography" }

// ScoreLocation returns 1.0 at an operational system, decaying per jump to
// zero just past the radius.
func (l *GeographyLayer) ScoreLocation(ctx context.Context, systemID int32) (models.LayerScore, error) {
	if len(l.Anchors) == 0 {
		return models.LayerScore{}, nil
	}
	w, err := universe.ProximityWeight(ctx, l.Oracle, systemID, l.Anchors, l.Radius)
	if err != nil {
		return models.LayerScore{}, err
	}
	if w == 0 {
		return models.LayerScore{}, nil
	}
	return models.LayerScore{Score: w, Reason: "near operational space"}, nil
}

// Score implements Layer.
func (l *GeographyLayer) Score(ctx context.Context, k *models.ProcessedKill) (models.LayerScore, error) {
	return l.ScoreLocation(ctx, k.SolarSystemID)
}

const (
	watchedVictimScore   = 1.0
	watchedAttackerScore = 0.85
)

// EntityLayer scores kills involving watched entities. A watched victim is
// the strongest signal there is; watched attackers score slightly lower.
type EntityLayer struct {
	Watch models.WatchSet
}

// Name implements Layer.
func (l *EntityLayer) Name() string { return "entity" }

// Score implements Layer.
func (l *EntityLayer) Score(_ context.Context, k *models.ProcessedKill) (models.LayerScore, error) {
	w := l.Watch
	if w.Characters[k.VictimCharacterID] || w.Corporations[k.VictimCorporationID] || w.Alliances[k.VictimAllianceID] {
		return models.LayerScore{Score: watchedVictimScore, Reason: "watched victim"}, nil
	}
	if w.MatchesKill(k) {
		return models.LayerScore{Score: watchedAttackerScore, Reason: "watched attacker"}, nil
	}
	return models.LayerScore{}, nil
}

// Route is a named travel corridor.
type Route struct {
	Name    string
	Systems []int32
}

const (
	onRouteScore   = 0.9
	nearRouteScore = 0.6
)

// RouteLayer scores kills on or immediately beside configured corridors.
type RouteLayer struct {
	Oracle universe.Oracle
	Routes []Route
}

// Name implements Layer.
func (l *RouteLayer) Name() string { return "route" }

// ScoreLocation implements LocationLayer.
func (l *RouteLayer) ScoreLocation(ctx context.Context, systemID int32) (models.LayerScore, error) {
	for _, r := range l.Routes {
		for _, sys := range r.Systems {
			if sys == systemID {
				return models.LayerScore{Score: onRouteScore, Reason: fmt.Sprintf("on route %s", r.Name)}, nil
			}
		}
	}
	if l.Oracle == nil {
		return models.LayerScore{}, nil
	}
	for _, r := range l.Routes {
		near, err := universe.WithinRadius(ctx, l.Oracle, systemID, r.Systems, 1)
		if err != nil {
			return models.LayerScore{}, err
		}
		if near {
			return models.LayerScore{Score: nearRouteScore, Reason: fmt.Sprintf("beside route %s", r.Name)}, nil
		}
	}
	return models.LayerScore{}, nil
}

// Score implements Layer.
func (l *RouteLayer) Score(ctx context.Context, k *models.ProcessedKill) (models.LayerScore, error) {
	return l.ScoreLocation(ctx, k.SolarSystemID)
}

const defaultAssetScore = 0.7

// AssetLayer scores kills at systems holding assets. Weights come from the
// profile; unweighted asset systems use a moderate default.
type AssetLayer struct {
	Systems map[int32]float64
}

// Name implements Layer.
func (l *AssetLayer) Name() string { return "asset" }

// ScoreLocation implements LocationLayer.
func (l *AssetLayer) ScoreLocation(_ context.Context, systemID int32) (models.LayerScore, error) {
	w, ok := l.Systems[systemID]
	if !ok {
		return models.LayerScore{}, nil
	}
	if w <= 0 {
		w = defaultAssetScore
	}
	return models.LayerScore{Score: w, Reason: "assets at location"}, nil
}

// Score implements Layer.
func (l *AssetLayer) Score(ctx context.Context, k *models.ProcessedKill) (models.LayerScore, error) {
	return l.ScoreLocation(ctx, k.SolarSystemID)
}
