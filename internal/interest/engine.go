package interest

import (
	"context"

	"killwatch/internal/logger"
	"killwatch/pkg/models"
)

// Layer scores one enriched kill for a single concern. Scores live in [0, 1].
type Layer interface {
	Name() string
	Score(ctx context.Context, k *models.ProcessedKill) (models.LayerScore, error)
}

// LocationLayer is the pre-fetch variant of Layer: it scores a bare location
// before any kill details exist. Layers whose signal needs the enriched kill
// do not implement it.
type LocationLayer interface {
	ScoreLocation(ctx context.Context, systemID int32) (models.LayerScore, error)
}

// ActivitySource supplies the recent-activity view behind the escalation
// multiplier.
type ActivitySource interface {
	Summary(systemID int32) models.ActivitySummary
}

// DefaultEscalationCap bounds the pattern multiplier.
const DefaultEscalationCap = 1.5

// Engine combines layer scores into one interest verdict. The base score is
// the strongest single layer; recent activity at the location can escalate
// it, and the final score is clamped back into [0, 1].
type Engine struct {
	layers   []Layer
	activity ActivitySource
	cap      float64
}

// NewEngine builds an engine over the given layers. activity may be nil, in
// which case no escalation is applied.
func NewEngine(layers []Layer, activity ActivitySource, escalationCap float64) *Engine {
	if escalationCap < 1 {
		escalationCap = DefaultEscalationCap
	}
	return &Engine{layers: layers, activity: activity, cap: escalationCap}
}

// Evaluate scores one kill. A failing layer is logged and scored zero so a
// flaky topology backend cannot silence the layers that still work.
func (e *Engine) Evaluate(ctx context.Context, k *models.ProcessedKill) models.InterestScore {
	score := models.InterestScore{Multiplier: 1.0}
	if k == nil {
		return score
	}

	for _, layer := range e.layers {
		ls, err := layer.Score(ctx, k)
		if err != nil {
			logger.Warnf("Interest layer %s failed, scoring zero: %v", layer.Name(), err)
			continue
		}
		ls.Layer = layer.Name()
		ls.Score = clamp01(ls.Score)
		if ls.Score > 0 {
			score.Layers = append(score.Layers, ls)
		}
		if ls.Score > score.Base {
			score.Base = ls.Score
		}
	}

	if e.activity != nil && score.Base > 0 {
		score.Multiplier = e.multiplier(e.activity.Summary(k.SolarSystemID))
	}

	score.Final = clamp01(score.Base * score.Multiplier)
	return score
}

// EvaluateLocation scores a bare location through the layers that can judge
// one. No escalation is applied; the result backs cheap pre-fetch admission
// checks, not notifications.
func (e *Engine) EvaluateLocation(ctx context.Context, systemID int32) models.InterestScore {
	score := models.InterestScore{Multiplier: 1.0}
	for _, layer := range e.layers {
		ll, ok := layer.(LocationLayer)
		if !ok {
			continue
		}
		ls, err := ll.ScoreLocation(ctx, systemID)
		if err != nil {
			logger.Warnf("Interest layer %s failed, scoring zero: %v", layer.Name(), err)
			continue
		}
		ls.Layer = layer.Name()
		ls.Score = clamp01(ls.Score)
		if ls.Score > 0 {
			score.Layers = append(score.Layers, ls)
		}
		if ls.Score > score.Base {
			score.Base = ls.Score
		}
	}
	score.Final = score.Base
	return score
}

// multiplier derives the escalation factor from location activity. A camped
// or unusually bloody location makes every kill there more interesting.
func (e *Engine) multiplier(s models.ActivitySummary) float64 {
	m := 1.0
	switch s.CampState {
	case models.ConfidenceLow:
		m += 0.15
	case models.ConfidenceMedium:
		m += 0.3
	case models.ConfidenceHigh:
		m += 0.5
	}
	if s.KillsShort >= 5 {
		m += 0.1
	}
	if m > e.cap {
		m = e.cap
	}
	return m
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
