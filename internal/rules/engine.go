package rules

import "killwatch/pkg/models"

// Engine applies notification rules to enriched kills.
type Engine interface {
	Apply(k *models.ProcessedKill) []models.RuleTag
}

// NoopEngine returns no tags.
type NoopEngine struct{}

// Apply returns an empty tag list.
func (n *NoopEngine) Apply(k *models.ProcessedKill) []models.RuleTag {
	return nil
}
