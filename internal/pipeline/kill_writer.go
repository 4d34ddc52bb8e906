package pipeline

import "killwatch/pkg/models"

// KillWriter tees enriched kills to an archive sink.
type KillWriter interface {
	WriteKills(kills []*models.ProcessedKill) error
	Close() error
}
