package pipeline

import (
	"context"
	"time"

	"killwatch/internal/logger"
	"killwatch/internal/metrics"
	"killwatch/pkg/models"
)

// writeLoop batches stub inserts and kill upserts into the store and tees
// upserted kills to the archive. Store failures retry with a fixed wait
// until the context ends.
func (p *Pipeline) writeLoop(ctx context.Context, in <-chan writeItem) {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	var stubs []*models.KillStub
	var kills []*models.ProcessedKill

	flush := func() {
		if len(stubs) > 0 {
			for {
				if _, err := p.deps.Store.InsertStubs(stubs); err != nil {
					logger.Errorf("Failed to insert kill stubs: %v", err)
					select {
					case <-ctx.Done():
						return
					case <-time.After(1 * time.Second):
					}
					continue
				}
				stubs = nil
				break
			}
		}
		if len(kills) > 0 {
			for {
				n, err := p.deps.Store.UpsertKills(kills)
				if err != nil {
					logger.Errorf("Failed to upsert kills: %v", err)
					select {
					case <-ctx.Done():
						return
					case <-time.After(1 * time.Second):
					}
					continue
				}
				metrics.KillsWrittenTotal.Add(float64(n))
				if p.deps.Archive != nil {
					if err := p.deps.Archive.WriteKills(kills); err != nil {
						logger.Errorf("Failed to archive kills: %v", err)
					}
				}
				kills = nil
				break
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		case item, ok := <-in:
			if !ok {
				flush()
				return
			}
			if item.stub != nil {
				stubs = append(stubs, item.stub)
			}
			if item.kill != nil {
				kills = append(kills, item.kill)
			}
			metrics.IngestQueueDepth.Set(float64(len(in)))
			if len(stubs)+len(kills) >= p.cfg.WriteBatchSize {
				flush()
			}
		}
	}
}
