package pipeline

import (
	"context"
	"errors"

	"killwatch/internal/esi"
	"killwatch/internal/logger"
	"killwatch/internal/metrics"
	"killwatch/internal/notify"
	"killwatch/internal/transform/killmail"
	"killwatch/pkg/models"
)

func (p *Pipeline) fetchLoop(ctx context.Context) {
	for stub := range p.fetchCh {
		metrics.FetchQueueDepth.Set(float64(len(p.fetchCh)))
		p.enrich(ctx, stub)
	}
}

// enrich fetches the kill document, runs detection and rule tagging, and
// hands the result to the writer and the notification path.
func (p *Pipeline) enrich(ctx context.Context, stub *models.KillStub) {
	if ctx.Err() != nil {
		return
	}
	if done, err := p.deps.Store.IsProcessed(stub.KillID); err == nil && done {
		if err := p.deps.Store.TouchSeen(stub.KillID); err != nil {
			logger.Debugf("Failed to touch kill %d: %v", stub.KillID, err)
		}
		return
	}

	payload, err := p.deps.Detail.FetchKillmail(ctx, stub.KillID, stub.Hash)
	if err != nil {
		if errors.Is(err, esi.ErrNotFound) {
			logger.Warnf("Kill %d unknown upstream, keeping stub", stub.KillID)
		} else {
			logger.Errorf("Failed to fetch kill %d: %v", stub.KillID, err)
		}
		metrics.FetchFailuresTotal.Inc()
		return
	}
	kill, err := killmail.ParseKillmail(payload, stub)
	if err != nil {
		logger.Warnf("Failed to parse kill %d: %v", stub.KillID, err)
		metrics.FetchFailuresTotal.Inc()
		return
	}

	if p.deps.Rules != nil {
		kill.RuleTags = p.deps.Rules.Apply(kill)
		for _, tag := range kill.RuleTags {
			metrics.RuleMatchesTotal.WithLabelValues(tag.RuleID).Inc()
		}
	}
	metrics.KillsEnrichedTotal.Inc()

	// Observe before evaluating so the kill's own contribution counts
	// toward any camp it belongs to.
	if p.deps.Threat != nil {
		if det := p.deps.Threat.Observe(kill); det != nil {
			p.mu.Lock()
			p.detections++
			p.mu.Unlock()
			metrics.DetectionsTotal.WithLabelValues(string(det.Confidence)).Inc()
			logger.Infof("Gatecamp detected in system %d: %s confidence, %d kills", det.SolarSystemID, det.Confidence, det.KillCount)
			if err := p.deps.Store.InsertDetection(det); err != nil {
				logger.Errorf("Failed to persist detection %s: %v", det.ID, err)
			}
		}
	}

	if p.deps.Presence != nil && p.deps.Evaluator != nil {
		if set := p.deps.Evaluator.Snapshot(); set != nil {
			if err := p.deps.Presence.Record([]*models.ProcessedKill{kill}, set.Watch); err != nil {
				logger.Warnf("Failed to record presence for kill %d: %v", kill.KillID, err)
			}
		}
	}

	p.enqueueWrite(writeItem{kill: kill})

	if p.deps.Evaluator == nil || p.deps.Dispatcher == nil {
		return
	}
	matches, err := p.deps.Evaluator.Evaluate(ctx, kill)
	if err != nil {
		logger.Errorf("Failed to evaluate kill %d: %v", kill.KillID, err)
		return
	}
	for i := range matches {
		p.deps.Dispatcher.Enqueue(notify.Render(&matches[i], kill))
	}
}
