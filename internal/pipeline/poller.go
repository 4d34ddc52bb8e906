package pipeline

import (
	"context"
	"errors"
	"time"

	"killwatch/internal/input"
	"killwatch/internal/logger"
	"killwatch/internal/metrics"
	"killwatch/internal/transform/killmail"
	"killwatch/pkg/models"
)

// recentRing remembers the last kill IDs seen on the feed so hot duplicates
// skip the store entirely. Only the poll loop touches it.
type recentRing struct {
	ids  []int64
	pos  int
	seen map[int64]struct{}
}

func newRecentRing(size int) *recentRing {
	if size <= 0 {
		size = 512
	}
	return &recentRing{ids: make([]int64, size), seen: make(map[int64]struct{}, size)}
}

func (r *recentRing) Seen(id int64) bool {
	_, ok := r.seen[id]
	return ok
}

func (r *recentRing) Add(id int64) {
	if old := r.ids[r.pos]; old != 0 {
		delete(r.seen, old)
	}
	r.ids[r.pos] = id
	r.seen[id] = struct{}{}
	r.pos = (r.pos + 1) % len(r.ids)
}

type pollerState struct {
	running       bool
	polls         int64
	quiet         int64
	duplicates    int64
	filtered      int64
	rateLimited   int64
	lastPollAt    time.Time
	lastSuccessAt time.Time
	lastKillAt    time.Time
	lastKillID    int64
	failures      []time.Time
}

func (p *Pipeline) pollLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := p.deps.Source.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		now := time.Now().UTC()
		p.notePoll(now)
		metrics.PollsTotal.Inc()

		if err != nil {
			var rl *input.RateLimitError
			if errors.As(err, &rl) {
				// Rate limiting is scheduling information, not a failure.
				wait := rl.RetryAfter
				if wait <= 0 {
					wait = p.cfg.RateLimitWait
				}
				p.noteRateLimited()
				metrics.RateLimitedTotal.Inc()
				logger.Warnf("Feed rate limited, next poll in %s", wait)
				sleepCtx(ctx, wait)
				continue
			}
			p.notePollError(now)
			metrics.PollErrorsTotal.Inc()
			logger.Errorf("Feed poll failed: %v", err)
			sleepCtx(ctx, p.cfg.PollInterval)
			continue
		}

		p.noteSuccess(now)
		if p.cursorDue() {
			p.saveCursor()
		}

		stub, err := killmail.ParseEnvelope(payload)
		if err != nil {
			logger.Warnf("Discarding malformed feed payload: %v", err)
			continue
		}
		if stub == nil {
			// Quiet long poll, the feed held the connection and had nothing.
			p.noteQuiet()
			sleepCtx(ctx, p.cfg.PollInterval)
			continue
		}

		if p.recent.Seen(stub.KillID) {
			p.noteDuplicate()
			continue
		}
		p.recent.Add(stub.KillID)

		known, err := p.deps.Store.HasKill(stub.KillID)
		if err != nil {
			logger.Errorf("Failed to check kill %d, treating as new: %v", stub.KillID, err)
		}
		if known {
			p.noteDuplicate()
			if err := p.deps.Store.TouchSeen(stub.KillID); err != nil {
				logger.Debugf("Failed to touch kill %d: %v", stub.KillID, err)
			}
			continue
		}

		p.noteKill(stub.KillID, now)
		metrics.KillsReceivedTotal.Inc()
		p.enqueueWrite(writeItem{stub: stub})
		if p.deps.Filter.Admit(ctx, stub) {
			p.enqueueFetch(stub)
		} else {
			p.noteFiltered()
		}
	}
}

func (p *Pipeline) notePoll(now time.Time) {
	p.mu.Lock()
	p.state.polls++
	p.state.lastPollAt = now
	p.mu.Unlock()
}

func (p *Pipeline) noteSuccess(now time.Time) {
	p.mu.Lock()
	p.state.lastSuccessAt = now
	p.mu.Unlock()
}

func (p *Pipeline) noteQuiet() {
	p.mu.Lock()
	p.state.quiet++
	p.mu.Unlock()
}

func (p *Pipeline) noteDuplicate() {
	p.mu.Lock()
	p.state.duplicates++
	p.mu.Unlock()
}

func (p *Pipeline) noteFiltered() {
	p.mu.Lock()
	p.state.filtered++
	p.mu.Unlock()
}

func (p *Pipeline) noteRateLimited() {
	p.mu.Lock()
	p.state.rateLimited++
	p.mu.Unlock()
}

func (p *Pipeline) noteKill(killID int64, now time.Time) {
	p.mu.Lock()
	p.state.lastKillID = killID
	p.state.lastKillAt = now
	p.mu.Unlock()
}

func (p *Pipeline) notePollError(now time.Time) {
	p.mu.Lock()
	p.state.failures = append(p.state.failures, now)
	p.pruneFailuresLocked(now)
	p.mu.Unlock()
}

func (p *Pipeline) pruneFailuresLocked(now time.Time) {
	cutoff := now.Add(-p.cfg.ErrorWindow)
	kept := p.state.failures[:0]
	for _, t := range p.state.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.state.failures = kept
}

func (p *Pipeline) cursorDue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.polls%int64(p.cfg.CursorEvery) == 0
}

func (p *Pipeline) saveCursor() {
	p.mu.Lock()
	lastPoll := p.state.lastPollAt
	lastKillID := p.state.lastKillID
	p.mu.Unlock()
	if lastPoll.IsZero() {
		return
	}
	if err := p.deps.Store.SaveCursor(p.cfg.QueueID, lastPoll, lastKillID); err != nil {
		logger.Errorf("Failed to save feed cursor: %v", err)
	}
}

func (p *Pipeline) restoreCursor() {
	lastPoll, lastKillID, err := p.deps.Store.LoadCursor(p.cfg.QueueID)
	if err != nil {
		logger.Errorf("Failed to load feed cursor: %v", err)
		return
	}
	if lastKillID == 0 {
		return
	}
	p.mu.Lock()
	p.state.lastKillID = lastKillID
	p.mu.Unlock()
	logger.Infof("Resuming queue %s from kill %d, last polled %s", p.cfg.QueueID, lastKillID, lastPoll.Format(time.RFC3339))
}

func (p *Pipeline) pollerStatus(now time.Time) models.PollerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneFailuresLocked(now)
	return models.PollerStatus{
		Running:        p.state.running,
		Healthy:        p.pollerHealthyLocked(now),
		LastPollAt:     p.state.lastPollAt,
		LastKillAt:     p.state.lastKillAt,
		LastKillID:     p.state.lastKillID,
		Polls:          p.state.polls,
		Quiet:          p.state.quiet,
		Duplicates:     p.state.duplicates,
		Filtered:       p.state.filtered,
		RecentFailures: len(p.state.failures),
		RateLimited:    p.state.rateLimited,
	}
}

func (p *Pipeline) pollerHealthyLocked(now time.Time) bool {
	if !p.state.running {
		return false
	}
	if p.cfg.ErrorThreshold > 0 && len(p.state.failures) > p.cfg.ErrorThreshold {
		return false
	}
	if p.cfg.StaleAfter > 0 {
		last := p.state.lastSuccessAt
		if last.IsZero() {
			last = p.startedAt
		}
		if !last.IsZero() && now.Sub(last) > p.cfg.StaleAfter {
			return false
		}
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
