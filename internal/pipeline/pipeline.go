package pipeline

import (
	"context"
	"os"
	"sync"
	"time"

	"killwatch/internal/esi"
	"killwatch/internal/input"
	"killwatch/internal/logger"
	"killwatch/internal/metrics"
	"killwatch/internal/notify"
	"killwatch/internal/presence"
	"killwatch/internal/profile"
	"killwatch/internal/rules"
	"killwatch/internal/store"
	"killwatch/internal/threat"
	"killwatch/pkg/models"
)

const recentKills = 2048

// Config sizes and paces the pipeline.
type Config struct {
	QueueID        string
	PollInterval   time.Duration
	RateLimitWait  time.Duration
	ErrorWindow    time.Duration
	ErrorThreshold int
	StaleAfter     time.Duration
	CursorEvery    int

	IngestQueueSize int
	FetchQueueSize  int
	FetchWorkers    int
	WriteBatchSize  int
	FlushInterval   time.Duration
	DrainTimeout    time.Duration

	Retention       time.Duration
	CleanupInterval time.Duration
	PresenceTTL     time.Duration

	ProfilesPath    string
	RefreshInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueID == "" {
		c.QueueID = "killwatch"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.RateLimitWait <= 0 {
		c.RateLimitWait = 10 * time.Second
	}
	if c.ErrorWindow <= 0 {
		c.ErrorWindow = time.Hour
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 10
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.CursorEvery <= 0 {
		c.CursorEvery = 25
	}
	if c.IngestQueueSize <= 0 {
		c.IngestQueueSize = 1024
	}
	if c.FetchQueueSize <= 0 {
		c.FetchQueueSize = 512
	}
	if c.FetchWorkers <= 0 {
		c.FetchWorkers = 8
	}
	if c.WriteBatchSize <= 0 {
		c.WriteBatchSize = 200
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 15 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = time.Hour
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = time.Minute
	}
	return c
}

// Deps are the pipeline collaborators.
type Deps struct {
	Source     input.Source
	Detail     *esi.Client
	Store      *store.Store
	Threat     *threat.Cache
	Rules      rules.Engine
	Presence   presence.Index
	Filter     *Filter
	Evaluator  *profile.Evaluator
	Throttle   *profile.Throttle
	Dispatcher *notify.Dispatcher
	Archive    KillWriter
}

type writeItem struct {
	stub *models.KillStub
	kill *models.ProcessedKill
}

// Pipeline consumes the kill feed, enriches admitted kills and feeds the
// store, the camp detector and the notification path.
type Pipeline struct {
	cfg  Config
	deps Deps

	ingestCh chan writeItem
	fetchCh  chan *models.KillStub
	recent   *recentRing

	mu            sync.Mutex
	state         pollerState
	ingestDropped int64
	fetchDropped  int64
	detections    int64
	startedAt     time.Time
}

// New creates a pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		ingestCh: make(chan writeItem, cfg.IngestQueueSize),
		fetchCh:  make(chan *models.KillStub, cfg.FetchQueueSize),
		recent:   newRecentRing(recentKills),
	}
}

// Run starts the pipeline loops and blocks until the context is cancelled.
// Shutdown drains both queues: the poller stops first, the fetch workers
// finish the fetch queue, then the writer flushes what remains. The drain
// is bounded by DrainTimeout.
func (p *Pipeline) Run(ctx context.Context) error {
	logger.Infof("Kill pipeline started: queue %s, %d fetch workers", p.cfg.QueueID, p.cfg.FetchWorkers)

	p.mu.Lock()
	p.startedAt = time.Now().UTC()
	p.state.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.state.running = false
		p.mu.Unlock()
	}()

	p.restoreCursor()
	p.requeueUnprocessed()

	// Workers and the writer run on their own context so queued work can
	// still drain after the run context is cancelled.
	workCtx, workCancel := context.WithCancel(context.Background())
	defer workCancel()

	var pollWg, workWg, writeWg, auxWg sync.WaitGroup

	pollWg.Add(1)
	go func() {
		defer pollWg.Done()
		p.pollLoop(ctx)
	}()

	for i := 0; i < p.cfg.FetchWorkers; i++ {
		workWg.Add(1)
		go func() {
			defer workWg.Done()
			p.fetchLoop(workCtx)
		}()
	}

	writeWg.Add(1)
	go func() {
		defer writeWg.Done()
		p.writeLoop(workCtx, p.ingestCh)
	}()

	auxWg.Add(1)
	go func() {
		defer auxWg.Done()
		p.cleanupLoop(ctx)
	}()
	auxWg.Add(1)
	go func() {
		defer auxWg.Done()
		p.refreshLoop(ctx)
	}()

	<-ctx.Done()
	logger.Infof("Kill pipeline draining")

	pollWg.Wait()
	close(p.fetchCh)
	drain := time.AfterFunc(p.cfg.DrainTimeout, workCancel)
	workWg.Wait()
	close(p.ingestCh)
	writeWg.Wait()
	drain.Stop()
	workCancel()
	auxWg.Wait()
	p.saveCursor()
	return ctx.Err()
}

// Close releases pipeline resources.
func (p *Pipeline) Close() error {
	if p.deps.Archive != nil {
		if err := p.deps.Archive.Close(); err != nil {
			logger.Errorf("Failed to close kill archive: %v", err)
		}
	}
	if p.deps.Source != nil {
		return p.deps.Source.Close()
	}
	return nil
}

// requeueUnprocessed reloads stubs that never got their detail fetch, after
// a crash or an overflowing fetch queue in a previous run.
func (p *Pipeline) requeueUnprocessed() {
	stubs, err := p.deps.Store.UnprocessedStubs(p.cfg.FetchQueueSize)
	if err != nil {
		logger.Errorf("Failed to load unprocessed kills: %v", err)
		return
	}
	if len(stubs) == 0 {
		return
	}
	queued := 0
	for _, stub := range stubs {
		if p.enqueueFetch(stub) {
			queued++
		}
	}
	logger.Infof("Requeued %d unprocessed kills", queued)
}

func (p *Pipeline) enqueueWrite(item writeItem) bool {
	select {
	case p.ingestCh <- item:
		metrics.IngestQueueDepth.Set(float64(len(p.ingestCh)))
		return true
	default:
		p.mu.Lock()
		p.ingestDropped++
		p.mu.Unlock()
		metrics.KillsDroppedTotal.WithLabelValues("ingest").Inc()
		logger.Warnf("Ingest queue full, dropping write for kill %d", itemKillID(item))
		return false
	}
}

func (p *Pipeline) enqueueFetch(stub *models.KillStub) bool {
	select {
	case p.fetchCh <- stub:
		metrics.FetchQueueDepth.Set(float64(len(p.fetchCh)))
		return true
	default:
		p.mu.Lock()
		p.fetchDropped++
		p.mu.Unlock()
		metrics.KillsDroppedTotal.WithLabelValues("fetch").Inc()
		logger.Warnf("Fetch queue full, dropping kill %d", stub.KillID)
		return false
	}
}

func itemKillID(item writeItem) int64 {
	if item.kill != nil {
		return item.kill.KillID
	}
	if item.stub != nil {
		return item.stub.KillID
	}
	return 0
}

func (p *Pipeline) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := time.Now().UTC()
		if p.cfg.Retention > 0 {
			cutoff := now.Add(-p.cfg.Retention)
			if n, err := p.deps.Store.SweepKills(cutoff); err != nil {
				logger.Errorf("Failed to sweep kills: %v", err)
			} else if n > 0 {
				logger.Infof("Swept %d kills older than %s", n, p.cfg.Retention)
			}
			if n, err := p.deps.Store.SweepDetections(cutoff); err != nil {
				logger.Errorf("Failed to sweep detections: %v", err)
			} else if n > 0 {
				logger.Infof("Swept %d detections older than %s", n, p.cfg.Retention)
			}
		}
		if p.deps.Threat != nil {
			p.deps.Threat.Sweep()
		}
		if p.deps.Presence != nil {
			if err := p.deps.Presence.Sweep(now.Add(-p.cfg.PresenceTTL)); err != nil {
				logger.Warnf("Failed to sweep presence index: %v", err)
			}
		}
		if p.deps.Throttle != nil {
			p.deps.Throttle.Sweep(now.Add(-24 * time.Hour))
		}
	}
}

// refreshLoop reloads the profiles file when its mtime moves past the loaded
// generation. A broken file keeps the current set.
func (p *Pipeline) refreshLoop(ctx context.Context) {
	if p.cfg.ProfilesPath == "" || p.deps.Evaluator == nil {
		return
	}
	ticker := time.NewTicker(p.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		fi, err := os.Stat(p.cfg.ProfilesPath)
		if err != nil {
			logger.Errorf("Failed to stat profiles file, keeping current set: %v", err)
			continue
		}
		if cur := p.deps.Evaluator.Snapshot(); cur != nil && !fi.ModTime().After(cur.LoadedAt) {
			continue
		}
		set, err := profile.LoadFile(p.cfg.ProfilesPath)
		if err != nil {
			logger.Errorf("Failed to reload profiles, keeping current set: %v", err)
			continue
		}
		p.deps.Evaluator.SetProfiles(set)
		logger.Infof("Profiles reloaded: %d profiles", len(set.Profiles))
	}
}

// Status snapshots the pipeline for the status endpoint.
func (p *Pipeline) Status() models.ServiceStatus {
	ps := p.pollerStatus(time.Now().UTC())

	p.mu.Lock()
	started := p.startedAt
	ingestDropped := p.ingestDropped
	fetchDropped := p.fetchDropped
	detections := p.detections
	p.mu.Unlock()

	st := models.ServiceStatus{
		StartedAt:  started,
		Poller:     ps,
		Detections: detections,
		Queues: []models.QueueStatus{
			{Name: "ingest", Depth: len(p.ingestCh), Capacity: cap(p.ingestCh), Dropped: ingestDropped},
			{Name: "fetch", Depth: len(p.fetchCh), Capacity: cap(p.fetchCh), Dropped: fetchDropped},
		},
	}
	if p.deps.Evaluator != nil {
		st.Profiles = p.deps.Evaluator.ProfileCount()
	}
	if p.deps.Dispatcher != nil {
		st.Destinations = p.deps.Dispatcher.Health()
	}
	return st
}

// Healthy reports liveness: the poller must be inside its error budget and
// the store reachable.
func (p *Pipeline) Healthy() bool {
	if !p.pollerStatus(time.Now().UTC()).Healthy {
		return false
	}
	if p.deps.Store != nil {
		if err := p.deps.Store.Ping(); err != nil {
			return false
		}
	}
	return true
}
