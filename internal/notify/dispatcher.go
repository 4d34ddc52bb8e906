package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"killwatch/internal/logger"
	"killwatch/internal/metrics"
	"killwatch/pkg/models"
)

// Sender delivers one rendered notification to a destination.
type Sender interface {
	Send(ctx context.Context, n *models.Notification) error
	Close() error
}

// Config tunes dispatch behaviour.
type Config struct {
	QueueSize       int
	RetryAttempts   int
	RetryBackoff    time.Duration
	SendTimeout     time.Duration
	RollupThreshold int
	RollupMax       int
	DrainTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.RollupThreshold <= 0 {
		c.RollupThreshold = 5
	}
	if c.RollupMax <= 0 {
		c.RollupMax = 20
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
	return c
}

const recentOutcomes = 20

type destHealth struct {
	sent        int64
	failed      int64
	dropped     int64
	lastSuccess time.Time
	lastFailure time.Time

	recent     [recentOutcomes]bool
	recentIdx  int
	recentFill int
}

func (h *destHealth) record(ok bool, at time.Time) {
	if ok {
		h.sent++
		h.lastSuccess = at
	} else {
		h.failed++
		h.lastFailure = at
	}
	h.recent[h.recentIdx] = ok
	h.recentIdx = (h.recentIdx + 1) % recentOutcomes
	if h.recentFill < recentOutcomes {
		h.recentFill++
	}
}

func (h *destHealth) recentRatio() float64 {
	if h.recentFill == 0 {
		return 1.0
	}
	good := 0
	for i := 0; i < h.recentFill; i++ {
		if h.recent[i] {
			good++
		}
	}
	return float64(good) / float64(h.recentFill)
}

// Dispatcher fans notifications out to destinations. Every destination gets
// its own bounded queue and delivery worker so one slow webhook cannot stall
// the rest. A deep backlog is collapsed into a single rollup digest instead
// of being replayed kill by kill.
type Dispatcher struct {
	cfg     Config
	senders map[string]Sender
	queues  map[string]chan *models.Notification
	aliases map[string]string

	mu      sync.Mutex
	health  map[string]*destHealth
	unknown int64
	closed  bool

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given destination senders.
// aliases maps extra destination names onto a canonical sender entry, so
// destinations sharing one endpoint share one queue. May be nil.
func NewDispatcher(cfg Config, senders map[string]Sender, aliases map[string]string) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:     cfg,
		senders: senders,
		queues:  make(map[string]chan *models.Notification, len(senders)),
		aliases: aliases,
		health:  make(map[string]*destHealth, len(senders)),
	}
	for name := range senders {
		d.queues[name] = make(chan *models.Notification, cfg.QueueSize)
		d.health[name] = &destHealth{}
	}
	return d
}

// Start launches one delivery worker per destination. Call once.
func (d *Dispatcher) Start(ctx context.Context) {
	for name, q := range d.queues {
		d.wg.Add(1)
		go func(name string, q chan *models.Notification) {
			defer d.wg.Done()
			d.worker(ctx, name, q, d.senders[name])
		}(name, q)
	}
	logger.Infof("Notification dispatcher started with %d destinations", len(d.queues))
}

// Enqueue hands a notification to its destination queue without blocking.
// Returns false when the notification was dropped.
func (d *Dispatcher) Enqueue(n *models.Notification) bool {
	if n == nil {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	dest := n.Destination
	if canonical, ok := d.aliases[dest]; ok {
		dest = canonical
	}
	q, ok := d.queues[dest]
	if !ok {
		d.unknown++
		logger.Warnf("Notification %s names unknown destination %q", n.ID, n.Destination)
		return false
	}

	select {
	case q <- n:
		return true
	default:
		d.health[dest].dropped++
		logger.Warnf("Notification queue for %s is full, dropping %s", dest, n.ID)
		return false
	}
}

// QueueDepth returns the total number of queued notifications.
func (d *Dispatcher) QueueDepth() int {
	depth := 0
	for _, q := range d.queues {
		depth += len(q)
	}
	return depth
}

// UnknownDestinations returns how many notifications named no configured
// destination.
func (d *Dispatcher) UnknownDestinations() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unknown
}

// Health snapshots delivery health per destination, sorted by name.
func (d *Dispatcher) Health() []models.DestinationHealth {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]models.DestinationHealth, 0, len(d.health))
	for name, h := range d.health {
		out = append(out, models.DestinationHealth{
			Destination: name,
			Sent:        h.sent,
			Failed:      h.failed,
			Dropped:     h.dropped,
			QueueDepth:  len(d.queues[name]),
			LastSuccess: h.lastSuccess,
			LastFailure: h.lastFailure,
			RecentRatio: h.recentRatio(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
	return out
}

// Close stops intake, drains the queues within the drain timeout and closes
// every sender.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	for _, q := range d.queues {
		close(q)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.cfg.DrainTimeout):
		logger.Warnf("Notification drain timed out after %s", d.cfg.DrainTimeout)
	}

	for name, s := range d.senders {
		if err := s.Close(); err != nil {
			logger.Errorf("Failed to close sender %s: %v", name, err)
		}
	}
	return nil
}

func (d *Dispatcher) worker(ctx context.Context, name string, q chan *models.Notification, s Sender) {
	for n := range q {
		if len(q)+1 >= d.cfg.RollupThreshold {
			n = d.collapse(name, n, q)
		}
		d.deliver(ctx, name, s, n)
	}
}

// collapse pulls whatever is already queued, up to the rollup cap, and folds
// it into one digest.
func (d *Dispatcher) collapse(name string, first *models.Notification, q chan *models.Notification) *models.Notification {
	batch := []*models.Notification{first}
loop:
	for len(batch) < d.cfg.RollupMax {
		select {
		case n, ok := <-q:
			if !ok {
				break loop
			}
			batch = append(batch, n)
		default:
			break loop
		}
	}
	if len(batch) == 1 {
		return first
	}
	logger.Infof("Collapsing %d queued notifications for %s into a rollup", len(batch), name)
	return RenderRollup(name, batch)
}

func (d *Dispatcher) deliver(ctx context.Context, name string, s Sender, n *models.Notification) {
	for attempt := 1; ; attempt++ {
		// Send contexts do not inherit the run context so queued items can
		// still be flushed while draining after shutdown. The per-send
		// timeout keeps them bounded either way.
		sendCtx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
		err := s.Send(sendCtx, n)
		cancel()

		if err == nil {
			d.recordOutcome(name, true)
			return
		}
		if attempt >= d.cfg.RetryAttempts || ctx.Err() != nil {
			logger.Errorf("Dropping notification %s for %s after %d attempts: %v", n.ID, name, attempt, err)
			d.recordOutcome(name, false)
			return
		}
		logger.Warnf("Delivery attempt %d for %s failed: %v", attempt, name, err)
		select {
		case <-ctx.Done():
			d.recordOutcome(name, false)
			return
		case <-time.After(d.cfg.RetryBackoff):
		}
	}
}

func (d *Dispatcher) recordOutcome(name string, ok bool) {
	if ok {
		metrics.NotificationsSentTotal.WithLabelValues(name).Inc()
	} else {
		metrics.NotificationsFailedTotal.WithLabelValues(name).Inc()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if h, found := d.health[name]; found {
		h.record(ok, time.Now().UTC())
	}
}
