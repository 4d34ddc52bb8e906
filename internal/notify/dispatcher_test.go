package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"killwatch/pkg/models"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []*models.Notification
	failures int
	attempts int
	closed   bool
}

func (s *fakeSender) Send(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failures {
		return fmt.Errorf("send refused")
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSender) first() *models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[0]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func testConfig() Config {
	return Config{
		QueueSize:       16,
		RetryAttempts:   3,
		RetryBackoff:    time.Millisecond,
		SendTimeout:     time.Second,
		RollupThreshold: 100,
		RollupMax:       100,
		DrainTimeout:    2 * time.Second,
	}
}

func note(dest string, killID int64) *models.Notification {
	return &models.Notification{
		ID:          fmt.Sprintf("n-%d", killID),
		Destination: dest,
		KillID:      killID,
		Severity:    models.SeverityWarning,
	}
}

func TestDispatchDelivers(t *testing.T) {
	s := &fakeSender{}
	d := NewDispatcher(testConfig(), map[string]Sender{"hook": s}, nil)
	d.Start(context.Background())
	defer d.Close()

	require.True(t, d.Enqueue(note("hook", 1)))
	waitFor(t, func() bool { return s.sentCount() == 1 })

	health := d.Health()
	require.Len(t, health, 1)
	h := health[0]
	assert.Equal(t, "hook", h.Destination)
	assert.Equal(t, int64(1), h.Sent)
	assert.Zero(t, h.Failed)
	assert.True(t, h.Healthy())
}

func TestDispatchRetriesThenDelivers(t *testing.T) {
	s := &fakeSender{failures: 2}
	d := NewDispatcher(testConfig(), map[string]Sender{"hook": s}, nil)
	d.Start(context.Background())
	defer d.Close()

	d.Enqueue(note("hook", 1))
	waitFor(t, func() bool { return s.sentCount() == 1 })

	s.mu.Lock()
	attempts := s.attempts
	s.mu.Unlock()
	assert.Equal(t, 3, attempts)

	h := d.Health()[0]
	assert.Equal(t, int64(1), h.Sent)
	assert.Zero(t, h.Failed)
}

func TestDispatchDropsAfterRetriesExhausted(t *testing.T) {
	s := &fakeSender{failures: 1000}
	d := NewDispatcher(testConfig(), map[string]Sender{"hook": s}, nil)
	d.Start(context.Background())
	defer d.Close()

	d.Enqueue(note("hook", 1))
	waitFor(t, func() bool { return d.Health()[0].Failed == 1 })

	h := d.Health()[0]
	assert.Zero(t, h.Sent, "nothing should have been sent")
	assert.False(t, h.Healthy(), "all-failing destination should be unhealthy")
}

func TestDispatchUnknownDestination(t *testing.T) {
	d := NewDispatcher(testConfig(), map[string]Sender{"hook": &fakeSender{}}, nil)
	assert.False(t, d.Enqueue(note("absent", 1)))
	assert.Equal(t, int64(1), d.UnknownDestinations())
}

func TestDispatchQueueFullDrops(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	d := NewDispatcher(cfg, map[string]Sender{"hook": &fakeSender{}}, nil)
	// No worker running, so the queue cannot drain.

	require.True(t, d.Enqueue(note("hook", 1)))
	assert.False(t, d.Enqueue(note("hook", 2)), "second enqueue should overflow")
	assert.Equal(t, int64(1), d.Health()[0].Dropped)
	assert.Equal(t, 1, d.QueueDepth())
}

func TestDispatchRollsUpBacklog(t *testing.T) {
	cfg := testConfig()
	cfg.RollupThreshold = 3
	cfg.RollupMax = 10
	s := &fakeSender{}
	d := NewDispatcher(cfg, map[string]Sender{"hook": s}, nil)

	// Build a backlog before the worker starts.
	for i := int64(1); i <= 5; i++ {
		require.True(t, d.Enqueue(note("hook", i)))
	}
	d.Start(context.Background())
	defer d.Close()

	waitFor(t, func() bool { return s.sentCount() >= 1 })

	n := s.first()
	require.True(t, n.Rollup, "expected a rollup digest")
	assert.Len(t, n.Kills, 5)
	assert.Equal(t, models.SeverityWarning, n.Severity)
}

func TestDispatchAliasSharesQueue(t *testing.T) {
	s := &fakeSender{}
	d := NewDispatcher(testConfig(), map[string]Sender{"hook": s}, map[string]string{"mirror": "hook"})
	d.Start(context.Background())
	defer d.Close()

	d.Enqueue(note("hook", 1))
	d.Enqueue(note("mirror", 2))
	waitFor(t, func() bool { return s.sentCount() == 2 })

	assert.Zero(t, d.UnknownDestinations(), "alias counted as unknown")
	assert.Equal(t, int64(2), d.Health()[0].Sent)
}

func TestDispatchCloseDrainsAndClosesSenders(t *testing.T) {
	s := &fakeSender{}
	d := NewDispatcher(testConfig(), map[string]Sender{"hook": s}, nil)
	for i := int64(1); i <= 3; i++ {
		d.Enqueue(note("hook", i))
	}
	d.Start(context.Background())

	require.NoError(t, d.Close())

	total := 0
	s.mu.Lock()
	for _, n := range s.sent {
		if n.Rollup {
			total += len(n.Kills)
		} else {
			total++
		}
	}
	closed := s.closed
	s.mu.Unlock()

	assert.Equal(t, 3, total, "queued kills should survive the drain")
	assert.True(t, closed, "sender not closed")

	assert.False(t, d.Enqueue(note("hook", 9)), "enqueue after close should fail")
}
