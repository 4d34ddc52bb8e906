package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"killwatch/internal/esi"
	"killwatch/internal/input"
	"killwatch/internal/notify"
	"killwatch/internal/presence"
	"killwatch/internal/profile"
	"killwatch/internal/rules"
	"killwatch/internal/store"
	"killwatch/internal/threat"
	"killwatch/pkg/models"
)

type feedStep struct {
	payload []byte
	err     error
}

// fakeFeed plays back scripted deliveries, then blocks until cancelled.
type fakeFeed struct {
	mu    sync.Mutex
	steps []feedStep
	calls []time.Time
}

func (f *fakeFeed) Next(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, time.Now())
	if len(f.steps) == 0 {
		f.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	f.mu.Unlock()
	return step.payload, step.err
}

func (f *fakeFeed) Close() error { return nil }

func (f *fakeFeed) callTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls...)
}

type captureSender struct {
	mu   sync.Mutex
	sent []*models.Notification
}

func (s *captureSender) Send(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

func (s *captureSender) Close() error { return nil }

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *captureSender) first() *models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[0]
}

// chainOracle models consecutive system IDs laid out on a single gate chain.
type chainOracle struct{}

func (chainOracle) Distance(ctx context.Context, from, to int32) (int, error) {
	d := int(from - to)
	if d < 0 {
		d = -d
	}
	return d, nil
}

type failOracle struct{}

func (failOracle) Distance(ctx context.Context, from, to int32) (int, error) {
	return 0, fmt.Errorf("topology offline")
}

type staticProfiles struct {
	set         *profile.Set
	interesting map[int32]bool
}

func (s staticProfiles) Snapshot() *profile.Set { return s.set }

func (s staticProfiles) LocationInterest(_ context.Context, systemID int32) bool {
	return s.interesting[systemID]
}

func envelope(killID int64, system int32) []byte {
	return []byte(fmt.Sprintf(`{"package":{"killID":%d,"zkb":{"hash":"h%d"},"solar_system_id":%d}}`, killID, killID, system))
}

func killDoc(killID int64, system int32, value float64, at time.Time) string {
	return fmt.Sprintf(`{
		"killmail_id": %d,
		"killmail_time": %q,
		"solar_system_id": %d,
		"victim": {"character_id": 90000001, "corporation_id": 98000001, "ship_type_id": 587},
		"attackers": [{"character_id": 90000002, "corporation_id": 98000009, "ship_type_id": 17738, "final_blow": true}],
		"zkb": {"hash": "h%d", "totalValue": %.0f}
	}`, killID, at.Format(time.RFC3339), system, killID, value)
}

func killServer(t *testing.T, hits *atomic.Int64, docs map[int64]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var killID int64
		var hash string
		if _, err := fmt.Sscanf(r.URL.Path, "/killmails/%d/%s", &killID, &hash); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		hits.Add(1)
		doc, ok := docs[killID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func valueProfileSet(minValue float64, systems []int32) *profile.Set {
	p := &profile.Profile{
		ID:          "ops",
		Enabled:     true,
		Destination: "hook",
		Scope:       profile.Scope{Systems: systems},
		Triggers:    profile.TriggersConfig{MinValue: minValue, Gatecamp: "off"},
	}
	return &profile.Set{
		Profiles: []*profile.Profile{p},
		Watch:    models.NewWatchSet(),
		LoadedAt: time.Now().UTC(),
	}
}

type fixture struct {
	feed *fakeFeed
	docs map[int64]string
	set  *profile.Set
	seed func(t *testing.T, st *store.Store)
}

func start(t *testing.T, fx fixture) (*Pipeline, *captureSender, *store.Store, *atomic.Int64) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "kills.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if fx.seed != nil {
		fx.seed(t, st)
	}

	hits := &atomic.Int64{}
	srv := killServer(t, hits, fx.docs)
	detail := esi.NewClient(esi.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})

	cache := threat.NewCache(threat.Config{})
	throttle := profile.NewThrottle(time.Minute)
	ev := profile.NewEvaluator(chainOracle{}, cache, throttle)
	if fx.set != nil {
		ev.SetProfiles(fx.set)
	}

	sender := &captureSender{}
	disp := notify.NewDispatcher(notify.Config{
		QueueSize:       16,
		RetryAttempts:   1,
		RetryBackoff:    time.Millisecond,
		SendTimeout:     time.Second,
		RollupThreshold: 50,
		RollupMax:       50,
		DrainTimeout:    2 * time.Second,
	}, map[string]notify.Sender{"hook": sender}, nil)

	pipe := New(Config{
		QueueID:       "test",
		PollInterval:  5 * time.Millisecond,
		FlushInterval: 10 * time.Millisecond,
		DrainTimeout:  2 * time.Second,
		StaleAfter:    time.Minute,
	}, Deps{
		Source:     fx.feed,
		Detail:     detail,
		Store:      st,
		Threat:     cache,
		Rules:      &rules.NoopEngine{},
		Presence:   presence.NewMemoryIndex(),
		Filter:     NewFilter(FilterConfig{}, nil, nil, ev),
		Evaluator:  ev,
		Throttle:   throttle,
		Dispatcher: disp,
	})

	ctx, cancel := context.WithCancel(context.Background())
	disp.Start(ctx)
	done := make(chan error, 1)
	go func() { done <- pipe.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("pipeline did not stop")
		}
		disp.Close()
	})
	return pipe, sender, st, hits
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPipelineProcessesAndNotifies(t *testing.T) {
	at := time.Now().UTC().Add(-time.Minute)
	feed := &fakeFeed{steps: []feedStep{{payload: envelope(101, 1000)}}}
	pipe, sender, st, hits := start(t, fixture{
		feed: feed,
		docs: map[int64]string{101: killDoc(101, 1000, 250e6, at)},
		set:  valueProfileSet(100e6, []int32{1000}),
	})

	waitFor(t, func() bool {
		done, err := st.IsProcessed(101)
		return err == nil && done
	}, "kill 101 to be processed")
	waitFor(t, func() bool { return sender.count() == 1 }, "notification delivery")

	n := sender.first()
	if n.KillID != 101 {
		t.Fatalf("notification kill = %d, want 101", n.KillID)
	}
	if n.Severity != models.SeverityWarning {
		t.Fatalf("severity = %s, want warning", n.Severity)
	}
	if n.Destination != "hook" {
		t.Fatalf("destination = %s, want hook", n.Destination)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("detail fetches = %d, want 1", got)
	}

	status := pipe.Status()
	if status.Poller.LastKillID != 101 {
		t.Fatalf("last kill id = %d, want 101", status.Poller.LastKillID)
	}
	if !status.Poller.Healthy {
		t.Fatalf("poller should be healthy")
	}
}

func TestPipelineDeduplicatesFeed(t *testing.T) {
	at := time.Now().UTC().Add(-time.Minute)
	feed := &fakeFeed{steps: []feedStep{
		{payload: envelope(102, 1000)},
		{payload: envelope(102, 1000)},
	}}
	pipe, _, st, hits := start(t, fixture{
		feed: feed,
		docs: map[int64]string{102: killDoc(102, 1000, 50e6, at)},
	})

	waitFor(t, func() bool {
		done, err := st.IsProcessed(102)
		return err == nil && done
	}, "kill 102 to be processed")
	waitFor(t, func() bool { return pipe.Status().Poller.Duplicates == 1 }, "duplicate to be counted")
	if got := hits.Load(); got != 1 {
		t.Fatalf("detail fetches = %d, want 1", got)
	}
}

func TestPipelineRateLimitIsNotFailure(t *testing.T) {
	feed := &fakeFeed{steps: []feedStep{
		{err: &input.RateLimitError{RetryAfter: 150 * time.Millisecond}},
	}}
	pipe, _, _, _ := start(t, fixture{feed: feed})

	waitFor(t, func() bool {
		return pipe.Status().Poller.RateLimited == 1 && len(feed.callTimes()) >= 2
	}, "poll after the rate limit wait")

	calls := feed.callTimes()
	if gap := calls[1].Sub(calls[0]); gap < 150*time.Millisecond {
		t.Fatalf("second poll after %s, want at least 150ms", gap)
	}
	st := pipe.Status().Poller
	if st.RecentFailures != 0 {
		t.Fatalf("rate limiting counted as failure: %d", st.RecentFailures)
	}
	if !st.Healthy {
		t.Fatalf("poller should stay healthy while rate limited")
	}
}

func TestPipelinePollErrorsTracked(t *testing.T) {
	feed := &fakeFeed{steps: []feedStep{{err: fmt.Errorf("connection reset")}}}
	pipe, _, _, _ := start(t, fixture{feed: feed})

	waitFor(t, func() bool { return pipe.Status().Poller.RecentFailures == 1 }, "poll failure to be recorded")
	if !pipe.Status().Poller.Healthy {
		t.Fatalf("one failure inside the window should not break health")
	}
}

func TestPipelineRequeuesUnprocessedStubs(t *testing.T) {
	at := time.Now().UTC().Add(-time.Minute)
	_, _, st, _ := start(t, fixture{
		feed: &fakeFeed{},
		docs: map[int64]string{201: killDoc(201, 1000, 10e6, at)},
		seed: func(t *testing.T, st *store.Store) {
			if _, err := st.InsertStubs([]*models.KillStub{{KillID: 201, Hash: "h201", SolarSystemID: 1000}}); err != nil {
				t.Fatalf("InsertStubs: %v", err)
			}
		},
	})

	waitFor(t, func() bool {
		done, err := st.IsProcessed(201)
		return err == nil && done
	}, "requeued stub to be enriched")
}

func TestPipelineDrainPersistsQueuedKills(t *testing.T) {
	at := time.Now().UTC().Add(-time.Minute)
	docs := map[int64]string{}
	var steps []feedStep
	for id := int64(301); id <= 303; id++ {
		docs[id] = killDoc(id, 1000, 10e6, at)
		steps = append(steps, feedStep{payload: envelope(id, 1000)})
	}
	feed := &fakeFeed{steps: steps}

	st, err := store.Open(filepath.Join(t.TempDir(), "kills.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	hits := &atomic.Int64{}
	srv := killServer(t, hits, docs)
	detail := esi.NewClient(esi.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})

	cache := threat.NewCache(threat.Config{})
	throttle := profile.NewThrottle(time.Minute)
	ev := profile.NewEvaluator(chainOracle{}, cache, throttle)
	disp := notify.NewDispatcher(notify.Config{
		QueueSize:    16,
		SendTimeout:  time.Second,
		DrainTimeout: 2 * time.Second,
	}, map[string]notify.Sender{"hook": &captureSender{}}, nil)

	// The flush timer never fires inside the test, so rows can only reach
	// the store through the shutdown drain.
	pipe := New(Config{
		QueueID:       "test",
		PollInterval:  5 * time.Millisecond,
		FlushInterval: time.Minute,
		DrainTimeout:  2 * time.Second,
		StaleAfter:    time.Minute,
	}, Deps{
		Source:     feed,
		Detail:     detail,
		Store:      st,
		Threat:     cache,
		Rules:      &rules.NoopEngine{},
		Presence:   presence.NewMemoryIndex(),
		Filter:     NewFilter(FilterConfig{}, nil, nil, ev),
		Evaluator:  ev,
		Throttle:   throttle,
		Dispatcher: disp,
	})

	ctx, cancel := context.WithCancel(context.Background())
	disp.Start(ctx)
	done := make(chan error, 1)
	go func() { done <- pipe.Run(ctx) }()

	waitFor(t, func() bool { return pipe.Status().Poller.LastKillID == 303 }, "feed to be consumed")
	if processed, err := st.IsProcessed(303); err != nil || processed {
		t.Fatalf("kill 303 persisted before shutdown (processed=%v, err=%v)", processed, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("pipeline did not stop")
	}
	disp.Close()

	for id := int64(301); id <= 303; id++ {
		processed, err := st.IsProcessed(id)
		if err != nil {
			t.Fatalf("IsProcessed(%d): %v", id, err)
		}
		if !processed {
			t.Fatalf("kill %d lost during drain", id)
		}
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("detail fetches = %d, want 3", got)
	}
}

func TestFilterAdmission(t *testing.T) {
	set := &profile.Set{
		Profiles: []*profile.Profile{{
			ID:      "home",
			Enabled: true,
			Scope:   profile.Scope{Systems: []int32{1000}, Radius: 1},
		}},
		Watch:    profile.WatchConfig{Corporations: []int64{98000001}}.Set(),
		LoadedAt: time.Now().UTC(),
	}
	ctx := context.Background()

	f := NewFilter(FilterConfig{Enabled: true}, nil, chainOracle{}, staticProfiles{set: set})
	if !f.Admit(ctx, &models.KillStub{KillID: 1, SolarSystemID: 1001, Hash: "h"}) {
		t.Fatalf("system inside scope radius should be admitted")
	}
	if f.Admit(ctx, &models.KillStub{KillID: 2, SolarSystemID: 1005, Hash: "h"}) {
		t.Fatalf("system far outside scope should be rejected")
	}
	if !f.Admit(ctx, &models.KillStub{KillID: 3, SolarSystemID: 1005, Hash: "h", VictimCorporationID: 98000001}) {
		t.Fatalf("watched victim hint should bypass scope")
	}

	wide := NewFilter(FilterConfig{Enabled: true, Radius: 4}, nil, chainOracle{}, staticProfiles{set: set})
	if !wide.Admit(ctx, &models.KillStub{KillID: 4, SolarSystemID: 1005, Hash: "h"}) {
		t.Fatalf("expanded radius should admit a system five jumps out")
	}

	routed := NewFilter(FilterConfig{Enabled: true}, nil, chainOracle{}, staticProfiles{set: set, interesting: map[int32]bool{7777: true}})
	if !routed.Admit(ctx, &models.KillStub{KillID: 7, SolarSystemID: 7777, Hash: "h"}) {
		t.Fatalf("interest-scored location should be admitted")
	}

	off := NewFilter(FilterConfig{}, nil, chainOracle{}, staticProfiles{set: set})
	if !off.Admit(ctx, &models.KillStub{KillID: 5, SolarSystemID: 9999, Hash: "h"}) {
		t.Fatalf("disabled filter admits everything")
	}

	empty := NewFilter(FilterConfig{Enabled: true}, nil, chainOracle{}, staticProfiles{})
	if !empty.Admit(ctx, &models.KillStub{KillID: 6, SolarSystemID: 9999, Hash: "h"}) {
		t.Fatalf("no profiles means nothing to scope against, admit")
	}
}

func TestFilterFailsOpen(t *testing.T) {
	set := &profile.Set{
		Profiles: []*profile.Profile{{
			ID:      "home",
			Enabled: true,
			Scope:   profile.Scope{Systems: []int32{1000}, Radius: 1},
		}},
		Watch:    models.NewWatchSet(),
		LoadedAt: time.Now().UTC(),
	}
	f := NewFilter(FilterConfig{Enabled: true}, nil, failOracle{}, staticProfiles{set: set})
	if !f.Admit(context.Background(), &models.KillStub{KillID: 1, SolarSystemID: 4242, Hash: "h"}) {
		t.Fatalf("oracle failure should admit the kill")
	}
}

func TestFilterPresenceAdmits(t *testing.T) {
	idx := presence.NewMemoryIndex()
	watch := profile.WatchConfig{Corporations: []int64{98000001}}.Set()
	kill := &models.ProcessedKill{
		KillID:               7,
		SolarSystemID:        2000,
		Time:                 time.Now().UTC(),
		AttackerCorporations: []int64{98000001},
	}
	if err := idx.Record([]*models.ProcessedKill{kill}, watch); err != nil {
		t.Fatalf("Record: %v", err)
	}

	set := &profile.Set{
		Profiles: []*profile.Profile{{
			ID:      "home",
			Enabled: true,
			Scope:   profile.Scope{Systems: []int32{1000}},
		}},
		Watch:    watch,
		LoadedAt: time.Now().UTC(),
	}
	f := NewFilter(FilterConfig{Enabled: true, PresenceWindow: time.Hour}, idx, chainOracle{}, staticProfiles{set: set})
	if !f.Admit(context.Background(), &models.KillStub{KillID: 8, SolarSystemID: 2000, Hash: "h"}) {
		t.Fatalf("recent watched sighting should admit kills in that system")
	}
}

func TestRecentRingEvicts(t *testing.T) {
	r := newRecentRing(2)
	r.Add(1)
	r.Add(2)
	if !r.Seen(1) || !r.Seen(2) {
		t.Fatalf("fresh ids should be present")
	}
	r.Add(3)
	if r.Seen(1) {
		t.Fatalf("oldest id should be evicted")
	}
	if !r.Seen(2) || !r.Seen(3) {
		t.Fatalf("recent ids should survive eviction")
	}
}
