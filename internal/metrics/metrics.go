package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics
var (
	PollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "killwatch", Name: "polls_total", Help: "Total feed poll attempts."},
	)
	PollErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "killwatch", Name: "poll_errors_total", Help: "Feed poll attempts that failed."},
	)
	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "killwatch", Name: "rate_limited_total", Help: "Feed polls answered with a rate limit."},
	)
	KillsReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "killwatch", Name: "kills_received_total", Help: "Kill stubs accepted from the feed."},
	)
	KillsEnrichedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "killwatch", Name: "kills_enriched_total", Help: "Kills fully enriched via the detail fetch."},
	)
	KillsWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "killwatch", Name: "kills_written_total", Help: "Kill rows persisted to the store."},
	)
	KillsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "killwatch", Name: "kills_dropped_total", Help: "Kills dropped on queue overflow."},
		[]string{"queue"},
	)
	FetchFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "killwatch", Name: "fetch_failures_total", Help: "Detail fetches that gave up."},
	)
	IngestQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "killwatch", Name: "ingest_queue_depth", Help: "Stubs waiting for the writer loop."},
	)
	FetchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "killwatch", Name: "fetch_queue_depth", Help: "Stubs waiting for a fetch worker."},
	)
	DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "killwatch", Name: "detections_total", Help: "Gatecamp detections emitted by confidence."},
		[]string{"confidence"},
	)
	RuleMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "killwatch", Name: "rule_matches_total", Help: "Custom rule matches during enrichment."},
		[]string{"rule"},
	)
	NotificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "killwatch", Name: "notifications_sent_total", Help: "Notifications delivered per destination."},
		[]string{"destination"},
	)
	NotificationsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "killwatch", Name: "notifications_failed_total", Help: "Notifications dropped after delivery retries."},
		[]string{"destination"},
	)
)

func init() {
	_ = prometheus.Register(PollsTotal)
	_ = prometheus.Register(PollErrorsTotal)
	_ = prometheus.Register(RateLimitedTotal)
	_ = prometheus.Register(KillsReceivedTotal)
	_ = prometheus.Register(KillsEnrichedTotal)
	_ = prometheus.Register(KillsWrittenTotal)
	_ = prometheus.Register(KillsDroppedTotal)
	_ = prometheus.Register(FetchFailuresTotal)
	_ = prometheus.Register(IngestQueueDepth)
	_ = prometheus.Register(FetchQueueDepth)
	_ = prometheus.Register(DetectionsTotal)
	_ = prometheus.Register(RuleMatchesTotal)
	_ = prometheus.Register(NotificationsSentTotal)
	_ = prometheus.Register(NotificationsFailedTotal)
}
