package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type HubMetrics struct {
	messageMerges    *prometheus.CounterVec
	messagePrunes    *prometheus.CounterVec
	messageRevokes   *prometheus.CounterVec
	onChainEvents    *prometheus.CounterVec
	validationErrors *prometheus.CounterVec
	mergeLatency     prometheus.Histogram
	syncTrieSize     prometheus.Gauge
	revokeJobDepth   prometheus.Gauge
}

var (
	hubOnce     sync.Once
	hubRegistry *HubMetrics
)

func Hub() *HubMetrics {
	hubOnce.Do(func() {
		hubRegistry = &HubMetrics{
			messageMerges: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "hub_message_merges_total",
				Help: "Count of merge attempts by message type and outcome.",
			}, []string{"type", "outcome"}),
			messagePrunes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "hub_message_prunes_total",
				Help: "Count of quota-pruned messages by type.",
			}, []string{"type"}),
			messageRevokes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "hub_message_revokes_total",
				Help: "Count of revoked messages by type.",
			}, []string{"type"}),
			onChainEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "hub_onchain_events_total",
				Help: "Count of merged on-chain events by type.",
			}, []string{"type"}),
			validationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "hub_validation_failures_total",
				Help: "Count of message validation failures by message type.",
			}, []string{"type"}),
			mergeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "hub_merge_latency_seconds",
				Help:    "End-to-end merge latency including validation and commit.",
				Buckets: prometheus.DefBuckets,
			}),
			syncTrieSize: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "hub_sync_trie_messages",
				Help: "Number of sync ids currently held by the sync trie.",
			}),
			revokeJobDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "hub_revoke_queue_depth",
				Help: "Number of revoke-by-signer jobs waiting in the queue.",
			}),
		}
		prometheus.MustRegister(
			hubRegistry.messageMerges,
			hubRegistry.messagePrunes,
			hubRegistry.messageRevokes,
			hubRegistry.onChainEvents,
			hubRegistry.validationErrors,
			hubRegistry.mergeLatency,
			hubRegistry.syncTrieSize,
			hubRegistry.revokeJobDepth,
		)
	})
	return hubRegistry
}

func (m *HubMetrics) ObserveMerge(msgType, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.messageMerges.WithLabelValues(msgType, outcome).Inc()
	m.mergeLatency.Observe(seconds)
}

func (m *HubMetrics) ObservePrune(msgType string) {
	if m == nil {
		return
	}
	m.messagePrunes.WithLabelValues(msgType).Inc()
}

func (m *HubMetrics) ObserveRevoke(msgType string) {
	if m == nil {
		return
	}
	m.messageRevokes.WithLabelValues(msgType).Inc()
}

func (m *HubMetrics) ObserveOnChainEvent(eventType string) {
	if m == nil {
		return
	}
	m.onChainEvents.WithLabelValues(eventType).Inc()
}

func (m *HubMetrics) ObserveValidationFailure(msgType string) {
	if m == nil {
		return
	}
	m.validationErrors.WithLabelValues(msgType).Inc()
}

func (m *HubMetrics) SetSyncTrieSize(count uint64) {
	if m == nil {
		return
	}
	m.syncTrieSize.Set(float64(count))
}

func (m *HubMetrics) SetRevokeQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.revokeJobDepth.Set(float64(depth))
}
