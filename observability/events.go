package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"isolend/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "isolend",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed ledger events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// EventRecorder is an events.Emitter that counts committed events.
type EventRecorder struct{}

// Emit implements events.Emitter.
func (EventRecorder) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	eventType := evt.EventType()
	Events().RecordEvent(eventType)
	if eventType == events.TypeLendingAuctionOpened {
		Lending().RecordAuctionOpened()
	}
}
