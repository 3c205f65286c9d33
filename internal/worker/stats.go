package worker

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// RetrievalStats is a snapshot of the worker's serving counters.
type RetrievalStats struct {
	TotalRequests       int64 `json:"total_requests"`
	SearchRequests      int64 `json:"search_requests"`
	ContextRequests     int64 `json:"context_requests"`
	ObservationsServed  int64 `json:"observations_served"`
	ObservationsStored  int64 `json:"observations_stored"`
	ContextTokensServed int64 `json:"context_tokens_served"`
}

// statsRecorder keeps atomic counters for the stats endpoint and
// mirrors them to OpenTelemetry instruments. Without a configured
// meter provider the instruments are no-ops.
type statsRecorder struct {
	totalRequests       atomic.Int64
	searchRequests      atomic.Int64
	contextRequests     atomic.Int64
	observationsServed  atomic.Int64
	observationsStored  atomic.Int64
	contextTokensServed atomic.Int64

	observationsStoredCtr metric.Int64Counter
	searchesServedCtr     metric.Int64Counter
	contextInjectionsCtr  metric.Int64Counter
	observationsServedCtr metric.Int64Counter
}

func newStatsRecorder() *statsRecorder {
	meter := otel.Meter("claude-memory/worker")
	return &statsRecorder{
		observationsStoredCtr: int64Counter(meter, "claude_memory.observations.stored", "Observations written to the store"),
		searchesServedCtr:     int64Counter(meter, "claude_memory.searches.served", "Search requests served"),
		contextInjectionsCtr:  int64Counter(meter, "claude_memory.context.injections", "Context digests injected into sessions"),
		observationsServedCtr: int64Counter(meter, "claude_memory.observations.served", "Observations returned to callers"),
	}
}

func int64Counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	ctr, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Metric registration failed")
		ctr, _ = noop.Meter{}.Int64Counter(name)
	}
	return ctr
}

// RecordRequest counts one API request.
func (s *statsRecorder) RecordRequest() {
	s.totalRequests.Add(1)
}

// RecordSearch counts one search request.
func (s *statsRecorder) RecordSearch(ctx context.Context) {
	s.searchRequests.Add(1)
	s.searchesServedCtr.Add(ctx, 1)
}

// RecordContextInjection counts one digest build and the tokens it served.
func (s *statsRecorder) RecordContextInjection(ctx context.Context, tokens int) {
	s.contextRequests.Add(1)
	s.contextTokensServed.Add(int64(tokens))
	s.contextInjectionsCtr.Add(ctx, 1)
}

// RecordObservationsServed counts observations returned to a caller.
func (s *statsRecorder) RecordObservationsServed(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	s.observationsServed.Add(int64(n))
	s.observationsServedCtr.Add(ctx, int64(n))
}

// RecordObservationStored counts one observation written to the store.
func (s *statsRecorder) RecordObservationStored(ctx context.Context) {
	s.observationsStored.Add(1)
	s.observationsStoredCtr.Add(ctx, 1)
}

// Snapshot returns the current counter values.
func (s *statsRecorder) Snapshot() RetrievalStats {
	return RetrievalStats{
		TotalRequests:       s.totalRequests.Load(),
		SearchRequests:      s.searchRequests.Load(),
		ContextRequests:     s.contextRequests.Load(),
		ObservationsServed:  s.observationsServed.Load(),
		ObservationsStored:  s.observationsStored.Load(),
		ContextTokensServed: s.contextTokensServed.Load(),
	}
}
