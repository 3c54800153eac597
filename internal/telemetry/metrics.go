package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ledgerflow"

var (
	Records = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "records_total",
		Help:      "Records seen by batch handlers, by outcome (decoded, dropped).",
	}, []string{"topic", "outcome"})

	OffsetsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "offsets_resolved_total",
		Help:      "Offsets resolved after their side effect was decided.",
	}, []string{"topic"})

	BatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "duration_seconds",
		Help:      "Wall time spent handling one partition batch.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"topic", "result"})

	RPCPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "pending_requests",
		Help:      "Requests waiting for a reply.",
	}, []string{"rpc"})

	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "Finished rpc requests by outcome.",
	}, []string{"rpc", "outcome"})

	RPCReinits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "reinit_total",
		Help:      "Client re-initialisations after a consumer crash.",
	}, []string{"rpc"})

	ConsumerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "runner",
		Name:      "consumer_restarts_total",
		Help:      "Consumers rebuilt after Run failed.",
	}, []string{"group"})

	LedgerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "failures_total",
		Help:      "Per-index ledger admission failures.",
	}, []string{"op", "kind"})

	SagaTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "saga",
		Name:      "transitions_total",
		Help:      "Saga state changes announced on the log.",
	}, []string{"entity", "status"})
)
