package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine outcome metrics, exported on the default registry and served by
// the API's /metrics endpoint.
var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Operations applied by the transfer engine, by kind and outcome",
	}, []string{"kind", "outcome"})

	contentionRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_contention_retries_total",
		Help: "Internal retries caused by account version conflicts",
	}, []string{"kind"})
)

const (
	outcomeCompleted  = "completed"
	outcomeRejected   = "rejected"
	outcomeReplayed   = "replayed"
	outcomeInvalid    = "invalid"
	outcomeContention = "contention"
	outcomeError      = "error"
)

func observeOperation(kind OperationKind, outcome string) {
	operationsTotal.WithLabelValues(string(kind), outcome).Inc()
}

func observeContentionRetry(kind OperationKind) {
	contentionRetries.WithLabelValues(string(kind)).Inc()
}
