// Package metrics exposes Prometheus counters for chain operations and cross-chain transfers.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sigweihq/simchain/pkg/chains"
)

const namespace = "simchain"

// Result labels
const (
	ResultOK = "ok"

	CompensationRefunded = "refunded"
	CompensationFailed   = "failed"
)

// Metrics holds the registered collectors
type Metrics struct {
	operations       *prometheus.CounterVec
	transfers        *prometheus.CounterVec
	compensations    *prometheus.CounterVec
	transferDuration prometheus.Histogram
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Single-chain operations by chain, operation and result.",
		}, []string{"chain", "op", "result"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Cross-chain transfers by terminal status.",
		}, []string{"status"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Refund attempts after a failed transfer step by outcome.",
		}, []string{"outcome"}),
		transferDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Wall time of cross-chain transfers.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}

	for _, c := range []prometheus.Collector{m.operations, m.transfers, m.compensations, m.transferDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// ObserveOperation counts one single-chain operation
func (m *Metrics) ObserveOperation(chain, op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(chain, op, ResultLabel(err)).Inc()
}

// ObserveTransfer counts a finished transfer and records its duration
func (m *Metrics) ObserveTransfer(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(status).Inc()
	m.transferDuration.Observe(elapsed.Seconds())
}

// ObserveCompensation counts a refund attempt
func (m *Metrics) ObserveCompensation(refundErr error) {
	if m == nil {
		return
	}
	outcome := CompensationRefunded
	if refundErr != nil {
		outcome = CompensationFailed
	}
	m.compensations.WithLabelValues(outcome).Inc()
}

// ResultLabel maps an error to a low-cardinality label value
func ResultLabel(err error) string {
	if err == nil {
		return ResultOK
	}
	switch kind := chains.KindOf(err); {
	case kind == nil:
		return "error"
	case errors.Is(kind, chains.ErrValidation):
		return "validation"
	case errors.Is(kind, chains.ErrInvalidPin):
		return "invalid_pin"
	case errors.Is(kind, chains.ErrUnsupportedChain):
		return "unsupported_chain"
	case errors.Is(kind, chains.ErrWalletNotFound):
		return "wallet_not_found"
	case errors.Is(kind, chains.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(kind, chains.ErrNetwork):
		return "network"
	case errors.Is(kind, chains.ErrBridgeMessage):
		return "bridge_message"
	case errors.Is(kind, chains.ErrCompensationFailure):
		return "compensation_failure"
	case errors.Is(kind, chains.ErrConfigNotInitialized):
		return "config_not_initialized"
	default:
		return "error"
	}
}
