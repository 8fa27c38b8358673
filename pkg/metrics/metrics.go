package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Chain heights and adapter transport failures
	ChainHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xswap_chain_height",
			Help: "Last observed block height per chain",
		},
		[]string{"chain"},
	)

	ChainRPCErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xswap_chain_rpc_errors_total",
			Help: "Total number of chain RPC failures",
		},
		[]string{"chain", "op"},
	)

	// Relay and transaction lifecycle
	RelayMessageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xswap_relay_message_transitions_total",
			Help: "Total number of relay message status transitions",
		},
		[]string{"status"},
	)

	Transactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xswap_transactions_total",
			Help: "Total number of transactions by status",
		},
		[]string{"status"},
	)

	IntentOrders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xswap_intent_orders_total",
			Help: "Total number of intent orders by status",
		},
		[]string{"status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xswap_job_duration_seconds",
			Help:    "Background job run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)
