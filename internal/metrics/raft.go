package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Raft-related Prometheus metrics. Viven en un paquete aparte para evitar
// ciclos de import entre cluster, stream y httpserver.

var (
	RaftLeadershipChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamhub_raft_leadership_changes_total",
		Help: "Cambios de rol a leader",
	})

	RaftMembershipEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamhub_raft_membership_events_total",
		Help: "Eventos de membership observados (joined|removed)",
	}, []string{"event"})

	RaftApplyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamhub_raft_apply_latency_ms",
		Help:    "Latencia de Apply en Raft (ms)",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	RaftLogSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamhub_raft_log_size_bytes",
		Help: "Tamaño en bytes del archivo de log/stable (BoltDB)",
	})
)
