package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Resultados usados como label "result".
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultNoStream  = "no_such_stream"
	ResultStale     = "stale"
	ResultCancelled = "cancelled"
)

var (
	ServerStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamhub_server_streams",
		Help: "Streams físicos registrados en el cliente",
	})

	ClientStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamhub_client_streams",
		Help: "Suscripciones lógicas registradas en el cliente",
	})

	OpenStreamAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamhub_open_stream_attempts_total",
		Help: "Intentos de abrir un stream físico en un miembro, por resultado",
	}, []string{"result"})

	PushesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamhub_pushes_received_total",
		Help: "Payloads recibidos para streams locales, por resultado",
	}, []string{"result"})

	ConsumerFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamhub_consumer_failures_total",
		Help: "Consumers que fallaron (error o panic) al recibir un payload",
	})

	RemoteStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamhub_remote_streams",
		Help: "Streams de clientes remotos registrados en este miembro",
	})

	PushesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamhub_pushes_sent_total",
		Help: "Payloads enviados a clientes remotos, por resultado",
	}, []string{"result"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RaftLeadershipChanges,
		RaftMembershipEvents,
		RaftApplyLatency,
		RaftLogSizeBytes,
		ServerStreams,
		ClientStreams,
		OpenStreamAttempts,
		PushesReceived,
		ConsumerFailures,
		RemoteStreams,
		PushesSent,
	}
}

// Register registra todas las métricas en reg (o el default si es nil).
// Es idempotente: ignora AlreadyRegisteredError.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
