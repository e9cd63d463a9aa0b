package stream

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/dropDatabas3/streamhub/internal/concurrency"
	"github.com/dropDatabas3/streamhub/internal/metrics"
	"github.com/dropDatabas3/streamhub/internal/observability/logger"
	"github.com/dropDatabas3/streamhub/internal/stream/messages"
	"github.com/dropDatabas3/streamhub/internal/transport"
)

// ClientStreamManager orquesta registry, membership y requests de red.
// No es thread-safe: todas las llamadas deben correr en el mismo
// concurrency.Control que usa su RequestManager.
type ClientStreamManager[M Metadata] struct {
	registry *ClientStreamRegistry[M]
	requests RequestManager[M]
	members  map[transport.MemberID]struct{}
	log      *zap.Logger
}

// NewClientStreamManager crea el manager. log es opcional.
func NewClientStreamManager[M Metadata](registry *ClientStreamRegistry[M], requests RequestManager[M], log *zap.Logger) *ClientStreamManager[M] {
	if log == nil {
		log = logger.Named("stream.manager")
	}
	return &ClientStreamManager[M]{
		registry: registry,
		requests: requests,
		members:  make(map[transport.MemberID]struct{}),
		log:      log,
	}
}

// Add registra una suscripción. Solo si se creó un stream físico nuevo se abre
// contra los miembros conocidos; si no, la suscripción viaja sobre el existente.
func (m *ClientStreamManager[M]) Add(streamType []byte, metadata M, consumer ClientStreamConsumer) ClientStreamID {
	client, created := m.registry.AddClient(streamType, metadata, consumer)
	metrics.ClientStreams.Inc()

	server := client.ServerStream()
	if created {
		metrics.ServerStreams.Inc()
		m.log.Debug("server stream created",
			logger.ServerStreamID(server.ID().String()), logger.StreamType(streamType), logger.Count(len(m.members)))
		m.requests.OpenStream(server, m.Members(), m.openHandler(server))
	}
	return client.ID()
}

// Remove desregistra la suscripción. Ids desconocidos se ignoran.
func (m *ClientStreamManager[M]) Remove(id ClientStreamID) {
	server, removed := m.registry.RemoveClient(id)
	if server == nil {
		return
	}
	metrics.ClientStreams.Dec()
	if !removed {
		return
	}
	metrics.ServerStreams.Dec()
	m.log.Debug("server stream removed", logger.ServerStreamID(server.ID().String()))
	m.requests.RemoveStream(server, server.ConnectedMembers())
}

// OnServerJoined agrega member a la membership y extiende todos los streams
// existentes hacia él. Un join duplicado no abre conexiones nuevas.
func (m *ClientStreamManager[M]) OnServerJoined(member transport.MemberID) {
	if _, known := m.members[member]; known {
		return
	}
	m.members[member] = struct{}{}

	servers := m.registry.ServerStreams()
	m.log.Info("member joined", logger.Member(string(member)), logger.Count(len(servers)))
	for _, server := range servers {
		m.requests.OpenStream(server, []transport.MemberID{member}, m.openHandler(server))
	}
}

// OnServerRemoved saca member de la membership y de todos los streams.
// Es bookkeeping local: el miembro ya no está, no hay nada que avisarle.
func (m *ClientStreamManager[M]) OnServerRemoved(member transport.MemberID) {
	if _, known := m.members[member]; !known {
		return
	}
	delete(m.members, member)

	disconnected := 0
	for _, server := range m.registry.ServerStreams() {
		if server.disconnect(member) {
			disconnected++
		}
	}
	m.log.Info("member removed", logger.Member(string(member)), logger.Count(disconnected))
}

// OnPayloadReceived reparte el payload a todos los consumers del stream físico.
// result falla con ErrNoSuchStream si el stream no existe, o con el
// *ConsumerError del primer consumer que falló (los demás igual reciben el payload).
func (m *ClientStreamManager[M]) OnPayloadReceived(req messages.PushStreamRequest, result *concurrency.Future[struct{}]) {
	id := ServerStreamID(req.StreamID)
	server, ok := m.registry.Get(id)
	if !ok {
		metrics.PushesReceived.WithLabelValues(metrics.ResultNoStream).Inc()
		result.Fail(fmt.Errorf("%w: %s", ErrNoSuchStream, id))
		return
	}

	var errs []error
	for _, client := range m.registry.ClientsOf(server) {
		if err := client.push(req.Payload); err != nil {
			metrics.ConsumerFailures.Inc()
			m.log.Warn("consumer failed",
				logger.ClientStreamID(client.ID().String()), logger.ServerStreamID(id.String()), logger.Err(err))
			errs = append(errs, &ConsumerError{ClientStreamID: client.ID(), Err: err})
		}
	}
	if len(errs) > 0 {
		metrics.PushesReceived.WithLabelValues(metrics.ResultError).Inc()
		result.Fail(errs[0])
		if len(errs) > 1 {
			m.log.Debug("multiple consumers failed", logger.Count(len(errs)), logger.Err(errors.Join(errs...)))
		}
		return
	}
	metrics.PushesReceived.WithLabelValues(metrics.ResultOK).Inc()
	result.Complete(struct{}{}, nil)
}

// Members devuelve la membership conocida, ordenada.
func (m *ClientStreamManager[M]) Members() []transport.MemberID {
	out := make([]transport.MemberID, 0, len(m.members))
	for member := range m.members {
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close avisa a todos los miembros que olviden los streams de este cliente.
func (m *ClientStreamManager[M]) Close() []*concurrency.Future[[]byte] {
	return m.requests.RemoveAll(m.Members())
}

// openHandler marca al miembro como conectado cuando la apertura tiene éxito.
// Resultados viejos (miembro que ya salió o stream ya eliminado) se descartan.
func (m *ClientStreamManager[M]) openHandler(server *ServerStream[M]) OpenHandler {
	relevant := func(member transport.MemberID) (known, alive bool) {
		_, known = m.members[member]
		current, ok := m.registry.Get(server.ID())
		return known, ok && current == server
	}
	return OpenHandler{
		Wanted: func(member transport.MemberID) bool {
			known, alive := relevant(member)
			return known && alive
		},
		Result: func(member transport.MemberID, err error) {
			known, alive := relevant(member)
			switch {
			case !known || !alive:
				metrics.OpenStreamAttempts.WithLabelValues(metrics.ResultStale).Inc()
				if err == nil && known {
					// el miembro abrió un stream que ya no existe localmente
					m.requests.RemoveStream(server, []transport.MemberID{member})
				}
			case err != nil:
				metrics.OpenStreamAttempts.WithLabelValues(metrics.ResultError).Inc()
				m.log.Warn("open stream failed",
					logger.ServerStreamID(server.ID().String()), logger.Member(string(member)), logger.Err(err))
			default:
				metrics.OpenStreamAttempts.WithLabelValues(metrics.ResultOK).Inc()
				server.connect(member)
			}
		},
	}
}
