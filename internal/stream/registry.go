package stream

import (
	"github.com/google/uuid"
)

// ClientStreamRegistry indexa suscripciones y streams físicos.
// Estructura pura en memoria: sin I/O y sin locks (ver doc del paquete).
type ClientStreamRegistry[M Metadata] struct {
	clients map[ClientStreamID]*ClientStream[M]
	byKey   map[AggregationKey[M]]*ServerStream[M]
	byID    map[ServerStreamID]*ServerStream[M]
	newUUID func() uuid.UUID
}

// NewClientStreamRegistry crea un registry vacío.
func NewClientStreamRegistry[M Metadata]() *ClientStreamRegistry[M] {
	return &ClientStreamRegistry[M]{
		clients: make(map[ClientStreamID]*ClientStream[M]),
		byKey:   make(map[AggregationKey[M]]*ServerStream[M]),
		byID:    make(map[ServerStreamID]*ServerStream[M]),
		newUUID: uuid.New,
	}
}

// AddClient registra una suscripción. Si ya existe un stream físico con la
// misma key la suscripción se monta sobre él; si no, se crea uno nuevo sin
// miembros conectados y created es true.
func (r *ClientStreamRegistry[M]) AddClient(streamType []byte, metadata M, consumer ClientStreamConsumer) (client *ClientStream[M], created bool) {
	key := NewAggregationKey(streamType, metadata)
	server, ok := r.byKey[key]
	if !ok {
		server = newServerStream(r.mintServerID(), key)
		r.byKey[key] = server
		r.byID[server.id] = server
		created = true
	}

	client = &ClientStream[M]{id: r.mintClientID(), consumer: consumer, serverStream: server}
	r.clients[client.id] = client
	server.clients[client.id] = struct{}{}
	return client, created
}

// RemoveClient desregistra la suscripción. Si era la última de su stream
// físico, el stream también se elimina y removed es true.
// server es nil si id no estaba registrado.
func (r *ClientStreamRegistry[M]) RemoveClient(id ClientStreamID) (server *ServerStream[M], removed bool) {
	client, ok := r.clients[id]
	if !ok {
		return nil, false
	}
	delete(r.clients, id)

	server = client.serverStream
	delete(server.clients, id)
	if len(server.clients) > 0 {
		return server, false
	}
	delete(r.byKey, server.key)
	delete(r.byID, server.id)
	return server, true
}

// GetClient busca una suscripción por id.
func (r *ClientStreamRegistry[M]) GetClient(id ClientStreamID) (*ClientStream[M], bool) {
	c, ok := r.clients[id]
	return c, ok
}

// Get busca un stream físico por id.
func (r *ClientStreamRegistry[M]) Get(id ServerStreamID) (*ServerStream[M], bool) {
	s, ok := r.byID[id]
	return s, ok
}

// ServerStreams devuelve todos los streams físicos registrados.
func (r *ClientStreamRegistry[M]) ServerStreams() []*ServerStream[M] {
	out := make([]*ServerStream[M], 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// ClientsOf devuelve las suscripciones de un stream físico.
func (r *ClientStreamRegistry[M]) ClientsOf(server *ServerStream[M]) []*ClientStream[M] {
	out := make([]*ClientStream[M], 0, len(server.clients))
	for id := range server.clients {
		if c, ok := r.clients[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *ClientStreamRegistry[M]) ClientCount() int { return len(r.clients) }
func (r *ClientStreamRegistry[M]) ServerCount() int { return len(r.byID) }

// mintServerID genera ids hasta encontrar uno libre; un id nunca se reutiliza
// mientras su stream esté registrado.
func (r *ClientStreamRegistry[M]) mintServerID() ServerStreamID {
	for {
		id := ServerStreamID(r.newUUID())
		if _, taken := r.byID[id]; !taken {
			return id
		}
	}
}

func (r *ClientStreamRegistry[M]) mintClientID() ClientStreamID {
	for {
		id := ClientStreamID(r.newUUID())
		if _, taken := r.clients[id]; !taken {
			return id
		}
	}
}
