package stream

import (
	"fmt"
	"sort"

	"github.com/dropDatabas3/streamhub/internal/transport"
)

// ClientStreamConsumer recibe los payloads empujados al stream.
// Un error (o un panic) se reporta al miembro que empujó el payload.
type ClientStreamConsumer func(payload []byte) error

// ServerStream es el stream físico compartido por uno o más ClientStream.
type ServerStream[M Metadata] struct {
	id        ServerStreamID
	key       AggregationKey[M]
	connected map[transport.MemberID]struct{}
	clients   map[ClientStreamID]struct{}
}

func newServerStream[M Metadata](id ServerStreamID, key AggregationKey[M]) *ServerStream[M] {
	return &ServerStream[M]{
		id:        id,
		key:       key,
		connected: make(map[transport.MemberID]struct{}),
		clients:   make(map[ClientStreamID]struct{}),
	}
}

func (s *ServerStream[M]) ID() ServerStreamID     { return s.id }
func (s *ServerStream[M]) Key() AggregationKey[M] { return s.key }
func (s *ServerStream[M]) Metadata() M            { return s.key.Metadata }
func (s *ServerStream[M]) StreamType() []byte     { return []byte(s.key.StreamType) }
func (s *ServerStream[M]) ClientCount() int       { return len(s.clients) }

func (s *ServerStream[M]) String() string {
	return fmt.Sprintf("ServerStream{id=%s, type=%q}", s.id, s.key.StreamType)
}

// IsConnected indica si member confirmó la apertura de este stream.
func (s *ServerStream[M]) IsConnected(member transport.MemberID) bool {
	_, ok := s.connected[member]
	return ok
}

// ConnectedMembers devuelve los miembros conectados, ordenados.
func (s *ServerStream[M]) ConnectedMembers() []transport.MemberID {
	out := make([]transport.MemberID, 0, len(s.connected))
	for m := range s.connected {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClientStreamIDs devuelve las suscripciones montadas sobre este stream.
func (s *ServerStream[M]) ClientStreamIDs() []ClientStreamID {
	out := make([]ClientStreamID, 0, len(s.clients))
	for id := range s.clients {
		out = append(out, id)
	}
	return out
}

func (s *ServerStream[M]) connect(member transport.MemberID) {
	s.connected[member] = struct{}{}
}

func (s *ServerStream[M]) disconnect(member transport.MemberID) bool {
	if _, ok := s.connected[member]; !ok {
		return false
	}
	delete(s.connected, member)
	return true
}

// ClientStream es una suscripción lógica.
type ClientStream[M Metadata] struct {
	id           ClientStreamID
	consumer     ClientStreamConsumer
	serverStream *ServerStream[M]
}

func (c *ClientStream[M]) ID() ClientStreamID             { return c.id }
func (c *ClientStream[M]) ServerStream() *ServerStream[M] { return c.serverStream }

// push invoca el consumer conteniendo un eventual panic.
func (c *ClientStream[M]) push(payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer panic: %v", r)
		}
	}()
	return c.consumer(payload)
}
