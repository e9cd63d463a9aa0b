package stream

import (
	"github.com/google/uuid"
)

// ServerStreamID identifica un stream físico. Nunca se reutiliza.
type ServerStreamID uuid.UUID

func (id ServerStreamID) String() string { return uuid.UUID(id).String() }

// UUID devuelve el valor para el wire.
func (id ServerStreamID) UUID() uuid.UUID { return uuid.UUID(id) }

// ClientStreamID identifica una suscripción lógica; namespace distinto de ServerStreamID.
type ClientStreamID uuid.UUID

func (id ClientStreamID) String() string { return uuid.UUID(id).String() }

// ParseClientStreamID parsea la forma textual de un ClientStreamID.
func ParseClientStreamID(s string) (ClientStreamID, error) {
	u, err := uuid.Parse(s)
	return ClientStreamID(u), err
}

// ParseServerStreamID parsea la forma textual de un ServerStreamID.
func ParseServerStreamID(s string) (ServerStreamID, error) {
	u, err := uuid.Parse(s)
	return ServerStreamID(u), err
}
