package stream

import (
	"encoding"
)

// Metadata es el valor que el suscriptor asocia al stream. El core solo lo usa
// para comparar (agregación) y para serializarlo hacia los miembros.
type Metadata interface {
	comparable
	encoding.BinaryMarshaler
}

// BytesMetadata es una Metadata que ya viene serializada.
type BytesMetadata string

func (b BytesMetadata) MarshalBinary() ([]byte, error) { return []byte(b), nil }

// AggregationKey determina qué suscripciones comparten stream físico.
// StreamType se guarda como string para que la key sea comparable.
type AggregationKey[M Metadata] struct {
	StreamType string
	Metadata   M
}

// NewAggregationKey copia streamType; el caller puede reutilizar su buffer.
func NewAggregationKey[M Metadata](streamType []byte, metadata M) AggregationKey[M] {
	return AggregationKey[M]{StreamType: string(streamType), Metadata: metadata}
}
