// Package messages define los requests que intercambian clientes y miembros
// para abrir, cerrar y alimentar streams. Codec JSON, igual que las mutaciones de cluster.
package messages

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Topics de transporte.
const (
	TopicAdd       = "stream-add"
	TopicRemove    = "stream-remove"
	TopicRemoveAll = "stream-remove-all"
	TopicPush      = "stream-push"
)

var errMissingStreamID = errors.New("missing stream id")

// AddStreamRequest pide a un miembro que registre el stream físico del cliente.
type AddStreamRequest struct {
	StreamID   uuid.UUID `json:"streamId"`
	StreamType []byte    `json:"streamType"`
	Metadata   []byte    `json:"metadata,omitempty"`
}

func (r AddStreamRequest) Validate() error {
	if r.StreamID == uuid.Nil {
		return errMissingStreamID
	}
	if len(r.StreamType) == 0 {
		return errors.New("missing stream type")
	}
	return nil
}

// RemoveStreamRequest pide a un miembro que olvide un stream físico.
type RemoveStreamRequest struct {
	StreamID uuid.UUID `json:"streamId"`
}

func (r RemoveStreamRequest) Validate() error {
	if r.StreamID == uuid.Nil {
		return errMissingStreamID
	}
	return nil
}

// PushStreamRequest lleva un payload hacia el stream físico del cliente.
type PushStreamRequest struct {
	StreamID uuid.UUID `json:"streamId"`
	Payload  []byte    `json:"payload"`
}

func (r PushStreamRequest) Validate() error {
	if r.StreamID == uuid.Nil {
		return errMissingStreamID
	}
	return nil
}

type validator interface {
	Validate() error
}

// Encode serializa un request.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}

// Decode deserializa y valida un request.
func Decode[T validator](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	if err := v.Validate(); err != nil {
		return v, fmt.Errorf("invalid %T: %w", v, err)
	}
	return v, nil
}
