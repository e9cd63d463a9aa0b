package stream

import (
	"errors"
	"fmt"

	"github.com/dropDatabas3/streamhub/internal/transport"
)

// Códigos de error que viajan al miembro que empujó el payload.
const (
	CodeNoSuchStream   = "no_such_stream"
	CodeConsumerFailed = "consumer_failed"
)

type codedError struct {
	code string
	msg  string
}

func (e *codedError) Error() string     { return e.msg }
func (e *codedError) ErrorCode() string { return e.code }

var (
	// ErrNoSuchStream: el push referencia un ServerStreamID desconocido.
	// Es normal en carreras entre un push remoto y un remove local.
	ErrNoSuchStream error = &codedError{code: CodeNoSuchStream, msg: "no such stream"}

	// ErrServiceClosed: el servicio ya no acepta operaciones.
	ErrServiceClosed = errors.New("client stream service closed")
)

// IsNoSuchStream reconoce ErrNoSuchStream tanto local como reconstruido desde la red.
func IsNoSuchStream(err error) bool {
	return errors.Is(err, ErrNoSuchStream) || transport.HasCode(err, CodeNoSuchStream)
}

// ConsumerError envuelve el fallo de un consumer al recibir un payload.
type ConsumerError struct {
	ClientStreamID ClientStreamID
	Err            error
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("client stream %s: consumer failed: %v", e.ClientStreamID, e.Err)
}

func (e *ConsumerError) Unwrap() error     { return e.Err }
func (e *ConsumerError) ErrorCode() string { return CodeConsumerFailed }
