// Package transport define el contrato request/reply entre miembros del cluster.
// Las implementaciones viven en transport/memory (in-process) y transport/redis.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/dropDatabas3/streamhub/internal/concurrency"
)

// MemberID identifica un nodo del cluster (mismo valor que el raft ServerID).
type MemberID string

func (m MemberID) String() string { return string(m) }

// Handler procesa un request entrante. El error devuelto viaja al emisor
// como *RemoteError conservando su código (ver Coded).
type Handler func(ctx context.Context, from MemberID, payload []byte) ([]byte, error)

// Transport envía requests a otros miembros y despacha los entrantes por topic.
type Transport interface {
	// LocalMember devuelve la identidad de este nodo.
	LocalMember() MemberID

	// Request envía payload a member y devuelve un future con la respuesta.
	// Nunca bloquea: los errores de red se reportan en el future.
	Request(ctx context.Context, member MemberID, topic string, payload []byte) *concurrency.Future[[]byte]

	// Handle registra el handler de topic (reemplaza uno previo).
	Handle(topic string, h Handler)

	// Unhandle elimina el handler de topic.
	Unhandle(topic string)

	// Close libera recursos. Los requests pendientes fallan con ErrClosed.
	Close() error
}

// Errores de transporte.
var (
	ErrClosed        = errors.New("transport: closed")
	ErrUnknownMember = errors.New("transport: unknown member")
	ErrTimeout       = errors.New("transport: request timed out")
)

// Códigos de error reservados por el transporte.
const (
	CodeInternal  = "internal"
	CodeNoHandler = "no_handler"
)

// Coded es implementado por errores que quieren conservar un código al cruzar la red.
type Coded interface {
	ErrorCode() string
}

// RemoteError es el error reconstruido en el emisor a partir de la respuesta del receptor.
type RemoteError struct {
	Member  MemberID
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s (%s)", e.Member, e.Message, e.Code)
}

// ErrorCode implementa Coded.
func (e *RemoteError) ErrorCode() string { return e.Code }

// EncodeError convierte un error de handler en (code, message) para el wire.
func EncodeError(err error) (code, message string) {
	if err == nil {
		return "", ""
	}
	var c Coded
	if errors.As(err, &c) {
		return c.ErrorCode(), err.Error()
	}
	return CodeInternal, err.Error()
}

// DecodeError reconstruye el error remoto; nil si code está vacío.
func DecodeError(member MemberID, code, message string) error {
	if code == "" {
		return nil
	}
	return &RemoteError{Member: member, Code: code, Message: message}
}

// HasCode indica si err (o alguno de sus wrapped) lleva el código dado.
func HasCode(err error, code string) bool {
	var c Coded
	return errors.As(err, &c) && c.ErrorCode() == code
}
