package stream

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/streamhub/internal/concurrency"
	"github.com/dropDatabas3/streamhub/internal/observability/logger"
	"github.com/dropDatabas3/streamhub/internal/stream/messages"
	"github.com/dropDatabas3/streamhub/internal/transport"
)

// OpenHandler recibe, dentro del concurrency.Control, el resultado de cada
// intento de apertura. Wanted se consulta antes de cada reintento.
type OpenHandler struct {
	Result func(member transport.MemberID, err error)
	Wanted func(member transport.MemberID) bool
}

// RequestManager es lo que el ClientStreamManager necesita de la red.
type RequestManager[M Metadata] interface {
	OpenStream(server *ServerStream[M], members []transport.MemberID, h OpenHandler)
	RemoveStream(server *ServerStream[M], members []transport.MemberID)
	RemoveAll(members []transport.MemberID) []*concurrency.Future[[]byte]
}

// RequestManagerOptions configura ClientStreamRequestManager.
type RequestManagerOptions struct {
	// Attempts por miembro al abrir un stream. 1 = sin reintentos. Default: 1.
	Attempts int
	// Backoff entre reintentos. Default: 500ms.
	Backoff time.Duration
	// Timeout de cada request. Default: 5s.
	Timeout time.Duration
	// NotifyOnRemove envía RemoveStreamRequest a los miembros conectados
	// cuando se elimina el último ClientStream de un stream físico.
	NotifyOnRemove bool

	Logger *zap.Logger
}

// ClientStreamRequestManager traduce operaciones del manager en requests de transporte.
// Todos los callbacks vuelven al concurrency.Control del manager.
type ClientStreamRequestManager[M Metadata] struct {
	transport transport.Transport
	ctl       concurrency.Control
	opts      RequestManagerOptions
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

var _ RequestManager[BytesMetadata] = (*ClientStreamRequestManager[BytesMetadata])(nil)

// NewClientStreamRequestManager crea el request manager.
func NewClientStreamRequestManager[M Metadata](tr transport.Transport, ctl concurrency.Control, opts RequestManagerOptions) *ClientStreamRequestManager[M] {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.Named("stream.requests")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ClientStreamRequestManager[M]{
		transport: tr,
		ctl:       ctl,
		opts:      opts,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// OpenStream envía AddStreamRequest a cada miembro de forma independiente.
// h.Result se invoca una vez por intento.
func (r *ClientStreamRequestManager[M]) OpenStream(server *ServerStream[M], members []transport.MemberID, h OpenHandler) {
	if len(members) == 0 {
		return
	}
	payload, err := r.encodeAdd(server)
	if err != nil {
		r.log.Error("cannot encode add request", logger.ServerStreamID(server.ID().String()), logger.Err(err))
		for _, m := range members {
			member := m
			r.ctl.Run(func() { h.Result(member, err) })
		}
		return
	}
	for _, member := range members {
		r.open(server.ID(), member, payload, 1, h)
	}
}

func (r *ClientStreamRequestManager[M]) encodeAdd(server *ServerStream[M]) ([]byte, error) {
	metadata, err := server.Metadata().MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return messages.Encode(messages.AddStreamRequest{
		StreamID:   server.ID().UUID(),
		StreamType: server.StreamType(),
		Metadata:   metadata,
	})
}

func (r *ClientStreamRequestManager[M]) open(id ServerStreamID, member transport.MemberID, payload []byte, attempt int, h OpenHandler) {
	ctx, cancel := context.WithTimeout(r.ctx, r.opts.Timeout)
	fut := r.transport.Request(ctx, member, messages.TopicAdd, payload)
	concurrency.RunOnCompletion(r.ctl, fut, func(_ []byte, err error) {
		cancel()
		h.Result(member, err)
		if err == nil || attempt >= r.opts.Attempts {
			return
		}
		time.AfterFunc(r.opts.Backoff, func() {
			r.ctl.Run(func() {
				if r.ctx.Err() != nil || !h.Wanted(member) {
					return
				}
				r.log.Debug("retrying open stream",
					logger.ServerStreamID(id.String()), logger.Member(string(member)), logger.Attempt(attempt+1))
				r.open(id, member, payload, attempt+1, h)
			})
		})
	})
}

// RemoveStream notifica (best-effort) a los miembros que el stream ya no existe.
func (r *ClientStreamRequestManager[M]) RemoveStream(server *ServerStream[M], members []transport.MemberID) {
	if !r.opts.NotifyOnRemove || len(members) == 0 {
		return
	}
	payload, err := messages.Encode(messages.RemoveStreamRequest{StreamID: server.ID().UUID()})
	if err != nil {
		r.log.Error("cannot encode remove request", logger.Err(err))
		return
	}
	for _, member := range members {
		r.fireAndLog(member, messages.TopicRemove, payload, server.ID().String())
	}
}

// RemoveAll pide a cada miembro que olvide todos los streams de este cliente.
func (r *ClientStreamRequestManager[M]) RemoveAll(members []transport.MemberID) []*concurrency.Future[[]byte] {
	futures := make([]*concurrency.Future[[]byte], 0, len(members))
	for _, member := range members {
		futures = append(futures, r.fireAndLog(member, messages.TopicRemoveAll, nil, ""))
	}
	return futures
}

func (r *ClientStreamRequestManager[M]) fireAndLog(member transport.MemberID, topic string, payload []byte, streamID string) *concurrency.Future[[]byte] {
	ctx, cancel := context.WithTimeout(r.ctx, r.opts.Timeout)
	fut := r.transport.Request(ctx, member, topic, payload)
	concurrency.RunOnCompletion(r.ctl, fut, func(_ []byte, err error) {
		cancel()
		if err != nil {
			r.log.Debug("best-effort request failed",
				logger.Topic(topic), logger.Member(string(member)), logger.ServerStreamID(streamID), logger.Err(err))
		}
	})
	return fut
}

// Close cancela los requests en vuelo y los reintentos pendientes.
func (r *ClientStreamRequestManager[M]) Close() {
	r.cancel()
}
