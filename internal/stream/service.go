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

// ServiceOptions configura ClientStreamService.
type ServiceOptions struct {
	Requests RequestManagerOptions
	// PushTimeout acota la entrega de un push recibido por el transporte.
	// 0 = solo el ctx del request.
	PushTimeout time.Duration
	Logger      *zap.Logger
}

// ServerStreamInfo es una foto de un stream físico, segura fuera del actor.
type ServerStreamInfo struct {
	ID         ServerStreamID
	StreamType []byte
	Connected  []transport.MemberID
	Clients    int
}

// ClientStreamService es la fachada thread-safe del manager. Cada llamada se
// encola en un actor propio; implementa cluster.MembershipListener y atiende
// el topic de push del transporte.
type ClientStreamService[M Metadata] struct {
	actor       *concurrency.Actor
	registry    *ClientStreamRegistry[M]
	requests    *ClientStreamRequestManager[M]
	manager     *ClientStreamManager[M]
	transport   transport.Transport
	pushTimeout time.Duration
	log         *zap.Logger
}

// NewClientStreamService arma registry, request manager y manager sobre tr,
// y registra el handler de push.
func NewClientStreamService[M Metadata](tr transport.Transport, opts ServiceOptions) *ClientStreamService[M] {
	log := opts.Logger
	if log == nil {
		log = logger.Named("stream.client")
	}
	actor := concurrency.NewActor("client-stream-service", func(name string, r any) {
		log.Error("task panicked", logger.Component(name), logger.Any("panic", r))
	})

	if opts.Requests.Logger == nil {
		opts.Requests.Logger = log.Named("requests")
	}
	registry := NewClientStreamRegistry[M]()
	requests := NewClientStreamRequestManager[M](tr, actor, opts.Requests)
	s := &ClientStreamService[M]{
		actor:       actor,
		registry:    registry,
		requests:    requests,
		manager:     NewClientStreamManager[M](registry, requests, log.Named("manager")),
		transport:   tr,
		pushTimeout: opts.PushTimeout,
		log:         log,
	}
	tr.Handle(messages.TopicPush, s.handlePush)
	return s
}

// Add registra una suscripción y devuelve su id. Solo falla si el servicio
// está cerrado o ctx se cancela; la conectividad nunca afecta a Add.
func (s *ClientStreamService[M]) Add(ctx context.Context, streamType []byte, metadata M, consumer ClientStreamConsumer) (ClientStreamID, error) {
	if len(streamType) == 0 {
		return ClientStreamID{}, fmt.Errorf("add client stream: empty stream type")
	}
	if consumer == nil {
		return ClientStreamID{}, fmt.Errorf("add client stream: nil consumer")
	}
	// copia: el tipo es inmutable una vez creado el stream
	st := append([]byte(nil), streamType...)
	return call(ctx, s, func() (ClientStreamID, error) {
		return s.manager.Add(st, metadata, consumer), nil
	})
}

// Remove desregistra la suscripción.
func (s *ClientStreamService[M]) Remove(ctx context.Context, id ClientStreamID) error {
	_, err := call(ctx, s, func() (struct{}, error) {
		s.manager.Remove(id)
		return struct{}{}, nil
	})
	return err
}

// OnServerJoined implementa cluster.MembershipListener.
func (s *ClientStreamService[M]) OnServerJoined(member transport.MemberID) {
	s.submit(func() { s.manager.OnServerJoined(member) })
}

// OnServerRemoved implementa cluster.MembershipListener.
func (s *ClientStreamService[M]) OnServerRemoved(member transport.MemberID) {
	s.submit(func() { s.manager.OnServerRemoved(member) })
}

// Push entrega un payload a un stream local, como si viniera de la red.
// El error es el mismo que recibiría el miembro que lo empujó.
func (s *ClientStreamService[M]) Push(ctx context.Context, req messages.PushStreamRequest) error {
	result := concurrency.NewFuture[struct{}]()
	if err := s.actor.Submit(func() { s.manager.OnPayloadReceived(req, result) }); err != nil {
		return ErrServiceClosed
	}
	_, err := result.Wait(ctx)
	return err
}

func (s *ClientStreamService[M]) handlePush(ctx context.Context, from transport.MemberID, payload []byte) ([]byte, error) {
	req, err := messages.Decode[messages.PushStreamRequest](payload)
	if err != nil {
		return nil, err
	}
	if s.pushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.pushTimeout)
		defer cancel()
	}
	return nil, s.Push(ctx, req)
}

// ServerStreamOf devuelve el stream físico detrás de una suscripción.
func (s *ClientStreamService[M]) ServerStreamOf(ctx context.Context, id ClientStreamID) (ServerStreamInfo, bool, error) {
	type res struct {
		info ServerStreamInfo
		ok   bool
	}
	r, err := call(ctx, s, func() (res, error) {
		c, ok := s.registry.GetClient(id)
		if !ok {
			return res{}, nil
		}
		return res{info: snapshot(c.ServerStream()), ok: true}, nil
	})
	return r.info, r.ok, err
}

// ServerStreams devuelve una foto de todos los streams físicos.
func (s *ClientStreamService[M]) ServerStreams(ctx context.Context) ([]ServerStreamInfo, error) {
	return call(ctx, s, func() ([]ServerStreamInfo, error) {
		servers := s.registry.ServerStreams()
		out := make([]ServerStreamInfo, 0, len(servers))
		for _, server := range servers {
			out = append(out, snapshot(server))
		}
		return out, nil
	})
}

// Members devuelve la membership conocida por el manager.
func (s *ClientStreamService[M]) Members(ctx context.Context) ([]transport.MemberID, error) {
	return call(ctx, s, func() ([]transport.MemberID, error) {
		return s.manager.Members(), nil
	})
}

// Close avisa a los miembros (remove-all), espera sus respuestas hasta ctx y
// detiene el actor. Las operaciones posteriores devuelven ErrServiceClosed.
func (s *ClientStreamService[M]) Close(ctx context.Context) error {
	s.transport.Unhandle(messages.TopicPush)

	futures, err := call(ctx, s, func() ([]*concurrency.Future[[]byte], error) {
		return s.manager.Close(), nil
	})
	if err == nil {
		for _, f := range futures {
			if _, werr := f.Wait(ctx); werr != nil {
				s.log.Debug("remove-all not acknowledged", logger.Err(werr))
			}
		}
	}
	s.requests.Close()
	return s.actor.Close(ctx)
}

func (s *ClientStreamService[M]) submit(task func()) {
	if err := s.actor.Submit(task); err != nil {
		s.log.Debug("dropping task on closed service", logger.Err(err))
	}
}

func call[T any, M Metadata](ctx context.Context, s *ClientStreamService[M], fn func() (T, error)) (T, error) {
	fut := concurrency.NewFuture[T]()
	if err := s.actor.Submit(func() { fut.Complete(fn()) }); err != nil {
		var zero T
		return zero, ErrServiceClosed
	}
	return fut.Wait(ctx)
}

func snapshot[M Metadata](server *ServerStream[M]) ServerStreamInfo {
	return ServerStreamInfo{
		ID:         server.ID(),
		StreamType: server.StreamType(),
		Connected:  server.ConnectedMembers(),
		Clients:    server.ClientCount(),
	}
}
