package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/streamhub/internal/metrics"
	"github.com/dropDatabas3/streamhub/internal/observability/logger"
	"github.com/dropDatabas3/streamhub/internal/stream"
	"github.com/dropDatabas3/streamhub/internal/stream/messages"
	"github.com/dropDatabas3/streamhub/internal/transport"
)

// ErrNoStreams: no hay ningún cliente escuchando el stream type.
var ErrNoStreams = errors.New("no remote streams for stream type")

// Service atiende add/remove/remove-all de los clientes y empuja payloads.
type Service struct {
	registry    *Registry
	transport   transport.Transport
	pushTimeout time.Duration
	log         *zap.Logger
}

type Options struct {
	// PushTimeout acota cada push a un cliente. 0 = sin límite propio (solo ctx).
	PushTimeout time.Duration
	Logger      *zap.Logger
}

// NewService registra los handlers en tr.
func NewService(tr transport.Transport, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logger.Named("stream.remote")
	}
	s := &Service{registry: NewRegistry(), transport: tr, pushTimeout: opts.PushTimeout, log: log}
	tr.Handle(messages.TopicAdd, s.handleAdd)
	tr.Handle(messages.TopicRemove, s.handleRemove)
	tr.Handle(messages.TopicRemoveAll, s.handleRemoveAll)
	return s
}

// Registry expone el registry (lectura para el engine y tests).
func (s *Service) Registry() *Registry { return s.registry }

func (s *Service) handleAdd(_ context.Context, from transport.MemberID, payload []byte) ([]byte, error) {
	req, err := messages.Decode[messages.AddStreamRequest](payload)
	if err != nil {
		return nil, err
	}
	if s.registry.Add(Stream{ID: req.StreamID, Member: from, StreamType: req.StreamType, Metadata: req.Metadata}) {
		s.log.Debug("remote stream added",
			logger.Member(string(from)), logger.ServerStreamID(req.StreamID.String()), logger.StreamType(req.StreamType))
	}
	return nil, nil
}

func (s *Service) handleRemove(_ context.Context, from transport.MemberID, payload []byte) ([]byte, error) {
	req, err := messages.Decode[messages.RemoveStreamRequest](payload)
	if err != nil {
		return nil, err
	}
	s.registry.Remove(from, req.StreamID)
	return nil, nil
}

func (s *Service) handleRemoveAll(_ context.Context, from transport.MemberID, _ []byte) ([]byte, error) {
	n := s.registry.RemoveAll(from)
	s.log.Debug("remote streams removed", logger.Member(string(from)), logger.Count(n))
	return nil, nil
}

// PushTo empuja payload a un stream concreto. Si el cliente ya no lo conoce,
// el stream se elimina del registry y se devuelve el error original.
func (s *Service) PushTo(ctx context.Context, target Stream, payload []byte) error {
	body, err := messages.Encode(messages.PushStreamRequest{StreamID: target.ID, Payload: payload})
	if err != nil {
		return err
	}
	if s.pushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.pushTimeout)
		defer cancel()
	}
	_, err = s.transport.Request(ctx, target.Member, messages.TopicPush, body).Wait(ctx)
	switch {
	case err == nil:
		metrics.PushesSent.WithLabelValues(metrics.ResultOK).Inc()
	case stream.IsNoSuchStream(err):
		metrics.PushesSent.WithLabelValues(metrics.ResultNoStream).Inc()
		s.registry.Remove(target.Member, target.ID)
		s.log.Debug("dropping stale remote stream",
			logger.Member(string(target.Member)), logger.ServerStreamID(target.ID.String()))
	default:
		metrics.PushesSent.WithLabelValues(metrics.ResultError).Inc()
	}
	return err
}

// Push entrega payload a un cliente de streamType. Los streams que ya no
// existen del lado cliente se descartan y se prueba con el siguiente; cualquier
// otro error corta y se devuelve.
func (s *Service) Push(ctx context.Context, streamType, payload []byte) (Stream, error) {
	for _, target := range s.registry.Streams(streamType) {
		err := s.PushTo(ctx, target, payload)
		if err == nil {
			return target, nil
		}
		if !stream.IsNoSuchStream(err) {
			return target, fmt.Errorf("push to %s: %w", target.Member, err)
		}
	}
	return Stream{}, fmt.Errorf("%w: %q", ErrNoStreams, streamType)
}

// OnServerJoined implementa cluster.MembershipListener (no-op: los clientes
// abren sus streams solos).
func (s *Service) OnServerJoined(transport.MemberID) {}

// OnServerRemoved descarta todos los streams del miembro que salió.
func (s *Service) OnServerRemoved(member transport.MemberID) {
	if n := s.registry.RemoveAll(member); n > 0 {
		s.log.Info("dropped streams of removed member", logger.Member(string(member)), logger.Count(n))
	}
}

// Close desregistra los handlers.
func (s *Service) Close() {
	s.transport.Unhandle(messages.TopicAdd)
	s.transport.Unhandle(messages.TopicRemove)
	s.transport.Unhandle(messages.TopicRemoveAll)
}
