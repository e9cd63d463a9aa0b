// Package redis implementa transport.Transport sobre Redis Pub/Sub.
//
// Cada miembro escucha en su inbox (<prefix>:inbox:<member>). Un request es un
// envelope publicado en el inbox del destino; la respuesta vuelve al inbox del
// emisor con el mismo ID. Los requests pendientes viven en un go-cache con TTL:
// si la respuesta no llega antes del timeout el future falla con ErrTimeout.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	rdb "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dropDatabas3/streamhub/internal/concurrency"
	"github.com/dropDatabas3/streamhub/internal/observability/logger"
	"github.com/dropDatabas3/streamhub/internal/transport"
)

const (
	kindRequest = "req"
	kindReply   = "rep"

	defaultPrefix  = "streamhub"
	defaultTimeout = 5 * time.Second
)

// envelope es el formato en el wire (JSON).
type envelope struct {
	Kind    string             `json:"kind"`
	ID      string             `json:"id"`
	From    transport.MemberID `json:"from"`
	Topic   string             `json:"topic,omitempty"`
	Payload []byte             `json:"payload,omitempty"`
	Code    string             `json:"code,omitempty"`
	Message string             `json:"message,omitempty"`
}

// Options configura el transporte.
type Options struct {
	Member transport.MemberID

	// Client es opcional; si es nil se crea uno con Addr/DB/Password.
	Client   *rdb.Client
	Addr     string
	DB       int
	Password string

	// Prefix de los canales. Default: "streamhub".
	Prefix string

	// RequestTimeout máximo de espera de una respuesta. Default: 5s.
	RequestTimeout time.Duration

	Logger *zap.Logger
}

// Transport es un miembro conectado a Redis.
type Transport struct {
	member  transport.MemberID
	client  *rdb.Client
	ownsCli bool
	prefix  string
	timeout time.Duration
	log     *zap.Logger

	pending *gocache.Cache

	mu       sync.RWMutex
	handlers map[string]transport.Handler
	sub      *rdb.PubSub
	closed   bool
}

var _ transport.Transport = (*Transport)(nil)

// New crea el transporte. No se suscribe hasta Open.
func New(opts Options) (*Transport, error) {
	if opts.Member == "" {
		return nil, errors.New("redis transport: member is required")
	}
	t := &Transport{
		member:   opts.Member,
		client:   opts.Client,
		prefix:   opts.Prefix,
		timeout:  opts.RequestTimeout,
		log:      opts.Logger,
		handlers: make(map[string]transport.Handler),
	}
	if t.client == nil {
		if opts.Addr == "" {
			return nil, errors.New("redis transport: addr is required")
		}
		t.client = rdb.NewClient(&rdb.Options{Addr: opts.Addr, DB: opts.DB, Password: opts.Password})
		t.ownsCli = true
	}
	if t.prefix == "" {
		t.prefix = defaultPrefix
	}
	if t.timeout <= 0 {
		t.timeout = defaultTimeout
	}
	if t.log == nil {
		t.log = logger.Named("transport.redis")
	}

	cleanup := t.timeout / 2
	if cleanup < 100*time.Millisecond {
		cleanup = 100 * time.Millisecond
	}
	t.pending = gocache.New(t.timeout, cleanup)
	// OnEvicted corre también en Delete; Fail es no-op si el future ya se resolvió.
	t.pending.OnEvicted(func(id string, v interface{}) {
		if fut, ok := v.(*concurrency.Future[[]byte]); ok {
			fut.Fail(fmt.Errorf("%w: id=%s", transport.ErrTimeout, id))
		}
	})
	return t, nil
}

func (t *Transport) inbox(member transport.MemberID) string {
	return t.prefix + ":inbox:" + string(member)
}

func (t *Transport) LocalMember() transport.MemberID { return t.member }

func (t *Transport) Handle(topic string, h transport.Handler) {
	t.mu.Lock()
	t.handlers[topic] = h
	t.mu.Unlock()
}

func (t *Transport) Unhandle(topic string) {
	t.mu.Lock()
	delete(t.handlers, topic)
	t.mu.Unlock()
}

// Open se suscribe al inbox local y espera la confirmación de Redis.
func (t *Transport) Open(ctx context.Context) error {
	sub := t.client.Subscribe(ctx, t.inbox(t.member))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe inbox: %w", err)
	}
	t.mu.Lock()
	t.sub = sub
	t.mu.Unlock()
	t.log.Info("inbox subscribed", logger.Member(string(t.member)), logger.String("channel", t.inbox(t.member)))
	return nil
}

// Serve procesa mensajes del inbox hasta que ctx se cancele o el transporte se cierre.
func (t *Transport) Serve(ctx context.Context) error {
	t.mu.RLock()
	sub := t.sub
	t.mu.RUnlock()
	if sub == nil {
		return errors.New("redis transport: Serve called before Open")
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				t.log.Warn("dropping malformed envelope", logger.Err(err))
				continue
			}
			switch env.Kind {
			case kindRequest:
				go t.handleRequest(ctx, env)
			case kindReply:
				t.handleReply(env)
			default:
				t.log.Warn("dropping envelope with unknown kind", logger.String("kind", env.Kind))
			}
		}
	}
}

// Request publica el envelope en el inbox de member. La publicación ocurre en
// una goroutine para no bloquear al llamador (normalmente un actor).
func (t *Transport) Request(ctx context.Context, member transport.MemberID, topic string, payload []byte) *concurrency.Future[[]byte] {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return concurrency.Failed[[]byte](transport.ErrClosed)
	}

	id := uuid.NewString()
	fut := concurrency.NewFuture[[]byte]()
	data, err := json.Marshal(envelope{Kind: kindRequest, ID: id, From: t.member, Topic: topic, Payload: payload})
	if err != nil {
		return concurrency.Failed[[]byte](fmt.Errorf("encode envelope: %w", err))
	}
	t.pending.Set(id, fut, gocache.DefaultExpiration)

	go func() {
		receivers, err := t.client.Publish(ctx, t.inbox(member), data).Result()
		switch {
		case err != nil:
			fut.Fail(fmt.Errorf("publish to %s: %w", member, err))
			t.pending.Delete(id)
			return
		case receivers == 0:
			fut.Fail(fmt.Errorf("%w: %s", transport.ErrUnknownMember, member))
			t.pending.Delete(id)
			return
		}

		select {
		case <-fut.Done():
		case <-ctx.Done():
			fut.Fail(ctx.Err())
			t.pending.Delete(id)
		}
	}()
	return fut
}

func (t *Transport) handleRequest(ctx context.Context, env envelope) {
	t.mu.RLock()
	h, ok := t.handlers[env.Topic]
	t.mu.RUnlock()

	reply := envelope{Kind: kindReply, ID: env.ID, From: t.member}
	if !ok {
		reply.Code, reply.Message = transport.CodeNoHandler, "no handler for topic "+env.Topic
	} else {
		hctx, cancel := context.WithTimeout(ctx, t.timeout)
		resp, err := h(hctx, env.From, env.Payload)
		cancel()
		if err != nil {
			reply.Code, reply.Message = transport.EncodeError(err)
		} else {
			reply.Payload = resp
		}
	}

	data, err := json.Marshal(reply)
	if err != nil {
		t.log.Error("encode reply", logger.Err(err), logger.Topic(env.Topic))
		return
	}
	if err := t.client.Publish(ctx, t.inbox(env.From), data).Err(); err != nil {
		t.log.Warn("publish reply failed", logger.Err(err), logger.Member(string(env.From)), logger.Topic(env.Topic))
	}
}

func (t *Transport) handleReply(env envelope) {
	v, ok := t.pending.Get(env.ID)
	if !ok {
		// llegó tarde: ya expiró o el emisor canceló
		t.log.Debug("reply without pending request", logger.ID(env.ID), logger.Member(string(env.From)))
		return
	}
	fut := v.(*concurrency.Future[[]byte])
	fut.Complete(env.Payload, transport.DecodeError(env.From, env.Code, env.Message))
	t.pending.Delete(env.ID)
}

// Close cancela la suscripción y falla los requests pendientes.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sub := t.sub
	t.mu.Unlock()

	var errs []error
	if sub != nil {
		errs = append(errs, sub.Close())
	}
	for id, item := range t.pending.Items() {
		if fut, ok := item.Object.(*concurrency.Future[[]byte]); ok {
			fut.Fail(transport.ErrClosed)
		}
		t.pending.Delete(id)
	}
	if t.ownsCli {
		errs = append(errs, t.client.Close())
	}
	return errors.Join(errs...)
}
