// Package memory implementa transport.Transport dentro del proceso.
// Usado por tests y por el modo single-process (transport.kind=memory).
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dropDatabas3/streamhub/internal/concurrency"
	"github.com/dropDatabas3/streamhub/internal/transport"
)

// Hub conecta los nodos in-process.
type Hub struct {
	mu    sync.RWMutex
	nodes map[transport.MemberID]*Node
}

// NewHub crea un hub vacío.
func NewHub() *Hub {
	return &Hub{nodes: make(map[transport.MemberID]*Node)}
}

// Join registra member en el hub y devuelve su transporte.
// Si member ya estaba registrado devuelve el mismo nodo.
func (h *Hub) Join(member transport.MemberID) *Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n, ok := h.nodes[member]; ok {
		return n
	}
	n := &Node{hub: h, id: member, handlers: make(map[string]transport.Handler)}
	h.nodes[member] = n
	return n
}

// Leave desconecta member; los requests posteriores hacia él fallan.
func (h *Hub) Leave(member transport.MemberID) {
	h.mu.Lock()
	delete(h.nodes, member)
	h.mu.Unlock()
}

func (h *Hub) lookup(member transport.MemberID) (*Node, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n, ok := h.nodes[member]
	return n, ok
}

// Node es el transporte de un miembro dentro del hub.
type Node struct {
	hub      *Hub
	id       transport.MemberID
	mu       sync.RWMutex
	handlers map[string]transport.Handler
	closed   bool
}

var _ transport.Transport = (*Node)(nil)

func (n *Node) LocalMember() transport.MemberID { return n.id }

func (n *Node) Handle(topic string, h transport.Handler) {
	n.mu.Lock()
	n.handlers[topic] = h
	n.mu.Unlock()
}

func (n *Node) Unhandle(topic string) {
	n.mu.Lock()
	delete(n.handlers, topic)
	n.mu.Unlock()
}

func (n *Node) handler(topic string) (transport.Handler, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return nil, false
	}
	h, ok := n.handlers[topic]
	return h, ok
}

// Request entrega payload al handler del destino en una goroutine propia.
// Los errores del handler se convierten a *transport.RemoteError igual que en la red;
// si ctx termina antes que el handler el future falla con el error de ctx.
func (n *Node) Request(ctx context.Context, member transport.MemberID, topic string, payload []byte) *concurrency.Future[[]byte] {
	n.mu.RLock()
	closed := n.closed
	n.mu.RUnlock()
	if closed {
		return concurrency.Failed[[]byte](transport.ErrClosed)
	}

	target, ok := n.hub.lookup(member)
	if !ok {
		return concurrency.Failed[[]byte](fmt.Errorf("%w: %s", transport.ErrUnknownMember, member))
	}

	// copia: el receptor no debe ver mutaciones posteriores del buffer del emisor
	body := append([]byte(nil), payload...)
	fut := concurrency.NewFuture[[]byte]()
	go func() {
		h, ok := target.handler(topic)
		if !ok {
			fut.Fail(transport.DecodeError(member, transport.CodeNoHandler, "no handler for topic "+topic))
			return
		}
		resp, err := h(ctx, n.id, body)
		if err != nil {
			code, msg := transport.EncodeError(err)
			fut.Fail(transport.DecodeError(member, code, msg))
			return
		}
		fut.Complete(resp, nil)
	}()
	if ctx.Done() != nil {
		go func() {
			select {
			case <-fut.Done():
			case <-ctx.Done():
				fut.Fail(ctxError(ctx, member))
			}
		}()
	}
	return fut
}

// ctxError traduce la cancelación de ctx: un deadline vencido es ErrTimeout.
func ctxError(ctx context.Context, member transport.MemberID) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", transport.ErrTimeout, member, ctx.Err())
	}
	return ctx.Err()
}

// Close saca al nodo del hub.
func (n *Node) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.hub.Leave(n.id)
	return nil
}
