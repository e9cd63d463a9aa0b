package stream

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/dropDatabas3/streamhub/internal/concurrency"
	"github.com/dropDatabas3/streamhub/internal/transport"
)

type testMetadata struct {
	data int32
}

func (m testMetadata) MarshalBinary() ([]byte, error) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(m.data))
	return b, nil
}

type sentRequest struct {
	member  transport.MemberID
	topic   string
	payload []byte
}

// fakeTransport registra los requests y responde según la configuración:
// por defecto éxito inmediato; failures[member] > 0 hace fallar esa cantidad de
// requests; hold deja los futures pendientes para completarlos a mano.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []sentRequest
	failures map[transport.MemberID]int
	hold     bool
	held     []*concurrency.Future[[]byte]
	handlers map[string]transport.Handler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		failures: make(map[transport.MemberID]int),
		handlers: make(map[string]transport.Handler),
	}
}

func (f *fakeTransport) LocalMember() transport.MemberID { return "local" }

func (f *fakeTransport) Request(_ context.Context, member transport.MemberID, topic string, payload []byte) *concurrency.Future[[]byte] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentRequest{member: member, topic: topic, payload: payload})
	if f.hold {
		fut := concurrency.NewFuture[[]byte]()
		f.held = append(f.held, fut)
		return fut
	}
	if f.failures[member] > 0 {
		f.failures[member]--
		return concurrency.Failed[[]byte](transport.ErrUnknownMember)
	}
	return concurrency.Completed[[]byte](nil)
}

func (f *fakeTransport) Handle(topic string, h transport.Handler) {
	f.mu.Lock()
	f.handlers[topic] = h
	f.mu.Unlock()
}

func (f *fakeTransport) Unhandle(topic string) {
	f.mu.Lock()
	delete(f.handlers, topic)
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) setFailures(member transport.MemberID, n int) {
	f.mu.Lock()
	f.failures[member] = n
	f.mu.Unlock()
}

func (f *fakeTransport) sentTo(topic string) []transport.MemberID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []transport.MemberID
	for _, r := range f.sent {
		if r.topic == topic {
			out = append(out, r.member)
		}
	}
	return out
}

func (f *fakeTransport) heldFutures() []*concurrency.Future[[]byte] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*concurrency.Future[[]byte](nil), f.held...)
}

func transportID(s string) transport.MemberID { return transport.MemberID(s) }
