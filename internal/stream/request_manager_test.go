package stream

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/streamhub/internal/concurrency"
	"github.com/dropDatabas3/streamhub/internal/metrics"
	"github.com/dropDatabas3/streamhub/internal/stream/messages"
)

type actorFixture struct {
	actor     *concurrency.Actor
	transport *fakeTransport
	registry  *ClientStreamRegistry[testMetadata]
	manager   *ClientStreamManager[testMetadata]
}

func newActorFixture(t *testing.T, opts RequestManagerOptions) *actorFixture {
	t.Helper()
	actor := concurrency.NewActor("test", nil)
	tr := newFakeTransport()
	registry := NewClientStreamRegistry[testMetadata]()
	opts.Logger = zap.NewNop()
	requests := NewClientStreamRequestManager[testMetadata](tr, actor, opts)
	t.Cleanup(func() {
		requests.Close()
		_ = actor.Close(context.Background())
	})
	return &actorFixture{
		actor:     actor,
		transport: tr,
		registry:  registry,
		manager:   NewClientStreamManager[testMetadata](registry, requests, zap.NewNop()),
	}
}

// on ejecuta fn en el actor y espera su resultado.
func on[T any](t *testing.T, a *concurrency.Actor, fn func() T) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := concurrency.Call(ctx, a, func() (T, error) { return fn(), nil })
	require.NoError(t, err)
	return v
}

func (f *actorFixture) isConnected(t *testing.T, id ClientStreamID, member string) bool {
	return on(t, f.actor, func() bool {
		c, ok := f.registry.GetClient(id)
		return ok && c.ServerStream().IsConnected(transportID(member))
	})
}

func TestRequestManager_RetriesFailedOpen(t *testing.T) {
	f := newActorFixture(t, RequestManagerOptions{Attempts: 3, Backoff: time.Millisecond})
	f.transport.setFailures("1", 2)

	id := on(t, f.actor, func() ClientStreamID {
		f.manager.OnServerJoined("1")
		return f.manager.Add(streamType, metadata, noop)
	})

	require.Eventually(t, func() bool { return f.isConnected(t, id, "1") }, time.Second, 5*time.Millisecond)
	assert.Len(t, f.transport.sentTo(messages.TopicAdd), 3)
}

func TestRequestManager_NoRetryByDefault(t *testing.T) {
	f := newActorFixture(t, RequestManagerOptions{Backoff: time.Millisecond})
	f.transport.setFailures("1", 1)

	id := on(t, f.actor, func() ClientStreamID {
		f.manager.OnServerJoined("1")
		return f.manager.Add(streamType, metadata, noop)
	})

	time.Sleep(20 * time.Millisecond)
	assert.False(t, f.isConnected(t, id, "1"))
	assert.Len(t, f.transport.sentTo(messages.TopicAdd), 1)
}

func TestRequestManager_StopsRetryingWhenMemberLeaves(t *testing.T) {
	f := newActorFixture(t, RequestManagerOptions{Attempts: 5, Backoff: 20 * time.Millisecond})
	f.transport.setFailures("1", 5)

	on(t, f.actor, func() ClientStreamID {
		f.manager.OnServerJoined("1")
		return f.manager.Add(streamType, metadata, noop)
	})
	on(t, f.actor, func() bool { f.manager.OnServerRemoved("1"); return true })

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, f.transport.sentTo(messages.TopicAdd), 1)
}

func TestManager_IgnoresStaleOpenResultForRemovedMember(t *testing.T) {
	f := newActorFixture(t, RequestManagerOptions{})
	f.transport.hold = true
	stale := metrics.OpenStreamAttempts.WithLabelValues(metrics.ResultStale)
	before := testutil.ToFloat64(stale)

	id := on(t, f.actor, func() ClientStreamID {
		f.manager.OnServerJoined("1")
		return f.manager.Add(streamType, metadata, noop)
	})
	on(t, f.actor, func() bool { f.manager.OnServerRemoved("1"); return true })

	held := f.transport.heldFutures()
	require.Len(t, held, 1)
	held[0].Complete(nil, nil)

	require.Eventually(t, func() bool { return testutil.ToFloat64(stale) == before+1 }, time.Second, 5*time.Millisecond)
	assert.False(t, f.isConnected(t, id, "1"))
}

func TestManager_LateOpenForRemovedStreamSendsRemove(t *testing.T) {
	f := newActorFixture(t, RequestManagerOptions{NotifyOnRemove: true})
	f.transport.hold = true

	on(t, f.actor, func() bool {
		f.manager.OnServerJoined("1")
		id := f.manager.Add(streamType, metadata, noop)
		f.manager.Remove(id)
		return true
	})
	// sin miembros conectados al remover, todavía no se avisó a nadie
	assert.Empty(t, f.transport.sentTo(messages.TopicRemove))

	held := f.transport.heldFutures()
	require.Len(t, held, 1)
	held[0].Complete(nil, nil)

	require.Eventually(t, func() bool {
		return len(f.transport.sentTo(messages.TopicRemove)) == 1
	}, time.Second, 5*time.Millisecond)
}
