package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/streamhub/internal/cluster"
	"github.com/dropDatabas3/streamhub/internal/config"
	"github.com/dropDatabas3/streamhub/internal/transport"
	"github.com/dropDatabas3/streamhub/internal/transport/memory"
)

func testConfig(t *testing.T, node string) *config.Config {
	t.Helper()
	t.Setenv("NODE_ID", node)
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

type collected struct {
	mu   sync.Mutex
	seen []string
}

func (c *collected) consume(p []byte) error {
	c.mu.Lock()
	c.seen = append(c.seen, string(p))
	c.mu.Unlock()
	return nil
}

func (c *collected) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen...)
}

func startNode(t *testing.T, n *Node) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	require.Eventually(t, func() bool { return n.Ready(ctx) == nil }, time.Second, 5*time.Millisecond)
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("node did not stop")
			return nil
		}
	}
}

func TestNode_SingleProcess(t *testing.T) {
	cfg := testConfig(t, "solo")
	n, err := New(context.Background(), cfg, Deps{Registry: prometheus.NewRegistry(), Logger: zap.NewNop(), DisableHTTP: true})
	require.NoError(t, err)
	assert.Error(t, n.Ready(context.Background()), "no está listo antes de Run")

	stop := startNode(t, n)
	assert.Equal(t, []transport.MemberID{"solo"}, n.Members())

	ctx := context.Background()
	var c collected
	_, err = n.Client.Add(ctx, []byte("jobs"), "tenant-a", c.consume)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return n.Remote.Registry().Count() == 1 }, time.Second, 5*time.Millisecond)

	_, err = n.Remote.Push(ctx, []byte("jobs"), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, c.all())

	require.NoError(t, stop())
	assert.Error(t, n.Ready(ctx))
	assert.Zero(t, n.Remote.Registry().Count(), "el cierre manda remove-all")
}

func TestNode_TwoNodesSharedHub(t *testing.T) {
	hub := memory.NewHub()
	members := []transport.MemberID{"gw", "worker"}

	build := func(id string) *Node {
		n, err := New(context.Background(), testConfig(t, id), Deps{
			Transport:   hub.Join(transport.MemberID(id)),
			Membership:  cluster.NewStaticMembership(members),
			Registry:    prometheus.NewRegistry(),
			Logger:      zap.NewNop(),
			DisableHTTP: true,
		})
		require.NoError(t, err)
		return n
	}
	gw, worker := build("gw"), build("worker")
	stopWorker := startNode(t, worker)
	stopGW := startNode(t, gw)

	ctx := context.Background()
	var c collected
	_, err := gw.Client.Add(ctx, []byte("jobs"), "x", c.consume)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return worker.Remote.Registry().Count() == 1 }, time.Second, 5*time.Millisecond)

	target, err := worker.Remote.Push(ctx, []byte("jobs"), []byte("job-1"))
	require.NoError(t, err)
	assert.Equal(t, transport.MemberID("gw"), target.Member)
	assert.Equal(t, []string{"job-1"}, c.all())

	require.NoError(t, stopGW())
	assert.Zero(t, worker.Remote.Registry().Count())
	require.NoError(t, stopWorker())
}

func TestNew_UnknownTransport(t *testing.T) {
	cfg := testConfig(t, "n1")
	cfg.Transport.Kind = "carrier-pigeon"
	_, err := New(context.Background(), cfg, Deps{Registry: prometheus.NewRegistry(), Logger: zap.NewNop(), DisableHTTP: true})
	assert.Error(t, err)
}
