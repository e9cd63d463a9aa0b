package cluster

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/streamhub/internal/transport"
)

type recorder struct {
	mu      sync.Mutex
	joined  []transport.MemberID
	removed []transport.MemberID
}

func (r *recorder) OnServerJoined(m transport.MemberID) {
	r.mu.Lock()
	r.joined = append(r.joined, m)
	r.mu.Unlock()
}

func (r *recorder) OnServerRemoved(m transport.MemberID) {
	r.mu.Lock()
	r.removed = append(r.removed, m)
	r.mu.Unlock()
}

func (r *recorder) snapshot() (joined, removed []transport.MemberID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.MemberID(nil), r.joined...), append([]transport.MemberID(nil), r.removed...)
}

func TestDiffMembers(t *testing.T) {
	servers := []raft.Server{
		{ID: "n3", Address: "h3:7000"},
		{ID: "n1", Address: "h1:7000"},
		{ID: "n2", Address: "h2:7000"},
	}

	got := diffMembers(servers, []transport.MemberID{"n1", "old"})
	assert.Equal(t, []Mutation{
		{Type: MutationMemberLeave, Member: "old"},
		{Type: MutationMemberJoin, Member: "n2", RaftAddr: "h2:7000"},
		{Type: MutationMemberJoin, Member: "n3", RaftAddr: "h3:7000"},
	}, got)

	assert.Empty(t, diffMembers(servers, []transport.MemberID{"n1", "n2", "n3"}))
}

func TestDiffPeers(t *testing.T) {
	servers := []raft.Server{
		{ID: "n1", Address: "h1:7000"},
		{ID: "n2", Address: "h2:7000"},
		{ID: "gone", Address: "hx:7000"},
	}
	peers := map[transport.MemberID]string{
		"n1": "other:7000", // self: nunca se re-agrega
		"n2": "h2:7001",
		"n3": "h3:7000",
	}

	add, remove := diffPeers(servers, peers, "n1")
	assert.Equal(t, []transport.MemberID{"n2", "n3"}, add)
	assert.Equal(t, []transport.MemberID{"gone"}, remove)

	add, remove = diffPeers(servers, nil, "n1")
	assert.Empty(t, add)
	assert.Empty(t, remove, "sin peers la configuración no se toca")

	add, remove = diffPeers(servers, map[transport.MemberID]string{"n2": "h2:7000"}, "n1")
	assert.Empty(t, add)
	assert.Equal(t, []transport.MemberID{"gone"}, remove, "self queda aunque no esté en peers")
}

func TestListeners_SnapshotTakenUnderLock(t *testing.T) {
	var ls listeners
	var r recorder
	dispatched := make(chan struct{})

	ls.subscribe(&r, func() []transport.MemberID {
		// una baja concurrente tiene que esperar a que termine el replay
		go func() {
			ls.dispatch(Event{Member: "n1"})
			close(dispatched)
		}()
		time.Sleep(20 * time.Millisecond)
		return []transport.MemberID{"n1"}
	})
	<-dispatched

	joined, removed := r.snapshot()
	assert.Equal(t, []transport.MemberID{"n1"}, joined)
	assert.Equal(t, []transport.MemberID{"n1"}, removed, "la baja llega después del replay")
}

func TestMembership_DispatchesFSMEvents(t *testing.T) {
	fsm := NewFSM()
	applyMutation(t, fsm, Mutation{Type: MutationMemberJoin, Member: "n1"})

	m := NewMembership(nil, fsm, MembershipOptions{Logger: zap.NewNop()})
	var r recorder
	m.Subscribe(&r)

	applyMutation(t, fsm, Mutation{Type: MutationMemberJoin, Member: "n2"})
	applyMutation(t, fsm, Mutation{Type: MutationMemberLeave, Member: "n1"})

	joined, removed := r.snapshot()
	assert.Equal(t, []transport.MemberID{"n1", "n2"}, joined, "los miembros actuales se reproducen al suscribirse")
	assert.Equal(t, []transport.MemberID{"n1"}, removed)
	assert.Equal(t, []transport.MemberID{"n2"}, m.Members())
}

func TestStaticMembership(t *testing.T) {
	s := NewStaticMembership([]transport.MemberID{"b", "a", "", "b"})
	var r recorder
	s.Subscribe(&r)

	joined, removed := r.snapshot()
	assert.Equal(t, []transport.MemberID{"a", "b"}, joined)
	assert.Empty(t, removed)
	assert.Equal(t, []transport.MemberID{"a", "b"}, s.Members())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestMembership_SingleNodeRaft(t *testing.T) {
	if testing.Short() {
		t.Skip("raft election")
	}
	fsm := NewFSM()
	node, err := NewNode(NodeOptions{
		NodeID:   "n1",
		RaftAddr: freeAddr(t),
		RaftDir:  t.TempDir(),
		FSM:      fsm,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })

	m := NewMembership(node, fsm, MembershipOptions{Resync: 100 * time.Millisecond, Logger: zap.NewNop()})
	var r recorder
	m.Subscribe(&r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		joined, _ := r.snapshot()
		return len(joined) == 1 && joined[0] == "n1"
	}, 10*time.Second, 50*time.Millisecond)
	assert.True(t, node.IsLeader())
	assert.Equal(t, "n1", node.LeaderID())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("membership did not stop")
	}
}

func startRaftNode(t *testing.T, id string, fsm *FSM, joinOnly bool) (*Node, string) {
	t.Helper()
	addr := freeAddr(t)
	node, err := NewNode(NodeOptions{
		NodeID:           id,
		RaftAddr:         addr,
		RaftDir:          t.TempDir(),
		FSM:              fsm,
		DisableBootstrap: joinOnly,
		Logger:           zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })
	return node, addr
}

func runMembership(t *testing.T, m *Membership) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("membership did not stop")
		}
	}
}

func contains(ids []transport.MemberID, id transport.MemberID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestMembership_LeaderAddsAndRemovesPeers(t *testing.T) {
	if testing.Short() {
		t.Skip("raft election")
	}
	fsm1 := NewFSM()
	leader, addr1 := startRaftNode(t, "n1", fsm1, false)
	fsm2 := NewFSM()
	_, addr2 := startRaftNode(t, "n2", fsm2, true)

	m := NewMembership(leader, fsm1, MembershipOptions{
		Peers:  map[string]string{"n1": addr1, "n2": addr2},
		Resync: 100 * time.Millisecond,
		Logger: zap.NewNop(),
	})
	var r recorder
	m.Subscribe(&r)
	stop := runMembership(t, m)

	// el nodo join-only entra a la configuración y llega como alta
	require.Eventually(t, func() bool {
		joined, _ := r.snapshot()
		return contains(joined, "n1") && contains(joined, "n2")
	}, 15*time.Second, 50*time.Millisecond)
	conf, err := leader.GetConfiguration(context.Background())
	require.NoError(t, err)
	assert.Len(t, conf.Servers, 2)
	require.Eventually(t, func() bool { return contains(fsm2.Members(), "n2") }, 5*time.Second, 20*time.Millisecond,
		"el directorio se replica al nuevo miembro")
	stop()

	// leader reiniciado con n2 fuera de la configuración deseada
	m2 := NewMembership(leader, fsm1, MembershipOptions{
		Peers:  map[string]string{"n1": addr1},
		Resync: 100 * time.Millisecond,
		Logger: zap.NewNop(),
	})
	var r2 recorder
	m2.Subscribe(&r2)
	stop2 := runMembership(t, m2)
	defer stop2()

	require.Eventually(t, func() bool {
		_, removed := r2.snapshot()
		return contains(removed, "n2")
	}, 15*time.Second, 50*time.Millisecond)
	assert.Equal(t, []transport.MemberID{"n1"}, m2.Members())
}
