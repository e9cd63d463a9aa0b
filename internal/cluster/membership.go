package cluster

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	"go.uber.org/zap"

	"github.com/dropDatabas3/streamhub/internal/metrics"
	"github.com/dropDatabas3/streamhub/internal/observability/logger"
	"github.com/dropDatabas3/streamhub/internal/transport"
)

// Source es una fuente de membership: Subscribe reproduce los miembros actuales
// como altas y después entrega los cambios.
type Source interface {
	Subscribe(l MembershipListener)
	Members() []transport.MemberID
	Run(ctx context.Context) error
}

// listeners reparte eventos a los suscriptores. Subscribe y dispatch comparten
// el lock: un listener nuevo puede ver un alta dos veces, nunca perderla.
type listeners struct {
	mu   sync.Mutex
	subs []MembershipListener
}

func (ls *listeners) subscribe(l MembershipListener, current func() []transport.MemberID) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.subs = append(ls.subs, l)
	for _, m := range current() {
		l.OnServerJoined(m)
	}
}

func (ls *listeners) dispatch(ev Event) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for _, l := range ls.subs {
		if ev.Joined {
			l.OnServerJoined(ev.Member)
		} else {
			l.OnServerRemoved(ev.Member)
		}
	}
}

// ─── Raft ───

// Membership traduce el directorio replicado en eventos. El leader alinea la
// configuración de Raft con Peers y el directorio con la configuración.
type Membership struct {
	node     *Node
	fsm      *FSM
	peers    map[transport.MemberID]string
	log      *zap.Logger
	resync   time.Duration
	watchers listeners
}

var _ Source = (*Membership)(nil)

type MembershipOptions struct {
	// Peers es la configuración deseada (nodeID -> raftAddr). Vacío: la
	// configuración de Raft no se toca (altas/bajas manuales).
	Peers map[string]string
	// Resync entre reconciliaciones periódicas. Default: 30s.
	Resync time.Duration
	Logger *zap.Logger
}

// NewMembership conecta fsm con los listeners.
func NewMembership(node *Node, fsm *FSM, opts MembershipOptions) *Membership {
	log := opts.Logger
	if log == nil {
		log = logger.Named("cluster.membership")
	}
	resync := opts.Resync
	if resync <= 0 {
		resync = 30 * time.Second
	}
	peers := make(map[transport.MemberID]string, len(opts.Peers))
	for id, addr := range opts.Peers {
		peers[transport.MemberID(id)] = addr
	}
	m := &Membership{node: node, fsm: fsm, peers: peers, log: log, resync: resync}
	fsm.OnEvent(m.dispatch)
	return m
}

func (m *Membership) Subscribe(l MembershipListener) {
	m.watchers.subscribe(l, m.fsm.Members)
}

func (m *Membership) Members() []transport.MemberID { return m.fsm.Members() }

func (m *Membership) dispatch(ev Event) {
	event := "removed"
	if ev.Joined {
		event = "joined"
	}
	metrics.RaftMembershipEvents.WithLabelValues(event).Inc()
	m.log.Info("membership changed", logger.Member(string(ev.Member)), logger.String("event", event))
	m.watchers.dispatch(ev)
}

// Run observa peers y liderazgo hasta que ctx se cancela.
func (m *Membership) Run(ctx context.Context) error {
	ch := make(chan raft.Observation, 32)
	deregister := m.node.Observe(ch)
	defer deregister()

	t := time.NewTicker(m.resync)
	defer t.Stop()

	m.reconcileIfLeader(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			m.reconcileIfLeader(ctx)
		case <-t.C:
			m.reconcileIfLeader(ctx)
		}
	}
}

func (m *Membership) reconcileIfLeader(ctx context.Context) {
	if !m.node.IsLeader() {
		return
	}
	conf, err := m.node.GetConfiguration(ctx)
	if err != nil {
		m.log.Warn("read raft configuration", logger.Err(err))
		return
	}

	add, remove := diffPeers(conf.Servers, m.peers, transport.MemberID(m.node.NodeID()))
	for _, id := range remove {
		if err := m.node.RemoveServer(ctx, id); err != nil {
			m.log.Warn("remove raft server", logger.Member(string(id)), logger.Err(err))
			return
		}
		m.log.Info("raft server removed", logger.Member(string(id)))
	}
	for _, id := range add {
		if err := m.node.AddVoter(ctx, id, m.peers[id]); err != nil {
			m.log.Warn("add raft voter", logger.Member(string(id)), logger.Err(err))
			return
		}
		m.log.Info("raft voter added", logger.Member(string(id)), logger.String("raft_addr", m.peers[id]))
	}
	if len(add)+len(remove) > 0 {
		if conf, err = m.node.GetConfiguration(ctx); err != nil {
			m.log.Warn("read raft configuration", logger.Err(err))
			return
		}
	}

	for _, mut := range diffMembers(conf.Servers, m.fsm.Members()) {
		if _, err := m.node.Apply(ctx, mut); err != nil {
			m.log.Warn("apply membership mutation", logger.Member(string(mut.Member)), logger.String("type", string(mut.Type)), logger.Err(err))
			return
		}
	}
}

// diffPeers compara la configuración de Raft con peers: devuelve los que hay
// que agregar (faltan o cambiaron de dirección) y los que sobran. self no se
// toca; sin peers no hay cambios.
func diffPeers(servers []raft.Server, peers map[transport.MemberID]string, self transport.MemberID) (add, remove []transport.MemberID) {
	if len(peers) == 0 {
		return nil, nil
	}
	current := make(map[transport.MemberID]string, len(servers))
	for _, s := range servers {
		id := transport.MemberID(s.ID)
		current[id] = string(s.Address)
		if _, wanted := peers[id]; !wanted && id != self {
			remove = append(remove, id)
		}
	}
	for id, addr := range peers {
		if id == self {
			continue
		}
		if cur, ok := current[id]; !ok || cur != addr {
			add = append(add, id)
		}
	}
	sort.Slice(add, func(i, j int) bool { return add[i] < add[j] })
	sort.Slice(remove, func(i, j int) bool { return remove[i] < remove[j] })
	return add, remove
}

// diffMembers calcula las mutaciones que llevan el directorio a la
// configuración de Raft. Las bajas van primero.
func diffMembers(servers []raft.Server, directory []transport.MemberID) []Mutation {
	inConf := make(map[transport.MemberID]raft.Server, len(servers))
	for _, s := range servers {
		inConf[transport.MemberID(s.ID)] = s
	}
	inDir := make(map[transport.MemberID]struct{}, len(directory))
	for _, id := range directory {
		inDir[id] = struct{}{}
	}

	var leaves, joins []Mutation
	for _, id := range directory {
		if _, ok := inConf[id]; !ok {
			leaves = append(leaves, Mutation{Type: MutationMemberLeave, Member: id})
		}
	}
	for id, s := range inConf {
		if _, ok := inDir[id]; !ok {
			joins = append(joins, Mutation{Type: MutationMemberJoin, Member: id, RaftAddr: string(s.Address)})
		}
	}
	sort.Slice(joins, func(i, j int) bool { return joins[i].Member < joins[j].Member })
	return append(leaves, joins...)
}

// ─── Static ───

// StaticMembership es una lista fija de miembros (cluster.mode=off).
type StaticMembership struct {
	members  []transport.MemberID
	watchers listeners
}

var _ Source = (*StaticMembership)(nil)

func NewStaticMembership(members []transport.MemberID) *StaticMembership {
	seen := make(map[transport.MemberID]struct{}, len(members))
	out := make([]transport.MemberID, 0, len(members))
	for _, m := range members {
		if _, dup := seen[m]; dup || m == "" {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return &StaticMembership{members: out}
}

func (s *StaticMembership) Subscribe(l MembershipListener) { s.watchers.subscribe(l, s.Members) }

func (s *StaticMembership) Members() []transport.MemberID {
	return append([]transport.MemberID(nil), s.members...)
}

// Run bloquea hasta ctx.Done: la lista no cambia.
func (s *StaticMembership) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
