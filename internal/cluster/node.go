package cluster

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"go.uber.org/zap"

	"github.com/dropDatabas3/streamhub/internal/metrics"
	"github.com/dropDatabas3/streamhub/internal/observability/logger"
	"github.com/dropDatabas3/streamhub/internal/transport"
)

// membershipTimeout es el timeout por defecto para operaciones de membership (AddVoter, RemoveServer).
const membershipTimeout = 10 * time.Second

// Node envuelve *raft.Raft: stores BoltDB, snapshots, transporte TCP/TLS y
// helpers de Apply, liderazgo y membership.
type Node struct {
	r            *raft.Raft
	applyTimeout time.Duration
	id           raft.ServerID
	membershipMu sync.Mutex // protege AddVoter/RemoveServer
	log          *zap.Logger
	stop         chan struct{}
	closeOnce    sync.Once
}

type NodeOptions struct {
	NodeID   string            // Identidad de este nodo; también es su transport.MemberID
	RaftAddr string            // host:port para transporte Raft (cluster.raft_addr)
	RaftDir  string            // Directorio de datos de Raft (cluster.raft_dir)
	FSM      raft.FSM          // Implementación de FSM
	Peers    map[string]string // Conjunto estático de peers (nodeID->raftAddr). Si >1, bootstrap estático en 1 nodo.
	// DisableBootstrap: el nodo no hace bootstrap aunque no tenga estado; espera
	// a que el leader lo agregue (Membership con Peers que lo incluyan).
	DisableBootstrap bool

	// TLS (optional). If enabled, create a TLS stream layer with mTLS.
	RaftTLSEnable     bool
	RaftTLSCertFile   string
	RaftTLSKeyFile    string
	RaftTLSCAFile     string
	RaftTLSServerName string

	Logger *zap.Logger
}

func NewNode(opts NodeOptions) (*Node, error) {
	if opts.NodeID == "" || opts.RaftAddr == "" || opts.RaftDir == "" || opts.FSM == nil {
		return nil, errors.New("invalid NodeOptions")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Named("cluster")
	}
	if err := os.MkdirAll(opts.RaftDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir raft dir: %w", err)
	}

	// Stores: log + stable en la misma Bolt DB.
	boltPath := filepath.Join(opts.RaftDir, "raft.db")
	boltStore, err := raftboltdb.NewBoltStore(boltPath)
	if err != nil {
		return nil, fmt.Errorf("bolt store: %w", err)
	}
	logStore := boltStore
	stableStore := boltStore

	// Snapshots en disco (retenemos 2).
	snapStore, err := raft.NewFileSnapshotStore(opts.RaftDir, 2, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}

	// Transporte: TCP plano o TLS mTLS si está habilitado
	var trans *raft.NetworkTransport
	if opts.RaftTLSEnable {
		bundle, err := loadTLSBundle(opts.RaftTLSCertFile, opts.RaftTLSKeyFile, opts.RaftTLSCAFile, opts.RaftTLSServerName)
		if err != nil {
			return nil, fmt.Errorf("raft tls: %w", err)
		}
		ln, err := tls.Listen("tcp", opts.RaftAddr, bundle.server)
		if err != nil {
			return nil, fmt.Errorf("tls listen: %w", err)
		}
		stream := &tlsStream{ln: ln, cfg: bundle.client}
		trans = raft.NewNetworkTransport(stream, 3, 10*time.Second, os.Stdout)
	} else {
		plain, err := raft.NewTCPTransport(opts.RaftAddr, nil, 3, 10*time.Second, os.Stdout)
		if err != nil {
			return nil, fmt.Errorf("tcp transport: %w", err)
		}
		trans = plain
	}

	// Config
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(opts.NodeID)

	// New Raft
	r, err := raft.NewRaft(cfg, opts.FSM, logStore, stableStore, snapStore, trans)
	if err != nil {
		return nil, fmt.Errorf("new raft: %w", err)
	}

	n := &Node{
		r:            r,
		applyTimeout: 5 * time.Second,
		id:           cfg.LocalID,
		log:          log,
		stop:         make(chan struct{}),
	}

	// Leadership change counter (metrics)
	go func(ch <-chan bool) {
		for {
			select {
			case <-n.stop:
				return
			case v := <-ch:
				if v {
					metrics.RaftLeadershipChanges.Inc()
					log.Info("raft leadership acquired", logger.Member(opts.NodeID))
				}
			}
		}
	}(r.LeaderCh())

	// Bootstrap si no hay estado previo
	hasState, err := raft.HasExistingState(logStore, stableStore, snapStore)
	if err != nil {
		_ = n.Close()
		return nil, fmt.Errorf("check state: %w", err)
	}
	if !hasState {
		// Join-only mode: si DisableBootstrap está activo, no hacemos bootstrap.
		// El nodo esperará a ser agregado dinámicamente al cluster por el leader.
		if opts.DisableBootstrap {
			log.Info("join-only mode: skipping bootstrap", logger.Member(opts.NodeID), logger.String("raft_addr", opts.RaftAddr))
		} else {
			peerCount := len(opts.Peers)
			if peerCount <= 1 {
				// Single node default bootstrap
				conf := raft.Configuration{Servers: []raft.Server{{ID: cfg.LocalID, Address: trans.LocalAddr()}}}
				if err := r.BootstrapCluster(conf).Error(); err != nil {
					_ = n.Close()
					return nil, fmt.Errorf("bootstrap: %w", err)
				}
				log.Info("bootstrapped single-node cluster", logger.Member(opts.NodeID), logger.String("raft_addr", opts.RaftAddr))
			} else {
				// Static bootstrap on a single, deterministic node (smallest NodeID)
				smallest := opts.NodeID
				for k := range opts.Peers {
					if k < smallest {
						smallest = k
					}
				}
				if opts.NodeID == smallest {
					// Build full server list from peers
					var servers []raft.Server
					for id, addr := range opts.Peers {
						servers = append(servers, raft.Server{ID: raft.ServerID(id), Address: raft.ServerAddress(addr)})
					}
					conf := raft.Configuration{Servers: servers}
					if err := r.BootstrapCluster(conf).Error(); err != nil {
						_ = n.Close()
						return nil, fmt.Errorf("bootstrap(static): %w", err)
					}
					log.Info("bootstrapped static cluster", logger.Count(len(servers)), logger.Member(opts.NodeID))
				} else {
					// el leader nos contacta: estamos en la configuración
					log.Info("waiting to join static cluster", logger.Member(opts.NodeID), logger.String("bootstrapper", smallest))
				}
			}
		}
	}

	// Track raft log file size periodically (if Bolt file exists)
	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-n.stop:
				return
			case <-t.C:
				if st, err := os.Stat(boltPath); err == nil {
					metrics.RaftLogSizeBytes.Set(float64(st.Size()))
				}
			}
		}
	}()

	return n, nil
}

// Apply serializa la mutación y espera commit o timeout.
func (n *Node) Apply(ctx context.Context, m Mutation) (uint64, error) {
	if n == nil || n.r == nil {
		return 0, errors.New("raft not initialized")
	}
	if m.TsUnix == 0 {
		m.TsUnix = time.Now().Unix()
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	fut := n.r.Apply(buf, n.applyTimeout)

	// Respetar cancelación de ctx mientras esperamos el futuro.
	done := make(chan struct{})
	var applyErr error
	var index uint64
	go func() {
		applyErr = fut.Error()
		index = fut.Index()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-done:
		metrics.RaftApplyLatency.Observe(float64(time.Since(start).Milliseconds()))
		return index, applyErr
	}
}

// ─── TLS helpers ───

type tlsBundle struct {
	server *tls.Config
	client *tls.Config
}

func loadTLSBundle(certFile, keyFile, caFile, serverName string) (*tlsBundle, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("invalid CA file")
	}
	server := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}
	client := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
		ServerName:   serverName,
	}
	return &tlsBundle{server: server, client: client}, nil
}

type tlsStream struct {
	ln  net.Listener
	cfg *tls.Config
}

func (t *tlsStream) Dial(address raft.ServerAddress, timeout time.Duration) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout}
	return tls.DialWithDialer(d, "tcp", string(address), t.cfg)
}
func (t *tlsStream) Accept() (net.Conn, error) { return t.ln.Accept() }
func (t *tlsStream) Close() error              { return t.ln.Close() }
func (t *tlsStream) Addr() net.Addr            { return t.ln.Addr() }

func (n *Node) IsLeader() bool {
	if n == nil || n.r == nil {
		return false
	}
	return n.r.State() == raft.Leader
}

func (n *Node) LeaderID() string {
	if n == nil || n.r == nil {
		return ""
	}
	addr, id := n.r.LeaderWithID()
	if id != "" {
		return string(id)
	}
	return string(addr)
}


func (n *Node) NodeID() string {
	if n == nil {
		return ""
	}
	return string(n.id)
}

func (n *Node) Close() error {
	if n == nil || n.r == nil {
		return nil
	}
	var err error
	n.closeOnce.Do(func() {
		close(n.stop)
		err = n.r.Shutdown().Error()
	})
	return err
}

// Observe registra ch como observer de cambios de peers y de leader.
// Devuelve la función que lo desregistra.
func (n *Node) Observe(ch chan raft.Observation) func() {
	obs := raft.NewObserver(ch, false, func(o *raft.Observation) bool {
		switch o.Data.(type) {
		case raft.PeerObservation, raft.LeaderObservation:
			return true
		}
		return false
	})
	n.r.RegisterObserver(obs)
	return func() { n.r.DeregisterObserver(obs) }
}


// ─── Membership helpers ───

// await espera fut respetando ctx.
func await(ctx context.Context, fut raft.Future) error {
	done := make(chan error, 1)
	go func() { done <- fut.Error() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// GetConfiguration devuelve la configuración actual del cluster Raft.
func (n *Node) GetConfiguration(ctx context.Context) (raft.Configuration, error) {
	if n == nil || n.r == nil {
		return raft.Configuration{}, errors.New("raft not initialized")
	}
	fut := n.r.GetConfiguration()
	if err := await(ctx, fut); err != nil {
		return raft.Configuration{}, err
	}
	return fut.Configuration(), nil
}

// AddVoter suma un miembro como votante. Idempotente: si ya está con la misma
// dirección no hace nada; con otra dirección lo saca y lo vuelve a agregar.
func (n *Node) AddVoter(ctx context.Context, id transport.MemberID, addr string) error {
	if n == nil || n.r == nil {
		return errors.New("raft not initialized")
	}
	if id == "" || addr == "" {
		return errors.New("add voter: id and addr are required")
	}

	n.membershipMu.Lock()
	defer n.membershipMu.Unlock()

	srv, found, err := n.lookupServer(ctx, id)
	if err != nil {
		return err
	}
	if found {
		if srv.Address == raft.ServerAddress(addr) {
			return nil
		}
		if err := await(ctx, n.r.RemoveServer(srv.ID, 0, membershipTimeout)); err != nil {
			return fmt.Errorf("remove %s before re-add: %w", id, err)
		}
	}
	return await(ctx, n.r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, membershipTimeout))
}

// RemoveServer saca un miembro de la configuración. Idempotente.
func (n *Node) RemoveServer(ctx context.Context, id transport.MemberID) error {
	if n == nil || n.r == nil {
		return errors.New("raft not initialized")
	}
	if id == "" {
		return errors.New("remove server: id is required")
	}

	n.membershipMu.Lock()
	defer n.membershipMu.Unlock()

	srv, found, err := n.lookupServer(ctx, id)
	if err != nil || !found {
		return err
	}
	return await(ctx, n.r.RemoveServer(srv.ID, 0, membershipTimeout))
}

func (n *Node) lookupServer(ctx context.Context, id transport.MemberID) (raft.Server, bool, error) {
	conf, err := n.GetConfiguration(ctx)
	if err != nil {
		return raft.Server{}, false, fmt.Errorf("get configuration: %w", err)
	}
	for _, srv := range conf.Servers {
		if srv.ID == raft.ServerID(id) {
			return srv, true, nil
		}
	}
	return raft.Server{}, false, nil
}
