// Package app arma un nodo completo a partir de la configuración: transporte,
// membership, servicio de streams de cliente, registry remoto y HTTP.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/streamhub/internal/cluster"
	"github.com/dropDatabas3/streamhub/internal/config"
	"github.com/dropDatabas3/streamhub/internal/httpserver"
	"github.com/dropDatabas3/streamhub/internal/metrics"
	"github.com/dropDatabas3/streamhub/internal/observability/logger"
	"github.com/dropDatabas3/streamhub/internal/stream"
	"github.com/dropDatabas3/streamhub/internal/stream/remote"
	"github.com/dropDatabas3/streamhub/internal/transport"
	"github.com/dropDatabas3/streamhub/internal/transport/memory"
	redistr "github.com/dropDatabas3/streamhub/internal/transport/redis"
)

// Deps permite inyectar piezas ya construidas (tests, embebido).
type Deps struct {
	// Transport reemplaza al construido según transport.kind.
	Transport transport.Transport
	// Membership reemplaza a la fuente construida según cluster.mode.
	Membership cluster.Source
	// Registry para métricas; nil => registry por defecto.
	Registry *prometheus.Registry
	Logger   *zap.Logger
	// DisableHTTP no levanta /metrics ni /readyz.
	DisableHTTP bool
}

// Node es un proceso streamhub cableado.
type Node struct {
	cfg        *config.Config
	log        *zap.Logger
	transport  transport.Transport
	redis      *redistr.Transport
	raft       *cluster.Node
	membership cluster.Source
	http       *httpserver.Server
	ready      atomic.Bool

	// Client es la API de suscripción del nodo.
	Client *stream.ClientStreamService[stream.BytesMetadata]
	// Remote empuja payloads a los clientes que abrieron streams en este nodo.
	Remote *remote.Service
}

// New construye el nodo. Con transport redis abre el inbox, por eso recibe ctx.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Node, error) {
	log := deps.Logger
	if log == nil {
		log = logger.Named("app")
	}
	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	if deps.Registry != nil {
		reg = deps.Registry
	}
	if err := metrics.Register(reg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	n := &Node{cfg: cfg, log: log}
	if err := n.buildTransport(ctx, deps.Transport); err != nil {
		return nil, err
	}
	if err := n.buildMembership(deps.Membership); err != nil {
		n.closeTransport()
		return nil, err
	}

	notify := true
	if cfg.Stream.NotifyOnRemove != nil {
		notify = *cfg.Stream.NotifyOnRemove
	}
	n.Client = stream.NewClientStreamService[stream.BytesMetadata](n.transport, stream.ServiceOptions{
		Requests: stream.RequestManagerOptions{
			Attempts:       cfg.Stream.OpenAttempts,
			Backoff:        cfg.Stream.RetryBackoff,
			Timeout:        cfg.Transport.RequestTimeout,
			NotifyOnRemove: notify,
			Logger:         log.Named("stream.requests"),
		},
		PushTimeout: cfg.Stream.PushTimeout,
		Logger:      log.Named("stream"),
	})
	n.Remote = remote.NewService(n.transport, remote.Options{
		PushTimeout: cfg.Stream.PushTimeout,
		Logger:      log.Named("stream.remote"),
	})
	n.membership.Subscribe(n.Client)
	n.membership.Subscribe(n.Remote)

	if !deps.DisableHTTP {
		srv, err := httpserver.New(httpserver.Options{
			Addr:     cfg.HTTP.Addr,
			Registry: deps.Registry,
			Ready:    n.Ready,
			Logger:   log.Named("http"),
		})
		if err != nil {
			n.shutdown(context.Background())
			return nil, err
		}
		n.http = srv
	}
	return n, nil
}

func (n *Node) buildTransport(ctx context.Context, injected transport.Transport) error {
	if injected != nil {
		n.transport = injected
		return nil
	}
	member := transport.MemberID(n.cfg.Node.ID)
	switch n.cfg.Transport.Kind {
	case "memory":
		n.transport = memory.NewHub().Join(member)
	case "redis":
		t, err := redistr.New(redistr.Options{
			Member:         member,
			Addr:           n.cfg.Transport.Redis.Addr,
			DB:             n.cfg.Transport.Redis.DB,
			Password:       n.cfg.Transport.Redis.Password,
			Prefix:         n.cfg.Transport.Redis.Prefix,
			RequestTimeout: n.cfg.Transport.RequestTimeout,
			Logger:         n.log.Named("transport.redis"),
		})
		if err != nil {
			return fmt.Errorf("redis transport: %w", err)
		}
		if err := t.Open(ctx); err != nil {
			_ = t.Close()
			return fmt.Errorf("redis transport: %w", err)
		}
		n.transport, n.redis = t, t
	default:
		return fmt.Errorf("unknown transport kind %q", n.cfg.Transport.Kind)
	}
	return nil
}

func (n *Node) buildMembership(injected cluster.Source) error {
	if injected != nil {
		n.membership = injected
		return nil
	}
	switch n.cfg.Cluster.Mode {
	case "off":
		members := make([]transport.MemberID, 0, len(n.cfg.Cluster.Members)+1)
		for _, m := range n.cfg.Cluster.Members {
			members = append(members, transport.MemberID(m))
		}
		if len(members) == 0 {
			// single-process: el nodo es su propio servidor
			members = append(members, transport.MemberID(n.cfg.Node.ID))
		}
		n.membership = cluster.NewStaticMembership(members)
	case "embedded":
		fsm := cluster.NewFSM()
		node, err := cluster.NewNode(cluster.NodeOptions{
			NodeID:            n.cfg.Node.ID,
			RaftAddr:          n.cfg.Cluster.RaftAddr,
			RaftDir:           filepath.Join(n.cfg.Cluster.RaftDir, n.cfg.Node.ID),
			FSM:               fsm,
			Peers:             n.cfg.Cluster.Nodes,
			DisableBootstrap:  n.cfg.Cluster.DisableBootstrap,
			RaftTLSEnable:     n.cfg.Cluster.RaftTLSEnable,
			RaftTLSCertFile:   n.cfg.Cluster.RaftTLSCertFile,
			RaftTLSKeyFile:    n.cfg.Cluster.RaftTLSKeyFile,
			RaftTLSCAFile:     n.cfg.Cluster.RaftTLSCAFile,
			RaftTLSServerName: n.cfg.Cluster.RaftTLSServerName,
			Logger:            n.log.Named("cluster"),
		})
		if err != nil {
			return fmt.Errorf("raft: %w", err)
		}
		n.raft = node
		n.membership = cluster.NewMembership(node, fsm, cluster.MembershipOptions{
			Peers:  n.cfg.Cluster.Nodes,
			Resync: n.cfg.Cluster.Resync,
			Logger: n.log.Named("cluster.membership"),
		})
	default:
		return fmt.Errorf("unknown cluster mode %q", n.cfg.Cluster.Mode)
	}
	return nil
}

// Ready: el nodo está corriendo y conoce al menos un miembro.
func (n *Node) Ready(context.Context) error {
	if !n.ready.Load() {
		return errors.New("node not running")
	}
	if len(n.membership.Members()) == 0 {
		return errors.New("no cluster members")
	}
	return nil
}

// Members devuelve los miembros conocidos por la fuente de membership.
func (n *Node) Members() []transport.MemberID { return n.membership.Members() }

// Run corre membership, transporte y HTTP hasta que ctx se cancela o alguno
// falla. Los streams se cierran antes de detener el transporte para que el
// remove-all llegue a los miembros.
func (n *Node) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(context.Background())
	defer stopServe()

	if n.redis != nil {
		g.Go(func() error { return n.redis.Serve(serveCtx) })
	}
	g.Go(func() error { return n.membership.Run(gctx) })
	if n.http != nil {
		g.Go(func() error { return n.http.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		n.ready.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := n.closeStreams(shutdownCtx)
		stopServe()
		return err
	})

	n.ready.Store(true)
	n.log.Info("node running",
		logger.Member(n.cfg.Node.ID),
		logger.String("cluster_mode", n.cfg.Cluster.Mode),
		logger.String("transport", n.cfg.Transport.Kind))

	err := g.Wait()
	n.closeRaft()
	n.closeTransport()
	n.log.Info("node stopped", logger.Member(n.cfg.Node.ID))
	return err
}

func (n *Node) closeStreams(ctx context.Context) error {
	var err error
	if n.Client != nil {
		err = n.Client.Close(ctx)
	}
	if n.Remote != nil {
		n.Remote.Close()
	}
	return err
}

func (n *Node) closeRaft() {
	if n.raft == nil {
		return
	}
	if err := n.raft.Close(); err != nil {
		n.log.Warn("raft shutdown", logger.Err(err))
	}
}

func (n *Node) closeTransport() {
	if n.transport == nil {
		return
	}
	if err := n.transport.Close(); err != nil {
		n.log.Warn("transport close", logger.Err(err))
	}
}

func (n *Node) shutdown(ctx context.Context) {
	_ = n.closeStreams(ctx)
	n.closeRaft()
	n.closeTransport()
}
