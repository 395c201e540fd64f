package node

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-i2p/go-onion/lib/config"
	"github.com/go-i2p/go-onion/lib/ipport"
	"github.com/go-i2p/go-onion/lib/keys"
	"github.com/go-i2p/go-onion/lib/metrics"
	"github.com/go-i2p/go-onion/lib/onion"
	"github.com/go-i2p/go-onion/lib/transport"
	"github.com/go-i2p/go-onion/lib/transport/udp"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// IdentityName is the keystore file name under the working directory.
const IdentityName = "identity"

var (
	ErrNotRunning   = errors.New("node is not running")
	ErrReservedKind = errors.New("packet kind is reserved for onion routing")
)

// Node is a running onion relay and client.
type Node struct {
	cfg      *config.NodeConfig
	identity *keys.KeyPair

	onion      *onion.Onion
	metrics    *metrics.Metrics
	dispatcher *transport.Dispatcher
	limiter    *transport.SourceLimiter
	fallback   onion.FallbackHandler

	// protects running, udp and cancel
	runMux        sync.Mutex
	running       bool
	udp           *udp.Transport
	metricsServer *http.Server
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	closeChnl chan struct{}
	closeOnce sync.Once
}

// Option customizes a Node.
type Option func(*Node)

// WithFallback hands deliveries to virtual addresses to h.
func WithFallback(h onion.FallbackHandler) Option {
	return func(n *Node) {
		n.fallback = h
	}
}

// WithMetrics replaces the node's private metrics set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Node) {
		n.metrics = m
	}
}

// FromConfig loads or creates the identity in cfg.WorkingDir and builds a
// Node from it.
func FromConfig(cfg *config.NodeConfig, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	identity, err := keys.LoadOrCreateIdentity(cfg.WorkingDir, IdentityName)
	if err != nil {
		return nil, oops.Wrapf(err, "loading identity")
	}
	return New(cfg, identity, opts...)
}

// New builds a stopped Node around identity.
func New(cfg *config.NodeConfig, identity *keys.KeyPair, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Node{
		cfg:        cfg,
		identity:   identity,
		dispatcher: transport.NewDispatcher(),
		closeChnl:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.metrics == nil {
		n.metrics = metrics.New()
	}

	onionOpts := []onion.Option{
		onion.WithKeyCacheSize(cfg.KeyCacheSize),
		onion.WithRotationInterval(cfg.RotationInterval),
	}
	if n.fallback != nil {
		onionOpts = append(onionOpts, onion.WithFallback(n.fallback))
	}
	o, err := onion.New(identity, onionOpts...)
	if err != nil {
		return nil, oops.Wrapf(err, "creating onion context")
	}
	n.onion = o
	n.registerOnionHandlers()

	log.WithFields(logger.Fields{
		"at":         "New",
		"public_key": identity.PublicHex(),
	}).Debug("created node")
	return n, nil
}

// Start binds the UDP socket and starts the read and rotation loops and,
// when configured, the metrics endpoint.
func (n *Node) Start() error {
	n.runMux.Lock()
	defer n.runMux.Unlock()

	if n.running {
		log.WithFields(logger.Fields{
			"at":     "(Node) Start",
			"reason": "node is already running",
		}).Error("Error starting node")
		return nil
	}

	n.limiter = transport.NewSourceLimiter(n.cfg.RateLimit, n.cfg.RateBurst, n.cfg.SourceIdleTimeout)
	tr, err := udp.Listen(udp.Config{
		ListenAddress: n.cfg.ListenAddress,
		MaxDatagram:   onion.MaxPacketSize,
		Limiter:       n.limiter,
		OnDrop:        n.transportDrop,
	}, n.dispatcher)
	if err != nil {
		n.limiter.Stop()
		return oops.Wrapf(err, "starting UDP transport")
	}

	if n.cfg.MetricsAddress != "" {
		if err := n.startMetrics(); err != nil {
			tr.Close()
			n.limiter.Stop()
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.udp = tr
	n.cancel = cancel
	n.running = true

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		if err := tr.Serve(ctx); err != nil {
			log.WithError(err).WithField("at", "(Node) Start").Error("UDP read loop failed")
		}
	}()
	go func() {
		defer n.wg.Done()
		n.rotationLoop(ctx)
	}()

	log.WithFields(logger.Fields{
		"at":         "(Node) Start",
		"listen":     tr.LocalAddr().String(),
		"public_key": n.identity.PublicHex(),
	}).Info("Node started")
	return nil
}

func (n *Node) startMetrics() error {
	ln, err := net.Listen("tcp", n.cfg.MetricsAddress)
	if err != nil {
		return oops.Wrapf(err, "listening for metrics on %s", n.cfg.MetricsAddress)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", n.metrics.Handler())
	n.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	n.wg.Add(1)
	go func(srv *http.Server) {
		defer n.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField("at", "(Node) startMetrics").Error("metrics server failed")
		}
	}(n.metricsServer)

	log.WithField("listen", ln.Addr().String()).Info("Serving metrics")
	return nil
}

// Stop halts the loops and closes the socket. A stopped node cannot be
// restarted.
func (n *Node) Stop() {
	log.Debug("Stopping node")
	n.runMux.Lock()
	if !n.running {
		n.runMux.Unlock()
		log.Debug("Node already stopped")
		return
	}
	n.running = false
	n.cancel()
	if err := n.udp.Close(); err != nil {
		log.WithError(err).Warn("closing UDP transport")
	}
	if n.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.metricsServer.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("shutting down metrics server")
		}
		cancel()
	}
	n.runMux.Unlock()

	n.wg.Wait()
	n.limiter.Stop()
	n.closeOnce.Do(func() { close(n.closeChnl) })
	log.Debug("Node stopped")
}

// Wait blocks until the node stops.
func (n *Node) Wait() {
	<-n.closeChnl
}

// Close stops the node and wipes its key material.
func (n *Node) Close() error {
	n.Stop()
	n.closeOnce.Do(func() { close(n.closeChnl) })
	n.onion.Close()
	return nil
}

// PublicKey returns the node's long-term public key.
func (n *Node) PublicKey() [32]byte {
	return n.identity.Public
}

// LocalAddr returns the bound UDP address, or the zero IPPort when the
// node is not running.
func (n *Node) LocalAddr() ipport.IPPort {
	n.runMux.Lock()
	defer n.runMux.Unlock()
	if n.udp == nil {
		return ipport.IPPort{}
	}
	return n.udp.LocalAddr()
}

// Onion exposes the node's packet layer.
func (n *Node) Onion() *onion.Onion {
	return n.onion
}

// Metrics returns the node's collectors.
func (n *Node) Metrics() *metrics.Metrics {
	return n.metrics
}

func (n *Node) activeTransport() (*udp.Transport, error) {
	n.runMux.Lock()
	defer n.runMux.Unlock()
	if !n.running {
		return nil, ErrNotRunning
	}
	return n.udp, nil
}
