// Package node implements the node controller: the lifecycle state
// machine, UDP socket, and background schedulers (bootstrap, bucket
// refresh, republish, expiration) that tie the rest of the packages into a
// running Boson DHT participant for one address family.
package node

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"boson/dispatch"
	"boson/identity"
	"boson/lookup"
	"boson/pkg/config"
	"boson/rpc"
	"boson/routing"
	"boson/storage"
	"boson/token"
	"boson/types"
	"boson/wire"
)

var log = logrus.WithField("component", "node")

// SetLogOutput redirects this package's log output, for embedding
// applications that want to route node logs somewhere other than stderr.
func SetLogOutput(w io.Writer) {
	log.Logger.SetOutput(w)
}

// Node runs one Boson DHT participant bound to a single address family
// (IPv4 or IPv6). Dual-stack operation is achieved by constructing two
// independent Nodes, one per family, each with its own socket, routing
// table, and schedulers. Each Node loads its own KeyPair from its DataDir and
// builds its own Store in Start; the two share nothing.
type Node struct {
	opts Options
	cfg  *config.Config
	clk  clock.Clock

	statusMu  sync.Mutex
	status    Status
	listeners []StatusListener

	identity *identity.KeyPair
	table    *routing.Table
	store    *storage.Store
	tokens   *token.Manager
	engine   *rpc.Engine
	disp     *dispatch.Dispatcher

	lock      *dataDirLock
	transport *udpTransport

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Node in the CREATED state. It performs no I/O.
func New(opts Options, cfg *config.Config) *Node {
	if opts.SessionId == uuid.Nil {
		opts.SessionId = uuid.New()
	}
	return &Node{
		opts:   opts,
		cfg:    cfg,
		clk:    clock.New(),
		status: Created,
		stopCh: make(chan struct{}),
	}
}

func durationS(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// applyLogLevel sets this node's log verbosity and destination from
// cfg.Logging. --developerMode always forces debug level regardless of the
// configured level, the way a local devnet run wants noisier logs than a
// production deployment.
func (n *Node) applyLogLevel() {
	levelStr := n.cfg.Logging.Level
	if n.opts.DeveloperMode {
		levelStr = "debug"
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.Logger.SetLevel(level)

	if n.cfg.Logging.File == "" {
		return
	}
	f, err := os.OpenFile(n.cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		log.WithError(err).WithField("file", n.cfg.Logging.File).Warn("node: could not open log file, keeping stderr")
		return
	}
	log.Logger.SetOutput(f)
}

// Start acquires the data directory lock, loads or generates the node's
// identity, builds the routing/storage/token/rpc stack, binds the UDP
// socket, and starts the background schedulers. It transitions
// CREATED -> INITIALIZING -> RUNNING.
func (n *Node) Start(ctx context.Context) error {
	if n.Status() != Created {
		return fmt.Errorf("node: Start called from state %s, want %s", n.Status(), Created)
	}
	n.setStatus(Initializing)
	n.applyLogLevel()
	log.WithField("session", n.opts.SessionId).Info("node: starting")

	lock, err := acquireLock(n.opts.DataDir)
	if err != nil {
		return err
	}
	n.lock = lock

	kp, err := loadOrGenerateKey(n.opts.DataDir)
	if err != nil {
		n.lock.release()
		return err
	}
	n.identity = kp
	self := kp.Id()

	k := n.cfg.Routing.K
	if k <= 0 {
		k = 8
	}
	maxTimeouts := n.cfg.Routing.MaxTimeouts
	if maxTimeouts <= 0 {
		maxTimeouts = 3
	}
	refresh := durationS(n.cfg.Routing.BucketRefreshInterval, 15*time.Minute)
	n.table = routing.New(self, k, maxTimeouts, refresh)
	n.store = storage.New()

	rotation := durationS(n.cfg.Token.RotationIntervalS, token.RotationInterval)
	tokens, err := token.NewManager(rotation, n.clk)
	if err != nil {
		n.lock.release()
		return fmt.Errorf("node: create token manager: %w", err)
	}
	n.tokens = tokens

	rpcCfg := rpc.DefaultConfig()
	if ms := n.cfg.RPC.CallTimeoutMaxMS; ms > 0 {
		rpcCfg.MaxTimeout = time.Duration(ms) * time.Millisecond
	}
	if ms := n.cfg.RPC.TimeoutBaselineMin; ms > 0 {
		rpcCfg.BaselineMin = time.Duration(ms) * time.Millisecond
	}
	if r := n.cfg.RPC.MaxRetries; r > 0 {
		rpcCfg.MaxRetries = r
	}
	if q := n.cfg.RPC.ThrottleQPS; q > 0 {
		rpcCfg.ThrottleQPS = q
	}
	n.engine = rpc.New(rpcCfg, nil, rpc.CBORCodec, n.clk)

	maxPeerAge := durationS(n.cfg.Storage.MaxPeerAgeS, 30*time.Minute)
	maxValueAge := durationS(n.cfg.Storage.MaxValueAgeS, 2*time.Hour)
	n.disp = dispatch.New(dispatch.Config{K: k, MaxPeerAge: maxPeerAge, MaxValueAge: maxValueAge}, self, n.table, n.store, n.tokens, func() time.Time { return n.clk.Now() })

	host := n.opts.Address4
	if host == "" {
		host = n.opts.Address6
	}
	transport, err := listenUDP(host, n.opts.Port)
	if err != nil {
		n.lock.release()
		return err
	}
	n.transport = transport
	n.engine.SetTransport(transport)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		transport.readLoop(n.handleDatagram)
	}()

	n.startSchedulers()
	n.bootstrap(ctx)

	n.setStatus(Running)
	return nil
}

// handleDatagram is the UDP read loop's per-packet callback: it hands the
// frame to the engine, which either matches it to an in-flight call or
// returns it as a REQUEST for the dispatcher, whose reply is encoded and
// sent back over the same socket.
func (n *Node) handleDatagram(remoteAddr string, data []byte) {
	env, isRequest, err := n.engine.HandleDatagram(remoteAddr, data)
	if err != nil {
		log.WithError(err).WithField("from", remoteAddr).Debug("node: dropping undecodable datagram")
		return
	}
	if !isRequest {
		return
	}
	resp := n.disp.HandleRequest(remoteAddr, *env)
	frame, err := rpc.CBORCodec.Encode(resp)
	if err != nil {
		log.WithError(err).Error("node: failed to encode response")
		return
	}
	if err := n.transport.Send(context.Background(), remoteAddr, frame); err != nil {
		log.WithError(err).WithField("to", remoteAddr).Debug("node: failed to send response")
	}
}

// bootstrap seeds the routing table from the configured bootstrap peers and
// runs a self-lookup to populate nearby buckets, per the usual Kademlia
// join sequence.
func (n *Node) bootstrap(ctx context.Context) {
	var seed []types.NodeInfo
	for _, entry := range n.opts.Bootstrap {
		ni, err := parseBootstrapEntry(entry)
		if err != nil {
			log.WithError(err).WithField("entry", entry).Warn("node: skipping malformed bootstrap entry")
			continue
		}
		seed = append(seed, ni)
		n.table.Add(ni, n.clk.Now())
	}
	if len(seed) == 0 {
		return
	}
	alpha := n.cfg.Lookup.Alpha
	if alpha <= 0 {
		alpha = lookup.DefaultAlpha
	}
	k := n.cfg.Routing.K
	if k <= 0 {
		k = 8
	}
	lk := lookup.NodeLookup(n.engine, n.identity.Id(), n.identity.Id(), seed, alpha, k, wire.WantIPv4)
	out, err := lk.Run(ctx)
	if err != nil {
		log.WithError(err).Debug("node: bootstrap self-lookup did not complete")
		return
	}
	for _, ni := range out.ClosestNodes {
		n.table.Add(ni, n.clk.Now())
	}
}

// startSchedulers starts the bucket-refresh, republish/announce, and
// expiration-sweep background loops, each on its own benbjohnson/clock
// ticker so tests can drive them deterministically.
func (n *Node) startSchedulers() {
	refresh := durationS(n.cfg.Routing.BucketRefreshInterval, 15*time.Minute)
	republish := durationS(n.cfg.Storage.RepublishS, 15*time.Minute)
	expireInterval := durationS(n.cfg.Storage.ExpireIntervalS, 5*time.Minute)
	maxValueAge := durationS(n.cfg.Storage.MaxValueAgeS, 2*time.Hour)
	maxPeerAge := durationS(n.cfg.Storage.MaxPeerAgeS, 30*time.Minute)

	n.runTicker(refresh, n.refreshStaleBuckets)
	n.runTicker(republish, n.republishPersistent)
	n.runTicker(expireInterval, func() {
		n.store.ExpireSweep(n.clk.Now(), maxValueAge, maxPeerAge)
	})
}

// parseBootstrapEntry parses an "id:host:port" bootstrap string into a
// NodeInfo, where id is the node's base58-encoded public key.
func parseBootstrapEntry(entry string) (types.NodeInfo, error) {
	parts := strings.SplitN(entry, ":", 3)
	if len(parts) != 3 {
		return types.NodeInfo{}, fmt.Errorf("node: bootstrap entry %q must be id:host:port", entry)
	}
	id, err := types.IdFromBase58(parts[0])
	if err != nil {
		return types.NodeInfo{}, fmt.Errorf("node: bootstrap entry %q: %w", entry, err)
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return types.NodeInfo{}, fmt.Errorf("node: bootstrap entry %q: bad port: %w", entry, err)
	}
	return types.NodeInfo{Id: id, Host: parts[1], Port: port}, nil
}

func (n *Node) runTicker(interval time.Duration, tick func()) {
	if interval <= 0 {
		return
	}
	ticker := n.clk.Ticker(interval)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-n.stopCh:
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
}

// refreshStaleBuckets runs a NodeLookup toward one random id per bucket
// that has gone quiet longer than the refresh interval.
func (n *Node) refreshStaleBuckets() {
	targets := n.table.StaleBucketTargets(n.clk.Now())
	if len(targets) == 0 {
		return
	}
	alpha := n.cfg.Lookup.Alpha
	if alpha <= 0 {
		alpha = lookup.DefaultAlpha
	}
	k := n.cfg.Routing.K
	if k <= 0 {
		k = 8
	}
	self := n.identity.Id()
	for _, target := range targets {
		seed := n.table.Closest(target, k)
		if len(seed) == 0 {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), durationS(n.cfg.Lookup.TimeoutS, lookup.DefaultTimeout))
		lk := lookup.NodeLookup(n.engine, self, target, seed, alpha, k, wire.WantIPv4)
		out, err := lk.Run(ctx)
		cancel()
		if err != nil {
			continue
		}
		for _, ni := range out.ClosestNodes {
			n.table.Add(ni, n.clk.Now())
		}
	}
}

// republishPersistent re-announces every persistent value and peer record
// to the K nodes closest to its key, refreshing the token for each target
// before the STORE_VALUE/ANNOUNCE_PEER call.
func (n *Node) republishPersistent() {
	now := n.clk.Now()
	cutoff := now.Add(-durationS(n.cfg.Storage.RepublishS, 15*time.Minute))
	k := n.cfg.Routing.K
	if k <= 0 {
		k = 8
	}
	self := n.identity.Id()
	ctx, cancel := context.WithTimeout(context.Background(), durationS(n.cfg.Lookup.TimeoutS, lookup.DefaultTimeout))
	defer cancel()

	for _, rec := range n.store.GetPersistentValues(cutoff) {
		vw := wire.ValueWireFrom(rec.Value)
		for _, target := range n.table.Closest(rec.Value.Id, k) {
			tokResp, err := n.engine.Call(ctx, target, wire.MethodFindNode, wire.RequestArgs{Id: self, Target: &rec.Value.Id, Want: wire.WantToken})
			if err != nil || tokResp.Token == nil {
				continue
			}
			if _, err := n.engine.Call(ctx, target, wire.MethodStoreValue, wire.RequestArgs{Id: self, Target: &rec.Value.Id, Value: &vw, Token: tokResp.Token}); err != nil {
				log.WithError(err).WithField("target", target).Debug("node: republish STORE_VALUE failed")
				continue
			}
			n.store.UpdateValueLastAnnounce(rec.Value.Id, now)
		}
	}

	for _, rec := range n.store.GetPersistentPeers(cutoff) {
		pw := wire.PeerWireFrom(rec.Peer, false)
		for _, target := range n.table.Closest(rec.ServiceId, k) {
			tokResp, err := n.engine.Call(ctx, target, wire.MethodFindNode, wire.RequestArgs{Id: self, Target: &rec.ServiceId, Want: wire.WantToken})
			if err != nil || tokResp.Token == nil {
				continue
			}
			if _, err := n.engine.Call(ctx, target, wire.MethodAnnouncePeer, wire.RequestArgs{Id: self, Target: &rec.ServiceId, Peer: &pw, Token: tokResp.Token}); err != nil {
				log.WithError(err).WithField("target", target).Debug("node: republish ANNOUNCE_PEER failed")
				continue
			}
			n.store.UpdatePeerLastAnnounce(rec.ServiceId, rec.Peer.Id, now)
		}
	}
}

// Stop transitions RUNNING -> STOPPING -> STOPPED: it stops the
// schedulers, cancels every pending outbound call, closes the socket, waits
// for the read loop and scheduler goroutines to exit, then releases the
// data directory lock.
func (n *Node) Stop() error {
	if n.Status() != Running {
		return fmt.Errorf("node: Stop called from state %s, want %s", n.Status(), Running)
	}
	n.setStatus(Stopping)

	close(n.stopCh)
	n.engine.Stop()
	if n.transport != nil {
		n.transport.close()
	}
	n.wg.Wait()

	if n.identity != nil {
		n.identity.Destroy()
	}
	if err := n.lock.release(); err != nil {
		n.setStatus(Stopped)
		return err
	}
	n.setStatus(Stopped)
	return nil
}

// Identity returns the node's key pair. It is nil before Start succeeds.
func (n *Node) Identity() *identity.KeyPair { return n.identity }

// Table returns the node's routing table. It is nil before Start succeeds.
func (n *Node) Table() *routing.Table { return n.table }

// Store returns the node's local store. It is nil before Start succeeds.
func (n *Node) Store() *storage.Store { return n.store }

// LocalAddr returns the bound UDP socket's address, useful when Options.Port
// was 0 and the kernel picked an ephemeral port. It is nil before Start
// succeeds.
func (n *Node) LocalAddr() net.Addr {
	if n.transport == nil {
		return nil
	}
	return n.transport.localAddr()
}
