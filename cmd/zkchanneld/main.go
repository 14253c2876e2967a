// Command zkchanneld is the merchant-side daemon: it holds the merchant's
// long-lived statedb.StateDatabase and one merchant.Core per open channel,
// and answers customer connections' Establish/Activate/Pay frames over
// protocol.MerchantDriver -- the same relationship lnd.go's lndMain has to
// htlcswitch, just with one sub-protocol call per accepted connection
// instead of an always-on peer loop.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zkchannels/zkchanneld/zkchan"
	"github.com/zkchannels/zkchanneld/zkchan/merchant"
	"github.com/zkchannels/zkchanneld/zkchan/metrics"
	"github.com/zkchannels/zkchanneld/zkchan/mpcbridge"
	"github.com/zkchannels/zkchanneld/zkchan/persist"
	"github.com/zkchannels/zkchanneld/zkchan/protocol"
	"github.com/zkchannels/zkchanneld/zkchan/statedb"
	"github.com/zkchannels/zkchanneld/zkchan/statedb/bolt"
	"github.com/zkchannels/zkchanneld/zkchan/statedb/etcdkv"
	"github.com/zkchannels/zkchanneld/zkchan/statedb/postgres"
)

func main() {
	if err := zkcdMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func zkcdMain() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, closeDB, err := openStateDB(cfg)
	if err != nil {
		return fmt.Errorf("open statedb: %w", err)
	}
	defer closeDB()

	store, err := persist.Open(cfg.DataDir + "/merchant.db")
	if err != nil {
		return fmt.Errorf("open persist store: %w", err)
	}
	defer store.Close()

	var reg *metrics.Registry
	if cfg.MetricsAddr != "" {
		promReg := prometheus.NewRegistry()
		reg = metrics.NewRegistry(promReg)
		go serveMetrics(cfg.MetricsAddr, promReg)
	}

	d := newDaemon(db, reg)

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	defer listener.Close()
	zkcdLog.Infof("listening for customer connections on %s", cfg.ListenAddr)

	var mpcListener net.Listener
	if cfg.MPCListenAddr != "" {
		mpcListener, err = net.Listen("tcp", cfg.MPCListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.MPCListenAddr, err)
		}
		defer mpcListener.Close()
		d.mpcListener = mpcListener
		zkcdLog.Infof("listening for MPC connections on %s", cfg.MPCListenAddr)
	}

	go d.acceptLoop(listener)

	controlListener, err := net.Listen("tcp", cfg.ControlAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ControlAddr, err)
	}
	defer controlListener.Close()
	zkcdLog.Infof("listening for control requests on %s", cfg.ControlAddr)
	go d.controlLoop(controlListener)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	zkcdLog.Infof("shutting down")
	return nil
}

func openStateDB(cfg *config) (statedb.StateDatabase, func(), error) {
	switch cfg.DBBackend {
	case "postgres":
		db, err := postgres.Open(context.Background(), cfg.PGConnStr)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	case "etcd":
		db, err := etcdkv.Open(cfg.EtcdHosts, "zkchanneld")
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	default:
		db, err := bolt.Open(cfg.DataDir + "/statedb.bolt")
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	zkcdLog.Infof("serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		zkcdLog.Errorf("metrics server: %v", err)
	}
}

// daemon holds everything an accepted connection needs to act on.
// pending holds channels OpenChannel'd (via the control RPC a deployment
// front-ends this daemon with) but not yet Establish'd.
type daemon struct {
	driver *protocol.MerchantDriver
	reg    *metrics.Registry

	mpcListener net.Listener

	mu      sync.Mutex
	pending map[string]pendingChannel
}

type pendingChannel struct {
	core     *merchant.Core
	mpcState zkchan.ChannelMPCState
}

func newDaemon(db statedb.StateDatabase, reg *metrics.Registry) *daemon {
	return &daemon{
		driver:  protocol.NewMerchantDriver(db, nil),
		reg:     reg,
		pending: make(map[string]pendingChannel),
	}
}

// OpenChannel seeds a new channel under name, to be claimed by the next
// incoming connection whose hello frame names it. This is zkchanneld's
// equivalent of the CLI's "open --party merch" step, reached over the
// local TCP control listener (controladdr, see control.go); that listener
// does no authentication.
func (d *daemon) OpenChannel(name string, params zkchan.ChannelMPCState) (zkchan.ChannelMPCState, error) {
	core, mpcState, err := d.driver.OpenChannel(name, params)
	if err != nil {
		return zkchan.ChannelMPCState{}, err
	}
	d.mu.Lock()
	d.pending[name] = pendingChannel{core: core, mpcState: mpcState}
	d.mu.Unlock()
	return mpcState, nil
}

func (d *daemon) acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			zkcdLog.Errorf("accept: %v", err)
			return
		}
		go d.handleConn(conn)
	}
}

// hello is the one-frame preamble every customer connection sends before
// any sub-protocol frame: which step it wants to run, and (for establish)
// which pending channel name it's claiming, or (for pay) the channel token
// so Pay can look the channel up before its first real frame arrives.
func (d *daemon) handleConn(netConn net.Conn) {
	defer netConn.Close()
	conn := protocol.NewFrameConn(netConn)

	hello, err := conn.RecvFrame()
	if err != nil {
		zkcdLog.Errorf("recv hello: %v", err)
		return
	}
	if len(hello) < 1 {
		zkcdLog.Errorf("empty hello frame")
		return
	}
	command := string(hello[0])

	switch command {
	case "establish":
		d.handleEstablish(conn, hello)
	case "activate":
		d.handleActivate(conn)
	case "pay":
		d.handlePay(conn, hello)
	default:
		zkcdLog.Errorf("unknown hello command %q", command)
	}
}

func (d *daemon) handleEstablish(conn *protocol.FrameConn, hello [][]byte) {
	if len(hello) < 2 {
		zkcdLog.Errorf("establish hello missing channel name")
		return
	}
	name := string(hello[1])

	d.mu.Lock()
	pc, ok := d.pending[name]
	delete(d.pending, name)
	d.mu.Unlock()
	if !ok {
		zkcdLog.Errorf("establish: no pending channel named %q", name)
		return
	}
	outcome := metrics.OutcomeOK
	if err := d.driver.Establish(conn, pc.core, pc.mpcState); err != nil {
		zkcdLog.Errorf("establish %q: %v", name, err)
		outcome = metrics.OutcomeError
	}
	if d.reg != nil {
		d.reg.EstablishTotal.WithLabelValues(outcome).Inc()
		if outcome == metrics.OutcomeOK {
			d.reg.ChannelsOpenedTotal.Inc()
		}
	}
}

func (d *daemon) handleActivate(conn *protocol.FrameConn) {
	outcome := metrics.OutcomeOK
	if err := d.driver.Activate(conn); err != nil {
		zkcdLog.Errorf("activate: %v", err)
		outcome = metrics.OutcomeError
	}
	if d.reg != nil {
		d.reg.ActivateTotal.WithLabelValues(outcome).Inc()
	}
}

func (d *daemon) handlePay(conn *protocol.FrameConn, hello [][]byte) {
	if len(hello) < 2 {
		zkcdLog.Errorf("pay hello missing channel token")
		return
	}
	var token zkchan.ChannelToken
	if err := json.Unmarshal(hello[1], &token); err != nil {
		zkcdLog.Errorf("pay hello: unmarshal token: %v", err)
		return
	}

	if d.mpcListener == nil {
		zkcdLog.Errorf("pay: daemon has no mpclistenaddr configured")
		return
	}
	mpcConn, err := d.mpcListener.Accept()
	if err != nil {
		zkcdLog.Errorf("pay: accept mpc connection: %v", err)
		return
	}
	defer mpcConn.Close()
	mpc := mpcbridge.NewTCPTransport(mpcConn)

	outcome := metrics.OutcomeOK
	if err := d.driver.Pay(context.Background(), conn, mpc, &token); err != nil {
		zkcdLog.Errorf("pay: %v", err)
		outcome = metrics.OutcomeError
	}
	if d.reg != nil {
		d.reg.PayTotal.WithLabelValues(outcome).Inc()
	}
}
