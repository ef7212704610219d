// Package node assembles a running LOOM node: one event-loop goroutine
// multiplexing mesh receive callbacks and the periodic subscription
// tick over the dispatcher, exactly the cooperative single-threaded
// model the protocol core assumes. Everything that touches the
// dispatcher after Run starts goes through Do.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loom-protocol/loom-go/pkg/config"
	"github.com/loom-protocol/loom-go/pkg/devices"
	"github.com/loom-protocol/loom-go/pkg/log"
	"github.com/loom-protocol/loom-go/pkg/logical"
	"github.com/loom-protocol/loom-go/pkg/mesh"
	"github.com/loom-protocol/loom-go/pkg/mesh/meshmem"
	"github.com/loom-protocol/loom-go/pkg/mesh/meshudp"
	"github.com/loom-protocol/loom-go/pkg/persistence"
	"github.com/loom-protocol/loom-go/pkg/pool"
)

// workQueueDepth bounds pending loop work. Frames beyond it are dropped,
// which is fine for a best-effort datagram protocol.
const workQueueDepth = 256

// Options configures a Node beyond its file configuration.
type Options struct {
	// Config is the node configuration. Required fields per
	// config.Validate.
	Config config.Config

	// Transport overrides the transport built from Config. Required
	// for meshmem nodes that should share a hub.
	Transport mesh.Transport

	// Store overrides the preserved-property store built from Config.
	Store persistence.Store

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger
}

// Node hosts a set of logical devices on one mesh attachment.
type Node struct {
	cfg       config.Config
	sessionID string
	transport mesh.Transport
	store     persistence.Store
	mgr       *logical.Manager
	logger    log.Logger

	work chan func()
}

// New builds a node, its transport, and the devices declared in the
// configuration. Devices announce themselves immediately.
func New(opts Options) (*Node, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}

	transport := opts.Transport
	if transport == nil {
		var err error
		transport, err = buildTransport(cfg)
		if err != nil {
			return nil, err
		}
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = buildStore(cfg)
		if err != nil {
			transport.Close()
			return nil, err
		}
	}

	n := &Node{
		cfg:       cfg,
		sessionID: uuid.NewString(),
		transport: transport,
		store:     store,
		logger:    logger,
		work:      make(chan func(), workQueueDepth),
	}
	n.mgr = logical.NewManager(logical.Config{
		Transport: transport,
		Pool:      pool.New(cfg.Pool.SlotSize, cfg.Pool.SlotCount),
		Logger:    logger,
		SessionID: n.sessionID,
	})

	// Install the receiver now: frames arriving before Run starts queue
	// up and are drained by the loop, not lost.
	transport.SetReceiver(func(srcPhy uint32, frame []byte) {
		select {
		case n.work <- func() { n.mgr.HandleMeshReceive(srcPhy, frame) }:
		default:
			// receive queue full, frame dropped
		}
	})

	for _, dc := range cfg.Devices {
		d, err := buildDevice(dc, store)
		if err != nil {
			transport.Close()
			return nil, err
		}
		if err := n.mgr.AddDevice(d); err != nil {
			transport.Close()
			return nil, fmt.Errorf("node: register %q: %w", dc.Name, err)
		}
	}

	return n, nil
}

// SessionID returns the unique id of this node run.
func (n *Node) SessionID() string { return n.sessionID }

// Manager returns the dispatcher. Before Run it may be used directly;
// afterwards only from inside Do.
func (n *Node) Manager() *logical.Manager { return n.mgr }

// Store returns the preserved-property store.
func (n *Node) Store() persistence.Store { return n.store }

// AddDevice registers a programmatically built device. Call before Run,
// or from inside Do.
func (n *Node) AddDevice(d logical.Device) error {
	return n.mgr.AddDevice(d)
}

// Do schedules fn on the event loop and returns without waiting. Use it
// for everything that touches devices or the dispatcher once the node
// runs; fn executes when the loop gets to it.
func (n *Node) Do(fn func(m *logical.Manager)) {
	select {
	case n.work <- func() { fn(n.mgr) }:
	default:
		// queue full; dropped like any other datagram under pressure
	}
}

// Run drives the event loop until the context is cancelled.
func (n *Node) Run(ctx context.Context) error {
	n.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: n.sessionID,
		Category:  log.CategoryState,
		State:     &log.StateEvent{What: "node_started", Detail: n.cfg.Node.Name},
	})

	ticker := time.NewTicker(n.cfg.Node.TickInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.logger.Log(log.Event{
				Timestamp: time.Now(),
				SessionID: n.sessionID,
				Category:  log.CategoryState,
				State:     &log.StateEvent{What: "node_stopped", Detail: n.cfg.Node.Name},
			})
			return nil
		case <-ticker.C:
			n.mgr.UpdatePeriodic()
		case fn := <-n.work:
			fn()
		}
	}
}

// Close releases the transport.
func (n *Node) Close() error {
	return n.transport.Close()
}

func buildTransport(cfg config.Config) (mesh.Transport, error) {
	switch cfg.Mesh.Transport {
	case config.TransportUDP:
		return meshudp.New(meshudp.Config{
			SelfAddr:  cfg.Node.Addr,
			Listen:    cfg.Mesh.Listen,
			Discovery: cfg.Mesh.Discovery,
		})
	case config.TransportMem:
		// A standalone in-memory node gets a private hub; shared-hub
		// setups inject their transport through Options.
		ep, err := meshmem.NewHub().Join(cfg.Node.Addr)
		if err != nil {
			return nil, err
		}
		return ep, nil
	default:
		return nil, fmt.Errorf("node: unknown transport %q", cfg.Mesh.Transport)
	}
}

func buildStore(cfg config.Config) (persistence.Store, error) {
	if cfg.Node.StateDir == "" {
		return persistence.NewMemStore(), nil
	}
	return persistence.NewFileStore(cfg.Node.StateDir)
}

func buildDevice(dc config.DeviceConfig, store persistence.Store) (logical.Device, error) {
	switch dc.Type {
	case "relay":
		return devices.NewRelay(dc.Name, dc.Port, store), nil
	case "button":
		return devices.NewButton(dc.Name, dc.Port), nil
	case "temperature":
		return devices.NewTemperatureSensor(dc.Name, dc.Port), nil
	default:
		return nil, fmt.Errorf("node: unknown device type %q", dc.Type)
	}
}
