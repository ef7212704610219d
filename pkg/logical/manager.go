package logical

import (
	"errors"
	"time"

	"github.com/loom-protocol/loom-go/pkg/clock"
	"github.com/loom-protocol/loom-go/pkg/log"
	"github.com/loom-protocol/loom-go/pkg/mesh"
	"github.com/loom-protocol/loom-go/pkg/pool"
	"github.com/loom-protocol/loom-go/pkg/wire"
)

// ErrPortBound indicates the port already hosts a device.
var ErrPortBound = errors.New("logical: port already bound")

// Config assembles a Manager's collaborators. Transport is required;
// everything else has a default.
type Config struct {
	Transport mesh.Transport
	Pool      *pool.Pool   // default pool.New(pool.DefaultSlotSize, pool.DefaultSlotCount)
	Clock     clock.Clock  // default clock.NewSystem()
	Logger    log.Logger   // default log.NoopLogger
	SessionID string       // stamped into log events
}

// Manager is the per-node dispatcher: it owns the port → device mapping,
// validates and routes incoming logical packets, and builds outgoing
// ones. It must only be used from the node's event-loop goroutine.
type Manager struct {
	devices   map[uint16]Device
	transport mesh.Transport
	pool      *pool.Pool
	clock     clock.Clock
	logger    log.Logger
	sessionID string
}

// NewManager creates a dispatcher over the given transport.
func NewManager(cfg Config) *Manager {
	if cfg.Pool == nil {
		cfg.Pool = pool.New(pool.DefaultSlotSize, pool.DefaultSlotCount)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NoopLogger{}
	}
	return &Manager{
		devices:   make(map[uint16]Device),
		transport: cfg.Transport,
		pool:      cfg.Pool,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		sessionID: cfg.SessionID,
	}
}

// Clock returns the manager's time source.
func (m *Manager) Clock() clock.Clock { return m.clock }

// Pool returns the manager's packet pool.
func (m *Manager) Pool() *pool.Pool { return m.pool }

// SelfAddr returns the hosting node's physical mesh address.
func (m *Manager) SelfAddr() uint32 { return m.transport.SelfAddr() }

// AddDevice binds a device to its port and announces it with a
// HELLO_WORLD broadcast to every node and every port.
func (m *Manager) AddDevice(d Device) error {
	port := d.Port()
	if _, bound := m.devices[port]; bound {
		return ErrPortBound
	}
	d.attach(m, d)
	m.devices[port] = d

	m.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: m.sessionID,
		Layer:     log.LayerDevice,
		Category:  log.CategoryState,
		State:     &log.StateEvent{What: "device_added", Port: port, Detail: d.Name()},
	})

	m.SendHelloWorld(d, wire.OpHelloWorld, mesh.BroadcastAddr, wire.BroadcastPort)
	return nil
}

// RemoveDevice unbinds a device. Packets to its port are dropped from
// now on; its subscribers are forgotten with it.
func (m *Manager) RemoveDevice(d Device) {
	port := d.Port()
	if m.devices[port] != d {
		return
	}
	delete(m.devices, port)

	m.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: m.sessionID,
		Layer:     log.LayerDevice,
		Category:  log.CategoryState,
		State:     &log.StateEvent{What: "device_removed", Port: port, Detail: d.Name()},
	})
}

// Lookup returns the device bound to a port, or nil.
func (m *Manager) Lookup(port uint16) Device {
	return m.devices[port]
}

// Devices returns a snapshot of the hosted devices.
func (m *Manager) Devices() []Device {
	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out
}

// UpdatePeriodic ticks every hosted device's subscription engine. The
// host calls it at roughly the finest period granularity in use.
func (m *Manager) UpdatePeriodic() {
	for _, d := range m.Devices() {
		d.Subscriptions().UpdatePeriodic()
	}
}

// HandleMeshReceive is the transport receive hook: it strips the overlay
// header and dispatches the enclosed logical packet. Malformed frames
// are dropped; a RELIABLE overlay is accepted but treated like
// UNRELIABLE (no retransmission state machine exists).
func (m *Manager) HandleMeshReceive(srcPhy uint32, frame []byte) {
	_, logicalBytes, err := wire.ParseOverlay(frame)
	if err != nil {
		m.logDecodeError(err, "overlay_decode", srcPhy)
		return
	}
	m.DispatchPacket(logicalBytes, srcPhy)
}

// DispatchPacket routes one logical packet to the addressed device, or
// to a snapshot of every hosted device for the broadcast port. Unknown
// ports and truncated packets are dropped silently.
func (m *Manager) DispatchPacket(packet []byte, srcPhy uint32) {
	hdr, err := wire.ParseHeader(packet)
	if err != nil {
		m.logDecodeError(err, "header_decode", srcPhy)
		return
	}
	m.logPacket(log.DirectionIn, srcPhy, packet)

	if hdr.DstPort == wire.BroadcastPort {
		// Snapshot before any handler runs: a handler that adds or
		// removes devices must not alter this delivery round.
		for _, d := range m.Devices() {
			m.handle(d, hdr, packet, srcPhy)
		}
		return
	}

	if d := m.devices[hdr.DstPort]; d != nil {
		m.handle(d, hdr, packet, srcPhy)
	}
}

// handle runs one device's opcode-specific handling. Every opcode's
// fixed prefix is length-checked before any field is read; variable
// tails are bounds-checked by the wire parsers. Failures drop the
// packet for this device without replies.
func (m *Manager) handle(d Device, hdr wire.Header, packet []byte, srcPhy uint32) {
	if len(packet) < wire.LogicalHeaderSize+wire.FixedPayloadSize(hdr.Type) {
		return
	}
	if !d.OnGeneralPacketAccept(hdr, packet, srcPhy) {
		return
	}
	payload := packet[wire.LogicalHeaderSize:]
	src := Address{Phy: srcPhy, Port: hdr.SrcPort}

	switch hdr.Type {
	case wire.OpHelloWorld:
		if hdr.SrcPort == d.Port() && srcPhy == m.transport.SelfAddr() {
			return // self-echo from the local broadcast
		}
		hello, err := wire.ParseHelloWorld(payload)
		if err != nil {
			return
		}
		m.SendHelloWorld(d, wire.OpHelloWorldResponse, srcPhy, hdr.SrcPort)
		d.OnDeviceDiscover(hello, src)

	case wire.OpHelloWorldResponse:
		hello, err := wire.ParseHelloWorld(payload)
		if err != nil {
			return
		}
		d.OnDeviceDiscover(hello, src)

	case wire.OpFieldDictionaryRequest:
		m.SendFieldDictionary(d, src)

	case wire.OpFieldDictionaryResponse:
		dict, err := wire.ParseFieldDictionary(payload)
		if err != nil {
			return
		}
		d.OnDeviceFieldDictionary(dict.Fields, srcPhy)

	case wire.OpActionExecute:
		p, err := wire.ParseActionExecute(payload)
		if err != nil {
			return
		}
		status := d.OnActionSet(p.ActionID, p.Payload, src)
		if p.Flags&wire.FlagRequireStatusResponse != 0 {
			result := wire.ActionExecuteResult{
				ActionID:  p.ActionID,
				RequestID: p.RequestID,
				Status:    status,
			}
			pb, err := m.NewPacket(src, d.Port(), 0, wire.OverlayUnreliable, wire.OpActionExecuteResult)
			if err != nil {
				return
			}
			if err := result.Encode(pb.Payload()); err != nil {
				pb.Abort()
				return
			}
			pb.Finish()
		}

	case wire.OpActionFetch:
		p, err := wire.ParseActionFetch(payload)
		if err != nil {
			return
		}
		d.OnActionGet(p.ActionID, p.Payload, src, p.RequestID)

	case wire.OpActionResponse:
		p, err := wire.ParseActionResponse(payload)
		if err != nil {
			return
		}
		d.OnActionGetResponse(p.ActionID, p.Payload, src, p.RequestID)

	case wire.OpSubscriptionStart:
		p, err := wire.ParseSubscriptionStart(payload)
		if err != nil {
			return
		}
		d.Subscriptions().AddSubscriber(p, src)

	case wire.OpSubscriptionCallback:
		p, err := wire.ParseSubscriptionCallback(payload)
		if err != nil {
			return
		}
		d.OnSubscriptionData(p.Payload, src, p.ID)

	case wire.OpSubscriptionStop:
		p, err := wire.ParseSubscriptionStop(payload)
		if err != nil {
			return
		}
		d.Subscriptions().StopSubscription(p.ID, src)

	case wire.OpSubscriptionDone,
		wire.OpGroupsListRequest, wire.OpGroupsListResponse,
		wire.OpGroupsAdd, wire.OpGroupsEdit, wire.OpGroupsRemove,
		wire.OpGroupsFindUsersRequest, wire.OpGroupsFindUsersResponse:
		// reserved, no semantics yet

	default:
		// unknown opcode, drop
	}
}

// SendHelloWorld announces a device: HELLO_WORLD when broadcasting on
// registration, HELLO_WORLD_RESPONSE when answering a peer.
func (m *Manager) SendHelloWorld(d Device, op wire.Opcode, dstPhy uint32, dstPort uint16) {
	hello := wire.HelloWorld{
		Class:   d.DeviceClass(),
		Name:    []byte(d.Name()),
		Attribs: d.Attribs(),
		Actions: d.APIActions(),
	}
	extra := hello.EncodedSize() - wire.FixedPayloadSize(op)

	pb, err := m.NewPacket(Address{Phy: dstPhy, Port: dstPort}, d.Port(), extra, wire.OverlayUnreliable, op)
	if err != nil {
		return
	}
	if err := hello.Encode(pb.Payload()); err != nil {
		pb.Abort()
		return
	}
	pb.Finish()
}

// SendFieldDictionary answers a FIELD_DICTIONARY_REQUEST with the
// device's field strings.
func (m *Manager) SendFieldDictionary(d Device, dst Address) {
	dict := wire.FieldDictionary{Fields: d.APIFields()}
	extra := dict.EncodedSize() - wire.FixedPayloadSize(wire.OpFieldDictionaryResponse)

	pb, err := m.NewPacket(dst, d.Port(), extra, wire.OverlayUnreliable, wire.OpFieldDictionaryResponse)
	if err != nil {
		return
	}
	if err := dict.Encode(pb.Payload()); err != nil {
		pb.Abort()
		return
	}
	pb.Finish()
}

func (m *Manager) logDecodeError(err error, context string, srcPhy uint32) {
	if _, noop := m.logger.(log.NoopLogger); noop {
		return
	}
	m.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: m.sessionID,
		Direction: log.DirectionIn,
		Layer:     log.LayerOverlay,
		Category:  log.CategoryError,
		SrcPhy:    srcPhy,
		Error:     &log.ErrorEventData{Message: err.Error(), Context: context},
	})
}
