package logical_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-protocol/loom-go/pkg/clock"
	"github.com/loom-protocol/loom-go/pkg/logical"
	"github.com/loom-protocol/loom-go/pkg/mesh"
	"github.com/loom-protocol/loom-go/pkg/pool"
	"github.com/loom-protocol/loom-go/pkg/wire"
)

// recordTransport captures outgoing frames instead of sending them.
type recordTransport struct {
	self     uint32
	sent     []sentFrame
	receiver mesh.ReceiveFunc
}

type sentFrame struct {
	dst   uint32
	frame []byte
}

func (t *recordTransport) SelfAddr() uint32 { return t.self }

func (t *recordTransport) Send(dst uint32, frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	t.sent = append(t.sent, sentFrame{dst: dst, frame: cp})
}

func (t *recordTransport) SetReceiver(fn mesh.ReceiveFunc) { t.receiver = fn }
func (t *recordTransport) Close() error                    { return nil }

// testDevice records every hook invocation.
type testDevice struct {
	logical.BaseDevice
	class   wire.DeviceClass
	attribs []wire.Attrib
	fields  [][]byte
	actions []wire.ActionDecl

	discovered  []discovery
	dicts       [][][]byte
	actionSets  []actionSet
	actionGets  []actionGet
	getResps    []actionGet
	subData     []subData
	timerFires  []timerFire
	selfUpdates int

	setStatus wire.ActionExecuteStatus
	rejectAll bool
}

type discovery struct {
	hello *wire.HelloWorld
	src   logical.Address
}

type actionSet struct {
	actionID uint16
	payload  []byte
	src      logical.Address
}

type actionGet struct {
	actionID  uint16
	payload   []byte
	src       logical.Address
	requestID uint8
}

type subData struct {
	payload []byte
	src     logical.Address
	subID   uint32
}

type timerFire struct {
	dst      logical.Address
	subID    uint32
	actionID uint16
}

func newTestDevice(name string, port uint16, class wire.DeviceClass) *testDevice {
	return &testDevice{
		BaseDevice: logical.NewBaseDevice(name, port),
		class:      class,
		setStatus:  wire.StatusSuccess,
	}
}

func (d *testDevice) DeviceClass() wire.DeviceClass { return d.class }
func (d *testDevice) Attribs() []wire.Attrib        { return d.attribs }
func (d *testDevice) APIFields() [][]byte           { return d.fields }
func (d *testDevice) APIActions() []wire.ActionDecl { return d.actions }

func (d *testDevice) OnGeneralPacketAccept(wire.Header, []byte, uint32) bool {
	return !d.rejectAll
}

func (d *testDevice) OnDeviceDiscover(hello *wire.HelloWorld, src logical.Address) {
	d.discovered = append(d.discovered, discovery{hello: hello, src: src})
}

func (d *testDevice) OnDeviceFieldDictionary(fields [][]byte, srcPhy uint32) {
	d.dicts = append(d.dicts, fields)
}

func (d *testDevice) OnActionSet(actionID uint16, payload []byte, src logical.Address) wire.ActionExecuteStatus {
	d.actionSets = append(d.actionSets, actionSet{actionID, payload, src})
	return d.setStatus
}

func (d *testDevice) OnActionGet(actionID uint16, payload []byte, src logical.Address, requestID uint8) {
	d.actionGets = append(d.actionGets, actionGet{actionID, payload, src, requestID})
}

func (d *testDevice) OnActionGetResponse(actionID uint16, payload []byte, src logical.Address, requestID uint8) {
	d.getResps = append(d.getResps, actionGet{actionID, payload, src, requestID})
}

func (d *testDevice) OnSubscriptionData(payload []byte, src logical.Address, subID uint32) {
	d.subData = append(d.subData, subData{payload, src, subID})
}

func (d *testDevice) OnSubscriptionTimerUpdate(dst logical.Address, subID uint32, actionID uint16) {
	d.timerFires = append(d.timerFires, timerFire{dst, subID, actionID})
}

func (d *testDevice) OnTimerUpdate() { d.selfUpdates++ }

// newTestManager wires a manager over a recording transport and a
// manual clock.
func newTestManager(t *testing.T, self uint32) (*logical.Manager, *recordTransport, *clock.Manual, *pool.Pool) {
	t.Helper()
	tr := &recordTransport{self: self}
	clk := clock.NewManual(0)
	p := pool.New(256, 8)
	m := logical.NewManager(logical.Config{Transport: tr, Clock: clk, Pool: p})
	return m, tr, clk, p
}

// logicalPacket assembles header + payload bytes.
func logicalPacket(t *testing.T, op wire.Opcode, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	b := make([]byte, wire.LogicalHeaderSize+len(payload))
	require.NoError(t, wire.PutHeader(b, wire.Header{Type: op, SrcPort: srcPort, DstPort: dstPort}))
	copy(b[wire.LogicalHeaderSize:], payload)
	return b
}

func encodePayload(t *testing.T, p interface {
	EncodedSize() int
	Encode([]byte) error
}) []byte {
	t.Helper()
	b := make([]byte, p.EncodedSize())
	require.NoError(t, p.Encode(b))
	return b
}

func TestHelloExchange(t *testing.T) {
	// Scenario: a fresh device announces itself, and its own broadcast
	// echo must not provoke a response.
	m, tr, _, p := newTestManager(t, 1)

	d := newTestDevice("btn", 100, wire.ClassButton)
	require.NoError(t, m.AddDevice(d))

	require.Len(t, tr.sent, 1)
	assert.Equal(t, mesh.BroadcastAddr, tr.sent[0].dst)
	assert.Equal(t, []byte{
		0x02,                   // overlay UNRELIABLE
		0x01,                   // HELLO_WORLD
		0x00, 0x64,             // src port 100
		0xFF, 0xFF,             // broadcast port
		0x00, 0x00, 0x00, 0x01, // class BUTTON
		3, 0, 0, // name_len, attrib_count, action_count
		'b', 't', 'n',
	}, tr.sent[0].frame)
	assert.Equal(t, 0, p.InUse())

	// The local broadcast duplication already delivered the HELLO to
	// the device itself; suppressed as a self-echo.
	assert.Empty(t, d.discovered)

	// The same bytes coming back from the mesh with our own source
	// address must not provoke a response either.
	m.HandleMeshReceive(1, tr.sent[0].frame)
	assert.Len(t, tr.sent, 1)
	assert.Empty(t, d.discovered)
}

func TestHelloFromPeerGetsResponse(t *testing.T) {
	m, tr, _, _ := newTestManager(t, 1)
	d := newTestDevice("btn", 100, wire.ClassButton)
	require.NoError(t, m.AddDevice(d))
	tr.sent = nil

	peer := &wire.HelloWorld{Class: wire.ClassRelay, Name: []byte("lamp")}
	pkt := logicalPacket(t, wire.OpHelloWorld, 200, wire.BroadcastPort, encodePayload(t, peer))
	m.DispatchPacket(pkt, 2)

	// Unicast response back to the announcing device.
	require.Len(t, tr.sent, 1)
	assert.EqualValues(t, 2, tr.sent[0].dst)

	_, logicalBytes, err := wire.ParseOverlay(tr.sent[0].frame)
	require.NoError(t, err)
	hdr, err := wire.ParseHeader(logicalBytes)
	require.NoError(t, err)
	assert.Equal(t, wire.OpHelloWorldResponse, hdr.Type)
	assert.EqualValues(t, 100, hdr.SrcPort)
	assert.EqualValues(t, 200, hdr.DstPort)

	require.Len(t, d.discovered, 1)
	assert.Equal(t, wire.ClassRelay, d.discovered[0].hello.Class)
	assert.Equal(t, logical.Address{Phy: 2, Port: 200}, d.discovered[0].src)
}

func TestActionExecuteWithStatus(t *testing.T) {
	m, tr, _, p := newTestManager(t, 1)
	d := newTestDevice("btn", 100, wire.ClassButton)
	require.NoError(t, m.AddDevice(d))
	tr.sent = nil

	exec := &wire.ActionExecute{ActionID: 7, RequestID: 42, Flags: wire.FlagRequireStatusResponse, Payload: []byte{0xAB}}
	m.DispatchPacket(logicalPacket(t, wire.OpActionExecute, 200, 100, encodePayload(t, exec)), 2)

	require.Len(t, d.actionSets, 1)
	assert.EqualValues(t, 7, d.actionSets[0].actionID)
	assert.Equal(t, []byte{0xAB}, d.actionSets[0].payload)

	require.Len(t, tr.sent, 1)
	_, logicalBytes, err := wire.ParseOverlay(tr.sent[0].frame)
	require.NoError(t, err)
	hdr, err := wire.ParseHeader(logicalBytes)
	require.NoError(t, err)
	require.Equal(t, wire.OpActionExecuteResult, hdr.Type)

	result, err := wire.ParseActionExecuteResult(logicalBytes[wire.LogicalHeaderSize:])
	require.NoError(t, err)
	assert.EqualValues(t, 7, result.ActionID)
	assert.EqualValues(t, 42, result.RequestID)
	assert.Equal(t, wire.StatusSuccess, result.Status)
	assert.Equal(t, 0, p.InUse())

	// Without the flag there is no reply.
	tr.sent = nil
	exec.Flags = 0
	m.DispatchPacket(logicalPacket(t, wire.OpActionExecute, 200, 100, encodePayload(t, exec)), 2)
	assert.Len(t, d.actionSets, 2)
	assert.Empty(t, tr.sent)
}

func TestTruncatedPacketInvokesNothing(t *testing.T) {
	m, tr, _, _ := newTestManager(t, 1)
	d := newTestDevice("btn", 100, wire.ClassButton)
	require.NoError(t, m.AddDevice(d))
	tr.sent = nil

	// Four bytes cannot even hold the logical header.
	m.DispatchPacket([]byte{byte(wire.OpActionExecute), 0x00, 0xC8, 0x00}, 2)
	assert.Empty(t, d.actionSets)
	assert.Empty(t, tr.sent)

	// A complete header with a truncated ACTION_EXECUTE prefix is
	// dropped before any hook runs.
	pkt := logicalPacket(t, wire.OpActionExecute, 200, 100, []byte{0x00, 0x07})
	m.DispatchPacket(pkt, 2)
	assert.Empty(t, d.actionSets)
	assert.Empty(t, tr.sent)
}

func TestFieldDictionaryRoundTrip(t *testing.T) {
	m, tr, _, _ := newTestManager(t, 1)
	d := newTestDevice("sw", 100, wire.ClassRelay)
	d.fields = [][]byte{[]byte("on"), []byte("off"), []byte("state")}
	require.NoError(t, m.AddDevice(d))
	tr.sent = nil

	m.DispatchPacket(logicalPacket(t, wire.OpFieldDictionaryRequest, 200, 100, nil), 2)

	require.Len(t, tr.sent, 1)
	assert.EqualValues(t, 2, tr.sent[0].dst)
	_, logicalBytes, err := wire.ParseOverlay(tr.sent[0].frame)
	require.NoError(t, err)
	hdr, err := wire.ParseHeader(logicalBytes)
	require.NoError(t, err)
	require.Equal(t, wire.OpFieldDictionaryResponse, hdr.Type)

	dict, err := wire.ParseFieldDictionary(logicalBytes[wire.LogicalHeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, d.fields, dict.Fields)
}

func TestFieldDictionaryDelivery(t *testing.T) {
	m, _, _, _ := newTestManager(t, 1)
	d := newTestDevice("ctl", 100, wire.ClassController)
	require.NoError(t, m.AddDevice(d))

	dict := &wire.FieldDictionary{Fields: [][]byte{[]byte("a"), []byte("b")}}
	m.DispatchPacket(logicalPacket(t, wire.OpFieldDictionaryResponse, 200, 100, encodePayload(t, dict)), 2)

	require.Len(t, d.dicts, 1)
	assert.Equal(t, dict.Fields, d.dicts[0])
}

func TestUnknownPortDropped(t *testing.T) {
	m, tr, _, _ := newTestManager(t, 1)
	d := newTestDevice("btn", 100, wire.ClassButton)
	require.NoError(t, m.AddDevice(d))
	tr.sent = nil

	exec := &wire.ActionExecute{ActionID: 1, RequestID: 1, Flags: wire.FlagRequireStatusResponse}
	m.DispatchPacket(logicalPacket(t, wire.OpActionExecute, 200, 999, encodePayload(t, exec)), 2)

	assert.Empty(t, d.actionSets)
	assert.Empty(t, tr.sent)
}

func TestGeneralAcceptVeto(t *testing.T) {
	m, tr, _, _ := newTestManager(t, 1)
	d := newTestDevice("btn", 100, wire.ClassButton)
	d.rejectAll = true
	require.NoError(t, m.AddDevice(d))
	tr.sent = nil

	exec := &wire.ActionExecute{ActionID: 1, RequestID: 1, Flags: wire.FlagRequireStatusResponse}
	m.DispatchPacket(logicalPacket(t, wire.OpActionExecute, 200, 100, encodePayload(t, exec)), 2)

	assert.Empty(t, d.actionSets)
	assert.Empty(t, tr.sent)
}

func TestReservedOpcodesIgnored(t *testing.T) {
	m, tr, _, _ := newTestManager(t, 1)
	d := newTestDevice("btn", 100, wire.ClassButton)
	require.NoError(t, m.AddDevice(d))
	tr.sent = nil

	for _, op := range []wire.Opcode{
		wire.OpGroupsListRequest, wire.OpGroupsAdd, wire.OpGroupsRemove,
		wire.OpSubscriptionDone, wire.Opcode(0xEE), wire.OpUnknown,
	} {
		payload := make([]byte, wire.FixedPayloadSize(op))
		m.DispatchPacket(logicalPacket(t, op, 200, 100, payload), 2)
	}
	assert.Empty(t, tr.sent)
	assert.Empty(t, d.actionSets)
	assert.Empty(t, d.discovered)
}

func TestPortBinding(t *testing.T) {
	m, _, _, _ := newTestManager(t, 1)
	a := newTestDevice("a", 100, wire.ClassButton)
	b := newTestDevice("b", 100, wire.ClassRelay)

	require.NoError(t, m.AddDevice(a))
	assert.ErrorIs(t, m.AddDevice(b), logical.ErrPortBound)
	assert.Same(t, logical.Device(a), m.Lookup(100))

	// Removing a device that is not bound anymore is a no-op.
	m.RemoveDevice(b)
	assert.NotNil(t, m.Lookup(100))

	m.RemoveDevice(a)
	assert.Nil(t, m.Lookup(100))
}

func TestLoopbackNeverTouchesMesh(t *testing.T) {
	m, tr, _, p := newTestManager(t, 1)
	a := newTestDevice("a", 100, wire.ClassButton)
	b := newTestDevice("b", 101, wire.ClassRelay)
	require.NoError(t, m.AddDevice(a))
	require.NoError(t, m.AddDevice(b))
	tr.sent = nil

	// Unicast to a co-hosted port on the local node.
	exec := wire.ActionExecute{ActionID: 3, RequestID: 1}
	pb, err := m.NewPacket(logical.Address{Phy: 1, Port: 101}, 100, len(exec.Payload),
		wire.OverlayUnreliable, wire.OpActionExecute)
	require.NoError(t, err)
	require.NoError(t, exec.Encode(pb.Payload()))
	pb.Finish()

	assert.Empty(t, tr.sent)
	require.Len(t, b.actionSets, 1)
	assert.Equal(t, logical.Address{Phy: 1, Port: 100}, b.actionSets[0].src)
	assert.Equal(t, 0, p.InUse())
}

func TestBroadcastReachesMeshAndLocalDevices(t *testing.T) {
	m, tr, _, p := newTestManager(t, 1)
	a := newTestDevice("a", 100, wire.ClassButton)
	b := newTestDevice("b", 101, wire.ClassRelay)
	require.NoError(t, m.AddDevice(a))
	require.NoError(t, m.AddDevice(b))
	tr.sent = nil

	exec := wire.ActionExecute{ActionID: 3, RequestID: 1}
	pb, err := m.NewPacket(logical.Address{Phy: 99, Port: wire.BroadcastPort}, 100, 0,
		wire.OverlayUnreliable, wire.OpActionExecute)
	require.NoError(t, err)
	require.NoError(t, exec.Encode(pb.Payload()))
	pb.Finish()

	// Exactly one mesh send, and every local device saw it too.
	require.Len(t, tr.sent, 1)
	assert.EqualValues(t, 99, tr.sent[0].dst)
	assert.Len(t, a.actionSets, 1)
	assert.Len(t, b.actionSets, 1)
	assert.Equal(t, 0, p.InUse())
}

func TestBuilderAbortReleasesSlot(t *testing.T) {
	m, tr, _, p := newTestManager(t, 1)

	pb, err := m.NewPacket(logical.Address{Phy: 2, Port: 50}, 10, 4,
		wire.OverlayUnreliable, wire.OpActionFetch)
	require.NoError(t, err)
	require.Equal(t, 1, p.InUse())

	pb.Abort()
	assert.Equal(t, 0, p.InUse())
	assert.Empty(t, tr.sent)
}

func TestBroadcastSnapshotIsStable(t *testing.T) {
	// A handler that registers a new device mid-broadcast must not make
	// the new device part of the current delivery round.
	m, tr, _, _ := newTestManager(t, 1)
	late := newTestDevice("late", 102, wire.ClassRelay)
	first := newTestDevice("first", 100, wire.ClassButton)
	require.NoError(t, m.AddDevice(first))

	added := false
	reg := &registrarDevice{BaseDevice: logical.NewBaseDevice("reg", 101), add: func() {
		if !added {
			added = true
			_ = m.AddDevice(late)
		}
	}}
	require.NoError(t, m.AddDevice(reg))
	tr.sent = nil

	exec := &wire.ActionExecute{ActionID: 1, RequestID: 1}
	m.DispatchPacket(logicalPacket(t, wire.OpActionExecute, 200, wire.BroadcastPort, encodePayload(t, exec)), 2)

	assert.True(t, added)
	assert.Empty(t, late.actionSets, "device added mid-round must not receive the packet")
}

// registrarDevice adds another device when it handles an action.
type registrarDevice struct {
	logical.BaseDevice
	add func()
}

func (d *registrarDevice) OnActionSet(uint16, []byte, logical.Address) wire.ActionExecuteStatus {
	d.add()
	return wire.StatusSuccess
}

func TestOversizePacketStillBuilds(t *testing.T) {
	// Larger than a pool slot: falls through to the heap transparently.
	m, tr, _, p := newTestManager(t, 1)

	payload := make([]byte, 1024)
	pb, err := m.NewPacket(logical.Address{Phy: 2, Port: 50}, 10, len(payload),
		wire.OverlayUnreliable, wire.OpSubscriptionCallback)
	require.NoError(t, err)
	assert.Equal(t, 0, p.InUse())

	cb := wire.SubscriptionCallback{ID: 1, Payload: payload}
	require.NoError(t, cb.Encode(pb.Payload()))
	pb.Finish()

	require.Len(t, tr.sent, 1)
	assert.Equal(t, 0, p.InUse())
}

func TestReliableOverlayAcceptedOnReceive(t *testing.T) {
	m, _, _, _ := newTestManager(t, 1)
	d := newTestDevice("btn", 100, wire.ClassButton)
	require.NoError(t, m.AddDevice(d))

	exec := &wire.ActionExecute{ActionID: 2, RequestID: 5}
	pkt := logicalPacket(t, wire.OpActionExecute, 200, 100, encodePayload(t, exec))

	frame := make([]byte, wire.OverlayHeaderSize(wire.OverlayReliable)+len(pkt))
	_, err := wire.PutOverlayHeader(frame, wire.Overlay{Type: wire.OverlayReliable, Seq: 7})
	require.NoError(t, err)
	copy(frame[wire.OverlayHeaderSize(wire.OverlayReliable):], pkt)

	m.HandleMeshReceive(2, frame)
	assert.Len(t, d.actionSets, 1)
}

func TestUnknownOverlayDropped(t *testing.T) {
	m, _, _, _ := newTestManager(t, 1)
	d := newTestDevice("btn", 100, wire.ClassButton)
	require.NoError(t, m.AddDevice(d))

	m.HandleMeshReceive(2, []byte{0x7F, 0x01, 0x02})
	assert.Empty(t, d.actionSets)
	assert.Empty(t, d.discovered)
}
