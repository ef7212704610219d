package logical

import (
	"fmt"

	"github.com/loom-protocol/loom-go/pkg/wire"
)

// Address identifies one logical device on the mesh: the hosting node's
// physical address plus the device's logical port.
type Address struct {
	Phy  uint32
	Port uint16
}

// String formats the address as phy:port.
func (a Address) String() string {
	return fmt.Sprintf("%d:%d", a.Phy, a.Port)
}

// Device is the capability set every hosted logical device provides.
// Implementations embed BaseDevice, which supplies the identity plumbing
// and no-op defaults for every hook, and override what they need.
type Device interface {
	// Name returns the device's human-readable name.
	Name() string

	// DeviceClass returns the class tag announced in HELLO_WORLD.
	DeviceClass() wire.DeviceClass

	// Port returns the device's logical port.
	Port() uint16

	// Attribs returns the device attributes. The slice must be stable
	// for the device's lifetime.
	Attribs() []wire.Attrib

	// APIFields returns the api field strings; the index of a string in
	// the slice is the field id. Stable for the device's lifetime.
	APIFields() [][]byte

	// APIActions returns the declared actions; the index of an action
	// is the action id. Stable for the device's lifetime.
	APIActions() []wire.ActionDecl

	// Subscriptions returns the device's subscription engine.
	Subscriptions() *SubscriptionManager

	// OnGeneralPacketAccept runs before any opcode-specific handling.
	// Returning false discards the packet for this device.
	OnGeneralPacketAccept(hdr wire.Header, packet []byte, srcPhy uint32) bool

	// OnDeviceDiscover is called with the announcement of another
	// device, from either HELLO_WORLD or HELLO_WORLD_RESPONSE.
	OnDeviceDiscover(hello *wire.HelloWorld, src Address)

	// OnDeviceFieldDictionary is called with a peer's field dictionary.
	OnDeviceFieldDictionary(fields [][]byte, srcPhy uint32)

	// OnSubscriptionData is called with a SUBSCRIPTION_CALLBACK payload
	// for a subscription this device holds on a peer.
	OnSubscriptionData(payload []byte, src Address, subID uint32)

	// OnSubscriptionTimerUpdate is called when one subscriber's period
	// elapses. The device replies to that subscriber alone, typically
	// through Subscriptions().SendCallbackData(dst, subID, ...); other
	// subscribers of the same action keep their own schedules.
	OnSubscriptionTimerUpdate(dst Address, subID uint32, actionID uint16)

	// OnTimerUpdate is called when the device's self-update period
	// elapses.
	OnTimerUpdate()

	// OnActionSet executes an action. The returned status is reported
	// to the peer only when it requested a status response.
	OnActionSet(actionID uint16, payload []byte, src Address) wire.ActionExecuteStatus

	// OnActionGet serves an ACTION_FETCH. The device is responsible for
	// producing any ACTION_RESPONSE itself.
	OnActionGet(actionID uint16, payload []byte, src Address, requestID uint8)

	// OnActionGetResponse receives an ACTION_RESPONSE to an earlier
	// fetch this device issued.
	OnActionGetResponse(actionID uint16, payload []byte, src Address, requestID uint8)

	// attach binds the device to its manager on registration. Devices
	// get it by embedding BaseDevice.
	attach(m *Manager, self Device)
}

// BaseDevice carries the identity fields and default hook behavior.
// Embed it by pointer-receiver value and override hooks as needed:
//
//	type Relay struct {
//		logical.BaseDevice
//	}
type BaseDevice struct {
	name string
	port uint16
	mgr  *Manager
	subs SubscriptionManager
}

// NewBaseDevice creates the embedded base for a device on a port.
func NewBaseDevice(name string, port uint16) BaseDevice {
	return BaseDevice{
		name: name,
		port: port,
		subs: SubscriptionManager{selfUpdateNext: never},
	}
}

// Name returns the device name.
func (b *BaseDevice) Name() string { return b.name }

// Port returns the device's logical port.
func (b *BaseDevice) Port() uint16 { return b.port }

// DeviceClass returns ClassUnknown; concrete devices override.
func (b *BaseDevice) DeviceClass() wire.DeviceClass { return wire.ClassUnknown }

// Attribs returns no attributes by default.
func (b *BaseDevice) Attribs() []wire.Attrib { return nil }

// APIFields returns no fields by default.
func (b *BaseDevice) APIFields() [][]byte { return nil }

// APIActions returns no actions by default.
func (b *BaseDevice) APIActions() []wire.ActionDecl { return nil }

// Subscriptions returns the device's subscription engine.
func (b *BaseDevice) Subscriptions() *SubscriptionManager { return &b.subs }

// Manager returns the manager the device is registered with, or nil
// before registration. Devices use it to build outgoing packets.
func (b *BaseDevice) Manager() *Manager { return b.mgr }

// SelfAddress returns the device's full logical address.
func (b *BaseDevice) SelfAddress() Address {
	return Address{Phy: b.mgr.transport.SelfAddr(), Port: b.port}
}

// OnGeneralPacketAccept accepts everything by default.
func (b *BaseDevice) OnGeneralPacketAccept(wire.Header, []byte, uint32) bool { return true }

// OnDeviceDiscover is a no-op by default.
func (b *BaseDevice) OnDeviceDiscover(*wire.HelloWorld, Address) {}

// OnDeviceFieldDictionary is a no-op by default.
func (b *BaseDevice) OnDeviceFieldDictionary([][]byte, uint32) {}

// OnSubscriptionData is a no-op by default.
func (b *BaseDevice) OnSubscriptionData([]byte, Address, uint32) {}

// OnSubscriptionTimerUpdate is a no-op by default.
func (b *BaseDevice) OnSubscriptionTimerUpdate(Address, uint32, uint16) {}

// OnTimerUpdate is a no-op by default.
func (b *BaseDevice) OnTimerUpdate() {}

// OnActionSet reports StatusUnknown by default.
func (b *BaseDevice) OnActionSet(uint16, []byte, Address) wire.ActionExecuteStatus {
	return wire.StatusUnknown
}

// OnActionGet is a no-op by default.
func (b *BaseDevice) OnActionGet(uint16, []byte, Address, uint8) {}

// OnActionGetResponse is a no-op by default.
func (b *BaseDevice) OnActionGetResponse(uint16, []byte, Address, uint8) {}

func (b *BaseDevice) attach(m *Manager, self Device) {
	b.mgr = m
	b.subs.mgr = m
	b.subs.device = self
}
