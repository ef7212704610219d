package log

import (
	"time"

	"github.com/loom-protocol/loom-go/pkg/wire"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the node run that produced the event (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates packet flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// SrcPhy is the mesh address the packet came from, when known.
	SrcPhy uint32 `cbor:"6,keyasint,omitempty"`

	// DstPhy is the mesh address the packet is going to, when known.
	DstPhy uint32 `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Packet       *PacketEvent       `cbor:"8,keyasint,omitempty"`
	Subscription *SubscriptionEvent `cbor:"9,keyasint,omitempty"`
	State        *StateEvent        `cbor:"10,keyasint,omitempty"`
	Error        *ErrorEventData    `cbor:"11,keyasint,omitempty"`
}

// Direction indicates the direction of packet flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming packet.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing packet.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerOverlay is the overlay framing layer (raw mesh frames).
	LayerOverlay Layer = 0
	// LayerLogical is the logical packet layer (decoded headers).
	LayerLogical Layer = 1
	// LayerDevice is the device hook layer.
	LayerDevice Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerOverlay:
		return "OVERLAY"
	case LayerLogical:
		return "LOGICAL"
	case LayerDevice:
		return "DEVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryPacket indicates a protocol packet crossing a layer.
	CategoryPacket Category = 0
	// CategorySubscription indicates subscription bookkeeping.
	CategorySubscription Category = 1
	// CategoryState indicates a node or device state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryPacket:
		return "PACKET"
	case CategorySubscription:
		return "SUBSCRIPTION"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// PacketEvent describes one logical packet.
type PacketEvent struct {
	// Opcode is the logical packet type.
	Opcode wire.Opcode `cbor:"1,keyasint"`

	// SrcPort and DstPort are the logical ports from the header.
	SrcPort uint16 `cbor:"2,keyasint"`
	DstPort uint16 `cbor:"3,keyasint"`

	// Size is the full logical packet size in bytes.
	Size int `cbor:"4,keyasint"`
}

// SubscriptionEvent describes subscription bookkeeping on a device.
type SubscriptionEvent struct {
	// Port is the hosting device's port.
	Port uint16 `cbor:"1,keyasint"`

	// SubscriptionID is the peer-chosen subscription id.
	SubscriptionID uint32 `cbor:"2,keyasint"`

	// ActionID is the subscribed action.
	ActionID uint16 `cbor:"3,keyasint"`

	// Change names what happened: "start", "refresh", "stop", "expire".
	Change string `cbor:"4,keyasint"`
}

// StateEvent describes a node or device state change.
type StateEvent struct {
	// What names the change, e.g. "device_added", "node_started".
	What string `cbor:"1,keyasint"`

	// Port is the affected device's port, when applicable.
	Port uint16 `cbor:"2,keyasint,omitempty"`

	// Detail carries extra human-readable context.
	Detail string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData describes an error at any layer.
type ErrorEventData struct {
	// Message is the error text.
	Message string `cbor:"1,keyasint"`

	// Context names where the error occurred, e.g. "overlay_decode".
	Context string `cbor:"2,keyasint,omitempty"`
}
