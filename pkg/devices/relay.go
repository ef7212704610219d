package devices

import (
	"github.com/loom-protocol/loom-go/pkg/logical"
	"github.com/loom-protocol/loom-go/pkg/persistence"
	"github.com/loom-protocol/loom-go/pkg/wire"
)

// Relay state commands, carried as the one-byte payload of the state
// action.
const (
	RelayOff    = 0x00
	RelayOn     = 0x01
	RelayToggle = 0xFF
)

// RelayActionState is the id of the relay's state action.
const RelayActionState uint16 = 0

var relayActions = []wire.ActionDecl{
	{Type: wire.ActionToggle, Name: []byte("state")},
}

var relayFields = [][]byte{
	[]byte("state"),
}

// Relay is a switchable output. Its state survives restarts through a
// preserved property, and every change fans out to subscribers of the
// state action.
type Relay struct {
	logical.BaseDevice

	attribs []wire.Attrib
	state   *persistence.Property[uint8]

	// Switch drives the physical output; nil for virtual relays.
	Switch func(on bool)
}

// NewRelay creates a relay on the given port. The store preserves the
// relay state across restarts.
func NewRelay(name string, port uint16, store persistence.Store) *Relay {
	return &Relay{
		BaseDevice: logical.NewBaseDevice(name, port),
		state:      persistence.NewProperty(store, port, "state", uint8(RelayOff)),
	}
}

// DeviceClass returns the relay class tag.
func (r *Relay) DeviceClass() wire.DeviceClass { return wire.ClassRelay }

// Attribs returns the relay's attributes.
func (r *Relay) Attribs() []wire.Attrib { return r.attribs }

// SetAttribs sets the attributes announced in HELLO_WORLD. Must be
// called before registration.
func (r *Relay) SetAttribs(attribs []wire.Attrib) { r.attribs = attribs }

// APIFields returns the relay field dictionary.
func (r *Relay) APIFields() [][]byte { return relayFields }

// APIActions returns the relay actions.
func (r *Relay) APIActions() []wire.ActionDecl { return relayActions }

// On reports whether the output is currently on.
func (r *Relay) On() bool { return r.state.Get() == RelayOn }

// OnActionSet switches the output: 0x00 off, 0x01 on, 0xFF toggle.
func (r *Relay) OnActionSet(actionID uint16, payload []byte, src logical.Address) wire.ActionExecuteStatus {
	if actionID != RelayActionState {
		return wire.StatusActionNotFound
	}
	if len(payload) != 1 {
		return wire.StatusArgumentsError
	}

	var next uint8
	switch payload[0] {
	case RelayOff:
		next = RelayOff
	case RelayOn:
		next = RelayOn
	case RelayToggle:
		next = RelayOn
		if r.On() {
			next = RelayOff
		}
	default:
		return wire.StatusArgumentsError
	}

	if err := r.state.Set(next); err != nil {
		return wire.StatusFail
	}
	if r.Switch != nil {
		r.Switch(next == RelayOn)
	}
	r.Subscriptions().SendImmediateCallbackData(RelayActionState, []byte{next})
	return wire.StatusSuccess
}

// OnActionGet answers a state fetch with a one-byte ACTION_RESPONSE.
func (r *Relay) OnActionGet(actionID uint16, _ []byte, src logical.Address, requestID uint8) {
	status := wire.StatusSuccess
	var payload []byte
	if actionID == RelayActionState {
		payload = []byte{r.state.Get()}
	} else {
		status = wire.StatusActionNotFound
	}
	sendActionResponse(r.Manager(), &r.BaseDevice, src, status, actionID, requestID, payload)
}

// OnSubscriptionTimerUpdate reports the current state to the one
// subscriber whose period elapsed.
func (r *Relay) OnSubscriptionTimerUpdate(dst logical.Address, subID uint32, actionID uint16) {
	if actionID == RelayActionState {
		r.Subscriptions().SendCallbackData(dst, subID, []byte{r.state.Get()})
	}
}

// sendActionResponse emits an ACTION_RESPONSE from a device back to the
// requesting address.
func sendActionResponse(m *logical.Manager, d *logical.BaseDevice, dst logical.Address,
	status wire.ActionExecuteStatus, actionID uint16, requestID uint8, payload []byte) {
	if m == nil {
		return
	}
	resp := wire.ActionResponse{
		Status:    status,
		ActionID:  actionID,
		RequestID: requestID,
		Payload:   payload,
	}
	pb, err := m.NewPacket(dst, d.Port(), len(payload), wire.OverlayUnreliable, wire.OpActionResponse)
	if err != nil {
		return
	}
	if err := resp.Encode(pb.Payload()); err != nil {
		pb.Abort()
		return
	}
	pb.Finish()
}
