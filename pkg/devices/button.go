package devices

import (
	"github.com/loom-protocol/loom-go/pkg/logical"
	"github.com/loom-protocol/loom-go/pkg/wire"
)

// ButtonActionState is the id of the button's state action.
const ButtonActionState uint16 = 0

// Button state payloads.
const (
	ButtonReleased = 0x00
	ButtonPressed  = 0x01
)

var buttonActions = []wire.ActionDecl{
	{Type: wire.ActionImmediate, Name: []byte("state")},
}

var buttonFields = [][]byte{
	[]byte("state"),
}

// Button is an input device. The hosting platform reports edges through
// SetPressed; subscribers of the state action hear about every edge
// immediately.
type Button struct {
	logical.BaseDevice

	attribs []wire.Attrib
	pressed bool
}

// NewButton creates a button on the given port.
func NewButton(name string, port uint16) *Button {
	return &Button{BaseDevice: logical.NewBaseDevice(name, port)}
}

// DeviceClass returns the button class tag.
func (b *Button) DeviceClass() wire.DeviceClass { return wire.ClassButton }

// Attribs returns the button's attributes.
func (b *Button) Attribs() []wire.Attrib { return b.attribs }

// SetAttribs sets the attributes announced in HELLO_WORLD. Must be
// called before registration.
func (b *Button) SetAttribs(attribs []wire.Attrib) { b.attribs = attribs }

// APIFields returns the button field dictionary.
func (b *Button) APIFields() [][]byte { return buttonFields }

// APIActions returns the button actions.
func (b *Button) APIActions() []wire.ActionDecl { return buttonActions }

// Pressed reports the current input state.
func (b *Button) Pressed() bool { return b.pressed }

// SetPressed records an edge from the physical input and notifies
// subscribers. No-op when the state did not change.
func (b *Button) SetPressed(pressed bool) {
	if b.pressed == pressed {
		return
	}
	b.pressed = pressed

	state := uint8(ButtonReleased)
	if pressed {
		state = ButtonPressed
	}
	b.Subscriptions().SendImmediateCallbackData(ButtonActionState, []byte{state})
}

// OnActionGet answers a state fetch with a one-byte ACTION_RESPONSE.
func (b *Button) OnActionGet(actionID uint16, _ []byte, src logical.Address, requestID uint8) {
	status := wire.StatusSuccess
	var payload []byte
	if actionID == ButtonActionState {
		state := uint8(ButtonReleased)
		if b.pressed {
			state = ButtonPressed
		}
		payload = []byte{state}
	} else {
		status = wire.StatusActionNotFound
	}
	sendActionResponse(b.Manager(), &b.BaseDevice, src, status, actionID, requestID, payload)
}
