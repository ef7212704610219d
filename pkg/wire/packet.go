package wire

import (
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrTruncated indicates the buffer is shorter than the packet's
	// fixed prefix or a declared variable-length record.
	ErrTruncated = errors.New("packet truncated")

	// ErrFieldTooLong indicates a name, key or value exceeds the one-byte
	// length prefix.
	ErrFieldTooLong = errors.New("field exceeds 255 bytes")

	// ErrUnknownOverlay indicates an unrecognized overlay discriminator.
	ErrUnknownOverlay = errors.New("unknown overlay type")
)

// LogicalHeaderSize is the fixed logical packet header:
// type:u8 src_port:u16 dst_port:u16.
const LogicalHeaderSize = 5

// Header is the fixed prefix of every logical packet.
type Header struct {
	Type    Opcode
	SrcPort uint16
	DstPort uint16
}

// FixedPayloadSize returns the size of the opcode-specific fixed prefix
// that must be present after the logical header before any field of the
// payload may be read. Variable-length tails come on top of this.
func FixedPayloadSize(op Opcode) int {
	switch op {
	case OpHelloWorld, OpHelloWorldResponse:
		return 7 // class:u32 name_len:u8 attrib_count:u8 action_count:u8
	case OpFieldDictionaryRequest:
		return 0
	case OpFieldDictionaryResponse:
		return 2 // field_count:u16
	case OpActionExecute:
		return 4 // action_id:u16 request_id:u8 flags:u8
	case OpActionExecuteResult:
		return 4 // action_id:u16 request_id:u8 status:u8
	case OpActionFetch:
		return 3 // action_id:u16 request_id:u8
	case OpActionResponse:
		return 4 // status:u8 action_id:u16 request_id:u8
	case OpSubscriptionStart:
		return 12 // id:u32 action_id:u16 duration_s:u16 period_ms:u32
	case OpSubscriptionDone:
		return 8 // id:u32 state:u32
	case OpSubscriptionCallback:
		return 4 // id:u32
	case OpSubscriptionStop:
		return 4 // id:u32
	default:
		return 0
	}
}

// Attrib is one device attribute: a key/value pair extending the device
// class or carrying debugging info. Key and value are each at most 255
// bytes.
type Attrib struct {
	Key   []byte
	Value []byte
}

// ActionDecl declares one action a device exposes. The index in the
// declared list is the action id.
type ActionDecl struct {
	Type ActionType
	Name []byte
}

// HelloWorld is the payload of HELLO_WORLD and HELLO_WORLD_RESPONSE.
//
// Layout:
//
//	class:u32 name_len:u8 attrib_count:u8 action_count:u8 name[name_len]
//	attrib_count × (key_len:u8 value_len:u8 key[key_len] value[value_len])
//	action_count × (type:u8 name_len:u8 name[name_len])
type HelloWorld struct {
	Class   DeviceClass
	Name    []byte
	Attribs []Attrib
	Actions []ActionDecl
}

// EncodedSize returns the number of payload bytes Encode will write.
func (h *HelloWorld) EncodedSize() int {
	size := FixedPayloadSize(OpHelloWorld) + len(h.Name)
	for _, a := range h.Attribs {
		size += 2 + len(a.Key) + len(a.Value)
	}
	for _, a := range h.Actions {
		size += 2 + len(a.Name)
	}
	return size
}

// Encode writes the payload into b, which must hold EncodedSize() bytes.
func (h *HelloWorld) Encode(b []byte) error {
	if len(h.Name) > 255 || len(h.Attribs) > 255 || len(h.Actions) > 255 {
		return ErrFieldTooLong
	}
	w := newWriter(b)
	w.u32(uint32(h.Class))
	w.u8(uint8(len(h.Name)))
	w.u8(uint8(len(h.Attribs)))
	w.u8(uint8(len(h.Actions)))
	w.bytes(h.Name)
	for _, a := range h.Attribs {
		if len(a.Key) > 255 || len(a.Value) > 255 {
			return ErrFieldTooLong
		}
		w.u8(uint8(len(a.Key)))
		w.u8(uint8(len(a.Value)))
		w.bytes(a.Key)
		w.bytes(a.Value)
	}
	for _, a := range h.Actions {
		if len(a.Name) > 255 {
			return ErrFieldTooLong
		}
		w.u8(uint8(a.Type))
		w.u8(uint8(len(a.Name)))
		w.bytes(a.Name)
	}
	return w.finish()
}

// ParseHelloWorld decodes a HELLO_WORLD payload. The whole variable tail
// is bounds-checked; a declared record running past b fails the parse.
func ParseHelloWorld(b []byte) (*HelloWorld, error) {
	r := newReader(b)
	h := &HelloWorld{Class: DeviceClass(r.u32())}
	nameLen := int(r.u8())
	attribCount := int(r.u8())
	actionCount := int(r.u8())
	h.Name = r.bytes(nameLen)
	for i := 0; i < attribCount; i++ {
		keyLen := int(r.u8())
		valueLen := int(r.u8())
		h.Attribs = append(h.Attribs, Attrib{
			Key:   r.bytes(keyLen),
			Value: r.bytes(valueLen),
		})
	}
	for i := 0; i < actionCount; i++ {
		typ := ActionType(r.u8())
		nameLen := int(r.u8())
		h.Actions = append(h.Actions, ActionDecl{Type: typ, Name: r.bytes(nameLen)})
	}
	if r.err != nil {
		return nil, r.err
	}
	return h, nil
}

// FieldDictionary is the payload of FIELD_DICTIONARY_RESPONSE: the
// device's api field strings in declaration order. The index of a string
// is the field id.
//
// Layout: field_count:u16, field_count × (len:u8 string[len]).
type FieldDictionary struct {
	Fields [][]byte
}

// EncodedSize returns the number of payload bytes Encode will write.
func (d *FieldDictionary) EncodedSize() int {
	size := FixedPayloadSize(OpFieldDictionaryResponse)
	for _, f := range d.Fields {
		size += 1 + len(f)
	}
	return size
}

// Encode writes the payload into b, which must hold EncodedSize() bytes.
func (d *FieldDictionary) Encode(b []byte) error {
	if len(d.Fields) > 0xFFFF {
		return ErrFieldTooLong
	}
	w := newWriter(b)
	w.u16(uint16(len(d.Fields)))
	for _, f := range d.Fields {
		if len(f) > 255 {
			return ErrFieldTooLong
		}
		w.u8(uint8(len(f)))
		w.bytes(f)
	}
	return w.finish()
}

// ParseFieldDictionary decodes a FIELD_DICTIONARY_RESPONSE payload.
func ParseFieldDictionary(b []byte) (*FieldDictionary, error) {
	r := newReader(b)
	count := int(r.u16())
	d := &FieldDictionary{}
	for i := 0; i < count; i++ {
		length := int(r.u8())
		d.Fields = append(d.Fields, r.bytes(length))
	}
	if r.err != nil {
		return nil, r.err
	}
	return d, nil
}

// ActionExecute is the payload of ACTION_EXECUTE.
type ActionExecute struct {
	ActionID  uint16
	RequestID uint8
	Flags     ActionExecuteFlags
	Payload   []byte
}

// EncodedSize returns the number of payload bytes Encode will write.
func (p *ActionExecute) EncodedSize() int {
	return FixedPayloadSize(OpActionExecute) + len(p.Payload)
}

// Encode writes the payload into b, which must hold EncodedSize() bytes.
func (p *ActionExecute) Encode(b []byte) error {
	w := newWriter(b)
	w.u16(p.ActionID)
	w.u8(p.RequestID)
	w.u8(uint8(p.Flags))
	w.bytes(p.Payload)
	return w.finish()
}

// ParseActionExecute decodes an ACTION_EXECUTE payload. The trailing
// bytes after the fixed prefix are the action payload.
func ParseActionExecute(b []byte) (*ActionExecute, error) {
	r := newReader(b)
	p := &ActionExecute{
		ActionID:  r.u16(),
		RequestID: r.u8(),
		Flags:     ActionExecuteFlags(r.u8()),
	}
	p.Payload = r.rest()
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

// ActionExecuteResult is the payload of ACTION_EXECUTE_RESULT.
type ActionExecuteResult struct {
	ActionID  uint16
	RequestID uint8
	Status    ActionExecuteStatus
}

// EncodedSize returns the number of payload bytes Encode will write.
func (p *ActionExecuteResult) EncodedSize() int {
	return FixedPayloadSize(OpActionExecuteResult)
}

// Encode writes the payload into b, which must hold EncodedSize() bytes.
func (p *ActionExecuteResult) Encode(b []byte) error {
	w := newWriter(b)
	w.u16(p.ActionID)
	w.u8(p.RequestID)
	w.u8(uint8(p.Status))
	return w.finish()
}

// ParseActionExecuteResult decodes an ACTION_EXECUTE_RESULT payload.
func ParseActionExecuteResult(b []byte) (*ActionExecuteResult, error) {
	r := newReader(b)
	p := &ActionExecuteResult{
		ActionID:  r.u16(),
		RequestID: r.u8(),
		Status:    ActionExecuteStatus(r.u8()),
	}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

// ActionFetch is the payload of ACTION_FETCH.
type ActionFetch struct {
	ActionID  uint16
	RequestID uint8
	Payload   []byte
}

// EncodedSize returns the number of payload bytes Encode will write.
func (p *ActionFetch) EncodedSize() int {
	return FixedPayloadSize(OpActionFetch) + len(p.Payload)
}

// Encode writes the payload into b, which must hold EncodedSize() bytes.
func (p *ActionFetch) Encode(b []byte) error {
	w := newWriter(b)
	w.u16(p.ActionID)
	w.u8(p.RequestID)
	w.bytes(p.Payload)
	return w.finish()
}

// ParseActionFetch decodes an ACTION_FETCH payload.
func ParseActionFetch(b []byte) (*ActionFetch, error) {
	r := newReader(b)
	p := &ActionFetch{
		ActionID:  r.u16(),
		RequestID: r.u8(),
	}
	p.Payload = r.rest()
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

// ActionResponse is the payload of ACTION_RESPONSE. Note the status comes
// first on the wire, unlike ACTION_EXECUTE_RESULT.
type ActionResponse struct {
	Status    ActionExecuteStatus
	ActionID  uint16
	RequestID uint8
	Payload   []byte
}

// EncodedSize returns the number of payload bytes Encode will write.
func (p *ActionResponse) EncodedSize() int {
	return FixedPayloadSize(OpActionResponse) + len(p.Payload)
}

// Encode writes the payload into b, which must hold EncodedSize() bytes.
func (p *ActionResponse) Encode(b []byte) error {
	w := newWriter(b)
	w.u8(uint8(p.Status))
	w.u16(p.ActionID)
	w.u8(p.RequestID)
	w.bytes(p.Payload)
	return w.finish()
}

// ParseActionResponse decodes an ACTION_RESPONSE payload.
func ParseActionResponse(b []byte) (*ActionResponse, error) {
	r := newReader(b)
	p := &ActionResponse{
		Status:    ActionExecuteStatus(r.u8()),
		ActionID:  r.u16(),
		RequestID: r.u8(),
	}
	p.Payload = r.rest()
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

// SubscriptionStart is the payload of SUBSCRIPTION_START.
type SubscriptionStart struct {
	ID        uint32
	ActionID  uint16
	DurationS uint16 // subscription lifetime, seconds
	PeriodMS  uint32 // periodic callback interval, milliseconds; 0 = none
	Info      []byte // device-class-specific subscription descriptor
}

// EncodedSize returns the number of payload bytes Encode will write.
func (p *SubscriptionStart) EncodedSize() int {
	return FixedPayloadSize(OpSubscriptionStart) + len(p.Info)
}

// Encode writes the payload into b, which must hold EncodedSize() bytes.
func (p *SubscriptionStart) Encode(b []byte) error {
	w := newWriter(b)
	w.u32(p.ID)
	w.u16(p.ActionID)
	w.u16(p.DurationS)
	w.u32(p.PeriodMS)
	w.bytes(p.Info)
	return w.finish()
}

// ParseSubscriptionStart decodes a SUBSCRIPTION_START payload.
func ParseSubscriptionStart(b []byte) (*SubscriptionStart, error) {
	r := newReader(b)
	p := &SubscriptionStart{
		ID:        r.u32(),
		ActionID:  r.u16(),
		DurationS: r.u16(),
		PeriodMS:  r.u32(),
	}
	p.Info = r.rest()
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

// SubscriptionDone is the payload of SUBSCRIPTION_DONE. State 0 is OK,
// anything else an error. The opcode is reserved: it is encoded and
// decoded but never dispatched.
type SubscriptionDone struct {
	ID    uint32
	State uint32
}

// EncodedSize returns the number of payload bytes Encode will write.
func (p *SubscriptionDone) EncodedSize() int {
	return FixedPayloadSize(OpSubscriptionDone)
}

// Encode writes the payload into b, which must hold EncodedSize() bytes.
func (p *SubscriptionDone) Encode(b []byte) error {
	w := newWriter(b)
	w.u32(p.ID)
	w.u32(p.State)
	return w.finish()
}

// ParseSubscriptionDone decodes a SUBSCRIPTION_DONE payload.
func ParseSubscriptionDone(b []byte) (*SubscriptionDone, error) {
	r := newReader(b)
	p := &SubscriptionDone{ID: r.u32(), State: r.u32()}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

// SubscriptionCallback is the payload of SUBSCRIPTION_CALLBACK.
type SubscriptionCallback struct {
	ID      uint32
	Payload []byte
}

// EncodedSize returns the number of payload bytes Encode will write.
func (p *SubscriptionCallback) EncodedSize() int {
	return FixedPayloadSize(OpSubscriptionCallback) + len(p.Payload)
}

// Encode writes the payload into b, which must hold EncodedSize() bytes.
func (p *SubscriptionCallback) Encode(b []byte) error {
	w := newWriter(b)
	w.u32(p.ID)
	w.bytes(p.Payload)
	return w.finish()
}

// ParseSubscriptionCallback decodes a SUBSCRIPTION_CALLBACK payload.
func ParseSubscriptionCallback(b []byte) (*SubscriptionCallback, error) {
	r := newReader(b)
	p := &SubscriptionCallback{ID: r.u32()}
	p.Payload = r.rest()
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

// SubscriptionStop is the payload of SUBSCRIPTION_STOP.
type SubscriptionStop struct {
	ID uint32
}

// EncodedSize returns the number of payload bytes Encode will write.
func (p *SubscriptionStop) EncodedSize() int {
	return FixedPayloadSize(OpSubscriptionStop)
}

// Encode writes the payload into b, which must hold EncodedSize() bytes.
func (p *SubscriptionStop) Encode(b []byte) error {
	w := newWriter(b)
	w.u32(p.ID)
	return w.finish()
}

// ParseSubscriptionStop decodes a SUBSCRIPTION_STOP payload.
func ParseSubscriptionStop(b []byte) (*SubscriptionStop, error) {
	r := newReader(b)
	p := &SubscriptionStop{ID: r.u32()}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

// Overlay is the decoded overlay header ahead of a logical packet.
type Overlay struct {
	Type OverlayType

	// Seq is the reliable sequence number; zero for unreliable framing.
	Seq uint16
}

// OverlayHeaderSize returns the encoded size of the overlay header for
// the given framing type.
func OverlayHeaderSize(t OverlayType) int {
	switch t {
	case OverlayReliable:
		return 3 // type:u8 sequence_num:u16
	case OverlayUnreliable:
		return 1 // type:u8
	default:
		return 0
	}
}

// PutOverlayHeader writes the overlay header into b and returns the
// number of bytes written.
func PutOverlayHeader(b []byte, o Overlay) (int, error) {
	size := OverlayHeaderSize(o.Type)
	if size == 0 {
		return 0, ErrUnknownOverlay
	}
	if len(b) < size {
		return 0, ErrTruncated
	}
	b[0] = uint8(o.Type)
	if o.Type == OverlayReliable {
		b[1] = uint8(o.Seq >> 8)
		b[2] = uint8(o.Seq)
	}
	return size, nil
}

// ParseOverlay strips the overlay header from a mesh frame, returning the
// header and the enclosed logical packet bytes.
func ParseOverlay(frame []byte) (Overlay, []byte, error) {
	if len(frame) < 1 {
		return Overlay{}, nil, ErrTruncated
	}
	o := Overlay{Type: OverlayType(frame[0])}
	size := OverlayHeaderSize(o.Type)
	if size == 0 {
		return Overlay{}, nil, fmt.Errorf("%w: %d", ErrUnknownOverlay, frame[0])
	}
	if len(frame) < size {
		return Overlay{}, nil, ErrTruncated
	}
	if o.Type == OverlayReliable {
		o.Seq = uint16(frame[1])<<8 | uint16(frame[2])
	}
	return o, frame[size:], nil
}
