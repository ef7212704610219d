package wire

import "encoding/binary"

// ParseHeader decodes the logical packet header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < LogicalHeaderSize {
		return Header{}, ErrTruncated
	}
	return Header{
		Type:    Opcode(b[0]),
		SrcPort: binary.BigEndian.Uint16(b[1:3]),
		DstPort: binary.BigEndian.Uint16(b[3:5]),
	}, nil
}

// PutHeader writes the logical packet header into b.
func PutHeader(b []byte, h Header) error {
	if len(b) < LogicalHeaderSize {
		return ErrTruncated
	}
	b[0] = uint8(h.Type)
	binary.BigEndian.PutUint16(b[1:3], h.SrcPort)
	binary.BigEndian.PutUint16(b[3:5], h.DstPort)
	return nil
}

// reader is a bounds-checked big-endian cursor over a payload. The first
// overrun latches err and every later read yields zero values, so decode
// paths check err once at the end.
type reader struct {
	buf []byte
	off int
	err error
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) fail() {
	if r.err == nil {
		r.err = ErrTruncated
	}
}

func (r *reader) u8() uint8 {
	if r.err != nil || r.off+1 > len(r.buf) {
		r.fail()
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if r.err != nil || r.off+2 > len(r.buf) {
		r.fail()
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil || r.off+4 > len(r.buf) {
		r.fail()
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil || r.off+n > len(r.buf) {
		r.fail()
		return nil
	}
	v := r.buf[r.off : r.off+n : r.off+n]
	r.off += n
	return v
}

// rest returns all remaining bytes.
func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	v := r.buf[r.off:]
	r.off = len(r.buf)
	return v
}

// writer is the encoding counterpart of reader. finish reports an overrun
// or a short target buffer.
type writer struct {
	buf []byte
	off int
	err error
}

func newWriter(b []byte) *writer {
	return &writer{buf: b}
}

func (w *writer) fail() {
	if w.err == nil {
		w.err = ErrTruncated
	}
}

func (w *writer) u8(v uint8) {
	if w.err != nil || w.off+1 > len(w.buf) {
		w.fail()
		return
	}
	w.buf[w.off] = v
	w.off++
}

func (w *writer) u16(v uint16) {
	if w.err != nil || w.off+2 > len(w.buf) {
		w.fail()
		return
	}
	binary.BigEndian.PutUint16(w.buf[w.off:], v)
	w.off += 2
}

func (w *writer) u32(v uint32) {
	if w.err != nil || w.off+4 > len(w.buf) {
		w.fail()
		return
	}
	binary.BigEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func (w *writer) bytes(v []byte) {
	if w.err != nil || w.off+len(v) > len(w.buf) {
		w.fail()
		return
	}
	copy(w.buf[w.off:], v)
	w.off += len(v)
}

func (w *writer) finish() error {
	return w.err
}
