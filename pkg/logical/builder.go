package logical

import (
	"time"

	"github.com/loom-protocol/loom-go/pkg/log"
	"github.com/loom-protocol/loom-go/pkg/pool"
	"github.com/loom-protocol/loom-go/pkg/wire"
)

// PacketBuilder assembles one outgoing packet in a pool buffer. Acquire
// it with Manager.NewPacket, fill Payload(), then call Finish exactly
// once; the buffer is released on Finish (or Abort) and must not be
// touched afterwards.
type PacketBuilder struct {
	mgr *Manager
	buf pool.Buf

	dstPhy  uint32
	dstPort uint16
	ovlSize int // 0 when the packet loops back locally
	done    bool
}

// NewPacket acquires a pool buffer sized for the overlay header, the
// logical header with the opcode's fixed prefix, and extra payload
// bytes, and prewrites both headers. When dst.Phy is the local node the
// overlay layer is skipped entirely; Finish will inject the logical
// bytes straight into the dispatcher.
func (m *Manager) NewPacket(dst Address, srcPort uint16, extra int, ovl wire.OverlayType, op wire.Opcode) (*PacketBuilder, error) {
	logicalSize := wire.LogicalHeaderSize + wire.FixedPayloadSize(op) + extra

	b := &PacketBuilder{
		mgr:     m,
		dstPhy:  dst.Phy,
		dstPort: dst.Port,
	}

	if dst.Phy == m.transport.SelfAddr() {
		b.buf = m.pool.Alloc(logicalSize)
	} else {
		b.ovlSize = wire.OverlayHeaderSize(ovl)
		if b.ovlSize == 0 {
			return nil, wire.ErrUnknownOverlay
		}
		b.buf = m.pool.Alloc(b.ovlSize + logicalSize)
		if _, err := wire.PutOverlayHeader(b.buf.B, wire.Overlay{Type: ovl}); err != nil {
			m.pool.Free(b.buf)
			return nil, err
		}
	}

	hdr := wire.Header{Type: op, SrcPort: srcPort, DstPort: dst.Port}
	if err := wire.PutHeader(b.buf.B[b.ovlSize:], hdr); err != nil {
		m.pool.Free(b.buf)
		return nil, err
	}
	return b, nil
}

// Payload returns the writable window after the logical header: the
// opcode's fixed prefix plus the extra bytes requested from NewPacket.
func (b *PacketBuilder) Payload() []byte {
	return b.buf.B[b.ovlSize+wire.LogicalHeaderSize:]
}

// Finish sends the packet and releases its buffer.
//
// Destination rules:
//   - local node: the logical bytes are dispatched synchronously into
//     the local dispatcher, never touching the mesh;
//   - broadcast port: the frame goes to the mesh AND the logical bytes
//     are dispatched locally, so broadcasts reach co-hosted devices;
//   - otherwise: the frame goes to the mesh.
func (b *PacketBuilder) Finish() {
	if b.done {
		panic("logical: packet finished twice")
	}
	b.done = true

	m := b.mgr
	logicalBytes := b.buf.B[b.ovlSize:]
	m.logPacket(log.DirectionOut, b.dstPhy, logicalBytes)

	if b.ovlSize == 0 {
		m.DispatchPacket(logicalBytes, m.transport.SelfAddr())
	} else {
		m.transport.Send(b.dstPhy, b.buf.B)
		if b.dstPort == wire.BroadcastPort {
			m.DispatchPacket(logicalBytes, m.transport.SelfAddr())
		}
	}
	m.pool.Free(b.buf)
}

// Abort releases the buffer without sending. For error paths between
// NewPacket and Finish.
func (b *PacketBuilder) Abort() {
	if b.done {
		return
	}
	b.done = true
	b.mgr.pool.Free(b.buf)
}

func (m *Manager) logPacket(dir log.Direction, phy uint32, logicalBytes []byte) {
	if _, noop := m.logger.(log.NoopLogger); noop {
		return
	}
	hdr, err := wire.ParseHeader(logicalBytes)
	if err != nil {
		return
	}
	ev := log.Event{
		Timestamp: time.Now(),
		SessionID: m.sessionID,
		Direction: dir,
		Layer:     log.LayerLogical,
		Category:  log.CategoryPacket,
		Packet: &log.PacketEvent{
			Opcode:  hdr.Type,
			SrcPort: hdr.SrcPort,
			DstPort: hdr.DstPort,
			Size:    len(logicalBytes),
		},
	}
	if dir == log.DirectionIn {
		ev.SrcPhy = phy
	} else {
		ev.DstPhy = phy
	}
	m.logger.Log(ev)
}
