// Package mesh defines the transport boundary the logical protocol sits
// on. The core only needs two things from a mesh: fire-and-forget frame
// delivery to a physical address, and a receive hook invoked with the
// sender's physical address. Routing, retransmission and fragmentation
// are the transport's business.
//
// Two implementations ship with the module: meshmem (an in-process hub
// for tests and simulations) and meshudp (UDP datagrams with mDNS peer
// discovery).
package mesh

// BroadcastAddr is the physical address meaning "every node on the
// mesh". Transports deliver broadcast frames to all known peers; the
// sender does not hear its own broadcast.
const BroadcastAddr uint32 = 0xFFFFFFFF

// ReceiveFunc is invoked by a transport for every incoming frame.
type ReceiveFunc func(srcPhy uint32, frame []byte)

// Transport is the mesh send/receive boundary.
type Transport interface {
	// SelfAddr returns this node's physical mesh address.
	SelfAddr() uint32

	// Send delivers a frame to dstPhy, or to every peer when dstPhy is
	// BroadcastAddr. Fire-and-forget: delivery failures are not reported.
	Send(dstPhy uint32, frame []byte)

	// SetReceiver installs the receive hook. Must be called before
	// frames can arrive; a nil receiver drops incoming frames.
	SetReceiver(fn ReceiveFunc)

	// Close shuts the transport down and releases its resources.
	Close() error
}
