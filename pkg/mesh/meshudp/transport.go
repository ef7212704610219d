// Package meshudp implements the mesh boundary over UDP datagrams with
// mDNS peer discovery. Every node advertises a _loom._udp service whose
// TXT record carries its physical address; browsing adds and updates
// entries in the peer table (peers that vanish stay in it). Each datagram is prefixed with the sender's physical address
// so the receive hook can attribute frames without a reverse lookup.
package meshudp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/enbility/zeroconf/v3"

	"github.com/loom-protocol/loom-go/pkg/mesh"
)

const (
	// ServiceType is the mDNS service nodes advertise and browse.
	ServiceType = "_loom._udp"

	// Domain is the mDNS domain.
	Domain = "local."

	// addrPrefixSize is the per-datagram physical address prefix.
	addrPrefixSize = 4

	// maxDatagram bounds a received datagram.
	maxDatagram = 2048
)

// txtPhyKey is the TXT record key carrying the physical address.
const txtPhyKey = "phy"

// Config configures a Transport.
type Config struct {
	// SelfAddr is this node's physical mesh address. Required, nonzero,
	// and not the broadcast address.
	SelfAddr uint32

	// Listen is the UDP listen address, e.g. ":0" or "0.0.0.0:47808".
	Listen string

	// Discovery enables mDNS advertise + browse. Without it the peer
	// table only grows from incoming datagrams and AddPeer.
	Discovery bool

	// Instance overrides the mDNS instance name. Defaults to
	// "LOOM-<selfaddr>".
	Instance string
}

// Transport is a UDP-backed mesh transport.
type Transport struct {
	selfAddr uint32
	conn     *net.UDPConn

	mu       sync.Mutex
	peers    map[uint32]*net.UDPAddr
	receiver mesh.ReceiveFunc
	closed   bool

	server *zeroconf.Server
	cancel context.CancelFunc
	done   sync.WaitGroup
}

// New creates and starts a UDP transport.
func New(cfg Config) (*Transport, error) {
	if cfg.SelfAddr == 0 || cfg.SelfAddr == mesh.BroadcastAddr {
		return nil, fmt.Errorf("meshudp: invalid self address %#x", cfg.SelfAddr)
	}
	listen := cfg.Listen
	if listen == "" {
		listen = ":0"
	}
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("meshudp: resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("meshudp: listen: %w", err)
	}

	t := &Transport{
		selfAddr: cfg.SelfAddr,
		conn:     conn,
		peers:    make(map[uint32]*net.UDPAddr),
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	if cfg.Discovery {
		if err := t.startDiscovery(ctx, cfg); err != nil {
			conn.Close()
			cancel()
			return nil, err
		}
	}

	t.done.Add(1)
	go t.readLoop()

	return t, nil
}

// SelfAddr returns this node's physical mesh address.
func (t *Transport) SelfAddr() uint32 {
	return t.selfAddr
}

// SetReceiver installs the receive hook.
func (t *Transport) SetReceiver(fn mesh.ReceiveFunc) {
	t.mu.Lock()
	t.receiver = fn
	t.mu.Unlock()
}

// Send delivers a frame to dstPhy, or to every known peer for the
// broadcast address. Unknown destinations are dropped silently, matching
// the fire-and-forget contract.
func (t *Transport) Send(dstPhy uint32, frame []byte) {
	datagram := make([]byte, addrPrefixSize+len(frame))
	binary.BigEndian.PutUint32(datagram, t.selfAddr)
	copy(datagram[addrPrefixSize:], frame)

	t.mu.Lock()
	var targets []*net.UDPAddr
	if dstPhy == mesh.BroadcastAddr {
		for addr, peer := range t.peers {
			if addr != t.selfAddr {
				targets = append(targets, peer)
			}
		}
	} else if peer, ok := t.peers[dstPhy]; ok {
		targets = append(targets, peer)
	}
	t.mu.Unlock()

	for _, peer := range targets {
		_, _ = t.conn.WriteToUDP(datagram, peer)
	}
}

// AddPeer seeds the peer table manually. Useful without discovery.
func (t *Transport) AddPeer(phy uint32, addr *net.UDPAddr) {
	t.mu.Lock()
	t.peers[phy] = addr
	t.mu.Unlock()
}

// LocalAddr returns the bound UDP address.
func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Close stops discovery and the read loop and closes the socket.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.receiver = nil
	t.mu.Unlock()

	t.cancel()
	if t.server != nil {
		t.server.Shutdown()
	}
	err := t.conn.Close()
	t.done.Wait()
	return err
}

func (t *Transport) readLoop() {
	defer t.done.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed
		}
		if n < addrPrefixSize {
			continue
		}
		srcPhy := binary.BigEndian.Uint32(buf[:addrPrefixSize])
		if srcPhy == t.selfAddr {
			continue
		}

		// Learn the sender so unicast replies work even before mDNS
		// catches up.
		t.mu.Lock()
		t.peers[srcPhy] = from
		fn := t.receiver
		t.mu.Unlock()

		if fn != nil {
			frame := make([]byte, n-addrPrefixSize)
			copy(frame, buf[addrPrefixSize:n])
			fn(srcPhy, frame)
		}
	}
}

func (t *Transport) startDiscovery(ctx context.Context, cfg Config) error {
	instance := cfg.Instance
	if instance == "" {
		instance = fmt.Sprintf("LOOM-%08X", cfg.SelfAddr)
	}
	port := t.LocalAddr().Port
	txt := []string{fmt.Sprintf("%s=%d", txtPhyKey, cfg.SelfAddr)}

	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("meshudp: mdns register: %w", err)
	}
	t.server = server

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	t.done.Add(1)
	go func() {
		defer t.done.Done()
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				t.addEntry(entry)
			case <-removed:
				// Peers are kept until replaced; a vanished peer simply
				// stops answering.
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed)
	}()

	return nil
}

func (t *Transport) addEntry(entry *zeroconf.ServiceEntry) {
	phy, ok := parsePhyTXT(entry.Text)
	if !ok || phy == t.selfAddr {
		return
	}
	var ip net.IP
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0]
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0]
	} else {
		return
	}
	t.AddPeer(phy, &net.UDPAddr{IP: ip, Port: entry.Port})
}

// parsePhyTXT extracts the physical address from TXT records.
func parsePhyTXT(txt []string) (uint32, bool) {
	for _, record := range txt {
		k, v, found := strings.Cut(record, "=")
		if !found || k != txtPhyKey {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return 0, false
		}
		return uint32(n), true
	}
	return 0, false
}

// Compile-time interface satisfaction check.
var _ mesh.Transport = (*Transport)(nil)
