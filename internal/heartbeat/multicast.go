package heartbeat

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

// MulticastMaxDatagram and MulticastFallbackThreshold are spec.md §4.4's
// UDP size limits: datagrams above the fallback threshold trigger
// full-resend suppression (the sender skips the patch and waits for the
// next full snapshot) rather than fragmenting.
const (
	MulticastMaxDatagram       = 64 * 1024
	MulticastFallbackThreshold = 60 * 1024
	DefaultMulticastAddr       = "224.3.29.71:10000"
)

// MulticastDriver is a UDP heartbeat transport: senders write one
// datagram per period to a multicast group; receivers join the group on a
// named interface.
type MulticastDriver struct {
	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	group   *net.UDPAddr

	mu      sync.Mutex
	records map[string]PeerRecord

	recvCh chan recvMsg
	done   chan struct{}
}

// NewMulticastDriver joins groupAddr (host:port, default
// DefaultMulticastAddr) on the named interface and returns a ready driver.
func NewMulticastDriver(groupAddr, iface string) (*MulticastDriver, error) {
	if groupAddr == "" {
		groupAddr = DefaultMulticastAddr
	}
	gaddr, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: multicast resolve %s: %w", groupAddr, err)
	}
	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", gaddr.Port))
	if err != nil {
		return nil, fmt.Errorf("heartbeat: multicast listen: %w", err)
	}
	pconn := ipv4.NewPacketConn(conn)

	var ifi *net.Interface
	if iface != "" {
		ifi, err = net.InterfaceByName(iface)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("heartbeat: multicast interface %s: %w", iface, err)
		}
	}
	if err := pconn.JoinGroup(ifi, gaddr); err != nil {
		conn.Close()
		return nil, fmt.Errorf("heartbeat: multicast join %s: %w", groupAddr, err)
	}

	d := &MulticastDriver{
		pconn:   pconn,
		group:   gaddr,
		records: make(map[string]PeerRecord),
		recvCh:  make(chan recvMsg, 64),
		done:    make(chan struct{}),
	}
	udpConn, ok := conn.(*net.UDPConn)
	if ok {
		d.conn = udpConn
	}
	go d.recvLoop()
	return d, nil
}

func (d *MulticastDriver) Name() string { return "multicast" }

func (d *MulticastDriver) recvLoop() {
	buf := make([]byte, MulticastMaxDatagram)
	for {
		n, _, src, err := d.pconn.ReadFrom(buf)
		select {
		case <-d.done:
			return
		default:
		}
		if err != nil {
			log.Printf("heartbeat: multicast read: %v", err)
			continue
		}
		payload := append([]byte(nil), buf[:n]...)
		peer := src.String()
		d.mu.Lock()
		d.records[peer] = PeerRecord{Last: time.Now(), Beating: true}
		d.mu.Unlock()
		select {
		case d.recvCh <- recvMsg{peer: peer, payload: payload}:
		default:
			log.Printf("heartbeat: multicast recv queue full, dropping from %s", peer)
		}
	}
}

// Send writes payload as a single datagram. Payloads larger than
// MulticastFallbackThreshold are not sent — the caller must fall back to
// relying on the next full-resend instead of fragmenting, per spec.md §4.4.
func (d *MulticastDriver) Send(payload []byte) error {
	if len(payload) > MulticastFallbackThreshold {
		return fmt.Errorf("heartbeat: multicast payload %d bytes exceeds %d byte fallback threshold", len(payload), MulticastFallbackThreshold)
	}
	_, err := d.pconn.WriteTo(payload, nil, d.group)
	return err
}

func (d *MulticastDriver) Recv(ctx context.Context) (string, []byte, error) {
	select {
	case m := <-d.recvCh:
		return m.peer, m.payload, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (d *MulticastDriver) Status() map[string]PeerRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]PeerRecord, len(d.records))
	for k, v := range d.records {
		out[k] = v
	}
	return out
}

func (d *MulticastDriver) Close() error {
	close(d.done)
	return d.pconn.Close()
}
