package heartbeat

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"
)

// UnicastMaxFrame caps a single length-prefixed frame, per spec.md §4.4.
const UnicastMaxFrame = 8 * 1024 * 1024

// UnicastDriver is a TCP heartbeat transport: one listener per node,
// length-prefixed (4-byte big-endian) envelope frames. Connect failures
// are dropped and retried next period, never surfaced as fatal.
type UnicastDriver struct {
	selfAddr string
	peers    map[string]string // peer name -> "host:port"

	ln net.Listener

	mu      sync.Mutex
	records map[string]PeerRecord

	recvCh chan recvMsg
	done   chan struct{}
}

type recvMsg struct {
	peer    string
	payload []byte
}

// NewUnicastDriver starts a TCP listener on listenAddr (default port
// 10000) and dials peers (name -> addr) on Send.
func NewUnicastDriver(listenAddr string, peers map[string]string) (*UnicastDriver, error) {
	if listenAddr == "" {
		listenAddr = ":10000"
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: unicast listen %s: %w", listenAddr, err)
	}
	d := &UnicastDriver{
		selfAddr: listenAddr,
		peers:    peers,
		ln:       ln,
		records:  make(map[string]PeerRecord),
		recvCh:   make(chan recvMsg, 64),
		done:     make(chan struct{}),
	}
	go d.acceptLoop()
	return d, nil
}

func (d *UnicastDriver) Name() string { return "unicast" }

func (d *UnicastDriver) acceptLoop() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			select {
			case <-d.done:
				return
			default:
				log.Printf("heartbeat: unicast accept: %v", err)
				continue
			}
		}
		go d.handleConn(conn)
	}
}

func (d *UnicastDriver) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	payload, err := readFrame(conn)
	if err != nil {
		log.Printf("heartbeat: unicast read from %s: %v", conn.RemoteAddr(), err)
		return
	}
	peer := conn.RemoteAddr().String()
	d.mu.Lock()
	d.records[peer] = PeerRecord{Last: time.Now(), Beating: true}
	d.mu.Unlock()
	select {
	case d.recvCh <- recvMsg{peer: peer, payload: payload}:
	default:
		log.Printf("heartbeat: unicast recv queue full, dropping message from %s", peer)
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > UnicastMaxFrame {
		return nil, fmt.Errorf("frame of %d bytes exceeds %d byte cap", n, UnicastMaxFrame)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > UnicastMaxFrame {
		return fmt.Errorf("frame of %d bytes exceeds %d byte cap", len(payload), UnicastMaxFrame)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// Send dials every configured peer and writes one length-prefixed frame.
// Connect failures are logged and skipped: best-effort, retried next
// period per spec.md §4.4.
func (d *UnicastDriver) Send(payload []byte) error {
	for name, addr := range d.peers {
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			log.Printf("heartbeat: unicast dial %s (%s): %v", name, addr, &PeerUnreachable{Peer: name, Detail: err.Error()})
			continue
		}
		err = writeFrame(conn, payload)
		conn.Close()
		if err != nil {
			log.Printf("heartbeat: unicast send to %s: %v", name, err)
		}
	}
	return nil
}

// Recv blocks for the next received payload or ctx cancellation.
func (d *UnicastDriver) Recv(ctx context.Context) (string, []byte, error) {
	select {
	case m := <-d.recvCh:
		return m.peer, m.payload, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (d *UnicastDriver) Status() map[string]PeerRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]PeerRecord, len(d.records))
	for k, v := range d.records {
		out[k] = v
	}
	return out
}

func (d *UnicastDriver) Close() error {
	close(d.done)
	return d.ln.Close()
}
