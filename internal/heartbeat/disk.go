package heartbeat

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log"
	"os"
	"sync"
	"time"
)

// Disk heartbeat layout, per spec.md §4.4: a raw device (here, a plain
// file standing in for a block device) partitioned into a 1 MiB metadata
// slot plus one 1 MiB slot per peer. Each slot opens with a 4 KiB aligned
// header block (seq, payload length, CRC32) followed by the payload.
const (
	DiskSlotSize      = 1 << 20 // 1 MiB
	DiskBlockSize     = 4096
	DiskHeaderOffset  = 0
	DiskPayloadOffset = DiskBlockSize
	DiskMaxPayload    = DiskSlotSize - DiskBlockSize
)

// DiskDriver implements the shared-disk heartbeat transport: writers own
// one slot and CAS-free append a new sequence number each period; readers
// poll every configured peer slot and accept the highest valid sequence.
type DiskDriver struct {
	f         *os.File
	selfSlot  int
	peerSlots map[string]int // peer name -> slot index (1-based; 0 is metadata)
	period    time.Duration

	seq uint32

	mu      sync.Mutex
	records map[string]PeerRecord

	recvCh chan recvMsg
	done   chan struct{}
}

// NewDiskDriver opens (creating if needed) the backing file at path, sized
// to hold the metadata slot plus one slot per entry in peerSlots, and
// starts the poll loop.
func NewDiskDriver(path string, selfSlot int, peerSlots map[string]int, period time.Duration) (*DiskDriver, error) {
	if period <= 0 {
		period = DefaultPeriod
	}
	maxSlot := selfSlot
	for _, s := range peerSlots {
		if s > maxSlot {
			maxSlot = s
		}
	}
	size := int64(maxSlot+1) * DiskSlotSize

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: disk open %s: %w", path, err)
	}
	if fi, err := f.Stat(); err == nil && fi.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("heartbeat: disk truncate %s: %w", path, err)
		}
	}

	d := &DiskDriver{
		f:         f,
		selfSlot:  selfSlot,
		peerSlots: peerSlots,
		period:    period,
		records:   make(map[string]PeerRecord),
		recvCh:    make(chan recvMsg, 64),
		done:      make(chan struct{}),
	}
	go d.pollLoop()
	return d, nil
}

func (d *DiskDriver) Name() string { return "disk" }

// Send writes the next aligned block into this node's own slot.
func (d *DiskDriver) Send(payload []byte) error {
	if len(payload) > DiskMaxPayload {
		return fmt.Errorf("heartbeat: disk payload %d bytes exceeds %d byte slot capacity", len(payload), DiskMaxPayload)
	}
	d.seq++

	header := make([]byte, DiskBlockSize)
	binary.BigEndian.PutUint32(header[0:4], d.seq)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[8:12], crc32.ChecksumIEEE(payload))

	base := int64(d.selfSlot) * DiskSlotSize
	if _, err := d.f.WriteAt(payload, base+DiskPayloadOffset); err != nil {
		return fmt.Errorf("heartbeat: disk write payload: %w", err)
	}
	if _, err := d.f.WriteAt(header, base+DiskHeaderOffset); err != nil {
		return fmt.Errorf("heartbeat: disk write header: %w", err)
	}
	return nil
}

func (d *DiskDriver) pollLoop() {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	lastSeq := make(map[string]uint32)
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			for peer, slot := range d.peerSlots {
				seq, payload, ok, err := d.readSlot(slot)
				if err != nil {
					log.Printf("heartbeat: disk read slot %d (%s): %v", slot, peer, err)
					continue
				}
				if !ok || seq <= lastSeq[peer] {
					continue
				}
				lastSeq[peer] = seq
				d.mu.Lock()
				d.records[peer] = PeerRecord{Last: time.Now(), Beating: true}
				d.mu.Unlock()
				select {
				case d.recvCh <- recvMsg{peer: peer, payload: payload}:
				default:
					log.Printf("heartbeat: disk recv queue full, dropping from %s", peer)
				}
			}
		}
	}
}

func (d *DiskDriver) readSlot(slot int) (seq uint32, payload []byte, ok bool, err error) {
	base := int64(slot) * DiskSlotSize
	header := make([]byte, DiskBlockSize)
	if _, err = d.f.ReadAt(header, base+DiskHeaderOffset); err != nil {
		return
	}
	seq = binary.BigEndian.Uint32(header[0:4])
	length := binary.BigEndian.Uint32(header[4:8])
	wantCRC := binary.BigEndian.Uint32(header[8:12])
	if length == 0 || int(length) > DiskMaxPayload {
		return 0, nil, false, nil
	}
	payload = make([]byte, length)
	if _, err = d.f.ReadAt(payload, base+DiskPayloadOffset); err != nil {
		return
	}
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return 0, nil, false, nil // torn/partial write this period, skip
	}
	return seq, payload, true, nil
}

func (d *DiskDriver) Recv(ctx context.Context) (string, []byte, error) {
	select {
	case m := <-d.recvCh:
		return m.peer, m.payload, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (d *DiskDriver) Status() map[string]PeerRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]PeerRecord, len(d.records))
	for k, v := range d.records {
		out[k] = v
	}
	return out
}

func (d *DiskDriver) Close() error {
	close(d.done)
	return d.f.Close()
}
