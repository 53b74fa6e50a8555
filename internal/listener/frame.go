package listener

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrame caps the initial length-prefixed request/response frame.
// Larger than heartbeat's UnicastMaxFrame since RPC payloads can carry
// full object configs, not just liveness snapshots.
const MaxFrame = 32 * 1024 * 1024

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrame {
		return nil, fmt.Errorf("listener: frame of %d bytes exceeds %d byte cap", n, MaxFrame)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrame {
		return fmt.Errorf("listener: frame of %d bytes exceeds %d byte cap", len(payload), MaxFrame)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
