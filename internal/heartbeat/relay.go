package heartbeat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// RelayDriver pushes heartbeats through an HTTP relay node: POST to push
// this node's payload, GET to pull peers', both authenticated by the same
// cluster secret (carried in the crypt envelope, not by this driver).
// Used when peers cannot reach each other directly, per spec.md §4.4.
// Grounded on ha.Manager.pingPeer's bounded http.Client idiom.
type RelayDriver struct {
	client   *http.Client
	relayURL string
	selfName string
	peers    []string

	period time.Duration

	mu      sync.Mutex
	records map[string]PeerRecord

	recvCh chan recvMsg
	done   chan struct{}
}

// NewRelayDriver polls relayURL (e.g. "https://relay.example.org/hb") for
// peers every period, pushing under path/<selfName> and pulling
// path/<peer> for each configured peer.
func NewRelayDriver(relayURL, selfName string, peers []string, period time.Duration) *RelayDriver {
	if period <= 0 {
		period = DefaultPeriod
	}
	d := &RelayDriver{
		client:   &http.Client{Timeout: 5 * time.Second},
		relayURL: relayURL,
		selfName: selfName,
		peers:    peers,
		period:   period,
		records:  make(map[string]PeerRecord),
		recvCh:   make(chan recvMsg, 64),
		done:     make(chan struct{}),
	}
	go d.pollLoop()
	return d
}

func (d *RelayDriver) Name() string { return "relay" }

// Send POSTs payload under this node's name. The relay is expected to keep
// only the most recent push per name.
func (d *RelayDriver) Send(payload []byte) error {
	url := fmt.Sprintf("%s/%s", d.relayURL, d.selfName)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("heartbeat: relay build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat: relay push: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("heartbeat: relay push %s: status %d", url, resp.StatusCode)
	}
	return nil
}

func (d *RelayDriver) pollLoop() {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	lastBody := make(map[string]string)
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			for _, peer := range d.peers {
				payload, ok := d.pull(peer)
				if !ok {
					continue
				}
				if string(payload) == lastBody[peer] {
					continue // unchanged since last poll, no new beat
				}
				lastBody[peer] = string(payload)
				d.mu.Lock()
				d.records[peer] = PeerRecord{Last: time.Now(), Beating: true}
				d.mu.Unlock()
				select {
				case d.recvCh <- recvMsg{peer: peer, payload: payload}:
				default:
					log.Printf("heartbeat: relay recv queue full, dropping from %s", peer)
				}
			}
		}
	}
}

func (d *RelayDriver) pull(peer string) ([]byte, bool) {
	url := fmt.Sprintf("%s/%s", d.relayURL, peer)
	resp, err := d.client.Get(url)
	if err != nil {
		log.Printf("heartbeat: relay pull %s: %v", peer, &PeerUnreachable{Peer: peer, Detail: err.Error()})
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false
	}
	if resp.StatusCode >= 300 {
		log.Printf("heartbeat: relay pull %s: status %d", peer, resp.StatusCode)
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, UnicastMaxFrame))
	if err != nil {
		log.Printf("heartbeat: relay pull %s: read body: %v", peer, err)
		return nil, false
	}
	return body, true
}

func (d *RelayDriver) Recv(ctx context.Context) (string, []byte, error) {
	select {
	case m := <-d.recvCh:
		return m.peer, m.payload, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (d *RelayDriver) Status() map[string]PeerRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]PeerRecord, len(d.records))
	for k, v := range d.records {
		out[k] = v
	}
	return out
}

func (d *RelayDriver) Close() error {
	close(d.done)
	return nil
}
