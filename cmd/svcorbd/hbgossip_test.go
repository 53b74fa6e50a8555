package main

import (
	"context"
	"testing"
	"time"

	"svcorb/internal/clusterstate"
	"svcorb/internal/heartbeat"
)

// loopbackDriver is a heartbeat.Driver whose Send feeds its own Recv
// channel, standing in for a real transport in the gossip round-trip test.
type loopbackDriver struct {
	ch chan []byte
}

func newLoopbackDriver() *loopbackDriver { return &loopbackDriver{ch: make(chan []byte, 4)} }

func (d *loopbackDriver) Name() string          { return "loopback" }
func (d *loopbackDriver) Send(payload []byte) error {
	d.ch <- payload
	return nil
}
func (d *loopbackDriver) Recv(ctx context.Context) (string, []byte, error) {
	select {
	case p := <-d.ch:
		return "peer", p, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}
func (d *loopbackDriver) Status() map[string]heartbeat.PeerRecord { return nil }
func (d *loopbackDriver) Close() error                            { return nil }

func TestBroadcastFullAppliesOnReceivingStore(t *testing.T) {
	secret := []byte("cluster-secret")
	clusterName := "testcluster"

	senderStore := clusterstate.NewStore("n1")
	if _, err := senderStore.UpdateLocal([]string{"labels", "rack"}, "a1"); err != nil {
		t.Fatalf("UpdateLocal: %v", err)
	}

	receiverStore := clusterstate.NewStore("n2")
	driver := newLoopbackDriver()
	sup := heartbeat.NewSupervisor([]heartbeat.Driver{driver}, heartbeat.DefaultTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hbReceiveLoop(ctx, driver, secret, clusterName, "n2", receiverStore, nil, nil)

	broadcastFull(sup, secret, clusterName, "n1", senderStore)

	deadline := time.After(time.Second)
	for {
		if n := receiverStore.Node("n1"); n != nil && n.Labels["rack"] == "a1" {
			return
		}
		select {
		case <-deadline:
			t.Fatal("receiver never applied the full payload from n1")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBroadcastPatchAppliesIncrementally(t *testing.T) {
	secret := []byte("cluster-secret")
	clusterName := "testcluster"

	receiverStore := clusterstate.NewStore("n2")
	driver := newLoopbackDriver()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hbReceiveLoop(ctx, driver, secret, clusterName, "n2", receiverStore, nil, nil)

	// ApplyRemote requires gen == storedGen[peer]+1; storedGen starts at 0.
	patch := clusterstate.Patch{{Path: []string{"labels", "zone"}, Value: "west"}}
	sup := heartbeat.NewSupervisor([]heartbeat.Driver{driver}, heartbeat.DefaultTimeout)
	broadcastPatch(sup, secret, clusterName, "n1", 1, patch)

	deadline := time.After(time.Second)
	for {
		if n := receiverStore.Node("n1"); n != nil && n.Labels["zone"] == "west" {
			return
		}
		select {
		case <-deadline:
			t.Fatal("receiver never applied the patch payload from n1")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
