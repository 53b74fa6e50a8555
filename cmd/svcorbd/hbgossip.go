package main

import (
	"context"
	"encoding/json"
	"log"

	"svcorb/internal/clusterstate"
	"svcorb/internal/crypt"
	"svcorb/internal/heartbeat"
)

// hbMessage is the payload carried inside a sealed crypt.Envelope over the
// heartbeat fabric: either a full subtree resend or an incremental patch,
// per spec.md §4.6's gen-ordered mirror update.
type hbMessage struct {
	Kind  string             `json:"kind"` // "full" | "patch"
	Node  string             `json:"node"`
	Gen   int64              `json:"gen"`
	Patch clusterstate.Patch `json:"patch,omitempty"`
	Full  *clusterstate.Node `json:"full,omitempty"`
}

// sealHB seals msg under secret/clusterName and returns the wire bytes a
// heartbeat Driver.Send expects: a JSON-marshaled crypt.Envelope.
func sealHB(secret []byte, clusterName, self string, msg hbMessage) ([]byte, error) {
	env, err := crypt.SealJSON(secret, clusterName, self, msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// broadcastFull seals and sends self's current subtree to every heartbeat
// driver — used on startup, on a peer's stale→beating edge (it needs a
// fresh baseline), and periodically as a resync safety net for any peer
// whose patch stream developed a gap.
func broadcastFull(sup *heartbeat.Supervisor, secret []byte, clusterName, self string, store *clusterstate.Store) {
	node := store.Node(self)
	if node == nil {
		return
	}
	payload, err := sealHB(secret, clusterName, self, hbMessage{Kind: "full", Node: self, Gen: store.LocalGen(), Full: node})
	if err != nil {
		log.Printf("svcorbd: seal full hb payload: %v", err)
		return
	}
	sup.BroadcastAll(payload)
}

// broadcastPatch seals and sends one incremental change to self's subtree
// to every heartbeat driver, fired synchronously from the store's OnPatch
// hook whenever a local mutation occurs.
func broadcastPatch(sup *heartbeat.Supervisor, secret []byte, clusterName, self string, gen int64, patch clusterstate.Patch) {
	payload, err := sealHB(secret, clusterName, self, hbMessage{Kind: "patch", Node: self, Gen: gen, Patch: patch})
	if err != nil {
		log.Printf("svcorbd: seal patch hb payload: %v", err)
		return
	}
	sup.BroadcastAll(payload)
}

// hbReceiveLoop blocks on d.Recv until ctx is canceled, opening each
// envelope and applying it to store. Auth failures (bad cluster name,
// tampered ciphertext) are reported to onAuthFailure — the same
// consecutive-failure blacklist the RPC listener feeds — rather than
// silently dropped, since a forged heartbeat payload is as much an
// intrusion signal as a forged RPC envelope.
func hbReceiveLoop(ctx context.Context, d heartbeat.Driver, secret []byte, clusterName, self string, store *clusterstate.Store, isBlocked func(sender string) bool, onAuthFailure func(sender string)) {
	for {
		_, raw, err := d.Recv(ctx)
		if err != nil {
			return // ctx canceled
		}
		var env crypt.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("heartbeat: %s decode envelope: %v", d.Name(), err)
			continue
		}
		if isBlocked != nil && isBlocked(env.NodeName) {
			continue
		}
		var msg hbMessage
		if err := crypt.OpenJSON(secret, clusterName, env, &msg); err != nil {
			log.Printf("heartbeat: %s open envelope from %s: %v", d.Name(), env.NodeName, err)
			if onAuthFailure != nil {
				onAuthFailure(env.NodeName)
			}
			continue
		}
		if msg.Node == "" || msg.Node == self {
			continue // ignore unidentified or looped-back self payloads
		}
		switch msg.Kind {
		case "full":
			store.ApplyFull(msg.Node, msg.Gen, msg.Full)
		case "patch":
			needFull, err := store.ApplyRemote(msg.Node, msg.Gen, msg.Patch)
			if err != nil {
				log.Printf("heartbeat: apply patch from %s: %v", msg.Node, err)
				continue
			}
			if needFull {
				log.Printf("heartbeat: gen gap for peer %s, awaiting next full resend", msg.Node)
			}
		default:
			log.Printf("heartbeat: %s unknown hb message kind %q from %s", d.Name(), msg.Kind, msg.Node)
		}
	}
}
