// Package quorum implements the arbitrator-backed split-brain guard
// (spec.md §4.10, C10): a live-votes majority test, falling back to
// sequential arbitrator consultation, and a suicide hook invoked when
// quorum cannot be reestablished.
package quorum

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"svcorb/internal/crypt"
)

// pingAction is the envelope action name arbitrators answer, per spec.md
// §4.10's "daemon_blacklist_status" ping.
const pingAction = "daemon_blacklist_status"

// Arbitrator is an out-of-cluster node queried as a tiebreaker during
// partitions (spec.md glossary). Ping dials it over HTTP with a bounded
// timeout, grounded on ha.Manager.pingPeer's http.Client{Timeout: 5s}
// idiom.
type Arbitrator struct {
	Name   string
	URL    string // e.g. "http://arb1.example.org:1215/ping"
	Secret []byte // the arbitrator's own shared secret, distinct from the cluster secret
}

type pingRequest struct {
	Action string `json:"action"`
}

type pingResponse struct {
	Status int `json:"status"`
}

// Ping sends an authenticated ping to the arbitrator and reports whether it
// answered with status 0, counting as one extra live vote.
func (a Arbitrator) Ping(client *http.Client) (bool, error) {
	env, err := crypt.SealJSON(a.Secret, crypt.JoinClusterName, "", pingRequest{Action: pingAction})
	if err != nil {
		return false, fmt.Errorf("quorum: seal ping to %s: %w", a.Name, err)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return false, fmt.Errorf("quorum: marshal envelope for %s: %w", a.Name, err)
	}

	req, err := http.NewRequest(http.MethodPost, a.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("quorum: build request for %s: %w", a.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("quorum: ping %s: %w", a.Name, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return false, fmt.Errorf("quorum: read response from %s: %w", a.Name, err)
	}

	var respEnv crypt.Envelope
	if err := json.Unmarshal(raw, &respEnv); err != nil {
		return false, fmt.Errorf("quorum: decode envelope from %s: %w", a.Name, err)
	}
	var pr pingResponse
	if err := crypt.OpenJSON(a.Secret, crypt.JoinClusterName, respEnv, &pr); err != nil {
		return false, fmt.Errorf("quorum: open response from %s: %w", a.Name, err)
	}
	return pr.Status == 0, nil
}

func defaultClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}
