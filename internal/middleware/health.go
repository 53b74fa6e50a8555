package middleware

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus is the `{"status":"ok","version":...}` health check body,
// extended with cluster-relevant fields.
type HealthStatus struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	NodeName    string `json:"node_name"`
	QuorumHeld  bool   `json:"quorum_held"`
	Uptime      string `json:"uptime"`
}

// HealthHandler returns a GET /health handler reporting quorumHeld() at
// call time.
func HealthHandler(version, nodeName string, start time.Time, quorumHeld func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		held := true
		if quorumHeld != nil {
			held = quorumHeld()
		}
		respondJSON(w, http.StatusOK, HealthStatus{
			Status:     "ok",
			Version:    version,
			NodeName:   nodeName,
			QuorumHeld: held,
			Uptime:     time.Since(start).String(),
		})
	}
}

// Metrics is a minimal counter snapshot for GET /metrics; the full
// time-series stack is out of scope (spec.md §1 Non-goals excludes
// analytical/ML code, and no metrics backend is named in the corpus).
type Metrics struct {
	LiveVotes       int `json:"live_votes"`
	Subscribers     int `json:"event_subscribers"`
	ObjectsTotal    int `json:"objects_total"`
	ObjectsStarted  int `json:"objects_started"`
}

// MetricsHandler returns a GET /metrics handler serving snapshot().
func MetricsHandler(snapshot func() Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshot())
	}
}
