package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// loadOrCreateNodeUUID reads the node's persistent identity from path,
// generating and saving a fresh UUIDv4 on first run. Grounded on
// internal/audit's LoadOrCreateAuditKey read-or-generate-and-persist
// idiom; spec.md §3 asks for a process-wide node UUID that survives
// restarts, distinct from the (also persistent but human-chosen) node
// name, so peers can tell a restarted node from a reinstalled one
// reusing the same name.
func loadOrCreateNodeUUID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, err := uuid.Parse(id); err != nil {
			return "", fmt.Errorf("node uuid file %s contents are not a valid uuid: %w", path, err)
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading node uuid: %w", err)
	}

	id := uuid.New().String()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("creating node uuid dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("writing node uuid: %w", err)
	}
	return id, nil
}
