package security

import (
	"sync"

	"svcorb/internal/listener"
)

// ClusterAccess adapts the user/role permission cache (UserHasPermission,
// above) into a listener.Authorizer for peer and client RPC connections:
// role lookup by node/identity name instead of by userID, with the same
// wildcard-role convention ("*" matches any required role).
type ClusterAccess struct {
	mu    sync.RWMutex
	roles map[string]string // identity name -> role
}

// NewClusterAccess returns a ClusterAccess seeded with roles, typically
// loaded from node.conf's cluster section.
func NewClusterAccess(roles map[string]string) *ClusterAccess {
	if roles == nil {
		roles = make(map[string]string)
	}
	return &ClusterAccess{roles: roles}
}

// SetRole assigns or updates name's role.
func (c *ClusterAccess) SetRole(name, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roles[name] = role
}

// Authorize implements listener.Authorizer. An identity with no
// registered role defaults to "peer" (cluster members authenticate via
// the envelope's cluster secret, not an explicit grant), matching
// UserHasPermission's god-mode-for-userID-1 style default-permissive
// carve-out but scoped to the lowest privilege rather than the highest.
func (c *ClusterAccess) Authorize(id listener.Identity, policy listener.AccessPolicy) error {
	c.mu.RLock()
	role, known := c.roles[id.Name]
	c.mu.RUnlock()
	if !known {
		role = "peer"
	}

	if policy.Role != "" && policy.Role != "*" && role != policy.Role && role != "admin" {
		return &listener.ForbiddenError{Identity: listener.Identity{Name: id.Name, Role: role}, Policy: policy}
	}
	if policy.Namespace != "" && id.Namespace != "" && id.Namespace != policy.Namespace {
		return &listener.ForbiddenError{Identity: listener.Identity{Name: id.Name, Role: role, Namespace: id.Namespace}, Policy: policy}
	}
	return nil
}
