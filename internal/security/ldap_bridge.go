package security

import (
	"fmt"

	"svcorb/internal/ldap"
)

// AuthenticateOperator binds against an LDAP directory and, on success,
// assigns the authenticated user a cluster role in access via
// client.Config's group mappings (or DefaultRole with JIT provisioning),
// per the operator-login path onto the listener's ClusterAccess.
func AuthenticateOperator(client *ldap.Client, cfg *ldap.Config, access *ClusterAccess, username, password string) (*ldap.User, error) {
	user, err := client.Authenticate(username, password)
	if err != nil {
		return nil, fmt.Errorf("security: ldap authenticate %s: %w", username, err)
	}

	role := ""
	for _, mapping := range cfg.GroupMappings {
		if containsGroup(user.Groups, mapping.LDAPGroup) {
			role = mapping.RoleName
			break
		}
	}
	if role == "" {
		if !cfg.JITProvisioning {
			return nil, fmt.Errorf("security: %s matched no group mapping and JIT provisioning is disabled", username)
		}
		role = cfg.DefaultRole
	}
	access.SetRole(username, role)
	return user, nil
}

func containsGroup(groups []string, want string) bool {
	for _, g := range groups {
		if g == want {
			return true
		}
	}
	return false
}
