package main

import (
	"database/sql"
	"fmt"
	"log"
)

// initSchema creates the identity/RBAC/audit tables the auxiliary HTTP
// surface (internal/middleware, internal/security) depends on. Uses IF NOT
// EXISTS — safe to call on every startup. Storage/LDAP/Telegram config
// tables are intentionally absent since those load from the node config
// file (internal/config) rather than the database; the audit_logs table
// carries the hash-chain columns internal/audit/buffered_logger.go
// threads through every row.
func initSchema(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			source TEXT NOT NULL DEFAULT 'local',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL,
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			expires_at INTEGER,
			last_activity INTEGER NOT NULL DEFAULT (strftime('%s','now')),
			FOREIGN KEY (username) REFERENCES users(username)
		)`,

		`CREATE TABLE IF NOT EXISTS roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			is_system INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		`CREATE TABLE IF NOT EXISTS permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			resource TEXT NOT NULL,
			action TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT 'general',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(resource, action)
		)`,

		`CREATE TABLE IF NOT EXISTS role_permissions (
			role_id INTEGER NOT NULL,
			permission_id INTEGER NOT NULL,
			PRIMARY KEY (role_id, permission_id),
			FOREIGN KEY (role_id) REFERENCES roles(id) ON DELETE CASCADE,
			FOREIGN KEY (permission_id) REFERENCES permissions(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS user_roles (
			user_id INTEGER NOT NULL,
			role_id INTEGER NOT NULL,
			granted_by TEXT NOT NULL DEFAULT 'system',
			expires_at TEXT,
			PRIMARY KEY (user_id, role_id),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (role_id) REFERENCES roles(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			user TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL DEFAULT '',
			resource TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL DEFAULT 1,
			prev_hash TEXT NOT NULL DEFAULT '',
			row_hash TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sessions_session_id ON sessions(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_logs(user)`,
		`CREATE INDEX IF NOT EXISTS idx_user_roles_user ON user_roles(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_roles_role ON user_roles(role_id)`,
		`CREATE INDEX IF NOT EXISTS idx_role_permissions_role ON role_permissions(role_id)`,
	}

	for _, stmt := range tables {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema init failed: %w\nStatement: %.80s", err, stmt)
		}
	}

	return seedDefaults(db)
}

// seedDefaults populates the built-in roles/permissions/admin user on
// first run only, scoped to cluster resource categories (objects, nodes,
// quorum, audit, system).
func seedDefaults(db *sql.DB) error {
	var roleCount int
	db.QueryRow("SELECT COUNT(*) FROM roles").Scan(&roleCount)
	if roleCount == 0 {
		roles := []struct{ name, display, desc string }{
			{"admin", "Administrator", "Full cluster access"},
			{"operator", "Operator", "Start, stop, and reconfigure objects"},
			{"viewer", "Viewer", "Read-only access to cluster state"},
		}
		for _, r := range roles {
			if _, err := db.Exec(
				"INSERT INTO roles (name, display_name, description, is_system) VALUES (?, ?, ?, 1)",
				r.name, r.display, r.desc,
			); err != nil {
				return fmt.Errorf("role seed %s: %w", r.name, err)
			}
		}
		log.Printf("svcorbd: seeded %d built-in roles", len(roles))
	}

	var permCount int
	db.QueryRow("SELECT COUNT(*) FROM permissions").Scan(&permCount)
	if permCount == 0 {
		perms := []struct{ resource, action, display, desc, category string }{
			{"objects", "read", "View Objects", "List objects and their status", "cluster"},
			{"objects", "write", "Manage Objects", "Start, stop, freeze, and provision objects", "cluster"},
			{"objects", "purge", "Purge Objects", "Unprovision and remove objects", "cluster"},
			{"nodes", "read", "View Nodes", "List nodes and their heartbeat status", "cluster"},
			{"nodes", "write", "Manage Nodes", "Freeze, maintenance, and drain nodes", "cluster"},
			{"quorum", "read", "View Quorum", "View quorum and arbitrator status", "cluster"},
			{"audit", "read", "View Audit Logs", "Access the audit trail", "security"},
			{"roles", "read", "View Roles", "List roles and permissions", "security"},
			{"roles", "write", "Manage Roles", "Create roles and assign permissions", "security"},
			{"system", "admin", "System Admin", "Full administrative access", "system"},
		}
		for _, p := range perms {
			if _, err := db.Exec(
				"INSERT INTO permissions (resource, action, display_name, description, category) VALUES (?, ?, ?, ?, ?)",
				p.resource, p.action, p.display, p.desc, p.category,
			); err != nil {
				return fmt.Errorf("perm seed %s:%s: %w", p.resource, p.action, err)
			}
		}
		log.Printf("svcorbd: seeded %d built-in permissions", len(perms))

		var adminID int
		if err := db.QueryRow("SELECT id FROM roles WHERE name = 'admin'").Scan(&adminID); err == nil {
			rows, _ := db.Query("SELECT id FROM permissions")
			if rows != nil {
				defer rows.Close()
				for rows.Next() {
					var pid int
					rows.Scan(&pid)
					db.Exec("INSERT OR IGNORE INTO role_permissions (role_id, permission_id) VALUES (?, ?)", adminID, pid)
				}
			}
		}
	}

	var userCount int
	db.QueryRow("SELECT COUNT(*) FROM users").Scan(&userCount)
	if userCount == 0 {
		if _, err := db.Exec(
			"INSERT INTO users (username, display_name, email, active) VALUES ('admin', 'Administrator', 'admin@localhost', 1)",
		); err != nil {
			return fmt.Errorf("admin user seed: %w", err)
		}
		var adminRoleID, adminUserID int
		db.QueryRow("SELECT id FROM roles WHERE name = 'admin'").Scan(&adminRoleID)
		db.QueryRow("SELECT id FROM users WHERE username = 'admin'").Scan(&adminUserID)
		if adminRoleID > 0 && adminUserID > 0 {
			db.Exec("INSERT OR IGNORE INTO user_roles (user_id, role_id, granted_by) VALUES (?, ?, 'system')", adminUserID, adminRoleID)
		}
		log.Printf("svcorbd: created default admin user")
	}

	return nil
}
