package security

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"svcorb/internal/storeutil"
)

// db is declared in rbac.go via SetDatabase()

// InitDatabase initializes the SQLite connection via storeutil.Open,
// sharing the WAL-mode pragma set with the audit database cmd/svcorbd opens.
func InitDatabase(dbPath string) error {
	opened, err := storeutil.Open(dbPath, storeutil.Options{SharedCache: true})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db = opened
	return nil
}

// CloseDatabase closes the database connection
func CloseDatabase() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// ValidateSession checks if a session is valid in the database
func ValidateSession(sessionID, username string) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("database not initialized")
	}

	// Check if session exists and is not expired
	var count int
	query := `
		SELECT COUNT(*) 
		FROM sessions 
		WHERE session_id = ? 
		AND username = ?
		AND (expires_at IS NULL OR expires_at > ?)
	`

	err := db.QueryRow(query, sessionID, username, time.Now().Unix()).Scan(&count)
	if err != nil {
		// FAIL-CLOSED: Reject on ANY error (no fallback!)
		return false, fmt.Errorf("session validation failed: %w", err)
	}

	return count > 0, nil
}

// GetUserFromSession retrieves the username associated with a session
func GetUserFromSession(sessionID string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("database not initialized")
	}

	var username string
	query := `
		SELECT username 
		FROM sessions 
		WHERE session_id = ?
		AND (expires_at IS NULL OR expires_at > ?)
		LIMIT 1
	`

	err := db.QueryRow(query, sessionID, time.Now().Unix()).Scan(&username)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("session not found")
		}
		return "", fmt.Errorf("failed to get user: %w", err)
	}

	return username, nil
}

// EnsureUser inserts a local row for username if one doesn't already
// exist, used by the LDAP login bridge's JIT-provisioning path: an
// operator authenticated against the directory still needs a users row
// for the sessions table's foreign key and the audit trail's "user" field
// to resolve against.
func EnsureUser(username, email string) error {
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	_, err := db.Exec(
		`INSERT OR IGNORE INTO users (username, display_name, email, active, source) VALUES (?, ?, ?, 1, 'ldap')`,
		username, username, email,
	)
	return err
}

// CreateSession mints a random session token for username (a UUIDv4),
// valid until ttl elapses, and records it in the sessions table.
func CreateSession(username string, ttl time.Duration) (string, error) {
	if db == nil {
		return "", fmt.Errorf("database not initialized")
	}
	token := uuid.New().String()
	now := time.Now()
	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = now.Add(ttl).Unix()
	}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, username, created_at, expires_at, last_activity) VALUES (?, ?, ?, ?, ?)`,
		token, username, now.Unix(), expiresAt, now.Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("create session for %s: %w", username, err)
	}
	return token, nil
}

// ValidateUser checks if a user exists and is active
func ValidateUser(username string) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("database not initialized")
	}

	var count int
	query := `
		SELECT COUNT(*) 
		FROM users 
		WHERE username = ?
		AND active = 1
	`

	err := db.QueryRow(query, username).Scan(&count)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("user validation failed: %w", err)
	}

	return count > 0, nil
}

// SessionUser represents basic user info returned from session validation
type SessionUser struct {
	ID       int
	Username string
	Email    string
}

// ValidateSessionAndGetUser validates a session token and returns the associated user
func ValidateSessionAndGetUser(sessionToken string) (*SessionUser, error) {
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	var user SessionUser
	query := `
		SELECT u.id, u.username, COALESCE(u.email, '')
		FROM sessions s
		JOIN users u ON s.username = u.username
		WHERE s.session_id = ?
		AND (s.expires_at IS NULL OR s.expires_at > ?)
		AND u.active = 1
		LIMIT 1
	`

	err := db.QueryRow(query, sessionToken, time.Now().Unix()).Scan(
		&user.ID, &user.Username, &user.Email,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("invalid or expired session")
		}
		return nil, fmt.Errorf("session validation failed: %w", err)
	}

	return &user, nil
}
