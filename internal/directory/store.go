package directory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed user and friendship directory. It implements
// Resolver and Friendships.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (or creates) the directory tables in the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for concurrent access with the ledger sharing the same file.
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			username   TEXT NOT NULL UNIQUE,
			public_key TEXT NOT NULL UNIQUE,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create users table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS friendships (
			requester_id TEXT NOT NULL,
			addressee_id TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending',
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (requester_id, addressee_id)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create friendships table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUser registers a user and returns the stored identity. The id is
// assigned here; username and public key must be unique.
func (s *Store) CreateUser(username, publicKey string) (Identity, error) {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(
		`INSERT INTO users (id, username, public_key) VALUES (?, ?, ?)`,
		id, username, publicKey,
	); err != nil {
		return Identity{}, fmt.Errorf("create user %q: %w", username, err)
	}
	return Identity{ID: id, Username: username, PublicKey: publicKey}, nil
}

// FindByID returns the identity for an id, or false if unknown.
func (s *Store) FindByID(id string) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var u Identity
	err := s.db.QueryRow(
		`SELECT id, username, public_key FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.PublicKey)
	if err != nil {
		return Identity{}, false
	}
	return u, true
}

// FindByUsername returns the identity for a username, or false if unknown.
func (s *Store) FindByUsername(username string) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var u Identity
	err := s.db.QueryRow(
		`SELECT id, username, public_key FROM users WHERE username = ?`, username,
	).Scan(&u.ID, &u.Username, &u.PublicKey)
	if err != nil {
		return Identity{}, false
	}
	return u, true
}

// ValidateIdentity reports whether username is registered with exactly the
// given public key. Used for client-side key derivation checks.
func (s *Store) ValidateIdentity(username, publicKey string) bool {
	u, ok := s.FindByUsername(username)
	return ok && u.PublicKey == publicKey
}

// SetFriendship records a friendship between two users with the given
// status, replacing any prior relation in either direction.
func (s *Store) SetFriendship(requester, addressee, status string) error {
	if requester == addressee {
		return fmt.Errorf("friendship requester and addressee must differ")
	}
	switch status {
	case StatusPending, StatusAccepted, StatusDeclined, StatusBlocked:
	default:
		return fmt.Errorf("unknown friendship status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("set friendship %s -> %s: %w", requester, addressee, err)
	}
	defer tx.Rollback()

	// One stored row per pair: a relation recorded in the reverse direction
	// is superseded, not kept alongside. Otherwise FriendIDs would list the
	// pair twice and a later blocked row could not revoke an older accepted
	// one.
	if _, err := tx.Exec(
		`DELETE FROM friendships WHERE requester_id = ? AND addressee_id = ?`,
		addressee, requester,
	); err != nil {
		return fmt.Errorf("set friendship %s -> %s: %w", requester, addressee, err)
	}
	if _, err := tx.Exec(`
		INSERT INTO friendships (requester_id, addressee_id, status)
		VALUES (?, ?, ?)
		ON CONFLICT(requester_id, addressee_id) DO UPDATE SET
			status = excluded.status`,
		requester, addressee, status,
	); err != nil {
		return fmt.Errorf("set friendship %s -> %s: %w", requester, addressee, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set friendship %s -> %s: %w", requester, addressee, err)
	}
	return nil
}

// IsAcceptedBetween reports whether an accepted friendship exists between
// the two users, in either direction. Nobody is friends with themselves.
func (s *Store) IsAcceptedBetween(a, b string) bool {
	if a == b {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM friendships
		WHERE status = 'accepted'
		  AND ((requester_id = ? AND addressee_id = ?)
		    OR (requester_id = ? AND addressee_id = ?))`,
		a, b, b, a).Scan(&n)
	return err == nil && n > 0
}

// FriendIDs returns the ids of all users with an accepted friendship to id,
// whichever side initiated it.
func (s *Store) FriendIDs(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT CASE WHEN requester_id = ? THEN addressee_id ELSE requester_id END
		FROM friendships
		WHERE status = 'accepted' AND (requester_id = ? OR addressee_id = ?)`,
		id, id, id)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var fid string
		if err := rows.Scan(&fid); err != nil {
			return ids
		}
		ids = append(ids, fid)
	}
	return ids
}
