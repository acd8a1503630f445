// Package ledger persists pairwise peer-connection records. The ledger is
// best-effort bookkeeping: live reachability belongs to the presence
// registry, so callers log and swallow write failures rather than letting
// them block signaling.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"peersignal/internal/proto"
)

// Connection statuses.
const (
	StatusDisconnected = "disconnected"
	StatusPending      = "pending"
	StatusConnected    = "connected"
)

// TypeDirect is the default connection type.
const TypeDirect = "direct"

// DefaultActiveWindow bounds how old a connected row may be and still count
// as active. Distinct from the presence online window on purpose.
const DefaultActiveWindow = 30 * time.Minute

// PeerConnection is one direction of a pairwise peer relationship.
type PeerConnection struct {
	OwnerID        string `json:"owner_id"`
	PeerID         string `json:"peer_id"`
	Status         string `json:"status"`
	ConnectionType string `json:"connection_type"`
	LastActivity   int64  `json:"last_activity"` // unix millis
}

// Ledger is a SQLite-backed store of peer connection records.
type Ledger struct {
	db           *sql.DB
	mu           sync.Mutex
	activeWindow time.Duration
}

// Open opens (or creates) the ledger table in the database at path.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	// The primary key doubles as the uniqueness constraint that makes
	// concurrent upserts for the same pair converge to one row.
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS peer_connections (
			owner_id        TEXT NOT NULL,
			peer_id         TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'pending',
			connection_type TEXT NOT NULL DEFAULT 'direct',
			last_activity   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (owner_id, peer_id)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create peer_connections table: %w", err)
	}

	return &Ledger{db: db, activeWindow: DefaultActiveWindow}, nil
}

// SetActiveWindow overrides the active window. Must be called before use.
func (l *Ledger) SetActiveWindow(d time.Duration) {
	if d > 0 {
		l.activeWindow = d
	}
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Upsert ensures a connection row exists in both directions (a->b and b->a)
// with the given type. New rows start as pending; an existing connected row
// is never downgraded. Last activity is refreshed either way.
func (l *Ledger) Upsert(a, b, connType string) error {
	if connType == "" {
		connType = TypeDirect
	}
	now := proto.NowMillis()

	l.mu.Lock()
	defer l.mu.Unlock()
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("upsert connection %s <-> %s: %w", a, b, err)
	}
	defer tx.Rollback()

	// Both directions commit together so a failure cannot leave a
	// one-directional row behind.
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if _, err := tx.Exec(`
			INSERT INTO peer_connections (owner_id, peer_id, status, connection_type, last_activity)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(owner_id, peer_id) DO UPDATE SET
				status          = CASE WHEN peer_connections.status = 'connected'
				                       THEN peer_connections.status
				                       ELSE excluded.status END,
				connection_type = excluded.connection_type,
				last_activity   = excluded.last_activity`,
			pair[0], pair[1], StatusPending, connType, now,
		); err != nil {
			return fmt.Errorf("upsert connection %s -> %s: %w", pair[0], pair[1], err)
		}
	}
	return tx.Commit()
}

// MarkConnected transitions an existing record to connected. A missing
// record is a silent no-op: the ledger is bookkeeping, not the source of
// truth for reachability.
func (l *Ledger) MarkConnected(owner, peer string) error {
	return l.setStatus(owner, peer, StatusConnected)
}

// MarkDisconnected transitions an existing record to disconnected.
// A missing record is a silent no-op.
func (l *Ledger) MarkDisconnected(owner, peer string) error {
	return l.setStatus(owner, peer, StatusDisconnected)
}

func (l *Ledger) setStatus(owner, peer, status string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(`
		UPDATE peer_connections SET status = ?, last_activity = ?
		WHERE owner_id = ? AND peer_id = ?`,
		status, proto.NowMillis(), owner, peer)
	if err != nil {
		return fmt.Errorf("mark %s %s -> %s: %w", status, owner, peer, err)
	}
	return nil
}

// Find returns the connection record owned by owner toward peer.
func (l *Ledger) Find(owner, peer string) (PeerConnection, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var pc PeerConnection
	err := l.db.QueryRow(`
		SELECT owner_id, peer_id, status, connection_type, last_activity
		FROM peer_connections WHERE owner_id = ? AND peer_id = ?`,
		owner, peer,
	).Scan(&pc.OwnerID, &pc.PeerID, &pc.Status, &pc.ConnectionType, &pc.LastActivity)
	if err != nil {
		return PeerConnection{}, false
	}
	return pc, true
}

// ActiveCountFor counts owner's connected records with activity inside the
// active window.
func (l *Ledger) ActiveCountFor(owner string) int {
	cutoff := time.Now().Add(-l.activeWindow).UnixMilli()

	l.mu.Lock()
	defer l.mu.Unlock()
	var n int
	err := l.db.QueryRow(`
		SELECT COUNT(*) FROM peer_connections
		WHERE owner_id = ? AND status = 'connected' AND last_activity > ?`,
		owner, cutoff).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}

// TouchAll refreshes last activity on every record owned by owner. Called
// when the owner's session opens or closes.
func (l *Ledger) TouchAll(owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(`
		UPDATE peer_connections SET last_activity = ? WHERE owner_id = ?`,
		proto.NowMillis(), owner)
	if err != nil {
		return fmt.Errorf("touch connections for %s: %w", owner, err)
	}
	return nil
}

// TouchPair refreshes last activity on both directions of a pair. Called on
// successful relay activity.
func (l *Ledger) TouchPair(a, b string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(`
		UPDATE peer_connections SET last_activity = ?
		WHERE (owner_id = ? AND peer_id = ?) OR (owner_id = ? AND peer_id = ?)`,
		proto.NowMillis(), a, b, b, a)
	if err != nil {
		return fmt.Errorf("touch pair %s <-> %s: %w", a, b, err)
	}
	return nil
}
