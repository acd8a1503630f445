// Package presence tracks which identities currently hold an open signaling
// session. Entries are ephemeral: nothing here survives the process.
package presence

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"peersignal/internal/directory"
	"peersignal/internal/proto"
)

// DefaultOnlineWindow is how recently a session must have seen activity to
// count as online. Distinct from the ledger's active window.
const DefaultOnlineWindow = 5 * time.Minute

const outboxSize = 64

// Session is an open signaling session. The registry owns it exclusively;
// the transport drains Outbox until it is closed.
type Session struct {
	Handle string
	UserID string

	// Outbox carries envelopes to the transport in FIFO order. Closed by
	// the registry when the session is replaced or unregistered.
	Outbox chan proto.Envelope

	lastSeen time.Time
}

// Event types emitted to registry listeners.
const (
	EventOnline  = "online"
	EventOffline = "offline"
)

// Event describes a presence change.
type Event struct {
	Type     string             `json:"type"`
	Identity directory.Identity `json:"identity"`
	TS       int64              `json:"timestamp"`
}

// Registry maps identity ids to their single open session. All methods are
// safe for concurrent use; operations on the same identity serialize on the
// registry lock, so whichever of a racing register/unregister runs last wins.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	listeners []chan Event
	window    time.Duration
}

// NewRegistry creates an empty registry with the default online window.
func NewRegistry() *Registry {
	return &Registry{
		sessions: map[string]*Session{},
		window:   DefaultOnlineWindow,
	}
}

// SetOnlineWindow overrides the online window.
func (r *Registry) SetOnlineWindow(d time.Duration) {
	if d > 0 {
		r.window = d
	}
}

// Register opens a session for the identity, replacing (and closing) any
// prior session, and notifies listeners that the peer came online.
func (r *Registry) Register(id directory.Identity) *Session {
	s := &Session{
		Handle:   uuid.NewString(),
		UserID:   id.ID,
		Outbox:   make(chan proto.Envelope, outboxSize),
		lastSeen: time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.sessions[id.ID]; ok {
		close(prev.Outbox)
	}
	r.sessions[id.ID] = s
	r.notify(Event{Type: EventOnline, Identity: id, TS: proto.NowMillis()})
	return s
}

// Unregister closes the identity's session, if any, and notifies listeners.
// Passing the session handle makes close idempotent: a stale close (after a
// reconnect replaced the session) leaves the new session alone.
func (r *Registry) Unregister(userID, handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok || (handle != "" && s.Handle != handle) {
		return
	}
	close(s.Outbox)
	delete(r.sessions, userID)
	r.notify(Event{Type: EventOffline, Identity: directory.Identity{ID: userID}, TS: proto.NowMillis()})
}

// Touch records activity on the identity's session.
func (r *Registry) Touch(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		s.lastSeen = time.Now()
	}
}

// IsOnline reports whether the identity has an open session with activity
// inside the online window.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return ok && time.Since(s.lastSeen) <= r.window
}

// SessionInfo is a read-only view of an open session.
type SessionInfo struct {
	Handle   string
	UserID   string
	LastSeen time.Time
}

// Lookup returns a snapshot of the identity's open session.
func (r *Registry) Lookup(userID string) (SessionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		return SessionInfo{}, false
	}
	return SessionInfo{Handle: s.Handle, UserID: s.UserID, LastSeen: s.lastSeen}, true
}

// Deliver enqueues an envelope on the identity's open session. Returns false
// when there is no open session. A full outbox drops the envelope rather
// than blocking the caller.
func (r *Registry) Deliver(userID string, env proto.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		return false
	}
	select {
	case s.Outbox <- env:
		return true
	default:
		return false
	}
}

// Snapshot returns a view of all open sessions.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, SessionInfo{Handle: s.Handle, UserID: s.UserID, LastSeen: s.lastSeen})
	}
	return out
}

// Subscribe returns a channel of presence events.
func (r *Registry) Subscribe() chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan Event, 16)
	r.listeners = append(r.listeners, ch)
	return ch
}

// Unsubscribe removes and closes a listener channel.
func (r *Registry) Unsubscribe(ch chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, listener := range r.listeners {
		if listener == ch {
			close(listener)
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

func (r *Registry) notify(evt Event) {
	for _, ch := range r.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
