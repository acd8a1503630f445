// Package server exposes the signaling core over WebSocket sessions, one
// duplex connection per identity.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"peersignal/internal/config"
	"peersignal/internal/directory"
	"peersignal/internal/ledger"
	"peersignal/internal/presence"
	"peersignal/internal/signaling"
	"peersignal/internal/util"
)

const maxLogs = 500

// rateBucket is a fixed-size ring of timestamps for per-IP rate limiting.
const rateBucketCap = 60

type rateBucket struct {
	times [rateBucketCap]time.Time
	head  int
	count int
}

// Server hosts the signaling WebSocket endpoint plus a few admin views.
type Server struct {
	addr          string
	externalURL   string
	adminPassword string
	srv           *http.Server

	resolver    directory.Resolver
	friendships directory.Friendships
	registry    *presence.Registry
	ledger      *ledger.Ledger
	signal      *signaling.Service
	ice         config.Signaling

	logs *util.RingBuffer[string]

	// per-IP rate limiter for /ws upgrades
	rateMu     sync.Mutex
	rateWindow map[string]*rateBucket
}

// New creates a signaling server. ledger may be nil (no bookkeeping).
func New(addr, externalURL, adminPassword string,
	resolver directory.Resolver, friendships directory.Friendships,
	registry *presence.Registry, led *ledger.Ledger,
	signal *signaling.Service, ice config.Signaling) *Server {
	return &Server{
		addr:          addr,
		externalURL:   externalURL,
		adminPassword: adminPassword,
		resolver:      resolver,
		friendships:   friendships,
		registry:      registry,
		ledger:        led,
		signal:        signal,
		ice:           ice,
		logs:          util.NewRingBuffer[string](maxLogs),
		rateWindow:    map[string]*rateBucket{},
	}
}

// Start begins serving. The server shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	// Fan out presence changes to friends' sessions for the lifetime of ctx.
	// Subscribe before serving so no early event slips past.
	go s.fanoutPresence(ctx, s.registry.Subscribe())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	// Admin-protected endpoints
	mux.HandleFunc("/peers.json", s.handlePeersJSON)
	mux.HandleFunc("/logs.json", s.handleLogsJSON)

	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Stop server when ctx ends
	go func() {
		<-ctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
		defer cancel()
		_ = s.srv.Shutdown(shctx)
	}()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server: %v", err)
		}
	}()

	return nil
}

func (s *Server) URL() string {
	if s.externalURL != "" {
		return s.externalURL
	}
	return "http://" + s.addr
}

// fanoutPresence pushes a peer_online frame to every open session belonging
// to an accepted friend of the peer that came online. Friendship filtering
// happens here so presence never leaks across the friend-graph boundary.
func (s *Server) fanoutPresence(ctx context.Context, events chan presence.Event) {
	defer s.registry.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Type != presence.EventOnline {
				continue
			}
			env := peerOnlineEnvelope(evt)
			for _, sess := range s.registry.Snapshot() {
				if sess.UserID == evt.Identity.ID {
					continue
				}
				if !s.friendships.IsAcceptedBetween(evt.Identity.ID, sess.UserID) {
					continue
				}
				s.registry.Deliver(sess.UserID, env)
			}
		}
	}
}

func (s *Server) handlePeersJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}

	type sessionRow struct {
		UserID      string `json:"user_id"`
		Session     string `json:"session"`
		LastSeen    int64  `json:"last_seen"`
		ActiveConns int    `json:"active_connections"`
	}

	sessions := s.registry.Snapshot()
	rows := make([]sessionRow, 0, len(sessions))
	for _, sess := range sessions {
		row := sessionRow{
			UserID:   sess.UserID,
			Session:  sess.Handle,
			LastSeen: sess.LastSeen.UnixMilli(),
		}
		if s.ledger != nil {
			row.ActiveConns = s.ledger.ActiveCountFor(sess.UserID)
		}
		rows = append(rows, row)
	}
	writeJSON(w, rows)
}

func (s *Server) handleLogsJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	writeJSON(w, s.logs.Snapshot())
}

// requireAdmin checks HTTP Basic Auth. Returns true if authorized.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if s.adminPassword == "" {
		http.Error(w, "admin endpoints disabled", http.StatusForbidden)
		return false
	}
	user, pass, ok := r.BasicAuth()
	if !ok || user != "admin" || pass != s.adminPassword {
		w.Header().Set("WWW-Authenticate", `Basic realm="Peersignal Admin"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) addLog(msg string) {
	timestamp := time.Now().Format("15:04:05")
	s.logs.Push(fmt.Sprintf("[%s] %s", timestamp, msg))

	// Also log to console
	log.Println(msg)
}

// allowSubscribe checks the per-IP sliding window limit on /ws upgrades
// (60 per minute).
func (s *Server) allowSubscribe(ip string) bool {
	now := time.Now()
	cutoff := now.Add(-time.Minute)

	s.rateMu.Lock()
	defer s.rateMu.Unlock()

	bucket, ok := s.rateWindow[ip]
	if !ok {
		bucket = &rateBucket{}
		s.rateWindow[ip] = bucket
	}

	// Trim expired entries from the front
	for bucket.count > 0 {
		oldest := bucket.times[bucket.head]
		if oldest.After(cutoff) {
			break
		}
		bucket.head = (bucket.head + 1) % rateBucketCap
		bucket.count--
	}

	if bucket.count >= rateBucketCap {
		return false
	}

	idx := (bucket.head + bucket.count) % rateBucketCap
	bucket.times[idx] = now
	bucket.count++
	return true
}

// extractIP returns the IP portion of a host:port address.
func extractIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
