package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"peersignal/internal/presence"
	"peersignal/internal/proto"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Clients connect from app shells and local pages, not a fixed origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS opens a signaling session. Fails closed before the upgrade when
// the user id does not resolve to a known identity.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.allowSubscribe(extractIP(r.RemoteAddr)) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	userID := r.URL.Query().Get("user_id")
	id, ok := s.resolver.FindByID(userID)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: upgrade for %s: %v", userID, err)
		return
	}
	defer conn.Close()

	sess := s.registry.Register(id)
	s.addLog(fmt.Sprintf("Session opened: %s (%s)", id.Username, sess.Handle))
	s.touchLedger(id.ID)

	defer func() {
		s.registry.Unregister(id.ID, sess.Handle)
		s.touchLedger(id.ID)
		s.addLog(fmt.Sprintf("Session closed: %s (%s)", id.Username, sess.Handle))
	}()

	// Single writer per connection: everything outbound goes through the
	// session outbox, including our own welcome and reply frames. The pump
	// exits when the registry closes the outbox or the conn write fails.
	go func() {
		for env := range sess.Outbox {
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	}()

	s.sendWelcome(sess)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.registry.Touch(id.ID)

		var msg proto.ClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			// One bad frame must not take down the session.
			log.Printf("server: malformed frame from %s: %v", id.ID, err)
			continue
		}
		s.dispatch(sess, id.ID, msg)
	}
}

func (s *Server) dispatch(sess *presence.Session, userID string, msg proto.ClientMsg) {
	switch msg.Action {
	case proto.ActionSendOffer:
		// Fire-and-forget: the relay result is never surfaced to the sender.
		s.signal.Relay(proto.TypeOffer, userID, msg.RecipientID, msg.Payload)

	case proto.ActionSendAnswer:
		// Answers address the original offerer.
		s.signal.Relay(proto.TypeAnswer, userID, msg.SenderID, msg.Payload)

	case proto.ActionSendIceCandidate:
		s.signal.Relay(proto.TypeIceCandidate, userID, msg.RecipientID, msg.Payload)

	case proto.ActionDiscoverPeers:
		peers := s.signal.Discover(userID)
		s.transmit(sess, proto.TypePeerList, map[string]any{"peers": peers})

	case proto.ActionAuthenticatePeer:
		res := s.signal.RespondToChallenge(msg.Challenge, msg.Signature, msg.PublicKey)
		if res.OK {
			s.transmit(sess, proto.TypeAuthSuccess, map[string]any{
				"peer_id":            userID,
				"challenge_response": res.CounterSignature,
			})
		} else {
			s.transmit(sess, proto.TypeAuthFailed, nil)
		}

	default:
		log.Printf("server: unknown action %q from %s", msg.Action, userID)
	}
}

// sendWelcome hands the client its session ref and the ICE servers it needs
// to build a peer connection.
func (s *Server) sendWelcome(sess *presence.Session) {
	s.transmit(sess, proto.TypeWelcome, map[string]any{
		"session":      sess.Handle,
		"stun_servers": s.ice.StunServers,
		"turn_servers": s.ice.TurnServers,
	})
}

// transmit enqueues a frame on the caller's own session.
func (s *Server) transmit(sess *presence.Session, frameType string, payload any) {
	env := proto.Envelope{Type: frameType, TS: proto.NowMillis()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Printf("server: marshal %s frame: %v", frameType, err)
			return
		}
		env.Payload = b
	}
	s.registry.Deliver(sess.UserID, env)
}

func (s *Server) touchLedger(userID string) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.TouchAll(userID); err != nil {
		log.Printf("server: touch ledger for %s: %v", userID, err)
	}
}

func peerOnlineEnvelope(evt presence.Event) proto.Envelope {
	payload, _ := json.Marshal(map[string]any{
		"peer_id":  evt.Identity.ID,
		"username": evt.Identity.Username,
	})
	return proto.Envelope{
		Type:            proto.TypePeerOnline,
		SenderID:        evt.Identity.ID,
		SenderPublicKey: evt.Identity.PublicKey,
		Payload:         payload,
		TS:              evt.TS,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
