// Package signaling forwards session-negotiation messages between exactly
// two authenticated parties, enumerates reachable peers, and answers
// identity challenges. It never queues: delivery happens into a live
// session or not at all.
package signaling

import (
	"encoding/json"
	"log"

	"peersignal/internal/directory"
	"peersignal/internal/ledger"
	"peersignal/internal/presence"
	"peersignal/internal/proto"
)

// Result of a relay attempt. The two values are deliberately the only
// information a sender gets back: drop reasons stay internal so callers
// cannot probe the friendship graph.
type Result int

const (
	Dropped Result = iota
	Delivered
)

func (r Result) String() string {
	if r == Delivered {
		return "delivered"
	}
	return "dropped"
}

// Authorizer is the gate consulted before any relay or discovery.
type Authorizer interface {
	Authorize(requester, candidate string) bool
}

// Book is the ledger surface this package reads and touches.
type Book interface {
	Find(owner, peer string) (ledger.PeerConnection, bool)
	TouchPair(a, b string) error
}

// Service wires the relay, discovery and challenge operations.
type Service struct {
	resolver directory.Resolver
	gate     Authorizer
	registry *presence.Registry
	book     Book
	verifier directory.Verifier
	signer   directory.Signer
}

// New creates a signaling service. book may be nil when no ledger is
// attached; verifier and signer are only needed for challenges.
func New(resolver directory.Resolver, gate Authorizer, registry *presence.Registry, book Book, verifier directory.Verifier, signer directory.Signer) *Service {
	return &Service{
		resolver: resolver,
		gate:     gate,
		registry: registry,
		book:     book,
		verifier: verifier,
		signer:   signer,
	}
}

// Relay forwards one negotiation payload from sender to the recipient's
// open session. Any failure (unknown recipient, unauthorized pair, no open
// session) yields the same opaque Dropped; the distinction is only
// logged. Delivery is fire-and-forget: Delivered means enqueued, not acked.
func (s *Service) Relay(kind, senderID, recipientID string, payload json.RawMessage) Result {
	switch kind {
	case proto.TypeOffer, proto.TypeAnswer, proto.TypeIceCandidate:
	default:
		log.Printf("relay: drop %s from %s: unknown kind", kind, senderID)
		return Dropped
	}

	sender, ok := s.resolver.FindByID(senderID)
	if !ok {
		log.Printf("relay: drop %s: unknown sender %s", kind, senderID)
		return Dropped
	}
	if _, ok := s.resolver.FindByID(recipientID); !ok {
		log.Printf("relay: drop %s from %s: unknown recipient", kind, senderID)
		return Dropped
	}

	if !s.gate.Authorize(senderID, recipientID) {
		log.Printf("relay: drop %s from %s: unauthorized", kind, senderID)
		return Dropped
	}

	env := proto.Envelope{
		Type:            kind,
		SenderID:        sender.ID,
		SenderPublicKey: sender.PublicKey,
		Payload:         payload,
		TS:              proto.NowMillis(),
	}
	if !s.registry.Deliver(recipientID, env) {
		log.Printf("relay: drop %s from %s: recipient offline", kind, senderID)
		return Dropped
	}

	// Successful relay counts as activity on the pair's ledger rows.
	// Best effort: a write failure must not turn a delivery into a drop.
	if s.book != nil {
		if err := s.book.TouchPair(senderID, recipientID); err != nil {
			log.Printf("relay: touch pair %s <-> %s: %v", senderID, recipientID, err)
		}
	}
	return Delivered
}
