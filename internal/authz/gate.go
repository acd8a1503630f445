// Package authz decides whether two identities may exchange signaling
// traffic.
package authz

import (
	"log"

	"peersignal/internal/directory"
	"peersignal/internal/ledger"
)

// ConnectionLedger is the slice of the ledger the gate needs.
type ConnectionLedger interface {
	Upsert(a, b, connType string) error
}

// Gate authorizes signaling between identity pairs. It is stateless: every
// call consults the directory fresh, so repeated denials never accumulate
// side effects.
type Gate struct {
	resolver    directory.Resolver
	friendships directory.Friendships
	ledger      ConnectionLedger
}

// New creates a gate. ledger may be nil, in which case authorization skips
// the bookkeeping side effect entirely.
func New(resolver directory.Resolver, friendships directory.Friendships, l ConnectionLedger) *Gate {
	return &Gate{resolver: resolver, friendships: friendships, ledger: l}
}

// Authorize reports whether requester may signal candidate. True requires
// both identities to resolve, requester != candidate, and an accepted
// friendship between them. On approval the pairwise ledger rows are ensured
// in both directions; a failure there is logged and swallowed, because
// authorization is a trust decision independent of bookkeeping durability.
func (g *Gate) Authorize(requester, candidate string) bool {
	if requester == "" || candidate == "" || requester == candidate {
		return false
	}
	if _, ok := g.resolver.FindByID(requester); !ok {
		return false
	}
	if _, ok := g.resolver.FindByID(candidate); !ok {
		return false
	}
	if !g.friendships.IsAcceptedBetween(requester, candidate) {
		return false
	}

	g.ensureConnections(requester, candidate)
	return true
}

func (g *Gate) ensureConnections(requester, candidate string) {
	if g.ledger == nil {
		return
	}
	if err := g.ledger.Upsert(requester, candidate, ledger.TypeDirect); err != nil {
		log.Printf("authz: failed to record connection %s <-> %s: %v", requester, candidate, err)
	}
}
