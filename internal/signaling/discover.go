package signaling

// DiscoveredPeer is the on-demand projection returned to a discovery
// request. Never stored.
type DiscoveredPeer struct {
	ID         string `json:"peer_id"`
	Username   string `json:"username"`
	SessionRef string `json:"session_ref"`
	PublicKey  string `json:"public_key"`
	LastSeen   int64  `json:"last_seen"` // unix millis
}

// Discover lists the requester's friends that are authorized, recorded in
// the ledger, and online within the presence window. Unknown requesters get
// an empty list. Order is unspecified; size is bounded by friend count.
func (s *Service) Discover(requesterID string) []DiscoveredPeer {
	if _, ok := s.resolver.FindByID(requesterID); !ok {
		return nil
	}

	peers := []DiscoveredPeer{}
	for _, friendID := range s.resolver.FriendIDs(requesterID) {
		if !s.gate.Authorize(requesterID, friendID) {
			continue
		}
		if s.book != nil {
			if _, ok := s.book.Find(requesterID, friendID); !ok {
				continue
			}
		}
		if !s.registry.IsOnline(friendID) {
			continue
		}
		friend, ok := s.resolver.FindByID(friendID)
		if !ok {
			continue
		}
		info, ok := s.registry.Lookup(friendID)
		if !ok {
			continue
		}
		peers = append(peers, DiscoveredPeer{
			ID:         friend.ID,
			Username:   friend.Username,
			SessionRef: info.Handle,
			PublicKey:  friend.PublicKey,
			LastSeen:   info.LastSeen.UnixMilli(),
		})
	}
	return peers
}
