// Package proto defines the JSON frames exchanged over a signaling session.
package proto

import (
	"encoding/json"
	"time"
)

// Frame types pushed to a signaling session.
const (
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeIceCandidate = "ice_candidate"
	TypePeerOnline   = "peer_online"
	TypePeerList     = "peer_list"
	TypeAuthSuccess  = "auth_success"
	TypeAuthFailed   = "auth_failed"
	TypeWelcome      = "welcome"
)

// Client actions read from a signaling session.
const (
	ActionSendOffer        = "send_offer"
	ActionSendAnswer       = "send_answer"
	ActionSendIceCandidate = "send_ice_candidate"
	ActionDiscoverPeers    = "discover_peers"
	ActionAuthenticatePeer = "authenticate_peer"
)

// Envelope is a frame delivered to a recipient's open session.
type Envelope struct {
	Type            string          `json:"type"`
	SenderID        string          `json:"sender_id,omitempty"`
	SenderPublicKey string          `json:"sender_public_key,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	TS              int64           `json:"timestamp"`
}

// ClientMsg is an inbound frame from a session transport. One struct covers
// all actions; fields that don't apply stay empty.
type ClientMsg struct {
	Action      string          `json:"action"`
	RecipientID string          `json:"recipient_id,omitempty"`
	SenderID    string          `json:"sender_id,omitempty"` // send_answer addresses the original offerer
	Payload     json.RawMessage `json:"payload,omitempty"`

	// authenticate_peer fields
	Challenge string `json:"challenge,omitempty"`
	Signature string `json:"signature,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
}

func NowMillis() int64 { return time.Now().UnixMilli() }
