// Package directory is the identity and friendship collaborator for the
// signaling core. The core only consumes the small interfaces below; the
// SQLite store in this package is one implementation of them.
package directory

// Identity holds the connection-relevant attributes of a user. Immutable
// as far as the signaling core is concerned.
type Identity struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	PublicKey string `json:"public_key"` // base64 Ed25519
}

// Friendship statuses. Only accepted friendships authorize signaling.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusDeclined = "declined"
	StatusBlocked  = "blocked"
)

// Resolver looks up identities.
type Resolver interface {
	FindByID(id string) (Identity, bool)
	FriendIDs(id string) []string
}

// Friendships answers friendship-status queries.
type Friendships interface {
	IsAcceptedBetween(a, b string) bool
}

// Verifier checks a signature over a message against a claimed public key.
// Keys and signatures are base64-encoded Ed25519.
type Verifier interface {
	Verify(message, signature, publicKey string) bool
}

// Signer produces signatures with the server's own identity key, so a remote
// peer can symmetrically verify a challenge response.
type Signer interface {
	Sign(message string) (string, error)
	PublicKey() string
}
