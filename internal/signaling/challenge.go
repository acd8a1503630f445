package signaling

import "log"

// ChallengeResult is the outcome of a challenge-response check. Failure is
// an explicit payload, never an error to the transport.
type ChallengeResult struct {
	OK               bool   `json:"ok"`
	CounterSignature string `json:"counter_signature,omitempty"`
}

// RespondToChallenge verifies signature over challenge against the claimed
// public key and, on success, counter-signs the challenge with the server's
// own key so the remote party can verify symmetrically. Stateless: no
// ledger or presence interaction.
func (s *Service) RespondToChallenge(challenge, signature, claimedPublicKey string) ChallengeResult {
	if challenge == "" || signature == "" || claimedPublicKey == "" {
		return ChallengeResult{}
	}
	if !s.verifier.Verify(challenge, signature, claimedPublicKey) {
		return ChallengeResult{}
	}

	counter, err := s.signer.Sign(challenge)
	if err != nil {
		log.Printf("challenge: counter-sign failed: %v", err)
		return ChallengeResult{}
	}
	return ChallengeResult{OK: true, CounterSignature: counter}
}
