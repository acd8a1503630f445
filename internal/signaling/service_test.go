package signaling

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"path/filepath"
	"testing"

	"peersignal/internal/authz"
	"peersignal/internal/directory"
	"peersignal/internal/ledger"
	"peersignal/internal/presence"
	"peersignal/internal/proto"
)

type fixture struct {
	store    *directory.Store
	led      *ledger.Ledger
	registry *presence.Registry
	svc      *Service

	alice directory.Identity // friends with bob and carol
	bob   directory.Identity
	carol directory.Identity
	eve   directory.Identity // no friendship with anyone
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "peersignal.db")

	store, err := directory.Open(dbPath)
	if err != nil {
		t.Fatalf("open directory: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	led, err := ledger.Open(dbPath)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { led.Close() })

	signer, err := directory.NewFileSigner(filepath.Join(dir, "relay.key"))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	f := &fixture{store: store, led: led, registry: presence.NewRegistry()}
	f.alice = mustUser(t, store, "alice")
	f.bob = mustUser(t, store, "bob")
	f.carol = mustUser(t, store, "carol")
	f.eve = mustUser(t, store, "eve")

	for _, friend := range []directory.Identity{f.bob, f.carol} {
		if err := store.SetFriendship(f.alice.ID, friend.ID, directory.StatusAccepted); err != nil {
			t.Fatalf("set friendship: %v", err)
		}
	}

	gate := authz.New(store, store, led)
	f.svc = New(store, gate, f.registry, led, directory.Ed25519Verifier{}, signer)
	return f
}

func mustUser(t *testing.T, store *directory.Store, username string) directory.Identity {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, err := store.CreateUser(username, base64.StdEncoding.EncodeToString(pub))
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return id
}

func TestRelayDeliversBetweenFriends(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(f.alice)
	bobSess := f.registry.Register(f.bob)

	payload, _ := json.Marshal(map[string]string{"type": "offer", "sdp": "v=0..."})
	if got := f.svc.Relay(proto.TypeOffer, f.alice.ID, f.bob.ID, payload); got != Delivered {
		t.Fatalf("relay = %v, want delivered", got)
	}

	env := <-bobSess.Outbox
	if env.Type != proto.TypeOffer {
		t.Fatalf("envelope type = %s", env.Type)
	}
	if env.SenderID != f.alice.ID || env.SenderPublicKey != f.alice.PublicKey {
		t.Fatalf("sender attribution wrong: %+v", env)
	}
	if string(env.Payload) != string(payload) {
		t.Fatal("payload was not forwarded verbatim")
	}
	if env.TS == 0 {
		t.Fatal("envelope missing timestamp")
	}
}

func TestRelayAcceptsAllNegotiationKinds(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(f.alice)
	bobSess := f.registry.Register(f.bob)

	for _, kind := range []string{proto.TypeOffer, proto.TypeAnswer, proto.TypeIceCandidate} {
		if got := f.svc.Relay(kind, f.alice.ID, f.bob.ID, json.RawMessage(`{}`)); got != Delivered {
			t.Fatalf("relay %s = %v, want delivered", kind, got)
		}
		if env := <-bobSess.Outbox; env.Type != kind {
			t.Fatalf("got type %s, want %s", env.Type, kind)
		}
	}

	if got := f.svc.Relay("mystery", f.alice.ID, f.bob.ID, json.RawMessage(`{}`)); got != Dropped {
		t.Fatal("unknown kind was relayed")
	}
}

func TestRelayDropsAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(f.alice)
	f.registry.Register(f.eve)

	cases := []struct {
		name      string
		sender    string
		recipient string
	}{
		{"unauthorized pair", f.alice.ID, f.eve.ID},
		{"unknown recipient", f.alice.ID, "no-such-id"},
		{"unknown sender", "no-such-id", f.bob.ID},
		{"recipient offline", f.alice.ID, f.bob.ID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := json.RawMessage(`{"sdp":"x"}`)
			if got := f.svc.Relay(proto.TypeOffer, tc.sender, tc.recipient, payload); got != Dropped {
				t.Fatalf("relay = %v, want dropped", got)
			}
		})
	}
}

func TestUnauthorizedRelayLeavesNoLedgerRows(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(f.alice)
	eveSess := f.registry.Register(f.eve)

	f.svc.Relay(proto.TypeOffer, f.alice.ID, f.eve.ID, json.RawMessage(`{}`))

	if _, ok := f.led.Find(f.alice.ID, f.eve.ID); ok {
		t.Fatal("denied relay recorded a connection")
	}
	if _, ok := f.led.Find(f.eve.ID, f.alice.ID); ok {
		t.Fatal("denied relay recorded a reverse connection")
	}

	// Nothing must reach Eve either.
	select {
	case env := <-eveSess.Outbox:
		t.Fatalf("eve received %+v", env)
	default:
	}
}

func TestRelayToOfflinePeerAfterDisconnect(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(f.alice)
	bobSess := f.registry.Register(f.bob)

	if got := f.svc.Relay(proto.TypeOffer, f.alice.ID, f.bob.ID, json.RawMessage(`{}`)); got != Delivered {
		t.Fatal("warm-up relay failed")
	}
	<-bobSess.Outbox

	f.registry.Unregister(f.bob.ID, bobSess.Handle)
	if got := f.svc.Relay(proto.TypeIceCandidate, f.alice.ID, f.bob.ID, json.RawMessage(`{}`)); got != Dropped {
		t.Fatal("relay to closed session did not drop")
	}
}

func TestDiscoverReturnsOnlineAuthorizedFriends(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(f.alice)
	bobSess := f.registry.Register(f.bob)
	f.registry.Register(f.eve)
	// carol is a friend but stays offline

	peers := f.svc.Discover(f.alice.ID)
	if len(peers) != 1 {
		t.Fatalf("discover returned %d peers, want 1: %+v", len(peers), peers)
	}
	p := peers[0]
	if p.ID != f.bob.ID || p.Username != "bob" {
		t.Fatalf("unexpected peer: %+v", p)
	}
	if p.SessionRef != bobSess.Handle {
		t.Fatalf("session ref = %s, want %s", p.SessionRef, bobSess.Handle)
	}
	if p.PublicKey != f.bob.PublicKey {
		t.Fatal("peer projection missing public key")
	}
	if p.LastSeen == 0 {
		t.Fatal("peer projection missing last seen")
	}
}

func TestDiscoverEdgeCases(t *testing.T) {
	f := newFixture(t)

	if peers := f.svc.Discover("no-such-id"); peers != nil {
		t.Fatalf("unknown requester got %+v", peers)
	}
	if peers := f.svc.Discover(f.alice.ID); len(peers) != 0 {
		t.Fatalf("all friends offline, got %+v", peers)
	}
	// Eve has no friends at all.
	f.registry.Register(f.alice)
	if peers := f.svc.Discover(f.eve.ID); len(peers) != 0 {
		t.Fatalf("friendless requester got %+v", peers)
	}
}

func TestChallengeResponse(t *testing.T) {
	f := newFixture(t)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pubB64 := base64.StdEncoding.EncodeToString(pub)
	challenge := "nonce-1724800000"
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(challenge)))

	res := f.svc.RespondToChallenge(challenge, sig, pubB64)
	if !res.OK {
		t.Fatal("valid challenge rejected")
	}
	if res.CounterSignature == "" {
		t.Fatal("missing counter-signature")
	}
	// The counter-signature must verify against the relay's own key.
	var v directory.Ed25519Verifier
	if !v.Verify(challenge, res.CounterSignature, f.svc.signer.PublicKey()) {
		t.Fatal("counter-signature does not verify")
	}
}

func TestChallengeRejectsTamperedSignature(t *testing.T) {
	f := newFixture(t)

	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	pubB64 := base64.StdEncoding.EncodeToString(pub)
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte("the-real-challenge")))

	cases := []struct {
		name                      string
		challenge, signature, key string
	}{
		{"signature over different challenge", "another-challenge", sig, pubB64},
		{"garbage signature", "the-real-challenge", "bm90IGEgc2lnbmF0dXJl", pubB64},
		{"garbage key", "the-real-challenge", sig, "bm90IGEga2V5"},
		{"empty challenge", "", sig, pubB64},
		{"empty signature", "the-real-challenge", "", pubB64},
		{"empty key", "the-real-challenge", sig, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.svc.RespondToChallenge(tc.challenge, tc.signature, tc.key)
			if res.OK {
				t.Fatal("tampered challenge accepted")
			}
			if res.CounterSignature != "" {
				t.Fatal("failed challenge leaked a counter-signature")
			}
		})
	}
}
