package directory

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndFindUser(t *testing.T) {
	s := openTestStore(t)

	alice, err := s.CreateUser("alice", "alice-key")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if alice.ID == "" {
		t.Fatal("expected assigned id")
	}

	got, ok := s.FindByID(alice.ID)
	if !ok {
		t.Fatal("user not found by id")
	}
	if got.Username != "alice" || got.PublicKey != "alice-key" {
		t.Fatalf("unexpected identity: %+v", got)
	}

	if _, ok := s.FindByID("nope"); ok {
		t.Fatal("unknown id resolved")
	}
}

func TestUsernameAndKeyAreUnique(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.CreateUser("alice", "alice-key"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := s.CreateUser("alice", "other-key"); err == nil {
		t.Fatal("duplicate username accepted")
	}
	if _, err := s.CreateUser("bob", "alice-key"); err == nil {
		t.Fatal("duplicate public key accepted")
	}
}

func TestValidateIdentity(t *testing.T) {
	s := openTestStore(t)
	s.CreateUser("alice", "alice-key")

	if !s.ValidateIdentity("alice", "alice-key") {
		t.Fatal("matching identity rejected")
	}
	if s.ValidateIdentity("alice", "wrong-key") {
		t.Fatal("mismatched key accepted")
	}
	if s.ValidateIdentity("nobody", "alice-key") {
		t.Fatal("unknown username accepted")
	}
}

func TestFriendshipStatus(t *testing.T) {
	s := openTestStore(t)
	alice, _ := s.CreateUser("alice", "ka")
	bob, _ := s.CreateUser("bob", "kb")
	carol, _ := s.CreateUser("carol", "kc")

	if err := s.SetFriendship(alice.ID, bob.ID, StatusAccepted); err != nil {
		t.Fatalf("set friendship: %v", err)
	}
	if err := s.SetFriendship(alice.ID, carol.ID, StatusPending); err != nil {
		t.Fatalf("set friendship: %v", err)
	}

	t.Run("accepted works both directions", func(t *testing.T) {
		if !s.IsAcceptedBetween(alice.ID, bob.ID) {
			t.Fatal("alice/bob should be accepted")
		}
		if !s.IsAcceptedBetween(bob.ID, alice.ID) {
			t.Fatal("acceptance must be symmetric")
		}
	})

	t.Run("pending does not authorize", func(t *testing.T) {
		if s.IsAcceptedBetween(alice.ID, carol.ID) {
			t.Fatal("pending friendship treated as accepted")
		}
	})

	t.Run("nobody is friends with themselves", func(t *testing.T) {
		if s.IsAcceptedBetween(alice.ID, alice.ID) {
			t.Fatal("self-friendship")
		}
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		if err := s.SetFriendship(alice.ID, alice.ID, StatusAccepted); err == nil {
			t.Fatal("self-friendship accepted")
		}
		if err := s.SetFriendship(alice.ID, bob.ID, "bogus"); err == nil {
			t.Fatal("bogus status accepted")
		}
	})
}

func TestFriendIDs(t *testing.T) {
	s := openTestStore(t)
	alice, _ := s.CreateUser("alice", "ka")
	bob, _ := s.CreateUser("bob", "kb")
	carol, _ := s.CreateUser("carol", "kc")
	dave, _ := s.CreateUser("dave", "kd")

	// bob requested alice and alice requested carol; both count.
	s.SetFriendship(bob.ID, alice.ID, StatusAccepted)
	s.SetFriendship(alice.ID, carol.ID, StatusAccepted)
	s.SetFriendship(alice.ID, dave.ID, StatusDeclined)

	ids := s.FriendIDs(alice.ID)
	if len(ids) != 2 {
		t.Fatalf("expected 2 friends, got %d (%v)", len(ids), ids)
	}
	found := map[string]bool{}
	for _, id := range ids {
		found[id] = true
	}
	if !found[bob.ID] || !found[carol.ID] {
		t.Fatalf("wrong friend set: %v", ids)
	}
}

func TestSetFriendshipSupersedesReverseRow(t *testing.T) {
	s := openTestStore(t)
	alice, _ := s.CreateUser("alice", "ka")
	bob, _ := s.CreateUser("bob", "kb")

	t.Run("no duplicate friend entries", func(t *testing.T) {
		s.SetFriendship(alice.ID, bob.ID, StatusAccepted)
		s.SetFriendship(bob.ID, alice.ID, StatusAccepted)

		count := 0
		for _, id := range s.FriendIDs(alice.ID) {
			if id == bob.ID {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("friend listed %d times, want 1", count)
		}
	})

	t.Run("block from either side revokes acceptance", func(t *testing.T) {
		s.SetFriendship(alice.ID, bob.ID, StatusAccepted)
		s.SetFriendship(bob.ID, alice.ID, StatusBlocked)

		if s.IsAcceptedBetween(alice.ID, bob.ID) {
			t.Fatal("pair still accepted after block")
		}
		if s.IsAcceptedBetween(bob.ID, alice.ID) {
			t.Fatal("pair still accepted after block (reverse)")
		}
		if ids := s.FriendIDs(alice.ID); len(ids) != 0 {
			t.Fatalf("blocked pair still in friend set: %v", ids)
		}
	})
}
