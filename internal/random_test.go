package internal

import "testing"

func TestNewSessionIDShape(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		id, err := NewSessionID()
		if err != nil {
			t.Fatalf("NewSessionID: %v", err)
		}
		if !ValidSessionID(id) {
			t.Fatalf("generated id %q rejected", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestValidSessionIDRejectsGarbage(t *testing.T) {
	for _, id := range []string{"", "short", "!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!", "a b"} {
		if ValidSessionID(id) {
			t.Fatalf("expected %q to be rejected", id)
		}
	}
}

func TestHashSecretDeterministic(t *testing.T) {
	a, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	if HashSecret(a) != HashSecret(a) {
		t.Fatal("hash must be deterministic")
	}
	b, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	if HashSecret(a) == HashSecret(b) {
		t.Fatal("distinct secrets must hash differently")
	}
}
