package security

import (
	"strings"
	"testing"
	"time"
)

func newTestGate(t *testing.T, policy string) *Gate {
	t.Helper()
	dir := t.TempDir()
	pairing, err := NewPairingStore(dir, time.Hour, 8)
	if err != nil {
		t.Fatal(err)
	}
	allowlist, err := NewAllowlistStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	return NewGate(
		func(string) string { return policy },
		NewRateLimiter(30, 300),
		pairing,
		allowlist,
	)
}

func TestGate_PairingFlow(t *testing.T) {
	g := newTestGate(t, PolicyPairing)

	dec := g.Check("telegram", "u1", "Alice")
	if dec.Allowed {
		t.Fatal("unknown sender must not be admitted under pairing policy")
	}
	if dec.Reason != ReasonPairingRequired {
		t.Fatalf("reason = %q, want %q", dec.Reason, ReasonPairingRequired)
	}
	if dec.PairingCode == "" {
		t.Fatal("pairing rejection must carry a code")
	}
	wantMsg := "Hi Alice! To start chatting, ask the owner to approve your pairing code: " + dec.PairingCode
	if dec.Message != wantMsg {
		t.Errorf("message = %q, want %q", dec.Message, wantMsg)
	}

	// Same sender again: same code, not a new one.
	again := g.Check("telegram", "u1", "Alice")
	if again.PairingCode != dec.PairingCode {
		t.Errorf("second check issued a different code: %q vs %q", again.PairingCode, dec.PairingCode)
	}

	ch, sender, ok, err := g.Approve(strings.ToLower(dec.PairingCode), "owner")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || ch != "telegram" || sender != "u1" {
		t.Fatalf("Approve = (%q, %q, %v)", ch, sender, ok)
	}

	if dec := g.Check("telegram", "u1", "Alice"); !dec.Allowed {
		t.Errorf("approved sender must be admitted, got reason %q", dec.Reason)
	}
}

func TestGate_OpenAndDisabled(t *testing.T) {
	if dec := newTestGate(t, PolicyOpen).Check("c", "u", "U"); !dec.Allowed {
		t.Errorf("open policy must admit, got %q", dec.Reason)
	}

	dec := newTestGate(t, PolicyDisabled).Check("c", "u", "U")
	if dec.Allowed || dec.Reason != ReasonDisabled {
		t.Errorf("disabled policy: got allowed=%v reason=%q", dec.Allowed, dec.Reason)
	}
	if dec.Message != "" {
		t.Errorf("disabled rejection must be silent, got %q", dec.Message)
	}
}

func TestGate_AllowlistPolicy(t *testing.T) {
	g := newTestGate(t, PolicyAllowlist)

	dec := g.Check("discord", "u2", "Bob")
	if dec.Allowed || dec.Reason != ReasonNotAllowed {
		t.Errorf("unlisted sender: got allowed=%v reason=%q", dec.Allowed, dec.Reason)
	}
	if dec.PairingCode != "" {
		t.Error("allowlist policy must not issue pairing codes")
	}

	if err := g.allowlist.Add("discord", "u2", "owner"); err != nil {
		t.Fatal(err)
	}
	if dec := g.Check("discord", "u2", "Bob"); !dec.Allowed {
		t.Errorf("listed sender must be admitted, got %q", dec.Reason)
	}
}

func TestGate_RateLimitAppliesBeforePolicy(t *testing.T) {
	dir := t.TempDir()
	pairing, _ := NewPairingStore(dir, time.Hour, 8)
	allowlist, _ := NewAllowlistStore(dir)
	g := NewGate(func(string) string { return PolicyOpen }, NewRateLimiter(2, 100), pairing, allowlist)

	g.Check("c", "u", "U")
	g.Check("c", "u", "U")
	dec := g.Check("c", "u", "U")
	if dec.Allowed || dec.Reason != ReasonRateLimited {
		t.Errorf("got allowed=%v reason=%q, want rate_limited", dec.Allowed, dec.Reason)
	}
	if dec.RetryAfter <= 0 {
		t.Errorf("retryAfter = %v, want > 0", dec.RetryAfter)
	}
}

func TestAllowlist_AddIsIdempotent(t *testing.T) {
	a, err := NewAllowlistStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a.Add("telegram", "u1", "owner")
	a.Add("telegram", "u1", "owner")

	entries, err := a.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("list length = %d, want 1", len(entries))
	}
}

func TestAllowlist_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	a1, _ := NewAllowlistStore(dir)
	a1.Add("slack", "u3", "owner")

	a2, _ := NewAllowlistStore(dir)
	ok, err := a2.Has("slack", "u3")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("entry must survive reload")
	}
}
