package domain

import "testing"

func TestConnectionStatus_Valid(t *testing.T) {
	for _, s := range []ConnectionStatus{StatusPending, StatusAccepted, StatusDeclined, StatusBlocked} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if ConnectionStatus("friends").Valid() {
		t.Errorf("unknown status should be invalid")
	}
	if ConnectionStatus("").Valid() {
		t.Errorf("empty status should be invalid")
	}
}

func TestRespond_FromPending(t *testing.T) {
	cases := map[ResponseAction]ConnectionStatus{
		ActionAccept:  StatusAccepted,
		ActionDecline: StatusDeclined,
		ActionBlock:   StatusBlocked,
	}
	for action, want := range cases {
		got, err := StatusPending.Respond(action)
		if err != nil {
			t.Fatalf("Respond(%q): %v", action, err)
		}
		if got != want {
			t.Errorf("Respond(%q) = %q; want %q", action, got, want)
		}
	}
}

func TestRespond_NonPendingRejected(t *testing.T) {
	for _, s := range []ConnectionStatus{StatusAccepted, StatusDeclined, StatusBlocked} {
		got, err := s.Respond(ActionAccept)
		if err == nil {
			t.Errorf("Respond on %q should fail", s)
		}
		if got != s {
			t.Errorf("status must be unchanged on illegal transition: got %q from %q", got, s)
		}
	}
}

func TestRespond_UnknownAction(t *testing.T) {
	if _, err := StatusPending.Respond(ResponseAction("befriend")); err == nil {
		t.Fatal("unknown action should fail")
	}
}

func TestPairKey_Canonical(t *testing.T) {
	if PairKey("b", "a") != PairKey("a", "b") {
		t.Fatal("PairKey must be order-independent")
	}
	if PairKey("a", "b") != "a:b" {
		t.Fatalf("PairKey(a,b) = %q", PairKey("a", "b"))
	}
	lo, hi := OrderPair("zed", "alice")
	if lo != "alice" || hi != "zed" {
		t.Fatalf("OrderPair = (%q, %q)", lo, hi)
	}
}
