package enums

import "testing"

func TestBidStatusTerminal(t *testing.T) {
	terminal := map[BidStatus]bool{
		BidStatusPending:   false,
		BidStatusCountered: false,
		BidStatusAccepted:  true,
		BidStatusRejected:  true,
		BidStatusWithdrawn: true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s: expected terminal=%v got %v", status, want, got)
		}
	}
}

func TestParseBidStatusAndEvent(t *testing.T) {
	if s, err := ParseBidStatus(" ACCEPTED "); err != nil || s != BidStatusAccepted {
		t.Fatalf("unexpected parse result %q %v", s, err)
	}
	if _, err := ParseBidStatus("archived"); err == nil {
		t.Fatal("expected invalid status error")
	}
	if e, err := ParseBidEvent("Withdraw"); err != nil || e != BidEventWithdraw {
		t.Fatalf("unexpected parse result %q %v", e, err)
	}
	if _, err := ParseBidEvent("cancel"); err == nil {
		t.Fatal("expected invalid event error")
	}
}

func TestParseSenderTypeNormalizesLegacyUser(t *testing.T) {
	cases := map[string]SenderType{
		"USER":   SenderBuyer,
		"user":   SenderBuyer,
		"BUYER":  SenderBuyer,
		"seller": SenderSeller,
	}
	for raw, want := range cases {
		got, err := ParseSenderType(raw)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", raw, err)
		}
		if got != want {
			t.Fatalf("%q: expected %s got %s", raw, want, got)
		}
	}
	if _, err := ParseSenderType("ADMIN"); err == nil {
		t.Fatal("expected invalid sender type error")
	}
	if SenderBuyer.Counterpart() != SenderSeller || SenderSeller.Counterpart() != SenderBuyer {
		t.Fatal("counterpart mismatch")
	}
}

func TestProjectStatusAcceptsBids(t *testing.T) {
	if !ProjectStatusOpen.AcceptsBids() {
		t.Fatal("open projects accept bids")
	}
	for _, s := range []ProjectStatus{ProjectStatusDraft, ProjectStatusClosed, ProjectStatusCompleted} {
		if s.AcceptsBids() {
			t.Fatalf("%s must not accept bids", s)
		}
	}
}

func TestBidEventOutboxType(t *testing.T) {
	got, err := BidEventOutboxType(BidEventAccept)
	if err != nil || got != EventBidAccepted {
		t.Fatalf("unexpected mapping %q %v", got, err)
	}
	if _, err := BidEventOutboxType("bogus"); err == nil {
		t.Fatal("expected error for unknown event")
	}
}
