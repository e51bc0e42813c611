package suppress

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "suppress.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUnsubscribeLifecycle(t *testing.T) {
	store := newTestStore(t)

	unsubscribed, err := store.IsUnsubscribed("user@example.com")
	if err != nil {
		t.Fatalf("IsUnsubscribed failed: %v", err)
	}
	if unsubscribed {
		t.Error("fresh address should not be unsubscribed")
	}

	if err := store.Unsubscribe("User@Example.com", "link"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	// Lookup is case-insensitive
	unsubscribed, err = store.IsUnsubscribed("user@example.com")
	if err != nil {
		t.Fatalf("IsUnsubscribed failed: %v", err)
	}
	if !unsubscribed {
		t.Error("expected unsubscribed after opt-out")
	}

	if err := store.Resubscribe("user@example.com"); err != nil {
		t.Fatalf("Resubscribe failed: %v", err)
	}

	unsubscribed, _ = store.IsUnsubscribed("user@example.com")
	if unsubscribed {
		t.Error("expected subscribed after resubscribe")
	}
}

func TestUnsubscribeKeepsOriginalRecord(t *testing.T) {
	store := newTestStore(t)

	if err := store.Unsubscribe("a@example.com", "link"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if err := store.Unsubscribe("a@example.com", "manual"); err != nil {
		t.Fatalf("second Unsubscribe failed: %v", err)
	}

	records, err := store.ListUnsubscribes(0, 0)
	if err != nil {
		t.Fatalf("ListUnsubscribes failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Source != "link" {
		t.Errorf("expected original source preserved, got %q", records[0].Source)
	}
}

func TestSentLedger(t *testing.T) {
	store := newTestStore(t)

	sent, err := store.WasSent("c1", "a@example.com")
	if err != nil {
		t.Fatalf("WasSent failed: %v", err)
	}
	if sent {
		t.Error("fresh ledger should report not sent")
	}

	if err := store.MarkSent("c1", "a@example.com"); err != nil {
		t.Fatalf("MarkSent failed: %v", err)
	}
	if err := store.MarkSent("c1", "b@example.com"); err != nil {
		t.Fatalf("MarkSent failed: %v", err)
	}

	sent, _ = store.WasSent("c1", "A@Example.com")
	if !sent {
		t.Error("ledger lookup should be case-insensitive")
	}

	// Other campaigns are unaffected
	sent, _ = store.WasSent("c2", "a@example.com")
	if sent {
		t.Error("ledger entries must be scoped per campaign")
	}

	count, err := store.SentCount("c1")
	if err != nil {
		t.Fatalf("SentCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 entries, got %d", count)
	}
}

func TestClearSent(t *testing.T) {
	store := newTestStore(t)

	store.MarkSent("c1", "a@example.com")
	store.MarkSent("c1", "b@example.com")
	store.MarkSent("c2", "a@example.com")

	if err := store.ClearSent("c1"); err != nil {
		t.Fatalf("ClearSent failed: %v", err)
	}

	if count, _ := store.SentCount("c1"); count != 0 {
		t.Errorf("expected cleared ledger, got %d entries", count)
	}
	if count, _ := store.SentCount("c2"); count != 1 {
		t.Errorf("other campaign ledger must survive, got %d entries", count)
	}
}
