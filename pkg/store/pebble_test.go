package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"whisperchat/pkg/models"
)

func setup(t *testing.T) {
	t.Helper()
	if err := Open(filepath.Join(t.TempDir(), "db")); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
}

func TestFindUserNotFound(t *testing.T) {
	setup(t)
	if _, err := FindUser("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnsureUserAllocatesSequentialIDs(t *testing.T) {
	setup(t)
	a, err := EnsureUser("alice")
	if err != nil {
		t.Fatalf("EnsureUser alice: %v", err)
	}
	b, err := EnsureUser("bob")
	if err != nil {
		t.Fatalf("EnsureUser bob: %v", err)
	}
	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("expected ids 1,2; got %d,%d", a.ID, b.ID)
	}
	// repeat is a lookup, not a new allocation
	a2, err := EnsureUser("alice")
	if err != nil {
		t.Fatalf("EnsureUser alice again: %v", err)
	}
	if a2.ID != a.ID {
		t.Fatalf("EnsureUser reallocated id: %d != %d", a2.ID, a.ID)
	}
	if _, err := CreateUser("alice"); err == nil {
		t.Fatalf("CreateUser of existing user should fail")
	}
}

func TestSaveMessageDefaultsToSent(t *testing.T) {
	setup(t)
	m, err := SaveMessage("alice", "bob", "hi")
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if m.Status != models.StatusSent {
		t.Fatalf("expected status sent, got %s", m.Status)
	}
	if m.ID == "" || m.TS == 0 {
		t.Fatalf("missing id/ts: %+v", m)
	}
	msgs, err := RecentMessages("alice", "bob", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hi" || msgs[0].Status != models.StatusSent {
		t.Fatalf("unexpected rows: %+v", msgs)
	}
	// conversation is visible from both sides
	if got, err := RecentMessages("bob", "alice", 10); err != nil || len(got) != 1 {
		t.Fatalf("reverse pair lookup: %v %+v", err, got)
	}
}

func TestAdvanceStatusIdempotent(t *testing.T) {
	setup(t)
	if _, err := SaveMessage("alice", "bob", "one"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := SaveMessage("alice", "bob", "two"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	n, err := AdvanceStatus("alice", "bob", models.StatusSent, models.StatusDelivered)
	if err != nil {
		t.Fatalf("advance sent->delivered: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows advanced, got %d", n)
	}
	n, err = AdvanceStatus("alice", "bob", models.StatusSent, models.StatusDelivered)
	if err != nil {
		t.Fatalf("repeat advance: %v", err)
	}
	if n != 0 {
		t.Fatalf("repeat advance should be a no-op, got %d", n)
	}

	n, err = AdvanceStatus("alice", "bob", models.StatusDelivered, models.StatusRead)
	if err != nil {
		t.Fatalf("advance delivered->read: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows read, got %d", n)
	}
	if n, _ = AdvanceStatus("alice", "bob", models.StatusDelivered, models.StatusRead); n != 0 {
		t.Fatalf("repeat read advance should be a no-op, got %d", n)
	}
}

func TestAdvanceStatusRejectsBackwardTransitions(t *testing.T) {
	setup(t)
	if _, err := AdvanceStatus("a", "b", models.StatusDelivered, models.StatusSent); err == nil {
		t.Fatalf("backward transition should be rejected")
	}
	if _, err := AdvanceStatus("a", "b", models.StatusSent, models.StatusRead); err == nil {
		t.Fatalf("skipping transition should be rejected")
	}
	if _, err := AdvanceStatus("a", "b", models.StatusRead, models.StatusDelivered); err == nil {
		t.Fatalf("regression from read should be rejected")
	}
}

func TestAdvanceStatusFiltersDirection(t *testing.T) {
	setup(t)
	if _, err := SaveMessage("alice", "bob", "to bob"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := SaveMessage("bob", "alice", "to alice"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	n, err := AdvanceStatus("alice", "bob", models.StatusSent, models.StatusDelivered)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only alice->bob row advanced, got %d", n)
	}
	msgs, _ := RecentMessages("alice", "bob", 10)
	for _, m := range msgs {
		want := models.StatusSent
		if m.Sender == "alice" {
			want = models.StatusDelivered
		}
		if m.Status != want {
			t.Fatalf("row %q: expected %s, got %s", m.Body, want, m.Status)
		}
	}
}

func TestRecentMessagesWindow(t *testing.T) {
	setup(t)
	for i := 0; i < 55; i++ {
		if _, err := SaveMessage("alice", "bob", fmt.Sprintf("m%02d", i)); err != nil {
			t.Fatalf("SaveMessage %d: %v", i, err)
		}
	}
	msgs, err := RecentMessages("alice", "bob", 50)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 50 {
		t.Fatalf("expected 50 rows, got %d", len(msgs))
	}
	// newest 50, oldest of the window first
	if msgs[0].Body != "m05" {
		t.Fatalf("expected window to start at m05, got %s", msgs[0].Body)
	}
	if msgs[49].Body != "m54" {
		t.Fatalf("expected window to end at m54, got %s", msgs[49].Body)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].TS < msgs[i-1].TS {
			t.Fatalf("rows not in ascending time order at %d", i)
		}
	}
}

func TestDistinctPartners(t *testing.T) {
	setup(t)
	if _, err := EnsureUser("alice"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	got, err := DistinctPartners("alice")
	if err != nil {
		t.Fatalf("DistinctPartners: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no partners, got %+v", got)
	}

	if _, err := EnsureUser("bob"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if _, err := EnsureUser("carol"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	// one sent, one received: both directions count
	if _, err := SaveMessage("alice", "bob", "hi"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := SaveMessage("carol", "alice", "yo"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	got, err = DistinctPartners("alice")
	if err != nil {
		t.Fatalf("DistinctPartners: %v", err)
	}
	if len(got) != 2 || got[0].Name != "bob" || got[1].Name != "carol" {
		t.Fatalf("expected [bob carol] by id, got %+v", got)
	}
}

func TestEnsureUserConcurrentFirstConnect(t *testing.T) {
	setup(t)
	const n = 16
	var wg sync.WaitGroup
	ids := make([]int64, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := EnsureUser("alice")
			ids[i], errs[i] = u.ID, err
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("EnsureUser %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("identity double-allocated: id %d != %d", ids[i], ids[0])
		}
	}
	// the race must not have burned extra ids
	bob, err := EnsureUser("bob")
	if err != nil {
		t.Fatalf("EnsureUser bob: %v", err)
	}
	if bob.ID != ids[0]+1 {
		t.Fatalf("expected bob id %d, got %d", ids[0]+1, bob.ID)
	}
}

func TestDelimiterBearingIdentitiesStayIsolated(t *testing.T) {
	setup(t)
	for _, name := range []string{"alice", "b|c", "alice|b", "c"} {
		if _, err := EnsureUser(name); err != nil {
			t.Fatalf("EnsureUser %s: %v", name, err)
		}
	}
	// both raw concatenations would collapse to the same pair range
	if _, err := SaveMessage("alice", "b|c", "for b|c"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := SaveMessage("alice|b", "c", "for c only"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	msgs, err := RecentMessages("alice", "b|c", 50)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "for b|c" {
		t.Fatalf("foreign conversation leaked: %+v", msgs)
	}
	msgs, err = RecentMessages("alice|b", "c", 50)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "for c only" {
		t.Fatalf("foreign conversation leaked: %+v", msgs)
	}

	// the advance stays confined to its own conversation too
	if n, err := AdvanceStatus("alice", "b|c", models.StatusSent, models.StatusDelivered); err != nil || n != 1 {
		t.Fatalf("AdvanceStatus: %d %v", n, err)
	}
	msgs, _ = RecentMessages("alice|b", "c", 50)
	if msgs[0].Status != models.StatusSent {
		t.Fatalf("status bled across conversations: %+v", msgs[0])
	}
}

func TestDistinctPartnersWithDelimiterBearingIdentities(t *testing.T) {
	setup(t)
	for _, name := range []string{"w:x", "y", "w", "x:y"} {
		if _, err := EnsureUser(name); err != nil {
			t.Fatalf("EnsureUser %s: %v", name, err)
		}
	}
	// raw keys would both read as partner:w:x:y
	if _, err := SaveMessage("w:x", "y", "one"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if _, err := SaveMessage("w", "x:y", "two"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	got, err := DistinctPartners("w:x")
	if err != nil {
		t.Fatalf("DistinctPartners: %v", err)
	}
	if len(got) != 1 || got[0].Name != "y" {
		t.Fatalf("partners of w:x = %+v", got)
	}
	got, err = DistinctPartners("w")
	if err != nil {
		t.Fatalf("DistinctPartners: %v", err)
	}
	if len(got) != 1 || got[0].Name != "x:y" {
		t.Fatalf("partners of w = %+v", got)
	}
}

func TestPurgeMessagesBefore(t *testing.T) {
	setup(t)
	if _, err := SaveMessage("alice", "bob", "old"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	n, err := PurgeMessagesBefore(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeMessagesBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged row, got %d", n)
	}
	if c, _ := CountMessages(); c != 0 {
		t.Fatalf("expected empty store, got %d rows", c)
	}
}
