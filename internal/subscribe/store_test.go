package subscribe

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"weatherbot/pkg/logx"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	s, err := OpenStore(path, time.Local, logx.Nop())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	return s, path
}

func futureFireAt(d time.Duration) string {
	return FormatFireAt(time.Now().Add(d))
}

func TestOpenStoreCreatesLedger(t *testing.T) {
	t.Parallel()
	_, path := newTestStore(t)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("ledger file not created: %v", err)
	}
}

func TestOpenStoreCorruptLedger(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := OpenStore(path, time.Local, logx.Nop())
	if !errors.Is(err, ErrStorageCorrupt) {
		t.Fatalf("OpenStore on corrupt ledger = %v, want ErrStorageCorrupt", err)
	}
}

func TestAddThenListUpcoming(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	recurring, err := s.Add("g1", Subscription{Text: "天气预报", City: "杭州", Cron: "0 9 * * *", CronLabel: "每天9点"})
	if err != nil {
		t.Fatalf("Add recurring: %v", err)
	}
	if recurring.ID == "" {
		t.Fatal("Add did not assign an id")
	}
	oneShot, err := s.Add("g1", Subscription{Text: "天气预报", City: "苏州", FireAt: futureFireAt(24 * time.Hour)})
	if err != nil {
		t.Fatalf("Add one-shot: %v", err)
	}
	if oneShot.ID == recurring.ID {
		t.Fatal("ids must be unique")
	}

	got := s.ListUpcoming("g1")
	if len(got) != 2 {
		t.Fatalf("ListUpcoming = %d entries, want 2", len(got))
	}
	if got[0].ID != recurring.ID || got[1].ID != oneShot.ID {
		t.Fatal("insertion order not preserved")
	}
	if s.ListUpcoming("other") != nil {
		t.Fatal("unknown group must list empty")
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	s, path := newTestStore(t)

	if _, err := s.Add("g1", Subscription{Text: "天气预报", City: "杭州", Cron: "0 9 * * *", CronLabel: "每天9点"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add("g2", Subscription{Text: "天气预报", City: "北京", FireAt: futureFireAt(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	re, err := OpenStore(path, time.Local, logx.Nop())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	want := s.All()
	got := re.All()
	if len(got) != len(want) {
		t.Fatalf("reloaded groups = %d, want %d", len(got), len(want))
	}
	for g, subs := range want {
		if len(got[g]) != len(subs) {
			t.Fatalf("group %s: %d entries, want %d", g, len(got[g]), len(subs))
		}
		for i := range subs {
			if got[g][i] != subs[i] {
				t.Fatalf("group %s[%d] = %+v, want %+v", g, i, got[g][i], subs[i])
			}
		}
	}
}

func TestRemovePositional(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	a, _ := s.Add("g", Subscription{Text: "a", City: "a", Cron: "0 8 * * *", CronLabel: "8点"})
	b, _ := s.Add("g", Subscription{Text: "b", City: "b", Cron: "0 9 * * *", CronLabel: "9点"})
	c, _ := s.Add("g", Subscription{Text: "c", City: "c", Cron: "0 10 * * *", CronLabel: "10点"})

	removed, err := s.Remove("g", 1)
	if err != nil {
		t.Fatalf("Remove(1): %v", err)
	}
	if removed.ID != a.ID {
		t.Fatalf("Remove(1) removed %s, want %s", removed.ID, a.ID)
	}
	rest := s.ListUpcoming("g")
	if len(rest) != 2 || rest[0].ID != b.ID || rest[1].ID != c.ID {
		t.Fatalf("remaining entries out of order: %+v", rest)
	}
}

func TestRemoveOutOfRange(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	s.Add("g", Subscription{Text: "a", City: "a", Cron: "0 8 * * *"})

	for _, pos := range []int{0, -1, 2, 99} {
		if _, err := s.Remove("g", pos); !errors.Is(err, ErrIndexOutOfRange) {
			t.Fatalf("Remove(%d) = %v, want ErrIndexOutOfRange", pos, err)
		}
	}
	if got := s.ListUpcoming("g"); len(got) != 1 {
		t.Fatalf("failed removals must not mutate, have %d entries", len(got))
	}
}

func TestDiscardByID(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	a, _ := s.Add("g", Subscription{Text: "a", City: "a", Cron: "0 8 * * *"})
	b, _ := s.Add("g", Subscription{Text: "b", City: "b", Cron: "0 9 * * *"})

	if err := s.Discard("g", a.ID); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	rest := s.ListUpcoming("g")
	if len(rest) != 1 || rest[0].ID != b.ID {
		t.Fatalf("remaining = %+v", rest)
	}
	// Unknown id is a no-op, not an error.
	if err := s.Discard("g", "missing"); err != nil {
		t.Fatal(err)
	}
	if got := s.ListUpcoming("g"); len(got) != 1 {
		t.Fatalf("no-op discard mutated the store: %+v", got)
	}
}

func TestConcurrentRemoveNeverAppliesStalePosition(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	a, _ := s.Add("g", Subscription{Text: "a", City: "a", Cron: "0 8 * * *"})
	b, _ := s.Add("g", Subscription{Text: "b", City: "b", Cron: "0 9 * * *"})

	// Both callers ask for position 1. The view is recomputed under the write
	// lock, so the second caller addresses the survivor, never a stale index.
	var wg sync.WaitGroup
	removed := make(chan Subscription, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := s.Remove("g", 1)
			if err != nil {
				t.Errorf("Remove(1): %v", err)
				return
			}
			removed <- sub
		}()
	}
	wg.Wait()
	close(removed)

	ids := map[string]bool{}
	for sub := range removed {
		if ids[sub.ID] {
			t.Fatalf("subscription %s removed twice", sub.ID)
		}
		ids[sub.ID] = true
	}
	if !ids[a.ID] || !ids[b.ID] {
		t.Fatalf("removed ids = %v, want both entries removed exactly once", ids)
	}
	if got := s.ListUpcoming("g"); len(got) != 0 {
		t.Fatalf("entries left after concurrent removal: %+v", got)
	}
}

func TestRemoveEmpty(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	if _, err := s.Remove("g", 1); !errors.Is(err, ErrEmptyStore) {
		t.Fatalf("Remove on empty group = %v, want ErrEmptyStore", err)
	}
}

func TestExpiredOneShotHiddenNotPruned(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	ledger := map[string][]Subscription{
		"g": {{ID: "old", Text: "天气预报", City: "北京", FireAt: "2020-01-01 00:00"}},
	}
	b, err := json.Marshal(ledger)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := OpenStore(path, time.Local, logx.Nop())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if got := s.ListUpcoming("g"); len(got) != 0 {
		t.Fatalf("expired one-shot appeared in upcoming view: %+v", got)
	}
	// Still present in the raw ledger until explicitly removed.
	if all := s.All(); len(all["g"]) != 1 || all["g"][0].ID != "old" {
		t.Fatalf("expired one-shot pruned from ledger: %+v", all)
	}
	// And not addressable by positional removal.
	if _, err := s.Remove("g", 1); !errors.Is(err, ErrEmptyStore) {
		t.Fatalf("Remove = %v, want ErrEmptyStore (expired entries not addressable)", err)
	}
}

func TestSubscribeListRemoveScenario(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	added, err := s.Add("caller", Subscription{Text: "天气预报", City: "杭州", Cron: "0 9 * * *", CronLabel: "每天9点"})
	if err != nil {
		t.Fatal(err)
	}
	if added.City != "杭州" || added.Cron != "0 9 * * *" {
		t.Fatalf("stored entry = %+v", added)
	}

	up := s.ListUpcoming("caller")
	if len(up) != 1 {
		t.Fatalf("upcoming = %d entries, want 1", len(up))
	}
	line := up[0].Text + " - " + up[0].ScheduleLabel()
	if line != "天气预报 - 每天9点(Cron: 0 9 * * *)" {
		t.Fatalf("listing line = %q", line)
	}

	removed, err := s.Remove("caller", 1)
	if err != nil {
		t.Fatal(err)
	}
	if removed.Text != "天气预报" {
		t.Fatalf("removed.Text = %q, want 天气预报", removed.Text)
	}
	if got := s.ListUpcoming("caller"); len(got) != 0 {
		t.Fatalf("upcoming not empty after removal: %+v", got)
	}
}
