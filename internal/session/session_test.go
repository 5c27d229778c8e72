package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
}

func TestNew_EmptyDefaults(t *testing.T) {
	s := New("id", time.Now())
	if s.SetupComplete() || s.Authenticated() {
		t.Error("new session should be unbound and unauthenticated")
	}
	if diff := cmp.Diff(Customer{}, s.Customer()); diff != "" {
		t.Errorf("customer should be empty (-want +got):\n%s", diff)
	}
	if s.TakeNotice() != nil {
		t.Error("new session should have no notice")
	}
}

func TestBind(t *testing.T) {
	s := New("id", time.Now())
	s.LoadRanks("old", []RankEdit{{InitiativeName: "x", Rank: "1"}})

	accounts := []string{"acct-a", "acct-b"}
	s.Bind(Customer{ID: "ACME-1", Name: "Acme Inc", DSRoot: "/data/acme", Accounts: accounts})
	accounts[0] = "mutated"

	want := Customer{ID: "ACME-1", Name: "Acme Inc", DSRoot: "/data/acme", Accounts: []string{"acct-a", "acct-b"}}
	if diff := cmp.Diff(want, s.Customer()); diff != "" {
		t.Errorf("customer mismatch (-want +got):\n%s", diff)
	}
	if !s.SetupComplete() {
		t.Error("setup should be complete")
	}
	if !s.HasAccount("acct-b") || s.HasAccount("acct-z") {
		t.Error("HasAccount mismatch")
	}
	if s.Ranks().Account != "" {
		t.Error("rank draft should be reset on bind")
	}
}

func TestTakeNotice_OneShot(t *testing.T) {
	s := New("id", time.Now())
	s.SetNotice(Info, "first")
	s.SetNotice(Success, "second")

	n := s.TakeNotice()
	if n == nil || n.Text != "second" || n.Level != Success {
		t.Fatalf("TakeNotice = %+v, want second/success", n)
	}
	if again := s.TakeNotice(); again != nil {
		t.Errorf("second TakeNotice = %+v, want nil", again)
	}
}

func TestGenerations_Monotonic(t *testing.T) {
	s := New("id", time.Now())
	for _, surface := range []Surface{Contacts, Ranks, Recommendations} {
		prev := s.Generation(surface)
		for i := 0; i < 3; i++ {
			if !s.Claim(surface, prev) {
				t.Fatalf("%s: Claim(%d) failed on live generation", surface, prev)
			}
			s.Settle(surface, true)
			got := s.Generation(surface)
			if got != prev+1 {
				t.Errorf("%s: generation = %d, want %d", surface, got, prev+1)
			}
			if s.Claim(surface, prev) {
				t.Errorf("%s: stale generation %d claimed", surface, prev)
			}
			prev = got
		}
	}
	if s.Generation(Contacts) != 3 {
		t.Errorf("contacts generation = %d", s.Generation(Contacts))
	}
}

func TestClaim_FailedSettleKeepsGeneration(t *testing.T) {
	s := New("id", time.Now())
	if !s.Claim(Contacts, 0) {
		t.Fatal("Claim(0) failed")
	}
	if s.Claim(Contacts, 0) {
		t.Error("second Claim(0) succeeded while the first is in flight")
	}
	s.Settle(Contacts, false)
	if s.Generation(Contacts) != 0 {
		t.Errorf("generation = %d after failed submission, want 0", s.Generation(Contacts))
	}
	if !s.Claim(Contacts, 0) {
		t.Error("Claim(0) should succeed again after a failed submission")
	}
}

func TestClaim_ConcurrentSingleWinner(t *testing.T) {
	s := New("id", time.Now())
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Claim(Recommendations, 0) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("claims won = %d, want 1", wins)
	}
}

func TestBeginRefresh_SingleSlot(t *testing.T) {
	s := New("id", time.Now())
	if !s.BeginRefresh() {
		t.Fatal("BeginRefresh on an idle session failed")
	}
	if s.BeginRefresh() {
		t.Error("second BeginRefresh succeeded while a start is in flight")
	}
	s.EndRefresh(nil)
	if s.Job() != nil {
		t.Error("failed start should not record a job")
	}
	if !s.BeginRefresh() {
		t.Error("BeginRefresh should succeed after the slot is released")
	}
}

func TestRankDraft_ArmAndDisarm(t *testing.T) {
	s := New("id", time.Now())
	loaded := []RankEdit{{InitiativeName: "A", Rank: "1"}, {InitiativeName: "B", Rank: "2"}}
	s.LoadRanks("acct-a", loaded)

	edited := []RankEdit{{InitiativeName: "A", Rank: "2"}, {InitiativeName: "B", Rank: "1"}}
	s.ArmRanks(edited)
	d := s.Ranks()
	if !d.Pending || d.Account != "acct-a" {
		t.Errorf("draft = %+v, want pending on acct-a", d)
	}
	if diff := cmp.Diff(edited, d.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	s.DisarmRanks()
	d = s.Ranks()
	if d.Pending {
		t.Error("pending should be cleared")
	}
	if diff := cmp.Diff(edited, d.Rows); diff != "" {
		t.Errorf("disarm changed rows (-want +got):\n%s", diff)
	}

	// The copy handed out must not alias internal state.
	d.Rows[0].Rank = "99"
	if s.Ranks().Rows[0].Rank == "99" {
		t.Error("Ranks returned an aliased slice")
	}
}

func TestStore_CreateGet(t *testing.T) {
	clk := newClock()
	st := NewStore(time.Hour, clk.Now)
	s := st.Create()
	got, ok := st.Get(s.ID)
	if !ok || got != s {
		t.Fatal("Get should return the created session")
	}
	if _, ok := st.Get("not-a-uuid"); ok {
		t.Error("garbage id should not resolve")
	}
	if _, ok := st.Get("7f1d6a38-1111-4c4e-9d7e-7b8d6a1f2c3d"); ok {
		t.Error("unknown id should not resolve")
	}
}

func TestStore_ExpiryAndTouch(t *testing.T) {
	clk := newClock()
	st := NewStore(time.Hour, clk.Now)
	a := st.Create()
	b := st.Create()

	clk.Advance(50 * time.Minute)
	if _, ok := st.Get(a.ID); !ok {
		t.Fatal("a should still be live")
	}
	clk.Advance(20 * time.Minute)

	if _, ok := st.Get(b.ID); ok {
		t.Error("b should have expired")
	}
	if _, ok := st.Get(a.ID); !ok {
		t.Error("a was touched 20m ago and should be live")
	}
	if st.Len() != 1 {
		t.Errorf("Len = %d, want 1", st.Len())
	}
}

func TestStore_Sweep(t *testing.T) {
	clk := newClock()
	st := NewStore(time.Minute, clk.Now)
	st.Create()
	st.Create()
	clk.Advance(2 * time.Minute)
	st.Create()

	if n := st.Sweep(); n != 2 {
		t.Errorf("Sweep = %d, want 2", n)
	}
	if st.Len() != 1 {
		t.Errorf("Len = %d, want 1", st.Len())
	}
}

func TestStore_RunSweeperBadSchedule(t *testing.T) {
	st := NewStore(time.Minute, nil)
	err := st.RunSweeper(context.Background(), "every tuesday-ish", nil)
	if err == nil {
		t.Fatal("expected schedule error")
	}
}

func TestStore_RunSweeperStops(t *testing.T) {
	st := NewStore(time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- st.RunSweeper(ctx, "@every 1h", nil) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunSweeper = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunSweeper did not stop")
	}
}
