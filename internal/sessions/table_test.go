package sessions

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/threadclaw/threadclaw/internal/state"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	return NewTable(state.NewMemory(), ModeChat)
}

func TestFindOrCreate_Idempotent(t *testing.T) {
	tbl := newTestTable(t)

	first, err := tbl.FindOrCreate("thread-1", "chan-1", "myproj", "main")
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != state.StatusIdle {
		t.Errorf("new session status = %s, want idle", first.Status)
	}

	second, err := tbl.FindOrCreate("thread-1", "chan-1", "otherproj", "other")
	if err != nil {
		t.Fatal(err)
	}
	if second.ProjectID != "myproj" || second.Branch != "main" {
		t.Errorf("second call returned %+v, want the first record", second)
	}
}

func TestFindOrCreate_ConcurrentSingleRecord(t *testing.T) {
	tbl := newTestTable(t)

	const n = 32
	results := make([]state.Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := tbl.FindOrCreate("thread-race", "chan-1", "myproj", "issue-7")
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = sess
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if results[i].CreatedAt != results[0].CreatedAt {
			t.Fatalf("caller %d observed a different record: %+v vs %+v", i, results[i], results[0])
		}
	}

	all, _ := tbl.List()
	if len(all) != 1 {
		t.Fatalf("got %d session records, want 1", len(all))
	}
}

func TestBeginTurn_Transitions(t *testing.T) {
	tbl := newTestTable(t)
	tbl.FindOrCreate("t1", "c1", "p", "main")

	sess, err := tbl.BeginTurn("t1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != state.StatusRunning {
		t.Errorf("status after BeginTurn = %s, want running", sess.Status)
	}

	// A running session accepts further turns.
	if _, err := tbl.BeginTurn("t1"); err != nil {
		t.Errorf("BeginTurn on running session: %v", err)
	}

	// Terminal sessions do not.
	tbl.Cancel("t1")
	if _, err := tbl.BeginTurn("t1"); !errors.Is(err, ErrStale) {
		t.Errorf("BeginTurn on cancelled session error = %v, want ErrStale", err)
	}
}

func TestCompleteTurn_StoresToken(t *testing.T) {
	tbl := newTestTable(t)
	tbl.FindOrCreate("t1", "c1", "p", "main")
	tbl.BeginTurn("t1")

	if err := tbl.CompleteTurn("t1", "tok-abc", false); err != nil {
		t.Fatal(err)
	}

	sess, ok, _ := tbl.Get("t1")
	if !ok || sess.ResumeToken != "tok-abc" {
		t.Errorf("resume token = %q, want tok-abc", sess.ResumeToken)
	}
	if sess.Status != state.StatusRunning {
		t.Errorf("status = %s, want running (conversation stays live)", sess.Status)
	}

	// Empty token from the engine never clobbers a stored one.
	tbl.BeginTurn("t1")
	tbl.CompleteTurn("t1", "", false)
	sess, _, _ = tbl.Get("t1")
	if sess.ResumeToken != "tok-abc" {
		t.Errorf("resume token after empty-token turn = %q, want tok-abc", sess.ResumeToken)
	}
}

func TestCompleteTurn_Final(t *testing.T) {
	tbl := newTestTable(t)
	tbl.FindOrCreate("t1", "c1", "p", "main")
	tbl.BeginTurn("t1")

	if err := tbl.CompleteTurn("t1", "tok", true); err != nil {
		t.Fatal(err)
	}
	sess, _, _ := tbl.Get("t1")
	if sess.Status != state.StatusCompleted {
		t.Errorf("status = %s, want completed", sess.Status)
	}
	if _, err := tbl.BeginTurn("t1"); !errors.Is(err, ErrStale) {
		t.Errorf("completed session accepted a turn: %v", err)
	}
}

func TestCompleteTurn_StatelessModeDropsToken(t *testing.T) {
	tbl := NewTable(state.NewMemory(), ModeStateless)
	tbl.FindOrCreate("t1", "c1", "p", "main")
	tbl.BeginTurn("t1")
	tbl.CompleteTurn("t1", "tok-abc", false)

	sess, _, _ := tbl.Get("t1")
	if sess.ResumeToken != "" {
		t.Errorf("stateless session stored resume token %q", sess.ResumeToken)
	}
}

func TestCompleteTurn_AfterCancelIsStale(t *testing.T) {
	tbl := newTestTable(t)
	tbl.FindOrCreate("t1", "c1", "p", "main")
	tbl.BeginTurn("t1")

	did, err := tbl.Cancel("t1")
	if err != nil || !did {
		t.Fatalf("Cancel = %v, %v; want true, nil", did, err)
	}

	// Output arriving after cancellation is discarded.
	if err := tbl.CompleteTurn("t1", "tok-late", false); !errors.Is(err, ErrStale) {
		t.Errorf("CompleteTurn after cancel error = %v, want ErrStale", err)
	}
	sess, _, _ := tbl.Get("t1")
	if sess.ResumeToken != "" {
		t.Errorf("cancelled session stored resume token %q", sess.ResumeToken)
	}
	if sess.Status != state.StatusCancelled {
		t.Errorf("status = %s, want cancelled", sess.Status)
	}
}

func TestCancel_NothingToCancel(t *testing.T) {
	tbl := newTestTable(t)
	tbl.FindOrCreate("t1", "c1", "p", "main")

	// Idle: nothing to cancel.
	if did, _ := tbl.Cancel("t1"); did {
		t.Error("Cancel on idle session reported a transition")
	}

	// Already cancelled: still nothing.
	tbl.BeginTurn("t1")
	tbl.Cancel("t1")
	if did, _ := tbl.Cancel("t1"); did {
		t.Error("Cancel on cancelled session reported a transition")
	}

	// Unknown thread.
	if did, _ := tbl.Cancel("no-such-thread"); did {
		t.Error("Cancel on unknown thread reported a transition")
	}
}

func TestFailTurn(t *testing.T) {
	tbl := newTestTable(t)
	tbl.FindOrCreate("t1", "c1", "p", "main")
	tbl.BeginTurn("t1")

	if err := tbl.FailTurn("t1"); err != nil {
		t.Fatal(err)
	}
	sess, _, _ := tbl.Get("t1")
	if sess.Status != state.StatusFailed {
		t.Errorf("status = %s, want failed", sess.Status)
	}
	if err := tbl.FailTurn("t1"); !errors.Is(err, ErrStale) {
		t.Errorf("FailTurn on failed session error = %v, want ErrStale", err)
	}
}

func TestFindOrCreate_PersistenceFailureFailsClosed(t *testing.T) {
	mem := state.NewMemory()
	mem.FailWrites = errors.New("disk full")
	tbl := NewTable(mem, ModeChat)

	if _, err := tbl.FindOrCreate("t1", "c1", "p", "main"); err == nil {
		t.Fatal("FindOrCreate succeeded despite store failure")
	}
	if _, ok, _ := mem.GetSession("t1"); ok {
		t.Error("record exists despite failed write")
	}
}

func TestPurgeTerminal(t *testing.T) {
	mem := state.NewMemory()
	tbl := NewTable(mem, ModeChat)

	old := time.Now().Add(-48 * time.Hour)
	mem.PutSession(state.Session{ThreadID: "done", Status: state.StatusCompleted, UpdatedAt: old})
	mem.PutSession(state.Session{ThreadID: "live", Status: state.StatusRunning, UpdatedAt: old})
	mem.PutSession(state.Session{ThreadID: "fresh", Status: state.StatusFailed, UpdatedAt: time.Now()})

	removed, err := tbl.PurgeTerminal(24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok, _ := mem.GetSession("done"); ok {
		t.Error("old terminal session survived purge")
	}
	if _, ok, _ := mem.GetSession("live"); !ok {
		t.Error("running session was purged")
	}
}
