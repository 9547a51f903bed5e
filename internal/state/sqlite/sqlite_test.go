package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/threadclaw/threadclaw/internal/state"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestBindingRoundTrip(t *testing.T) {
	s, _ := openStore(t)

	b := state.Binding{
		ChannelID: "chan-1",
		ProjectID: "proj",
		Branch:    "main",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.PutBinding(b); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.GetBinding("chan-1")
	if err != nil || !ok {
		t.Fatalf("GetBinding = %v, %v", ok, err)
	}
	if got.ProjectID != "proj" || got.Branch != "main" || !got.CreatedAt.Equal(b.CreatedAt) {
		t.Errorf("binding = %+v, want %+v", got, b)
	}

	// Upsert replaces.
	b.ProjectID = "other"
	if err := s.PutBinding(b); err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.GetBinding("chan-1")
	if got.ProjectID != "other" {
		t.Errorf("after upsert project = %q, want other", got.ProjectID)
	}

	if err := s.DeleteBinding("chan-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetBinding("chan-1"); ok {
		t.Error("binding survived delete")
	}
}

func TestSessionPersistsAcrossReopen(t *testing.T) {
	s, path := openStore(t)

	sess := state.Session{
		ThreadID:    "thread-1",
		ChannelID:   "chan-1",
		ProjectID:   "proj",
		Branch:      "issue-7",
		ResumeToken: "tok",
		Status:      state.StatusRunning,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.PutSession(sess); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, ok, err := reopened.GetSession("thread-1")
	if err != nil || !ok {
		t.Fatalf("GetSession after reopen = %v, %v", ok, err)
	}
	if got.ResumeToken != "tok" || got.Status != state.StatusRunning {
		t.Errorf("session = %+v", got)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	s, _ := openStore(t)

	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		err := s.PutSession(state.Session{
			ThreadID:  id,
			Status:    state.StatusIdle,
			CreatedAt: base,
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d sessions, want 3", len(all))
	}
	if all[0].ThreadID != "c" || all[2].ThreadID != "a" {
		t.Errorf("order = %s, %s, %s; want c, b, a",
			all[0].ThreadID, all[1].ThreadID, all[2].ThreadID)
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := openStore(t)

	if _, ok, err := s.GetSession("nope"); err != nil || ok {
		t.Errorf("GetSession(missing) = %v, %v", ok, err)
	}
	if _, ok, err := s.GetBinding("nope"); err != nil || ok {
		t.Errorf("GetBinding(missing) = %v, %v", ok, err)
	}
	if err := s.DeleteSession("nope"); err != nil {
		t.Errorf("DeleteSession(missing) = %v", err)
	}
}
