package file

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/threadclaw/threadclaw/internal/state"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s := openStore(t, path)
	binding := state.Binding{ChannelID: "chan-1", ProjectID: "proj", Branch: "main", CreatedAt: time.Now().UTC()}
	if err := s.PutBinding(binding); err != nil {
		t.Fatal(err)
	}
	sess := state.Session{
		ThreadID:    "thread-1",
		ChannelID:   "chan-1",
		ProjectID:   "proj",
		Branch:      "main",
		ResumeToken: "tok-9",
		Status:      state.StatusRunning,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.PutSession(sess); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := openStore(t, path)
	b, ok, err := reopened.GetBinding("chan-1")
	if err != nil || !ok {
		t.Fatalf("GetBinding after reopen = %v, %v", ok, err)
	}
	if b.ProjectID != "proj" || b.Branch != "main" {
		t.Errorf("binding = %+v", b)
	}

	got, ok, err := reopened.GetSession("thread-1")
	if err != nil || !ok {
		t.Fatalf("GetSession after reopen = %v, %v", ok, err)
	}
	if got.ResumeToken != "tok-9" || got.Status != state.StatusRunning {
		t.Errorf("session = %+v", got)
	}
}

func TestMissingFileStartsEmpty(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "nope", "state.json"))

	if _, ok, err := s.GetBinding("chan-1"); err != nil || ok {
		t.Errorf("GetBinding on fresh store = %v, %v", ok, err)
	}
	all, err := s.ListSessions()
	if err != nil || len(all) != 0 {
		t.Errorf("ListSessions on fresh store = %v, %v", all, err)
	}
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := openStore(t, path)
	if _, ok, err := s.GetBinding("chan-1"); err != nil || ok {
		t.Errorf("corrupt file was not treated as empty: %v, %v", ok, err)
	}
}

func TestUnknownVersionStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	content := `{"version": 99, "bindings": {"chan-1": {"channel_id": "chan-1", "project_id": "proj"}}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s := openStore(t, path)
	if _, ok, _ := s.GetBinding("chan-1"); ok {
		t.Error("record from unknown state version was loaded")
	}
}

func TestDeleteBindingIdempotent(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "state.json"))

	if err := s.PutBinding(state.Binding{ChannelID: "chan-1", ProjectID: "proj"}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.DeleteBinding("chan-1"); err != nil {
			t.Fatalf("DeleteBinding #%d: %v", i+1, err)
		}
	}
	if _, ok, _ := s.GetBinding("chan-1"); ok {
		t.Error("binding survived delete")
	}
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := openStore(t, path)

	if err := s.PutSession(state.Session{ThreadID: "thread-1", Status: state.StatusIdle}); err != nil {
		t.Fatal(err)
	}

	// No temp files linger and the file on disk is complete JSON.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk map[string]json.RawMessage
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("state file is not valid JSON: %v", err)
	}
	if _, ok := onDisk["version"]; !ok {
		t.Error("state file missing version field")
	}
}

func TestExternalRewriteIsPickedUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := openStore(t, path)

	if err := s.PutBinding(state.Binding{ChannelID: "chan-1", ProjectID: "old"}); err != nil {
		t.Fatal(err)
	}

	// Rewrite the file the way another process would: temp file plus rename.
	edited := `{"version": 1, "bindings": {"chan-1": {"channel_id": "chan-1", "project_id": "new"}}, "sessions": {}}`
	tmp := path + ".edit"
	if err := os.WriteFile(tmp, []byte(edited), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b, ok, err := s.GetBinding("chan-1")
		if err != nil {
			t.Fatal(err)
		}
		if ok && b.ProjectID == "new" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("external edit was not reloaded")
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "state.json"))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if err := s.PutBinding(state.Binding{ChannelID: "x"}); err != state.ErrStoreClosed {
		t.Errorf("PutBinding on closed store = %v, want ErrStoreClosed", err)
	}
	if _, _, err := s.GetSession("x"); err != state.ErrStoreClosed {
		t.Errorf("GetSession on closed store = %v, want ErrStoreClosed", err)
	}
}
