// Package file implements state.Store on a single JSON file with atomic
// writes. An fsnotify watcher picks up edits made out-of-band (another
// process, a hand edit) so long-running bots see them without a restart.
package file

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/threadclaw/threadclaw/internal/state"
)

// stateVersion guards the on-disk layout. Files written by an unknown
// version load as empty state rather than being misread.
const stateVersion = 1

type fileState struct {
	Version  int                      `json:"version"`
	Bindings map[string]state.Binding `json:"bindings"`
	Sessions map[string]state.Session `json:"sessions"`
}

func newFileState() fileState {
	return fileState{
		Version:  stateVersion,
		Bindings: make(map[string]state.Binding),
		Sessions: make(map[string]state.Session),
	}
}

// Store is a JSON-file-backed state.Store.
type Store struct {
	mu      sync.Mutex
	path    string
	data    fileState
	watcher *fsnotify.Watcher
	done    chan struct{}
	closed  bool
}

// Open loads (or initializes) the state file at path and starts watching it
// for external modifications.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &Store{path: path, data: newFileState(), done: make(chan struct{})}
	if err := s.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create state watcher: %w", err)
	}
	// Watch the directory, not the file: atomic renames replace the inode.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch state dir: %w", err)
	}
	s.watcher = watcher
	go s.watch()

	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.data = newFileState()
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}

	var fs fileState
	if err := json.Unmarshal(data, &fs); err != nil {
		slog.Warn("state file unreadable, starting empty", "path", s.path, "error", err)
		s.data = newFileState()
		return nil
	}
	if fs.Version != stateVersion {
		slog.Warn("state file version mismatch, starting empty",
			"path", s.path, "version", fs.Version, "want", stateVersion)
		s.data = newFileState()
		return nil
	}
	if fs.Bindings == nil {
		fs.Bindings = make(map[string]state.Binding)
	}
	if fs.Sessions == nil {
		fs.Sessions = make(map[string]state.Session)
	}
	s.data = fs
	return nil
}

// save flushes the full state to disk atomically: temp file, fsync, rename.
// Callers hold s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	tmp.Close()

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	cleanup = false
	return nil
}

// watch reloads the file when something else rewrites it. Our own atomic
// saves also trigger events; the reload is idempotent so that is harmless.
func (s *Store) watch() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			s.mu.Lock()
			if !s.closed {
				if err := s.load(); err != nil {
					slog.Warn("state reload failed", "error", err)
				}
			}
			s.mu.Unlock()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("state watcher error", "error", err)
		}
	}
}

func (s *Store) GetBinding(channelID string) (state.Binding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return state.Binding{}, false, state.ErrStoreClosed
	}
	b, ok := s.data.Bindings[channelID]
	return b, ok, nil
}

func (s *Store) PutBinding(b state.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return state.ErrStoreClosed
	}
	prev, hadPrev := s.data.Bindings[b.ChannelID]
	s.data.Bindings[b.ChannelID] = b
	if err := s.save(); err != nil {
		// Fail closed: an unsaved change must not survive in memory.
		if hadPrev {
			s.data.Bindings[b.ChannelID] = prev
		} else {
			delete(s.data.Bindings, b.ChannelID)
		}
		return err
	}
	return nil
}

func (s *Store) DeleteBinding(channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return state.ErrStoreClosed
	}
	prev, had := s.data.Bindings[channelID]
	if !had {
		return nil
	}
	delete(s.data.Bindings, channelID)
	if err := s.save(); err != nil {
		s.data.Bindings[channelID] = prev
		return err
	}
	return nil
}

func (s *Store) GetSession(threadID string) (state.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return state.Session{}, false, state.ErrStoreClosed
	}
	sess, ok := s.data.Sessions[threadID]
	return sess, ok, nil
}

func (s *Store) PutSession(sess state.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return state.ErrStoreClosed
	}
	prev, hadPrev := s.data.Sessions[sess.ThreadID]
	s.data.Sessions[sess.ThreadID] = sess
	if err := s.save(); err != nil {
		if hadPrev {
			s.data.Sessions[sess.ThreadID] = prev
		} else {
			delete(s.data.Sessions, sess.ThreadID)
		}
		return err
	}
	return nil
}

func (s *Store) DeleteSession(threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return state.ErrStoreClosed
	}
	prev, had := s.data.Sessions[threadID]
	if !had {
		return nil
	}
	delete(s.data.Sessions, threadID)
	if err := s.save(); err != nil {
		s.data.Sessions[threadID] = prev
		return err
	}
	return nil
}

func (s *Store) ListSessions() ([]state.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, state.ErrStoreClosed
	}
	out := make([]state.Session, 0, len(s.data.Sessions))
	for _, sess := range s.data.Sessions {
		out = append(out, sess)
	}
	return out, nil
}

// Close stops the watcher. The file is already durable; nothing is flushed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
