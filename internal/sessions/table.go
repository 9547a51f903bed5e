// Package sessions tracks one agent conversation per Discord thread: its
// resume token, lifecycle status, and owning project/branch. The table
// layers the status machine and per-thread locking over a durable
// state.Store; every mutation is flushed before the call returns.
package sessions

import (
	"errors"
	"fmt"
	"time"

	"github.com/threadclaw/threadclaw/internal/state"
)

// Mode selects whether sessions carry resume tokens across turns.
type Mode string

const (
	// ModeChat resumes the engine conversation on every turn.
	ModeChat Mode = "chat"
	// ModeStateless runs every turn fresh; resume tokens are discarded.
	ModeStateless Mode = "stateless"
)

var (
	// ErrStale signals a mutation against a session in a terminal state.
	// Callers treat it as a silent no-op, not a user-facing failure.
	ErrStale = errors.New("session is terminal")
)

// Status transitions are monotonic: idle → running → one of
// cancelled/completed/failed. A running session stays running across turns
// and never returns to idle; it must resolve to a terminal state, after
// which the conversation continues only in a fresh thread.

// Table is the session table. Safe for concurrent use; operations on the
// same thread ID are serialized by a per-key lock so concurrent events for
// a brand-new thread produce exactly one record.
type Table struct {
	store state.Store
	mode  Mode
	locks *KeyedMutex
	now   func() time.Time
}

// NewTable creates a session table over the given store.
func NewTable(store state.Store, mode Mode) *Table {
	if mode == "" {
		mode = ModeChat
	}
	return &Table{
		store: store,
		mode:  mode,
		locks: NewKeyedMutex(),
		now:   time.Now,
	}
}

// Mode returns the configured session mode.
func (t *Table) Mode() Mode { return t.mode }

// FindOrCreate returns the session for threadID, creating an idle one if
// none exists. Idempotent under concurrency: the first writer wins and
// later callers observe the existing record.
func (t *Table) FindOrCreate(threadID, channelID, projectID, branch string) (state.Session, error) {
	unlock := t.locks.Lock(threadID)
	defer unlock()

	if sess, ok, err := t.store.GetSession(threadID); err != nil {
		return state.Session{}, fmt.Errorf("find session: %w", err)
	} else if ok {
		return sess, nil
	}

	now := t.now()
	sess := state.Session{
		ThreadID:  threadID,
		ChannelID: channelID,
		ProjectID: projectID,
		Branch:    branch,
		Status:    state.StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.store.PutSession(sess); err != nil {
		return state.Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Get returns the session for threadID if one exists.
func (t *Table) Get(threadID string) (state.Session, bool, error) {
	return t.store.GetSession(threadID)
}

// BeginTurn marks the session running for a new agent turn and returns it.
// Idle and running sessions accept turns; terminal sessions report ErrStale.
func (t *Table) BeginTurn(threadID string) (state.Session, error) {
	unlock := t.locks.Lock(threadID)
	defer unlock()

	sess, ok, err := t.store.GetSession(threadID)
	if err != nil {
		return state.Session{}, fmt.Errorf("begin turn: %w", err)
	}
	if !ok {
		return state.Session{}, fmt.Errorf("begin turn: no session for thread %s", threadID)
	}
	if sess.Status.Terminal() {
		return state.Session{}, ErrStale
	}

	sess.Status = state.StatusRunning
	sess.UpdatedAt = t.now()
	if err := t.store.PutSession(sess); err != nil {
		return state.Session{}, fmt.Errorf("begin turn: %w", err)
	}
	return sess, nil
}

// CompleteTurn records the outcome of a successful agent turn. The resume
// token is stored only in chat mode and only when the engine returned one —
// tokens are never fabricated. final marks the engine's terminal completion
// of the whole task, closing the session to further turns.
// A session no longer running (cancelled mid-flight) reports ErrStale and
// stores nothing.
func (t *Table) CompleteTurn(threadID, resumeToken string, final bool) error {
	unlock := t.locks.Lock(threadID)
	defer unlock()

	sess, ok, err := t.store.GetSession(threadID)
	if err != nil {
		return fmt.Errorf("complete turn: %w", err)
	}
	if !ok || sess.Status != state.StatusRunning {
		return ErrStale
	}

	if t.mode == ModeChat && resumeToken != "" {
		sess.ResumeToken = resumeToken
	}
	if final {
		sess.Status = state.StatusCompleted
	}
	sess.UpdatedAt = t.now()
	if err := t.store.PutSession(sess); err != nil {
		return fmt.Errorf("complete turn: %w", err)
	}
	return nil
}

// FailTurn marks a running session failed. Reports ErrStale when the
// session already resolved (e.g. cancelled while the turn was in flight).
func (t *Table) FailTurn(threadID string) error {
	unlock := t.locks.Lock(threadID)
	defer unlock()

	sess, ok, err := t.store.GetSession(threadID)
	if err != nil {
		return fmt.Errorf("fail turn: %w", err)
	}
	if !ok || sess.Status != state.StatusRunning {
		return ErrStale
	}

	sess.Status = state.StatusFailed
	sess.UpdatedAt = t.now()
	if err := t.store.PutSession(sess); err != nil {
		return fmt.Errorf("fail turn: %w", err)
	}
	return nil
}

// Cancel transitions running → cancelled. Returns whether a transition
// occurred: false for idle, missing, or already-terminal sessions.
func (t *Table) Cancel(threadID string) (bool, error) {
	unlock := t.locks.Lock(threadID)
	defer unlock()

	sess, ok, err := t.store.GetSession(threadID)
	if err != nil {
		return false, fmt.Errorf("cancel session: %w", err)
	}
	if !ok || sess.Status != state.StatusRunning {
		return false, nil
	}

	sess.Status = state.StatusCancelled
	sess.UpdatedAt = t.now()
	if err := t.store.PutSession(sess); err != nil {
		return false, fmt.Errorf("cancel session: %w", err)
	}
	return true, nil
}

// List returns all sessions, newest first by update time.
func (t *Table) List() ([]state.Session, error) {
	return t.store.ListSessions()
}

// PurgeTerminal deletes terminal sessions not updated within keep.
// Returns how many were removed. Used by the cleanup janitor.
func (t *Table) PurgeTerminal(keep time.Duration) (int, error) {
	all, err := t.store.ListSessions()
	if err != nil {
		return 0, err
	}

	cutoff := t.now().Add(-keep)
	removed := 0
	for _, sess := range all {
		if !sess.Status.Terminal() || sess.UpdatedAt.After(cutoff) {
			continue
		}
		unlock := t.locks.Lock(sess.ThreadID)
		err := t.store.DeleteSession(sess.ThreadID)
		unlock()
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
