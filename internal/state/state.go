// Package state defines the durable records of the transport adapter —
// channel bindings and per-thread sessions — and the Store interface their
// backends implement. All mutation goes through a Store; nothing else
// touches persisted state.
package state

import (
	"errors"
	"time"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusIdle      SessionStatus = "idle"
	StatusRunning   SessionStatus = "running"
	StatusCancelled SessionStatus = "cancelled"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// Terminal reports whether a status accepts no further agent turns.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Binding associates a Discord channel with a project and, optionally, a
// pinned branch. Bindings outlive sessions: they are created by /bind,
// removed by /unbind, and read by the router on every inbound event.
type Binding struct {
	ChannelID string    `json:"channel_id"`
	ProjectID string    `json:"project_id"`
	Branch    string    `json:"branch,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the stateful record of one agent conversation. Exactly one
// session exists per Discord thread; ThreadID is the immutable primary key.
type Session struct {
	ThreadID    string        `json:"thread_id"`
	ChannelID   string        `json:"channel_id"`
	ProjectID   string        `json:"project_id"`
	Branch      string        `json:"branch"`
	ResumeToken string        `json:"resume_token,omitempty"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("state store is closed")

// Store is the durable backing for bindings and sessions. Implementations
// load existing records when opened and flush every mutation synchronously
// before returning, so a crash after a successful call cannot lose it.
// All methods are safe for concurrent use.
type Store interface {
	GetBinding(channelID string) (Binding, bool, error)
	PutBinding(b Binding) error
	DeleteBinding(channelID string) error

	GetSession(threadID string) (Session, bool, error)
	PutSession(s Session) error
	DeleteSession(threadID string) error
	ListSessions() ([]Session, error)

	Close() error
}
