// Package engine abstracts the agent orchestration runtime that executes
// turns. The transport core only needs RunTurn; the bundled implementation
// shells out to an agent CLI.
package engine

import "context"

// TurnRequest is one agent turn: the conversation context plus prompt.
type TurnRequest struct {
	RunID       string // unique per turn, for logs and traces
	ProjectID   string
	Branch      string
	ResumeToken string // empty on the first turn of a session
	Prompt      string
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	Output      string
	ResumeToken string // opaque continuation token; empty if the engine issued none
	Final       bool   // engine declared the whole task finished
}

// ProgressFunc receives streamed partial output while a turn runs.
type ProgressFunc func(text string)

// Runner executes agent turns. RunTurn blocks until the turn finishes or
// ctx is cancelled; progress may be nil.
type Runner interface {
	RunTurn(ctx context.Context, req TurnRequest, progress ProgressFunc) (*TurnResult, error)
}

// ProjectDirectory answers whether a project is known to the orchestrator.
// /bind validates against it before persisting a binding.
type ProjectDirectory interface {
	ProjectExists(ctx context.Context, projectID string) (bool, error)
}
