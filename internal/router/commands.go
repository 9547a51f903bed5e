package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/threadclaw/threadclaw/internal/bus"
	"github.com/threadclaw/threadclaw/internal/mapping"
	"github.com/threadclaw/threadclaw/internal/state"
)

func busEventFromScope(s CommandScope) bus.InboundEvent {
	return bus.InboundEvent{
		ChannelID:    s.ChannelID,
		ChannelName:  s.ChannelName,
		CategoryName: s.CategoryName,
	}
}

// CommandScope is where a slash command was invoked.
type CommandScope struct {
	ChannelID    string
	ChannelName  string
	CategoryName string
	ThreadID     string // set when invoked inside a thread
}

// Status reports the channel's project/branch context and, inside a thread,
// the session's lifecycle state. Read-only.
func (r *Router) Status(scope CommandScope) (string, error) {
	projectID, pinnedBranch, err := r.resolveProject(busEventFromScope(scope))
	if err != nil {
		return "", err
	}

	branch := pinnedBranch
	if branch == "" {
		branch = mapping.BranchFromChannelName(scope.ChannelName)
	}

	msg := fmt.Sprintf("**Channel status**\n- Project: `%s`\n- Branch: `%s`", projectID, branch)

	if scope.ThreadID != "" {
		sess, ok, err := r.table.Get(scope.ThreadID)
		if err != nil {
			return "", fmt.Errorf("read session: %w", err)
		}
		if ok {
			msg += fmt.Sprintf("\n- Session: %s", sess.Status)
			if sess.ResumeToken != "" {
				msg += " (resumable)"
			}
		} else {
			msg += "\n- Session: none"
		}
	}
	return msg, nil
}

// Bind associates the channel with a project and, optionally, a pinned
// branch. The project must exist in the orchestrator; the branch, when
// given, must be a valid branch name.
func (r *Router) Bind(ctx context.Context, scope CommandScope, projectID, branch string) (string, error) {
	exists, err := r.projects.ProjectExists(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("check project: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrUnknownProject, projectID)
	}

	if branch != "" {
		if err := mapping.ValidateBranch(branch); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidBranchName, err)
		}
	}

	err = r.store.PutBinding(state.Binding{
		ChannelID: scope.ChannelID,
		ProjectID: projectID,
		Branch:    branch,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return "", fmt.Errorf("save binding: %w", err)
	}

	shown := branch
	if shown == "" {
		shown = mapping.BranchFromChannelName(scope.ChannelName) + " (from channel name)"
	}
	slog.Info("channel bound", "channel_id", scope.ChannelID, "project", projectID, "branch", branch)
	return fmt.Sprintf("Bound this channel to project `%s`, branch `%s`.", projectID, shown), nil
}

// Unbind removes the channel's binding. Idempotent: succeeds whether or not
// a binding existed.
func (r *Router) Unbind(scope CommandScope) (string, error) {
	if err := r.store.DeleteBinding(scope.ChannelID); err != nil {
		return "", fmt.Errorf("remove binding: %w", err)
	}
	slog.Info("channel unbound", "channel_id", scope.ChannelID)
	return "Channel binding removed.", nil
}

// Cancel stops the running turn in the thread the command was issued from.
func (r *Router) Cancel(scope CommandScope) (string, error) {
	if scope.ThreadID == "" {
		return "", fmt.Errorf("%w: /cancel only works inside a conversation thread", ErrInvalidContext)
	}

	did, err := r.CancelThread(scope.ThreadID)
	if err != nil {
		return "", err
	}
	if !did {
		return "", ErrNothingToCancel
	}
	slog.Info("session cancelled", "thread_id", scope.ThreadID)
	return "Cancellation requested. Remaining output will be discarded.", nil
}

// UserError renders a command error for display. Exposed for the slash
// command dispatcher.
func UserError(err error) string {
	return userMessage(err)
}
