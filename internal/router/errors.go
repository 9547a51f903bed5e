package router

import "errors"

// Resolution and validation failures reported to the user in the channel
// or thread they originated from. None of them mutates state.
var (
	// ErrUnboundChannel: no binding, no inferable category project, no
	// configured default.
	ErrUnboundChannel = errors.New("channel is not bound to a project")

	// ErrInvalidBranchName: an explicit @branch override failed validation.
	ErrInvalidBranchName = errors.New("invalid branch name")

	// ErrInvalidContext: a channel-scope affordance used inside a thread,
	// or a thread-scope one used in a channel.
	ErrInvalidContext = errors.New("not valid in this context")

	// ErrUnknownProject: /bind named a project the orchestrator does not know.
	ErrUnknownProject = errors.New("unknown project")

	// ErrNothingToCancel: /cancel found no running turn for the thread.
	ErrNothingToCancel = errors.New("nothing to cancel")
)

// userMessage renders a taxonomy error as the text shown to the user.
// Unknown errors pass through verbatim: agent failures are user-reported,
// never swallowed.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrUnboundChannel):
		return "This channel is not bound to a project. Use `/bind <project>` to set one up."
	case errors.Is(err, ErrInvalidBranchName):
		return "That branch name is not valid. Branches may use letters, digits, `.`, `_`, `-` and interior `/`."
	case errors.Is(err, ErrInvalidContext):
		return "Branch overrides only work in a channel, not inside a thread. Start a new conversation in the channel instead."
	case errors.Is(err, ErrUnknownProject):
		return "Unknown project. Check the name against the orchestrator's configured projects."
	case errors.Is(err, ErrNothingToCancel):
		return "No task is currently running here."
	}
	return err.Error()
}
