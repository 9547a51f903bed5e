// Package router is the mapping and session-resolution engine. It receives
// inbound Discord events, resolves them to a (project, branch, session)
// triple, forwards agent turns through that session, and writes the output
// back into the originating thread.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"github.com/threadclaw/threadclaw/internal/bus"
	"github.com/threadclaw/threadclaw/internal/engine"
	"github.com/threadclaw/threadclaw/internal/mapping"
	"github.com/threadclaw/threadclaw/internal/overflow"
	"github.com/threadclaw/threadclaw/internal/platform"
	"github.com/threadclaw/threadclaw/internal/sessions"
	"github.com/threadclaw/threadclaw/internal/state"
)

// Discord caps thread names at 100 characters.
const threadNameLimit = 100

// How often streamed progress may edit the placeholder message.
const progressInterval = 3 * time.Second

// Status reactions on the user's message.
const (
	reactionWorking = "👀"
	reactionDone    = "✅"
	reactionFailed  = "❌"
)

// Options configures a Router.
type Options struct {
	Store          state.Store
	Table          *sessions.Table
	Messenger      platform.Messenger
	Runner         engine.Runner
	Projects       engine.ProjectDirectory
	Policy         overflow.Policy
	MessageLimit   int    // 0 means overflow.MessageLimit
	DefaultProject string // fallback when neither binding nor category resolves
	Tracer         trace.Tracer
}

// Router orchestrates inbound-event handling. One Router serves all
// channels; handlers for different threads run concurrently while turns on
// the same thread are serialized.
type Router struct {
	store     state.Store
	table     *sessions.Table
	msgr      platform.Messenger
	runner    engine.Runner
	projects  engine.ProjectDirectory
	policy    overflow.Policy
	limit     int
	defProj   string
	tracer    trace.Tracer
	turnLocks *sessions.KeyedMutex
	creating  singleflight.Group

	mu     sync.Mutex
	inTurn map[string]context.CancelFunc // threadID → cancel for the in-flight turn
}

// New creates a Router.
func New(opts Options) *Router {
	limit := opts.MessageLimit
	if limit <= 0 {
		limit = overflow.MessageLimit
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	policy := opts.Policy
	if policy == "" {
		policy = overflow.PolicySplit
	}
	return &Router{
		store:     opts.Store,
		table:     opts.Table,
		msgr:      opts.Messenger,
		runner:    opts.Runner,
		projects:  opts.Projects,
		policy:    policy,
		limit:     limit,
		defProj:   opts.DefaultProject,
		tracer:    tracer,
		turnLocks: sessions.NewKeyedMutex(),
		inTurn:    make(map[string]context.CancelFunc),
	}
}

// SetMessenger installs the platform client. Construction is two-phase:
// the bot needs the router for slash commands, and the router needs the
// bot for sends. Must be called before Handle.
func (r *Router) SetMessenger(m platform.Messenger) { r.msgr = m }

// Handle processes one inbound event end to end. Errors are reported to the
// user in the originating channel or thread; Handle itself never panics and
// returns only for the caller's logging.
func (r *Router) Handle(ctx context.Context, ev bus.InboundEvent) error {
	err := r.handle(ctx, ev)
	if err != nil {
		target := ev.ChannelID
		if ev.IsThread {
			target = ev.ThreadID
		}
		if _, sendErr := r.msgr.SendMessage(ctx, target, userMessage(err)); sendErr != nil {
			slog.Error("failed to report error to user", "channel_id", target, "error", sendErr)
		}
	}
	return err
}

func (r *Router) handle(ctx context.Context, ev bus.InboundEvent) error {
	override, prompt := mapping.ParseOverride(ev.Text)
	if override != "" && ev.IsThread {
		// Overrides are channel-scope only; inside a thread the message
		// stays unrouted rather than silently falling back.
		return ErrInvalidContext
	}
	if strings.TrimSpace(prompt) == "" {
		return nil
	}

	projectID, pinnedBranch, err := r.resolveProject(ev)
	if err != nil {
		return err
	}
	exists, err := r.projects.ProjectExists(ctx, projectID)
	if err != nil {
		return fmt.Errorf("check project: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownProject, projectID)
	}

	branch := pinnedBranch
	if branch == "" || override != "" {
		branch, err = mapping.Resolve(ev.ChannelName, override)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBranchName, err)
		}
	}

	sess, err := r.resolveSession(ctx, ev, projectID, branch, prompt)
	if err != nil {
		return err
	}

	return r.runTurn(ctx, ev, sess, prompt)
}

// resolveProject applies the precedence: explicit binding, then category
// inference, then the configured default.
func (r *Router) resolveProject(ev bus.InboundEvent) (projectID, pinnedBranch string, err error) {
	binding, ok, err := r.store.GetBinding(ev.ChannelID)
	if err != nil {
		return "", "", fmt.Errorf("read binding: %w", err)
	}
	if ok {
		return binding.ProjectID, binding.Branch, nil
	}
	if ev.CategoryName != "" {
		return mapping.ProjectFromCategoryName(ev.CategoryName), "", nil
	}
	if r.defProj != "" {
		return r.defProj, "", nil
	}
	return "", "", ErrUnboundChannel
}

// resolveSession returns the session the event belongs to, creating the
// Discord thread and its session record for channel-scope messages.
// Creation is deduplicated per inbound message so a redelivered event never
// spawns a second thread.
func (r *Router) resolveSession(ctx context.Context, ev bus.InboundEvent, projectID, branch, prompt string) (state.Session, error) {
	if ev.IsThread {
		return r.table.FindOrCreate(ev.ThreadID, ev.ChannelID, projectID, branch)
	}

	v, err, _ := r.creating.Do("thread:"+ev.MessageID, func() (any, error) {
		threadID, err := r.msgr.CreateThread(ctx, ev.ChannelID, ev.MessageID, threadName(prompt))
		if err != nil {
			return nil, fmt.Errorf("create thread: %w", err)
		}
		sess, err := r.table.FindOrCreate(threadID, ev.ChannelID, projectID, branch)
		if err != nil {
			return nil, err
		}
		return sess, nil
	})
	if err != nil {
		return state.Session{}, err
	}
	return v.(state.Session), nil
}

// runTurn executes one agent turn for the session, serialized per thread.
func (r *Router) runTurn(ctx context.Context, ev bus.InboundEvent, sess state.Session, prompt string) error {
	unlock := r.turnLocks.Lock(sess.ThreadID)
	defer unlock()

	sess, err := r.table.BeginTurn(sess.ThreadID)
	if err != nil {
		if errors.Is(err, sessions.ErrStale) {
			return fmt.Errorf("this conversation has ended (%s); start a new one in the channel", terminalReason(sess.ThreadID, r.table))
		}
		return err
	}

	runID := uuid.NewString()[:8]
	ctx, span := r.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("project.id", sess.ProjectID),
		attribute.String("branch", sess.Branch),
		attribute.String("thread.id", sess.ThreadID),
		attribute.Bool("resumed", sess.ResumeToken != ""),
	))
	defer span.End()

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.inTurn[sess.ThreadID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.inTurn, sess.ThreadID)
		r.mu.Unlock()
	}()

	r.msgr.React(ctx, ev.ChannelID, ev.MessageID, reactionWorking)

	slog.Info("agent turn started",
		"run_id", runID,
		"thread_id", sess.ThreadID,
		"project", sess.ProjectID,
		"branch", sess.Branch,
		"resumed", sess.ResumeToken != "",
	)

	placeholderID, phErr := r.msgr.SendMessage(ctx, sess.ThreadID, "Working…")
	if phErr != nil {
		slog.Warn("placeholder send failed", "thread_id", sess.ThreadID, "error", phErr)
	}

	result, err := r.runner.RunTurn(turnCtx, engine.TurnRequest{
		RunID:       runID,
		ProjectID:   sess.ProjectID,
		Branch:      sess.Branch,
		ResumeToken: sess.ResumeToken,
		Prompt:      prompt,
	}, r.progressFunc(ctx, sess.ThreadID, placeholderID))

	if err != nil {
		return r.finishFailed(ctx, ev, sess, runID, span, err)
	}

	// Record the outcome before delivering anything: a session cancelled
	// while the turn was in flight discards the output.
	if err := r.table.CompleteTurn(sess.ThreadID, result.ResumeToken, result.Final); err != nil {
		if errors.Is(err, sessions.ErrStale) {
			slog.Info("discarding output for resolved session",
				"run_id", runID, "thread_id", sess.ThreadID)
			r.deletePlaceholder(ctx, sess.ThreadID, placeholderID)
			span.SetStatus(codes.Ok, "output discarded")
			return nil
		}
		return fmt.Errorf("record turn result: %w", err)
	}

	r.deliver(ctx, sess.ThreadID, placeholderID, result.Output)
	r.msgr.React(ctx, ev.ChannelID, ev.MessageID, reactionDone)
	span.SetStatus(codes.Ok, "")

	slog.Info("agent turn completed",
		"run_id", runID,
		"thread_id", sess.ThreadID,
		"output_len", len(result.Output),
		"final", result.Final,
	)
	return nil
}

func (r *Router) finishFailed(ctx context.Context, ev bus.InboundEvent, sess state.Session, runID string, span trace.Span, turnErr error) error {
	span.RecordError(turnErr)
	span.SetStatus(codes.Error, turnErr.Error())

	if err := r.table.FailTurn(sess.ThreadID); err != nil {
		if errors.Is(err, sessions.ErrStale) {
			// Cancelled while running: the abort is expected, stay quiet.
			slog.Info("turn aborted after cancellation", "run_id", runID, "thread_id", sess.ThreadID)
			return nil
		}
		slog.Error("failed to record turn failure", "run_id", runID, "error", err)
	}

	r.msgr.React(ctx, ev.ChannelID, ev.MessageID, reactionFailed)
	slog.Error("agent turn failed", "run_id", runID, "thread_id", sess.ThreadID, "error", turnErr)

	// Surfaced verbatim per the error-handling contract.
	return fmt.Errorf("agent failed: %w", turnErr)
}

// deliver formats the output and writes it into the thread: the first chunk
// edits the placeholder, the rest follow as separate messages.
func (r *Router) deliver(ctx context.Context, threadID, placeholderID, output string) {
	if strings.TrimSpace(output) == "" {
		output = "(no output)"
	}
	chunks := overflow.Format(output, r.policy, r.limit)

	start := 0
	if placeholderID != "" {
		if err := r.msgr.EditMessage(ctx, threadID, placeholderID, chunks[0]); err != nil {
			slog.Warn("placeholder edit failed, sending new message", "thread_id", threadID, "error", err)
		} else {
			start = 1
		}
	}
	for _, chunk := range chunks[start:] {
		if _, err := r.msgr.SendMessage(ctx, threadID, chunk); err != nil {
			slog.Error("send output chunk failed", "thread_id", threadID, "error", err)
			return
		}
	}
}

func (r *Router) deletePlaceholder(ctx context.Context, threadID, placeholderID string) {
	if placeholderID == "" {
		return
	}
	if err := r.msgr.EditMessage(ctx, threadID, placeholderID, "(cancelled)"); err != nil {
		slog.Debug("placeholder cleanup failed", "thread_id", threadID, "error", err)
	}
}

// progressFunc throttles streamed engine output into placeholder edits.
func (r *Router) progressFunc(ctx context.Context, threadID, placeholderID string) engine.ProgressFunc {
	if placeholderID == "" {
		return nil
	}
	var mu sync.Mutex
	var last time.Time
	return func(text string) {
		mu.Lock()
		defer mu.Unlock()
		if time.Since(last) < progressInterval {
			return
		}
		preview := overflow.Format(text, overflow.PolicyTrim, r.limit)
		if len(preview) == 0 {
			// Nothing streamed yet; keep the placeholder as-is.
			return
		}
		last = time.Now()
		if err := r.msgr.EditMessage(ctx, threadID, placeholderID, preview[0]); err != nil {
			slog.Debug("progress edit failed", "thread_id", threadID, "error", err)
		}
	}
}

// CancelThread marks the thread's session cancelled and interrupts any
// in-flight turn. Returns whether there was anything to cancel.
func (r *Router) CancelThread(threadID string) (bool, error) {
	did, err := r.table.Cancel(threadID)
	if err != nil {
		return false, err
	}
	if !did {
		return false, nil
	}

	r.mu.Lock()
	cancel, ok := r.inTurn[threadID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return true, nil
}

// threadName derives a thread title from the prompt's first line.
func threadName(prompt string) string {
	name, _, _ := strings.Cut(strings.TrimSpace(prompt), "\n")
	name = strings.TrimSpace(name)
	if name == "" {
		name = "agent task"
	}
	if len(name) > threadNameLimit {
		cut := threadNameLimit
		for cut > 0 && name[cut]&0xC0 == 0x80 {
			cut--
		}
		name = name[:cut]
	}
	return name
}

func terminalReason(threadID string, table *sessions.Table) string {
	sess, ok, err := table.Get(threadID)
	if err != nil || !ok {
		return "unknown"
	}
	return string(sess.Status)
}
