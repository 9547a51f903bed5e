package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
)

// CLIRunner executes turns by spawning an agent CLI per turn. The command
// is invoked as:
//
//	<command> [args...] --project <id> --branch <branch> [--resume <token>]
//
// with the prompt on stdin. The CLI emits one JSON event per stdout line:
//
//	{"type":"text","text":"..."}              streamed output
//	{"type":"result","resume":"...","final":false}  turn finished
//
// Unknown event types are ignored so newer CLIs stay compatible.
type CLIRunner struct {
	command  string
	args     []string
	projects map[string]string // project ID → working directory
}

// NewCLIRunner builds a runner for the given command and the configured
// project directory map.
func NewCLIRunner(command string, args []string, projects map[string]string) *CLIRunner {
	return &CLIRunner{command: command, args: args, projects: projects}
}

type cliEvent struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Resume string `json:"resume,omitempty"`
	Final  bool   `json:"final,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RunTurn spawns the CLI and consumes its event stream. Context
// cancellation kills the subprocess.
func (r *CLIRunner) RunTurn(ctx context.Context, req TurnRequest, progress ProgressFunc) (*TurnResult, error) {
	workdir, ok := r.projects[req.ProjectID]
	if !ok {
		return nil, fmt.Errorf("unknown project %q", req.ProjectID)
	}

	args := append(slices.Clone(r.args),
		"--project", req.ProjectID,
		"--branch", req.Branch,
	)
	if req.ResumeToken != "" {
		args = append(args, "--resume", req.ResumeToken)
	}

	cmd := exec.CommandContext(ctx, r.command, args...)
	cmd.Dir = workdir
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine %s: %w", r.command, err)
	}

	var out strings.Builder
	result := &TurnResult{}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev cliEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			// Non-JSON lines are treated as plain output so simple
			// commands work without the event protocol.
			out.Write(line)
			out.WriteByte('\n')
			continue
		}

		switch ev.Type {
		case "text":
			out.WriteString(ev.Text)
			if progress != nil {
				progress(out.String())
			}
		case "result":
			result.ResumeToken = ev.Resume
			result.Final = ev.Final
		case "error":
			cmd.Wait()
			return nil, fmt.Errorf("engine reported: %s", ev.Error)
		default:
			slog.Debug("engine event ignored", "type", ev.Type, "run_id", req.RunID)
		}
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("engine exited: %s", msg)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("read engine output: %w", scanErr)
	}

	result.Output = out.String()
	return result, nil
}

// ProjectExists reports whether the project is configured.
func (r *CLIRunner) ProjectExists(_ context.Context, projectID string) (bool, error) {
	_, ok := r.projects[projectID]
	return ok, nil
}
