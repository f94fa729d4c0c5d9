package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ShellHandler runs whitelisted commands. Dangerous by nature; only the
// command name is checked against a fixed whitelist, which includes
// network and scripting tools (curl, wget, python) as well as text
// utilities. Arguments are not filtered.
type ShellHandler struct {
	allowed map[string]bool
	tracer  trace.Tracer
}

// NewShellHandler constructs a handler with the default command
// whitelist.
func NewShellHandler() *ShellHandler {
	return &ShellHandler{
		allowed: map[string]bool{
			"echo": true, "cat": true, "grep": true, "awk": true,
			"sed": true, "jq": true, "curl": true, "wget": true, "python": true,
		},
		tracer: otel.Tracer("taskcore-shell"),
	}
}

// Invoke expects args[0] to be the full command line, e.g. "echo hi".
func (s *ShellHandler) Invoke(ctx context.Context, args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("shell handler: expected a command in args[0]")
	}
	line, _ := args[0].(string)
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil, fmt.Errorf("shell handler: empty command")
	}

	command := parts[0]
	if !s.allowed[command] {
		return nil, fmt.Errorf("shell handler: command not allowed: %s", command)
	}

	_, span := s.tracer.Start(ctx, "shell.invoke")
	defer span.End()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("command failed: %w: stderr=%s", err, stderr.String())
	}

	return map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": cmd.ProcessState.ExitCode(),
	}, nil
}

// Supports reports optional capabilities; ShellHandler has none.
func (s *ShellHandler) Supports(feature string) bool { return false }
