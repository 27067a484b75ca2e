// Package dump turns MRT files into "bgpdump -m" text and aggregates the
// parsed records across files.
package dump

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Dumper renders one MRT file as pipe-delimited text, one update per line.
type Dumper interface {
	Dump(ctx context.Context, path string) (string, error)
}

// ErrToolMissing means the dump binary could not be found on PATH.
var ErrToolMissing = errors.New("dump tool not found")

// ToolError is a dump tool run that exited non-zero.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.ExitCode, msg)
}

// ExecDumper runs an external tool, by default "bgpdump -m <path>".
type ExecDumper struct {
	Tool string
	Args []string
}

func NewExecDumper(tool string, args ...string) *ExecDumper {
	if tool == "" {
		tool = "bgpdump"
	}
	if len(args) == 0 {
		args = []string{"-m"}
	}
	return &ExecDumper{Tool: tool, Args: args}
}

func (d *ExecDumper) Dump(ctx context.Context, path string) (string, error) {
	args := append(append([]string(nil), d.Args...), path)
	cmd := exec.CommandContext(ctx, d.Tool, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return "", fmt.Errorf("%w: %s (install with: apt-get install bgpdump)", ErrToolMissing, d.Tool)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", &ToolError{Tool: d.Tool, ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
	}
	return "", fmt.Errorf("run %s: %w", d.Tool, err)
}
