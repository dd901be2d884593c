// Package subprocess supervises the fabric's two external deliberation/
// synthesis processes — Roundtable and Builder — over a stdin/stdout JSON
// contract with a bounded wall-clock deadline. Non-zero exit, timeout, or
// malformed output never reach the caller as a panic or raw error; they
// come back as a structured Result with Error set.
package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// Result is what every subprocess invocation returns, success or failure.
type Result struct {
	Output json.RawMessage
	Error  string
}

// Supervisor runs one external command, feeding it a JSON request on
// stdin and decoding a JSON response from stdout.
type Supervisor struct {
	Command []string
	Timeout time.Duration
}

// New builds a Supervisor for the given command and deadline.
func New(command []string, timeout time.Duration) *Supervisor {
	return &Supervisor{Command: command, Timeout: timeout}
}

// Run marshals request, executes the command with the configured timeout,
// and decodes the response. A non-zero exit or a timeout is reported in
// Result.Error rather than as a returned error, so callers get one
// uniform "did it work" signal regardless of failure mode; a returned
// error only indicates the request could not be marshaled or no command
// is configured.
func (s *Supervisor) Run(ctx context.Context, request interface{}) (Result, error) {
	input, err := json.Marshal(request)
	if err != nil {
		return Result{}, fmt.Errorf("subprocess: marshal request: %w", err)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if len(s.Command) == 0 {
		return Result{}, fmt.Errorf("subprocess: no command configured")
	}

	cmd := exec.CommandContext(runCtx, s.Command[0], s.Command[1:]...)
	cmd.Stdin = bytes.NewReader(input)

	// Run the child in its own process group so a timeout kill reaches
	// any grandchildren it spawned instead of orphaning them.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{Error: fmt.Sprintf("subprocess timed out after %s", timeout)}, nil
	}

	if runErr != nil {
		msg := stderr.String()
		if msg == "" {
			msg = runErr.Error()
		}
		return Result{Error: msg}, nil
	}

	var output json.RawMessage
	if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
		return Result{Error: fmt.Sprintf("invalid JSON output: %v", err)}, nil
	}

	return Result{Output: output}, nil
}
