package codesandbox

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"time"
)

// SubprocessSandbox spawns a real interpreter binary, feeding it the code
// on stdin, inheriting the workspace as its working directory (4.5).
type SubprocessSandbox struct {
	Workspace  string
	Timeout    time.Duration
	Interpreter string // defaults to platform python3/python
}

func NewSubprocessSandbox(workspace string) *SubprocessSandbox {
	return &SubprocessSandbox{
		Workspace:   workspace,
		Timeout:     DefaultSubprocessTimeout,
		Interpreter: defaultInterpreter(),
	}
}

func defaultInterpreter() string {
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

func (s *SubprocessSandbox) Run(ctx context.Context, code string) (*Result, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultSubprocessTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interp := s.Interpreter
	if interp == "" {
		interp = defaultInterpreter()
	}

	cmd := exec.CommandContext(ctx, interp, "-")
	cmd.Dir = s.Workspace
	cmd.Stdin = bytes.NewBufferString(code)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	logs := splitLines(stderr.String())

	if ctx.Err() == context.DeadlineExceeded {
		return &Result{Success: false, Logs: logs, Error: "script timed out"}, nil
	}
	if err != nil {
		return &Result{Success: false, Logs: logs, Output: stdout.String(), Error: err.Error()}, nil
	}
	return &Result{Success: true, Logs: logs, Output: stdout.String()}, nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
