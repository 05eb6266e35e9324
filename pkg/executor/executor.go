package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

// Command is a single invocation on the target machine
type Command struct {
	Args  []string
	Dir   string
	Env   []string // Appended to the executor's environment
	Stdin []byte
}

func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// Result holds the outcome of a finished command
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Executor runs commands against a target machine
type Executor interface {
	Execute(ctx context.Context, cmd Command) (*Result, error)
}

// CommandError is returned when a command exits with a non-zero status
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, strings.TrimSpace(e.Stderr))
}

// LocalExecutor runs commands on the local host
type LocalExecutor struct {
	// Env is added to every command, e.g. DOCKER_HOST=ssh://gpu-box to
	// drive a remote daemon through the local docker CLI
	Env []string
}

// NewLocalExecutor creates an executor for the local host
func NewLocalExecutor(env ...string) *LocalExecutor {
	return &LocalExecutor{Env: env}
}

// Execute runs the command in its own process group and waits for it
func (e *LocalExecutor) Execute(ctx context.Context, c Command) (*Result, error) {
	if len(c.Args) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid targets the whole group
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.Dir = c.Dir
	if len(e.Env) > 0 || len(c.Env) > 0 {
		cmd.Env = append(append(os.Environ(), e.Env...), c.Env...)
	}
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.Args[0], err)
	}

	// Drain both pipes before Wait so large outputs cannot deadlock
	var wg sync.WaitGroup
	var stdout, stderr bytes.Buffer
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stdout, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stderr, stderrPipe)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if waitErr != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("%s: %w", c, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &CommandError{Command: c.String(), ExitCode: res.ExitCode, Stderr: stderr.String()}
		}
		return res, fmt.Errorf("%s: %w", c, waitErr)
	}

	return res, nil
}
