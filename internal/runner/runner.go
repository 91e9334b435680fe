// Package runner executes external commands and reports their outcome as
// typed results. Every tool holdfast drives (borg, ssh, scp, tar, docker,
// aws) goes through a Runner; arguments are always passed as a discrete
// argv list, never as a shell string.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Result holds the outcome of one external command invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the command exited zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// CommandError is returned by the strict Run variants when a command exits
// non-zero.
type CommandError struct {
	Argv     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited %d", strings.Join(e.Argv, " "), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Runner executes external commands.
type Runner interface {
	// Run executes name with args and returns the captured result. A
	// non-zero exit is reported through Result, not through the error;
	// the error is non-nil only when the command could not be started or
	// the context was cancelled.
	Run(ctx context.Context, name string, args ...string) (Result, error)

	// RunEnv is Run with additional environment variables for the child
	// process only. Secrets such as repository passphrases are passed
	// this way so they never live in the orchestrator's own environment.
	RunEnv(ctx context.Context, env map[string]string, name string, args ...string) (Result, error)
}

// Exec is the production Runner backed by os/exec.
type Exec struct {
	logger zerolog.Logger
}

// New creates an Exec runner.
func New(logger zerolog.Logger) *Exec {
	return &Exec{
		logger: logger.With().Str("component", "runner").Logger(),
	}
}

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	return e.RunEnv(ctx, nil, name, args...)
}

// RunEnv implements Runner.
func (e *Exec) RunEnv(ctx context.Context, env map[string]string, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	cmd.Env = cmd.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug().
		Str("command", name).
		Strs("args", args).
		Msg("executing command")

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			e.logger.Debug().
				Str("command", name).
				Int("exit_code", res.ExitCode).
				Str("stderr", strings.TrimSpace(res.Stderr)).
				Msg("command exited non-zero")
			return res, nil
		}
		return res, fmt.Errorf("run %s: %w", name, err)
	}

	return res, nil
}

// RunChecked runs a command through r and converts a non-zero exit into a
// *CommandError.
func RunChecked(ctx context.Context, r Runner, name string, args ...string) (Result, error) {
	return RunCheckedEnv(ctx, r, nil, name, args...)
}

// RunCheckedEnv is RunChecked with additional child environment variables.
func RunCheckedEnv(ctx context.Context, r Runner, env map[string]string, name string, args ...string) (Result, error) {
	res, err := r.RunEnv(ctx, env, name, args...)
	if err != nil {
		return res, err
	}
	if !res.Success() {
		return res, &CommandError{
			Argv:     append([]string{name}, args...),
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}
	return res, nil
}
