// Package remote collects configuration bundles from remote devices and
// stages them locally for archiving.
package remote

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wrenhollis/holdfast/internal/runner"
)

// Transport reaches a remote device over SSH: execute a command, fetch a
// file. Implementations: CLITransport (ssh/scp binaries) and SSHTransport
// (built-in client).
type Transport interface {
	// Exec runs a command on the remote host and fails on non-zero exit.
	Exec(ctx context.Context, addr, command string) error

	// Fetch copies a remote file to a local path.
	Fetch(ctx context.Context, addr, remotePath, localPath string) error
}

// CLITransport drives the ssh and scp binaries through a command runner,
// authenticating with an identity key file.
type CLITransport struct {
	keyPath string
	run     runner.Runner
	logger  zerolog.Logger
}

// NewCLITransport creates a CLITransport using the given identity key.
func NewCLITransport(keyPath string, run runner.Runner, logger zerolog.Logger) *CLITransport {
	return &CLITransport{
		keyPath: keyPath,
		run:     run,
		logger:  logger.With().Str("component", "ssh_cli").Logger(),
	}
}

// Exec implements Transport.
func (t *CLITransport) Exec(ctx context.Context, addr, command string) error {
	t.logger.Info().
		Str("host", addr).
		Str("remote_command", command).
		Msg("running remote command")

	if _, err := runner.RunChecked(ctx, t.run, "ssh", "-i", t.keyPath, addr, command); err != nil {
		return fmt.Errorf("ssh %s: %w", addr, err)
	}
	return nil
}

// Fetch implements Transport.
func (t *CLITransport) Fetch(ctx context.Context, addr, remotePath, localPath string) error {
	t.logger.Info().
		Str("host", addr).
		Str("remote_path", remotePath).
		Str("local_path", localPath).
		Msg("fetching remote file")

	source := fmt.Sprintf("%s:%s", addr, remotePath)
	if _, err := runner.RunChecked(ctx, t.run, "scp", "-i", t.keyPath, source, localPath); err != nil {
		return fmt.Errorf("scp %s: %w", source, err)
	}
	return nil
}
