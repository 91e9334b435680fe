// Package services stops background services for the duration of a backup
// and guarantees they are started again afterward.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wrenhollis/holdfast/internal/runner"
)

// DockerClient wraps the docker CLI for container stop/start operations.
type DockerClient struct {
	binary string
	run    runner.Runner
	logger zerolog.Logger
}

// NewDockerClient creates a DockerClient using the given command runner.
func NewDockerClient(run runner.Runner, logger zerolog.Logger) *DockerClient {
	return &DockerClient{
		binary: "docker",
		run:    run,
		logger: logger.With().Str("component", "docker").Logger(),
	}
}

// ListRunning returns the IDs of all currently running containers.
func (d *DockerClient) ListRunning(ctx context.Context) ([]string, error) {
	res, err := runner.RunChecked(ctx, d.run, d.binary, "ps", "-q")
	if err != nil {
		return nil, fmt.Errorf("list running containers: %w", err)
	}

	var ids []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if id := strings.TrimSpace(line); id != "" {
			ids = append(ids, id)
		}
	}

	d.logger.Debug().Int("count", len(ids)).Msg("running containers listed")
	return ids, nil
}

// Stop stops the given containers in one invocation.
func (d *DockerClient) Stop(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	d.logger.Info().Int("count", len(ids)).Msg("stopping containers")
	args := append([]string{"stop"}, ids...)
	if _, err := runner.RunChecked(ctx, d.run, d.binary, args...); err != nil {
		return fmt.Errorf("stop containers: %w", err)
	}
	return nil
}

// Start starts the given containers in one invocation.
func (d *DockerClient) Start(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	d.logger.Info().Int("count", len(ids)).Msg("starting containers")
	args := append([]string{"start"}, ids...)
	if _, err := runner.RunChecked(ctx, d.run, d.binary, args...); err != nil {
		return fmt.Errorf("start containers: %w", err)
	}
	return nil
}
