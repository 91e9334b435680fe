// Package borg wraps the borg CLI for archive creation, pruning, repository
// statistics, and lock-guarded command execution.
package borg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenhollis/holdfast/internal/config"
	"github.com/wrenhollis/holdfast/internal/runner"
)

// archiveTimeFormat is the minute-resolution timestamp appended to archive
// names, e.g. home-backup-2026-08-23T03.30.
const archiveTimeFormat = "2006-01-02T15.04"

// compression is the fixed compression setting for every archive.
const compression = "zlib,6"

// ArchiveName returns the full archive name for a prefix at the given time.
func ArchiveName(prefix string, at time.Time) string {
	return prefix + "-" + at.Format(archiveTimeFormat)
}

// ArchiveCreationError is returned when creating an archive fails.
type ArchiveCreationError struct {
	Archive  string
	Repo     string
	ExitCode int
	Stderr   string
}

func (e *ArchiveCreationError) Error() string {
	msg := fmt.Sprintf("create archive %s in %s: exit %d", e.Archive, e.Repo, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Stats holds aggregate repository statistics from borg info --json.
type Stats struct {
	TotalSize    int64 // original bytes across all archives
	TotalCSize   int64 // compressed bytes
	UniqueCSize  int64 // deduplicated compressed bytes actually stored
	ArchiveCount int
}

// UniqueGB returns the deduplicated size in whole gigabytes, matching the
// unit of the replication threshold.
func (s Stats) UniqueGB() int {
	return int(s.UniqueCSize / (1024 * 1024 * 1024))
}

// Client wraps the borg CLI. The repository passphrase is injected into
// each child process's environment per invocation; it is never set in the
// holdfast process itself, so operating on two repositories can never race
// on a shared secret.
type Client struct {
	binary string
	run    runner.Runner
	logger zerolog.Logger
}

// New creates a borg Client using the given command runner.
func New(run runner.Runner, logger zerolog.Logger) *Client {
	return &Client{
		binary: "borg",
		run:    run,
		logger: logger.With().Str("component", "borg").Logger(),
	}
}

// NewWithBinary creates a borg Client with a custom binary path.
func NewWithBinary(binary string, run runner.Runner, logger zerolog.Logger) *Client {
	c := New(run, logger)
	c.binary = binary
	return c
}

func repoEnv(repo config.Repository) map[string]string {
	return map[string]string{"BORG_PASSPHRASE": repo.Passphrase}
}

// Create creates one named archive of sourceDir in the repository. With
// dryRun the archive is not persisted; borg only walks the source tree.
// The source directory must exist and be readable.
func (c *Client) Create(ctx context.Context, repo config.Repository, archiveName, sourceDir, excludesFile string, dryRun bool) error {
	if _, err := os.Stat(sourceDir); err != nil {
		return &ArchiveCreationError{
			Archive: archiveName,
			Repo:    repo.URI,
			Stderr:  fmt.Sprintf("source directory not readable: %v", err),
		}
	}

	c.logger.Info().
		Str("repo", repo.Label).
		Str("archive", archiveName).
		Str("source", sourceDir).
		Bool("dry_run", dryRun).
		Msg("creating archive")

	args := []string{"create"}
	if dryRun {
		args = append(args, "--dry-run")
	}
	args = append(args, fmt.Sprintf("%s::%s", repo.URI, archiveName), sourceDir)
	if dryRun {
		args = append(args, "-v")
	} else {
		args = append(args, "--stats")
	}
	args = append(args, "--exclude-from", excludesFile, "--compression", compression)

	res, err := c.run.RunEnv(ctx, repoEnv(repo), c.binary, args...)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", archiveName, err)
	}
	if !res.Success() {
		return &ArchiveCreationError{
			Archive:  archiveName,
			Repo:     repo.URI,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}

	c.logger.Info().
		Str("repo", repo.Label).
		Str("archive", archiveName).
		Dur("duration", res.Duration).
		Msg("archive created")
	return nil
}

// Prune removes archives outside the retention window, one prefix group at
// a time. The first failing prefix aborts the remainder and is returned.
func (c *Client) Prune(ctx context.Context, repo config.Repository, prefixes []string, retention config.Retention) error {
	for _, prefix := range prefixes {
		c.logger.Info().
			Str("repo", repo.Label).
			Str("prefix", prefix).
			Msg("pruning archives")

		args := []string{
			"prune", "-v", "-P", prefix, "--list",
			fmt.Sprintf("--keep-daily=%d", retention.Daily),
			fmt.Sprintf("--keep-weekly=%d", retention.Weekly),
			fmt.Sprintf("--keep-monthly=%d", retention.Monthly),
			repo.URI,
		}

		if _, err := runner.RunCheckedEnv(ctx, c.run, repoEnv(repo), c.binary, args...); err != nil {
			return fmt.Errorf("prune prefix %s: %w", prefix, err)
		}
	}
	return nil
}

// Info returns the human-readable borg info output for the repository, or
// optionally a single archive when archiveName is non-empty. Tool failure
// yields an empty string: this call is purely informational.
func (c *Client) Info(ctx context.Context, repo config.Repository, archiveName string) string {
	target := repo.URI
	if archiveName != "" {
		target = fmt.Sprintf("%s::%s", repo.URI, archiveName)
	}

	res, err := c.run.RunEnv(ctx, repoEnv(repo), c.binary, "info", target)
	if err != nil || !res.Success() {
		c.logger.Warn().
			Str("repo", repo.Label).
			Msg("borg info failed, continuing without stats")
		return ""
	}
	return res.Stdout
}

// infoJSON mirrors the parts of borg info --json holdfast reads.
type infoJSON struct {
	Archives []struct {
		Name string `json:"name"`
	} `json:"archives"`
	Cache struct {
		Stats struct {
			TotalSize   int64 `json:"total_size"`
			TotalCSize  int64 `json:"total_csize"`
			UniqueCSize int64 `json:"unique_csize"`
		} `json:"stats"`
	} `json:"cache"`
}

// Statistics returns aggregate repository statistics. Tool or parse failure
// yields zero-value stats, never an error.
func (c *Client) Statistics(ctx context.Context, repo config.Repository) Stats {
	res, err := c.run.RunEnv(ctx, repoEnv(repo), c.binary, "info", "--json", repo.URI)
	if err != nil || !res.Success() {
		c.logger.Warn().
			Str("repo", repo.Label).
			Msg("borg info --json failed, returning empty stats")
		return Stats{}
	}

	var parsed infoJSON
	if err := json.Unmarshal([]byte(res.Stdout), &parsed); err != nil {
		c.logger.Warn().Err(err).
			Str("repo", repo.Label).
			Msg("failed to parse borg info output")
		return Stats{}
	}

	return Stats{
		TotalSize:    parsed.Cache.Stats.TotalSize,
		TotalCSize:   parsed.Cache.Stats.TotalCSize,
		UniqueCSize:  parsed.Cache.Stats.UniqueCSize,
		ArchiveCount: len(parsed.Archives),
	}
}

// RunWithLock executes an arbitrary command while holding the repository's
// exclusive lock, so nothing else can mutate the repository for the
// duration. Used to guard the S3 sync.
func (c *Client) RunWithLock(ctx context.Context, repo config.Repository, argv []string) error {
	args := append([]string{"with-lock", repo.URI}, argv...)

	c.logger.Info().
		Str("repo", repo.Label).
		Strs("command", argv).
		Msg("running command under repository lock")

	if _, err := runner.RunCheckedEnv(ctx, c.run, repoEnv(repo), c.binary, args...); err != nil {
		return fmt.Errorf("with-lock %s: %w", strings.Join(argv, " "), err)
	}
	return nil
}
