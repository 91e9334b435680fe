// Package replication mirrors the primary borg repository to S3 behind a
// configurable size threshold.
package replication

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wrenhollis/holdfast/internal/borg"
	"github.com/wrenhollis/holdfast/internal/config"
	"github.com/wrenhollis/holdfast/internal/notify"
)

// SkipReason explains why a replication was not attempted.
type SkipReason string

// SkipThresholdExceeded means the repository's unique size was over the
// configured threshold. This is operator-actionable (the threshold guards
// against surprise S3 bills), so it is notified immediately.
const SkipThresholdExceeded SkipReason = "threshold_exceeded"

// Result is the outcome of one replication decision.
type Result struct {
	Attempted     bool
	SkippedReason SkipReason
	Succeeded     bool
	// MeasuredGB is the unique deduplicated size that was compared
	// against the threshold, when the gate was evaluated.
	MeasuredGB int
	// BucketBytes is the destination bucket's total size after a
	// successful sync, zero when unknown.
	BucketBytes int64
}

// BucketStatser measures the total size of a destination bucket.
type BucketStatser interface {
	TotalSize(ctx context.Context, bucket string) (int64, error)
}

// Gate decides whether to replicate and performs the guarded sync.
type Gate struct {
	borg   *borg.Client
	sink   notify.Sink
	stats  BucketStatser
	cfg    config.Replication
	logger zerolog.Logger
}

// NewGate creates a replication Gate. stats may be nil, in which case the
// destination size is simply not reported.
func NewGate(borgClient *borg.Client, sink notify.Sink, stats BucketStatser, cfg config.Replication, logger zerolog.Logger) *Gate {
	return &Gate{
		borg:   borgClient,
		sink:   sink,
		stats:  stats,
		cfg:    cfg,
		logger: logger.With().Str("component", "replication").Logger(),
	}
}

// MaybeReplicate mirrors the repository to the destination bucket unless
// the size gate trips. The sync runs under the repository's exclusive lock
// so no archive creation or prune can race with it. Failures are notified
// and reported through the Result; they are never fatal to the run.
func (g *Gate) MaybeReplicate(ctx context.Context, repo config.Repository) Result {
	if g.cfg.ThresholdGB > 0 {
		size := g.borg.Statistics(ctx, repo).UniqueGB()
		if size > g.cfg.ThresholdGB {
			msg := fmt.Sprintf("Backup size %d GB is larger than threshold %d GB", size, g.cfg.ThresholdGB)
			g.logger.Error().
				Int("size_gb", size).
				Int("threshold_gb", g.cfg.ThresholdGB).
				Msg("replication skipped: size over threshold")
			g.notify(ctx, "Backup Threshold", msg)
			return Result{SkippedReason: SkipThresholdExceeded, MeasuredGB: size}
		}

		g.logger.Info().
			Int("size_gb", size).
			Int("threshold_gb", g.cfg.ThresholdGB).
			Msg("size under threshold, replicating")
	}

	res := Result{Attempted: true}

	g.logger.Info().
		Str("repo", repo.Label).
		Str("bucket", g.cfg.Bucket).
		Msg("syncing repository to object storage")

	argv := []string{
		"aws", "s3", "sync",
		repo.URI,
		"s3://" + g.cfg.Bucket,
		"--profile", g.cfg.Profile,
		"--delete",
	}
	if err := g.borg.RunWithLock(ctx, repo, argv); err != nil {
		g.logger.Error().Err(err).Msg("replication failed")
		g.notify(ctx, "Error syncing with AWS", err.Error())
		return res
	}
	res.Succeeded = true

	if g.stats != nil {
		size, err := g.stats.TotalSize(ctx, g.cfg.Bucket)
		if err != nil {
			g.logger.Warn().Err(err).Msg("could not measure destination bucket size")
		} else {
			res.BucketBytes = size
		}
	}

	g.logger.Info().
		Int64("bucket_bytes", res.BucketBytes).
		Msg("replication completed")
	return res
}

func (g *Gate) notify(ctx context.Context, title, message string) {
	if err := g.sink.Send(ctx, title, message); err != nil {
		g.logger.Warn().Err(err).Str("title", title).Msg("notification failed")
	}
}
