// Package orchestrator drives the end-to-end backup run: remote collection,
// service suspension, archive creation against both repositories, pruning,
// gated replication, cleanup, and the final operator notification.
//
// The pipeline keeps going past non-fatal step failures. A partial backup is
// always better than none; every failure is recorded in the run report and
// the report decides the final status and process exit code at the end.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wrenhollis/holdfast/internal/borg"
	"github.com/wrenhollis/holdfast/internal/config"
	"github.com/wrenhollis/holdfast/internal/history"
	"github.com/wrenhollis/holdfast/internal/metrics"
	"github.com/wrenhollis/holdfast/internal/notify"
	"github.com/wrenhollis/holdfast/internal/remote"
	"github.com/wrenhollis/holdfast/internal/replication"
	"github.com/wrenhollis/holdfast/internal/services"
)

// Archive name prefixes, one per backup target. Pruning always covers all
// of them, even for targets that were skipped this run, so retention keeps
// working across runs with intermittent collection failures.
const (
	homePrefix   = "home-backup"
	routerPrefix = "router-backup"
	piholePrefix = "pihole-backup"
	etcPrefix    = "etc-backup"
)

func allPrefixes() []string {
	return []string{homePrefix, routerPrefix, piholePrefix, etcPrefix}
}

// Target is one directory to archive. Optional targets come from remote
// collection and drop out of the run when their collection failed.
type Target struct {
	Name     string
	Prefix   string
	Source   string
	Required bool
}

// Status is the overall outcome of a run.
type Status string

const (
	// StatusSuccess means every step succeeded.
	StatusSuccess Status = "success"
	// StatusDegraded means the secondary backup succeeded but some other
	// step failed. The process still exits zero.
	StatusDegraded Status = "degraded"
	// StatusFailed means the secondary backup failed.
	StatusFailed Status = "failed"
)

// ArchiveResult records one archive-creation attempt.
type ArchiveResult struct {
	Target  string
	Repo    string
	Archive string
	Err     string
}

// Succeeded reports whether the archive was created.
func (r ArchiveResult) Succeeded() bool { return r.Err == "" }

// PruneResult records one per-repository prune pass.
type PruneResult struct {
	Repo string
	Err  string
}

// RunReport aggregates every step's outcome for one run. The orchestrator
// appends results as steps complete and reads the report once at the end to
// compose the notification and choose the exit code.
type RunReport struct {
	ID         uuid.UUID
	Hostname   string
	StartedAt  time.Time
	FinishedAt time.Time

	Collections []remote.Result
	Archives    []ArchiveResult
	Prunes      []PruneResult
	Replication replication.Result

	// PrimaryInfo is the human-readable primary repository summary, empty
	// when unavailable.
	PrimaryInfo  string
	PrimaryStats borg.Stats

	Status Status
}

// ExitCode maps the final status to the process exit code. Only a failed
// secondary backup makes the process fail: archives on the removable copy
// outrank replication and pruning.
func (r *RunReport) ExitCode() int {
	if r.Status == StatusFailed {
		return 1
	}
	return 0
}

// secondaryFailures lists the targets whose secondary archive failed.
func (r *RunReport) secondaryFailures(repoLabel string) []string {
	var failed []string
	for _, a := range r.Archives {
		if a.Repo == repoLabel && !a.Succeeded() {
			failed = append(failed, a.Target)
		}
	}
	return failed
}

// Deps are the orchestrator's collaborators. History and Metrics are
// optional; Now defaults to time.Now.
type Deps struct {
	Config    *config.Config
	Collector *remote.Collector
	Suspender *services.Suspender
	Borg      *borg.Client
	Gate      *replication.Gate
	Sink      notify.Sink
	History   *history.Store
	Metrics   *metrics.Writer
	Now       func() time.Time
	Logger    zerolog.Logger
}

// Orchestrator sequences one backup run.
type Orchestrator struct {
	cfg       *config.Config
	collector *remote.Collector
	suspender *services.Suspender
	borg      *borg.Client
	gate      *replication.Gate
	sink      notify.Sink
	hist      *history.Store
	metrics   *metrics.Writer
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates an Orchestrator from its dependencies.
func New(d Deps) *Orchestrator {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Orchestrator{
		cfg:       d.Config,
		collector: d.Collector,
		suspender: d.Suspender,
		borg:      d.Borg,
		gate:      d.Gate,
		sink:      d.Sink,
		hist:      d.History,
		metrics:   d.Metrics,
		now:       d.Now,
		logger:    d.Logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Run executes the full pipeline and returns the run report. It never
// returns early: every run reaches cleanup and the final notification.
func (o *Orchestrator) Run(ctx context.Context) *RunReport {
	report := &RunReport{ID: uuid.New(), StartedAt: o.now()}
	report.Hostname, _ = os.Hostname()

	o.logger.Info().
		Str("run_id", report.ID.String()).
		Bool("dry_run", o.cfg.DryRun).
		Msg("starting backup run")

	devices := []remote.Device{
		remote.RouterDevice(o.cfg.Router.Addr()),
		remote.PiholeDevice(o.cfg.Pihole.Addr()),
	}
	for _, dev := range devices {
		res := o.collector.Collect(ctx, dev)
		report.Collections = append(report.Collections, res)
		if !res.Succeeded {
			o.notify(ctx, fmt.Sprintf("Error retrieving %s backup", dev.Kind), res.Err)
		}
	}

	targets := o.buildTargets(report.Collections)
	archiveTime := o.now()

	// Services stay down only while the host's own filesystems are being
	// archived. The secondary repository sees the same archive set because
	// both phases share one timestamp and target list.
	o.suspender.WithSuspended(ctx, func(ctx context.Context) error {
		o.backupPrimary(ctx, report, targets, archiveTime)
		return nil
	})

	secondaryOK := o.backupSecondary(ctx, report, targets, archiveTime)

	for _, dev := range devices {
		o.collector.Cleanup(dev)
	}

	report.FinishedAt = o.now()
	report.Status = o.finalStatus(report, secondaryOK)

	o.sendSummary(ctx, report)
	o.record(ctx, report)

	o.logger.Info().
		Str("run_id", report.ID.String()).
		Str("status", string(report.Status)).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("backup run finished")
	return report
}

// buildTargets assembles the run's target list: the host's home and system
// configuration trees always, plus each remote device whose collection
// staged a bundle.
func (o *Orchestrator) buildTargets(collections []remote.Result) []Target {
	targets := []Target{
		{Name: "home", Prefix: homePrefix, Source: o.cfg.HomeSource, Required: true},
	}
	for _, res := range collections {
		if !res.Succeeded {
			continue
		}
		switch res.Kind {
		case remote.KindRouter:
			targets = append(targets, Target{Name: "router", Prefix: routerPrefix, Source: res.StagingDir})
		case remote.KindPihole:
			targets = append(targets, Target{Name: "pihole", Prefix: piholePrefix, Source: res.StagingDir})
		}
	}
	targets = append(targets, Target{Name: "etc", Prefix: etcPrefix, Source: o.cfg.EtcSource, Required: true})
	return targets
}

// createAll attempts every target against one repository and reports whether
// all succeeded. One target's failure never blocks the others.
func (o *Orchestrator) createAll(ctx context.Context, report *RunReport, repo config.Repository, targets []Target, at time.Time) bool {
	ok := true
	for _, t := range targets {
		name := borg.ArchiveName(t.Prefix, at)
		res := ArchiveResult{Target: t.Name, Repo: repo.Label, Archive: name}
		if err := o.borg.Create(ctx, repo, name, t.Source, o.cfg.ExcludesFile, o.cfg.DryRun); err != nil {
			o.logger.Error().Err(err).
				Str("target", t.Name).
				Str("repo", repo.Label).
				Msg("archive creation failed, continuing with remaining targets")
			res.Err = err.Error()
			ok = false
		}
		report.Archives = append(report.Archives, res)
	}
	return ok
}

// skipDownstream reports whether pruning and replication are suppressed for
// this run.
func (o *Orchestrator) skipDownstream() bool {
	return o.cfg.DryRun && o.cfg.DryRunSkipsDownstream
}

func (o *Orchestrator) prune(ctx context.Context, report *RunReport, repo config.Repository) {
	res := PruneResult{Repo: repo.Label}
	if err := o.borg.Prune(ctx, repo, allPrefixes(), o.cfg.Retention); err != nil {
		o.logger.Error().Err(err).Str("repo", repo.Label).Msg("prune failed")
		res.Err = err.Error()
	}
	report.Prunes = append(report.Prunes, res)
}

// backupPrimary runs the primary repository phase: create every target's
// archive, prune, then decide replication. Creation of all archives strictly
// precedes pruning, which strictly precedes the replication decision.
func (o *Orchestrator) backupPrimary(ctx context.Context, report *RunReport, targets []Target, at time.Time) {
	repo := o.cfg.PrimaryRepo
	o.createAll(ctx, report, repo, targets, at)

	if o.skipDownstream() {
		o.logger.Info().Msg("dry run: skipping prune and replication")
	} else {
		o.prune(ctx, report, repo)
		report.Replication = o.gate.MaybeReplicate(ctx, repo)
	}

	report.PrimaryInfo = o.borg.Info(ctx, repo, "")
	report.PrimaryStats = o.borg.Statistics(ctx, repo)
}

// backupSecondary runs the secondary repository phase and reports whether
// every archive was created. The secondary repository is the off-site copy
// itself, so it is never replicated.
func (o *Orchestrator) backupSecondary(ctx context.Context, report *RunReport, targets []Target, at time.Time) bool {
	repo := o.cfg.SecondaryRepo
	ok := o.createAll(ctx, report, repo, targets, at)

	if o.skipDownstream() {
		return ok
	}
	o.prune(ctx, report, repo)
	return ok
}

func (o *Orchestrator) finalStatus(report *RunReport, secondaryOK bool) Status {
	if !secondaryOK {
		return StatusFailed
	}
	for _, c := range report.Collections {
		if !c.Succeeded {
			return StatusDegraded
		}
	}
	for _, a := range report.Archives {
		if !a.Succeeded() {
			return StatusDegraded
		}
	}
	for _, p := range report.Prunes {
		if p.Err != "" {
			return StatusDegraded
		}
	}
	if report.Replication.Attempted && !report.Replication.Succeeded {
		return StatusDegraded
	}
	return StatusSuccess
}

// sendSummary composes and sends the single end-of-run notification.
func (o *Orchestrator) sendSummary(ctx context.Context, report *RunReport) {
	if report.Status == StatusFailed {
		failed := report.secondaryFailures(o.cfg.SecondaryRepo.Label)
		msg := fmt.Sprintf("Exit code %d", report.ExitCode())
		if len(failed) > 0 {
			msg += fmt.Sprintf("\nFailed targets (%s): %s", o.cfg.SecondaryRepo.Label, strings.Join(failed, ", "))
		}
		o.notify(ctx, "Backup failed", msg)
		return
	}

	var b strings.Builder
	if report.Status == StatusDegraded {
		b.WriteString("Completed with errors, see log for details.\n")
	}
	fmt.Fprintf(&b, "Borg NAS Stats: \n%s\n", report.PrimaryInfo)
	if report.Replication.Succeeded && report.Replication.BucketBytes > 0 {
		fmt.Fprintf(&b, "AWS bucket size: %.3f GB", float64(report.Replication.BucketBytes)/(1024*1024*1024))
	}
	o.notify(ctx, "Backup Successful", b.String())
}

// record persists the run to the history journal and metrics textfile.
// Neither is load-bearing; failures are logged and ignored.
func (o *Orchestrator) record(ctx context.Context, report *RunReport) {
	created, failed := 0, 0
	for _, a := range report.Archives {
		if a.Succeeded() {
			created++
		} else {
			failed++
		}
	}
	collectionsFailed := 0
	for _, c := range report.Collections {
		if !c.Succeeded {
			collectionsFailed++
		}
	}

	if o.metrics != nil {
		err := o.metrics.Write(metrics.RunMetrics{
			StartedAt:            report.StartedAt,
			Duration:             report.FinishedAt.Sub(report.StartedAt),
			Success:              report.Status != StatusFailed,
			ArchivesCreated:      created,
			ArchivesFailed:       failed,
			CollectionsFailed:    collectionsFailed,
			RepoUniqueBytes:      report.PrimaryStats.UniqueCSize,
			ReplicationAttempted: report.Replication.Attempted,
			ReplicationSucceeded: report.Replication.Succeeded,
		})
		if err != nil {
			o.logger.Warn().Err(err).Msg("could not write metrics")
		}
	}

	if o.hist != nil {
		replState := "not_attempted"
		switch {
		case report.Replication.Succeeded:
			replState = "succeeded"
		case report.Replication.Attempted:
			replState = "failed"
		case report.Replication.SkippedReason != "":
			replState = "skipped:" + string(report.Replication.SkippedReason)
		}

		err := o.hist.Insert(ctx, history.Entry{
			ID:               report.ID,
			Hostname:         report.Hostname,
			StartedAt:        report.StartedAt,
			FinishedAt:       report.FinishedAt,
			Status:           string(report.Status),
			ArchivesCreated:  created,
			ArchivesFailed:   failed,
			ReplicationState: replState,
			UniqueBytes:      report.PrimaryStats.UniqueCSize,
		})
		if err != nil {
			o.logger.Warn().Err(err).Msg("could not record run history")
		}
	}
}

func (o *Orchestrator) notify(ctx context.Context, title, message string) {
	if err := o.sink.Send(ctx, title, message); err != nil {
		o.logger.Warn().Err(err).Str("title", title).Msg("notification failed")
	}
}

// Suspender exposes the service suspender for last-chance resume from the
// signal handling layer.
func (o *Orchestrator) Suspender() *services.Suspender {
	return o.suspender
}
