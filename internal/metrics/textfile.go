// Package metrics exports per-run metrics in Prometheus text format for
// the node_exporter textfile collector. Scheduled jobs have no process to
// scrape, so each run writes a snapshot file instead.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// RunMetrics is the per-run snapshot written to the textfile.
type RunMetrics struct {
	StartedAt            time.Time
	Duration             time.Duration
	Success              bool
	ArchivesCreated      int
	ArchivesFailed       int
	CollectionsFailed    int
	RepoUniqueBytes      int64
	ReplicationAttempted bool
	ReplicationSucceeded bool
}

// Writer writes run metrics to a textfile-collector path.
type Writer struct {
	path   string
	logger zerolog.Logger
}

// NewWriter creates a Writer targeting path. An empty path disables the
// writer.
func NewWriter(path string, logger zerolog.Logger) *Writer {
	return &Writer{
		path:   path,
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Write renders the snapshot and atomically replaces the textfile.
func (w *Writer) Write(m RunMetrics) error {
	if w.path == "" {
		return nil
	}

	reg := prometheus.NewRegistry()

	gauge := func(name, help string, value float64) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "holdfast",
			Name:      name,
			Help:      help,
		})
		g.Set(value)
		reg.MustRegister(g)
	}

	boolVal := func(b bool) float64 {
		if b {
			return 1
		}
		return 0
	}

	gauge("last_run_timestamp_seconds", "Unix time the last backup run started.", float64(m.StartedAt.Unix()))
	gauge("last_run_duration_seconds", "Wall-clock duration of the last backup run.", m.Duration.Seconds())
	gauge("last_run_success", "Whether the last backup run succeeded (secondary repository outcome).", boolVal(m.Success))
	gauge("archives_created", "Archives created in the last run across all repositories.", float64(m.ArchivesCreated))
	gauge("archives_failed", "Archive attempts that failed in the last run.", float64(m.ArchivesFailed))
	gauge("collections_failed", "Remote collections that failed in the last run.", float64(m.CollectionsFailed))
	gauge("repo_unique_bytes", "Deduplicated size of the primary repository after the last run.", float64(m.RepoUniqueBytes))
	gauge("replication_attempted", "Whether replication to object storage was attempted.", boolVal(m.ReplicationAttempted))
	gauge("replication_succeeded", "Whether replication to object storage succeeded.", boolVal(m.ReplicationSucceeded))

	if err := prometheus.WriteToTextfile(w.path, reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}

	w.logger.Debug().Str("path", w.path).Msg("metrics written")
	return nil
}
