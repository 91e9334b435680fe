package replication

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wrenhollis/holdfast/internal/borg"
	"github.com/wrenhollis/holdfast/internal/config"
	"github.com/wrenhollis/holdfast/internal/runner"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

// memorySink records notifications in memory.
type memorySink struct {
	titles   []string
	messages []string
}

func (m *memorySink) Send(ctx context.Context, title, message string) error {
	m.titles = append(m.titles, title)
	m.messages = append(m.messages, message)
	return nil
}

type fixedBucketStats struct {
	size int64
	err  error
}

func (f *fixedBucketStats) TotalSize(ctx context.Context, bucket string) (int64, error) {
	return f.size, f.err
}

func repoFixture() config.Repository {
	return config.Repository{URI: "/mnt/nas/borg", Passphrase: "s", Label: "primary", Primary: true}
}

// infoJSON builds a borg info --json document with the given unique size.
func infoJSON(uniqueGB int) string {
	return fmt.Sprintf(`{"archives": [], "cache": {"stats": {"unique_csize": %d}}}`, int64(uniqueGB)*1024*1024*1024)
}

func newGate(rec *runner.Recorder, sink *memorySink, stats BucketStatser, cfg config.Replication) *Gate {
	return NewGate(borg.New(rec, testLogger()), sink, stats, cfg, testLogger())
}

func TestMaybeReplicate(t *testing.T) {
	ctx := context.Background()
	cfg := config.Replication{Bucket: "my-backups", Profile: "backup"}

	t.Run("threshold zero replicates unconditionally", func(t *testing.T) {
		rec := runner.NewRecorder()
		sink := &memorySink{}
		g := newGate(rec, sink, &fixedBucketStats{size: 42}, cfg)

		res := g.MaybeReplicate(ctx, repoFixture())
		if !res.Attempted || !res.Succeeded {
			t.Fatalf("result: %+v", res)
		}
		if res.BucketBytes != 42 {
			t.Errorf("bucket bytes: got %d", res.BucketBytes)
		}

		// No size measurement should have happened.
		for _, call := range rec.CallStrings() {
			if strings.Contains(call, "info") {
				t.Errorf("unexpected info call: %q", call)
			}
		}

		want := "borg with-lock /mnt/nas/borg aws s3 sync /mnt/nas/borg s3://my-backups --profile backup --delete"
		if got := rec.CallStrings()[0]; got != want {
			t.Errorf("sync command:\n got %q\nwant %q", got, want)
		}
	})

	t.Run("size over threshold skips and notifies", func(t *testing.T) {
		gated := cfg
		gated.ThresholdGB = 10

		rec := runner.NewRecorder()
		rec.Output(infoJSON(12), "borg", "info", "--json")
		sink := &memorySink{}
		g := newGate(rec, sink, nil, gated)

		res := g.MaybeReplicate(ctx, repoFixture())
		if res.Attempted {
			t.Fatal("sync must not be attempted over threshold")
		}
		if res.SkippedReason != SkipThresholdExceeded {
			t.Errorf("skip reason: %q", res.SkippedReason)
		}
		if res.MeasuredGB != 12 {
			t.Errorf("measured: %d", res.MeasuredGB)
		}

		// No sync invocation at all.
		for _, call := range rec.CallStrings() {
			if strings.Contains(call, "with-lock") || strings.Contains(call, "s3 sync") {
				t.Errorf("sync tool invoked despite threshold: %q", call)
			}
		}

		// One notification carrying both sizes.
		if len(sink.messages) != 1 {
			t.Fatalf("notifications: %v", sink.titles)
		}
		if sink.titles[0] != "Backup Threshold" {
			t.Errorf("title: %q", sink.titles[0])
		}
		msg := sink.messages[0]
		if !strings.Contains(msg, "12") || !strings.Contains(msg, "10") {
			t.Errorf("message missing sizes: %q", msg)
		}
	})

	t.Run("size under threshold replicates", func(t *testing.T) {
		gated := cfg
		gated.ThresholdGB = 10

		rec := runner.NewRecorder()
		rec.Output(infoJSON(7), "borg", "info", "--json")
		sink := &memorySink{}
		g := newGate(rec, sink, nil, gated)

		res := g.MaybeReplicate(ctx, repoFixture())
		if !res.Attempted || !res.Succeeded {
			t.Fatalf("result: %+v", res)
		}
		if res.MeasuredGB != 7 {
			t.Errorf("measured: %d", res.MeasuredGB)
		}
	})

	t.Run("sync failure notifies and reports non-fatal failure", func(t *testing.T) {
		rec := runner.NewRecorder()
		rec.Fail(1, "upload failed", "borg", "with-lock")
		sink := &memorySink{}
		g := newGate(rec, sink, nil, cfg)

		res := g.MaybeReplicate(ctx, repoFixture())
		if !res.Attempted || res.Succeeded {
			t.Fatalf("result: %+v", res)
		}
		if len(sink.titles) != 1 || sink.titles[0] != "Error syncing with AWS" {
			t.Errorf("notifications: %v", sink.titles)
		}
	})

	t.Run("bucket stats failure does not fail replication", func(t *testing.T) {
		rec := runner.NewRecorder()
		sink := &memorySink{}
		g := newGate(rec, sink, &fixedBucketStats{err: errors.New("access denied")}, cfg)

		res := g.MaybeReplicate(ctx, repoFixture())
		if !res.Succeeded {
			t.Fatalf("result: %+v", res)
		}
		if res.BucketBytes != 0 {
			t.Errorf("bucket bytes: %d", res.BucketBytes)
		}
	})
}
