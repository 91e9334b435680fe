package services

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wrenhollis/holdfast/internal/runner"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

// fakeController records stop/start sets and scripts failures.
type fakeController struct {
	running  []string
	listErr  error
	stopErr  error
	startErr error

	stopped [][]string
	started [][]string
}

func (f *fakeController) ListRunning(ctx context.Context) ([]string, error) {
	return f.running, f.listErr
}

func (f *fakeController) Stop(ctx context.Context, ids []string) error {
	f.stopped = append(f.stopped, ids)
	return f.stopErr
}

func (f *fakeController) Start(ctx context.Context, ids []string) error {
	f.started = append(f.started, ids)
	return f.startErr
}

func TestWithSuspended(t *testing.T) {
	ctx := context.Background()

	t.Run("resumes after success", func(t *testing.T) {
		ctrl := &fakeController{running: []string{"a", "b"}}
		s := NewSuspender(ctrl, testLogger())

		err := s.WithSuspended(ctx, func(context.Context) error { return nil })
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(ctrl.started) != 1 || len(ctrl.started[0]) != 2 {
			t.Fatalf("started: %v", ctrl.started)
		}
	})

	t.Run("resumed set equals stopped set even when body fails", func(t *testing.T) {
		ctrl := &fakeController{running: []string{"a", "b", "c"}}
		s := NewSuspender(ctrl, testLogger())

		bodyErr := errors.New("backup exploded")
		err := s.WithSuspended(ctx, func(context.Context) error { return bodyErr })
		if !errors.Is(err, bodyErr) {
			t.Fatalf("body error not returned: %v", err)
		}

		if len(ctrl.stopped) != 1 || len(ctrl.started) != 1 {
			t.Fatalf("stop/start counts: %v / %v", ctrl.stopped, ctrl.started)
		}
		if len(ctrl.started[0]) != len(ctrl.stopped[0]) {
			t.Errorf("resumed set %v != stopped set %v", ctrl.started[0], ctrl.stopped[0])
		}
	})

	t.Run("resumes even when body panics", func(t *testing.T) {
		ctrl := &fakeController{running: []string{"a"}}
		s := NewSuspender(ctrl, testLogger())

		func() {
			defer func() { _ = recover() }()
			_ = s.WithSuspended(ctx, func(context.Context) error { panic("boom") })
		}()

		if len(ctrl.started) != 1 {
			t.Errorf("services not resumed after panic: %v", ctrl.started)
		}
	})

	t.Run("resumes even when body context is cancelled", func(t *testing.T) {
		ctrl := &fakeController{running: []string{"a"}}
		s := NewSuspender(ctrl, testLogger())

		cancelCtx, cancel := context.WithCancel(ctx)
		err := s.WithSuspended(cancelCtx, func(c context.Context) error {
			cancel()
			return c.Err()
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context error, got %v", err)
		}
		if len(ctrl.started) != 1 {
			t.Error("services not resumed after cancellation")
		}
	})

	t.Run("empty running set is a no-op", func(t *testing.T) {
		ctrl := &fakeController{}
		s := NewSuspender(ctrl, testLogger())

		if err := s.WithSuspended(ctx, func(context.Context) error { return nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(ctrl.stopped) != 1 || ctrl.stopped[0] != nil {
			t.Errorf("stop should receive empty set: %v", ctrl.stopped)
		}
		if len(ctrl.started) != 0 {
			t.Errorf("start should not run for empty set: %v", ctrl.started)
		}
	})

	t.Run("list failure runs body unsuspended", func(t *testing.T) {
		ctrl := &fakeController{listErr: errors.New("docker daemon down")}
		s := NewSuspender(ctrl, testLogger())

		ran := false
		if err := s.WithSuspended(ctx, func(context.Context) error { ran = true; return nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ran {
			t.Error("body did not run")
		}
		if len(ctrl.stopped) != 0 {
			t.Error("stop should not run when enumeration failed")
		}
	})

	t.Run("start failure is swallowed", func(t *testing.T) {
		ctrl := &fakeController{running: []string{"a"}, startErr: errors.New("no such container")}
		s := NewSuspender(ctrl, testLogger())

		if err := s.WithSuspended(ctx, func(context.Context) error { return nil }); err != nil {
			t.Fatalf("start failure leaked: %v", err)
		}
	})
}

func TestResumeIdempotent(t *testing.T) {
	ctx := context.Background()
	ctrl := &fakeController{running: []string{"a", "b"}}
	s := NewSuspender(ctrl, testLogger())

	_ = s.WithSuspended(ctx, func(context.Context) error { return nil })
	// Simulates the signal-handler's last-chance resume after a normal run.
	s.Resume(ctx)

	if len(ctrl.started) != 1 {
		t.Errorf("expected exactly one start invocation, got %d", len(ctrl.started))
	}
}

func TestDockerClient(t *testing.T) {
	ctx := context.Background()

	t.Run("parses running ids", func(t *testing.T) {
		rec := runner.NewRecorder()
		rec.Output("abc123\ndef456\n", "docker", "ps", "-q")
		d := NewDockerClient(rec, testLogger())

		ids, err := d.ListRunning(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(ids) != 2 || ids[0] != "abc123" || ids[1] != "def456" {
			t.Errorf("ids: %v", ids)
		}
	})

	t.Run("stop and start pass the id set", func(t *testing.T) {
		rec := runner.NewRecorder()
		d := NewDockerClient(rec, testLogger())

		if err := d.Stop(ctx, []string{"a", "b"}); err != nil {
			t.Fatalf("stop: %v", err)
		}
		if err := d.Start(ctx, []string{"a", "b"}); err != nil {
			t.Fatalf("start: %v", err)
		}

		calls := rec.CallStrings()
		if calls[0] != "docker stop a b" || calls[1] != "docker start a b" {
			t.Errorf("calls: %v", calls)
		}
	})

	t.Run("empty set skips invocation", func(t *testing.T) {
		rec := runner.NewRecorder()
		d := NewDockerClient(rec, testLogger())

		if err := d.Stop(ctx, nil); err != nil {
			t.Fatalf("stop: %v", err)
		}
		if len(rec.Calls()) != 0 {
			t.Errorf("unexpected calls: %v", rec.CallStrings())
		}
	})
}
