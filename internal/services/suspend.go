package services

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Controller is the subset of DockerClient the suspender needs. It exists
// so tests can inject failures at any point.
type Controller interface {
	ListRunning(ctx context.Context) ([]string, error)
	Stop(ctx context.Context, ids []string) error
	Start(ctx context.Context, ids []string) error
}

// Suspender stops running services around a protected section and
// guarantees they are started again on every exit path, including panics
// in the body. Restoring services is worth more than reporting a failed
// restore, so stop/start errors are logged and never propagated.
type Suspender struct {
	control Controller
	logger  zerolog.Logger

	mu      sync.Mutex
	pending []string
}

// NewSuspender creates a Suspender.
func NewSuspender(control Controller, logger zerolog.Logger) *Suspender {
	return &Suspender{
		control: control,
		logger:  logger.With().Str("component", "suspender").Logger(),
	}
}

// WithSuspended stops all currently running services, runs body, and
// restarts the same set afterward. The returned error is body's error;
// service control failures never mask it. If nothing is running, stop and
// start are no-ops.
func (s *Suspender) WithSuspended(ctx context.Context, body func(context.Context) error) error {
	ids, err := s.control.ListRunning(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not enumerate running services, continuing unsuspended")
		return body(ctx)
	}

	if err := s.control.Stop(ctx, ids); err != nil {
		s.logger.Warn().Err(err).Msg("service stop failed, continuing")
	}
	s.setPending(ids)

	// The resume uses a fresh context: the body's cancellation must not
	// be able to prevent services from coming back.
	defer func() {
		s.Resume(context.WithoutCancel(ctx))
	}()

	return body(ctx)
}

// Resume restarts whatever set is still pending. It is idempotent: the
// deferred resume inside WithSuspended and a last-chance call from a
// signal handler can both run without double-starting.
func (s *Suspender) Resume(ctx context.Context) {
	ids := s.takePending()
	if len(ids) == 0 {
		return
	}

	if err := s.control.Start(ctx, ids); err != nil {
		s.logger.Error().Err(err).
			Strs("containers", ids).
			Msg("service restart failed; restart manually")
		return
	}
	s.logger.Info().Int("count", len(ids)).Msg("services resumed")
}

func (s *Suspender) setPending(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = ids
}

func (s *Suspender) takePending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.pending
	s.pending = nil
	return ids
}
