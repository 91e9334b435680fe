// Package notify delivers operator notifications through Pushover.
// Delivery is best-effort: failures are logged by callers, never fatal.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenhollis/holdfast/internal/config"
)

// Sink delivers a titled message to the operator.
type Sink interface {
	Send(ctx context.Context, title, message string) error
}

// Pushover sends notifications to the Pushover message API as a form POST.
type Pushover struct {
	cfg    config.Pushover
	client *http.Client
	logger zerolog.Logger
}

// NewPushover creates a Pushover sink.
func NewPushover(cfg config.Pushover, logger zerolog.Logger) *Pushover {
	return &Pushover{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With().Str("component", "pushover").Logger(),
	}
}

// Send delivers a message at the configured default priority.
func (p *Pushover) Send(ctx context.Context, title, message string) error {
	return p.SendPriority(ctx, title, message, p.cfg.Priority)
}

// SendPriority delivers a message at an explicit priority.
func (p *Pushover) SendPriority(ctx context.Context, title, message string, priority int) error {
	form := url.Values{}
	form.Set("token", p.cfg.Token)
	form.Set("user", p.cfg.UserKey)
	form.Set("title", title)
	form.Set("message", message)
	form.Set("priority", strconv.Itoa(priority))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	p.logger.Info().Str("title", title).Msg("sending notification")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	p.logger.Debug().Str("title", title).Msg("notification delivered")
	return nil
}
