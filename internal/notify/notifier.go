package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/timeproof/internal/messenger"
)

// ErrPlatformNotFound is returned when a messenger platform is not registered.
var ErrPlatformNotFound = errors.New("notify: platform not found") //nolint:gochecknoglobals // sentinel error

// MessengerRegistry maps platform names to Messenger implementations.
type MessengerRegistry interface {
	Get(platform string) (messenger.Messenger, bool)
}

// Target is a channel that receives operational alerts.
type Target struct {
	Platform  string
	ChannelID string
}

// Notifier dispatches operational alerts to the configured channels.
type Notifier struct {
	messengers MessengerRegistry
	targets    []Target
}

// New creates a new Notifier with the given messenger registry and alert targets.
func New(messengers MessengerRegistry, targets ...Target) *Notifier {
	return &Notifier{
		messengers: messengers,
		targets:    targets,
	}
}

// Alert sends the alert to every target. Falls back to logging if no targets
// are configured. A failing target does not stop delivery to the others.
func (n *Notifier) Alert(ctx context.Context, alert messenger.Alert) error {
	if len(n.targets) == 0 {
		log.Warn().
			Str("severity", string(alert.Severity)).
			Str("title", alert.Title).
			Msg("notify: no alert targets configured")
		return nil
	}

	var errs []error
	for _, t := range n.targets {
		if err := n.AlertVia(ctx, t, alert); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(n.targets) {
		return fmt.Errorf("notify.Notifier.Alert: all targets failed: %w", errors.Join(errs...))
	}
	for _, err := range errs {
		log.Warn().Err(err).Msg("notify: alert target failed")
	}

	return nil
}

// AlertVia sends an alert to one target directly.
func (n *Notifier) AlertVia(ctx context.Context, t Target, alert messenger.Alert) error {
	msg, ok := n.messengers.Get(t.Platform)
	if !ok {
		return fmt.Errorf("notify.Notifier.AlertVia: platform %q: %w", t.Platform, ErrPlatformNotFound)
	}

	if _, err := msg.SendAlert(ctx, t.ChannelID, alert); err != nil {
		return fmt.Errorf("notify.Notifier.AlertVia: send: %w", err)
	}

	return nil
}
