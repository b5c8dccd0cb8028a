// Package notify delivers run outcomes through shoutrrr service URLs.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/containrrr/shoutrrr"
	"github.com/containrrr/shoutrrr/pkg/types"
	"github.com/fhaussmann/borgcron/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for outcome notifications.
type Service interface {
	Send(cfg models.NotifyConfig, msg models.Notification) error
}

// Sender dispatches a message to all configured services.
type Sender interface {
	Send(message string, params *types.Params) []error
}

// SenderFactory builds a Sender from service URLs.
type SenderFactory func(urls ...string) (Sender, error)

// Impl implements the Service interface.
type Impl struct {
	factory SenderFactory
	logger  zerolog.Logger
}

// New creates a new notification service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		factory: func(urls ...string) (Sender, error) {
			return shoutrrr.CreateSender(urls...)
		},
		logger: logger,
	}
}

// NewWithFactory creates a new notification service with a custom sender
// factory (for testing).
func NewWithFactory(logger zerolog.Logger, factory SenderFactory) *Impl {
	return &Impl{
		factory: factory,
		logger:  logger,
	}
}

// Send delivers the outcome to every configured URL. Successful runs are
// only reported when the level is "info".
func (s *Impl) Send(cfg models.NotifyConfig, msg models.Notification) error {
	if msg.Success && cfg.Level != "info" {
		s.logger.Debug().Str("operation", msg.Operation).Msg("skipping success notification")
		return nil
	}

	sender, err := s.factory(cfg.URLs...)
	if err != nil {
		return fmt.Errorf("failed to create notification sender: %w", err)
	}

	s.logger.Info().
		Str("operation", msg.Operation).
		Bool("success", msg.Success).
		Int("urls", len(cfg.URLs)).
		Msg("sending notification")

	title := fmt.Sprintf("borgcron %s %s", msg.Operation, outcome(msg.Success))
	errs := sender.Send(s.formatMessage(msg), &types.Params{"title": title})

	var failed []string
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err.Error())
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to deliver notification: %s", strings.Join(failed, "; "))
	}

	s.logger.Info().Msg("notification sent successfully")
	return nil
}

func (s *Impl) formatMessage(msg models.Notification) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s %s", msg.Operation, outcome(msg.Success)))
	b.WriteString(fmt.Sprintf("\nRepository: %s", msg.Repository))
	b.WriteString(fmt.Sprintf("\nDuration: %s", msg.Duration.Round(time.Second)))

	if !msg.Success && msg.ErrorMessage != "" {
		b.WriteString(fmt.Sprintf("\nError: %s", msg.ErrorMessage))
	}

	return b.String()
}

func outcome(success bool) string {
	if success {
		return "succeeded"
	}
	return "failed"
}
