package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clinvoy/clinic-ai-platform/internal/clinic"
	"github.com/clinvoy/clinic-ai-platform/pkg/logging"
)

// Service sends owner alerts according to the clinic's notification
// preferences.
type Service struct {
	email  EmailSender
	logger *logging.Logger
}

// NewService creates a notification service.
func NewService(email EmailSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, logger: logger}
}

// TakeoverAlert describes a conversation the engine handed off to a human.
type TakeoverAlert struct {
	SessionID  string
	Reason     string
	LastUser   string
	OccurredAt time.Time
}

// NotifyTakeover emails the clinic owners that a patient needs a human.
// Failures are logged, never surfaced to the patient.
func (s *Service) NotifyTakeover(ctx context.Context, cfg *clinic.ScheduleConfig, alert TakeoverAlert) error {
	if s.email == nil {
		return nil
	}
	if !cfg.Notifications.NotifyOnTakeover || !cfg.Notifications.EmailEnabled {
		s.logger.Debug("takeover notifications disabled", "clinic", cfg.Slug)
		return nil
	}
	if len(cfg.Notifications.EmailRecipients) == 0 {
		s.logger.Debug("no notification recipients configured", "clinic", cfg.Slug)
		return nil
	}

	local := alert.OccurredAt.In(cfg.Location())
	body := fmt.Sprintf(
		"A patient chatting with the %s assistant asked for a human.\n\n"+
			"Reason: %s\n"+
			"Session: %s\n"+
			"When: %s\n\n"+
			"Their last message:\n%s\n",
		cfg.Name, alert.Reason, alert.SessionID,
		local.Format("Monday 2 January 2006, 15:04"),
		strings.TrimSpace(alert.LastUser),
	)

	var firstErr error
	for _, to := range cfg.Notifications.EmailRecipients {
		err := s.email.Send(ctx, EmailMessage{
			To:      to,
			Subject: fmt.Sprintf("[%s] Patient requested human attention", cfg.Name),
			Body:    body,
		})
		if err != nil {
			s.logger.Error("takeover alert send failed", "clinic", cfg.Slug, "to", to, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
