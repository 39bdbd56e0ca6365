package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// LogNotifier stands in for a broker in dev: notifications are logged.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logger.With().Str("component", "notifier").Logger()}
}

func (l *LogNotifier) Notify(_ context.Context, n appointment.Notification) error {
	l.log.Info().
		Str("event_type", n.EventType).
		Str("appointment_id", n.AppointmentID.String()).
		Str("doctor_id", n.DoctorID.String()).
		Strs("views", n.Views).
		Msg("live views notified")
	return nil
}

// LogMailer logs emails instead of sending them.
type LogMailer struct {
	log zerolog.Logger
}

func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{log: logger.With().Str("component", "mailer").Logger()}
}

func (l *LogMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	l.log.Info().
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(htmlBody)).
		Msg("email suppressed")
	return nil
}
