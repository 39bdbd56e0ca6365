package notify

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
)

// FromConfig picks the broker notifier and SMTP mailer when configured and
// falls back to the logging implementations otherwise. The returned close
// func releases the broker connection.
func FromConfig(cfg config.Config, logger zerolog.Logger) (appointment.Notifier, appointment.Mailer, func() error, error) {
	var (
		notifier appointment.Notifier = NewLogNotifier(logger)
		mailer   appointment.Mailer   = NewLogMailer(logger)
		closeFn                       = func() error { return nil }
	)

	if cfg.AMQPURL != "" {
		n, err := NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("amqp notifier: %w", err)
		}
		notifier = n
		closeFn = n.Close
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("publishing notifications to rabbitmq")
	} else {
		logger.Warn().Msg("AMQP_URL not set, notifications will only be logged")
	}

	if cfg.SMTP.Enabled() {
		mailer = NewSMTPMailer(SMTPOptions{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			UseTLS:   cfg.SMTP.UseTLS,
			Timeout:  cfg.SMTP.Timeout,
		})
	} else {
		logger.Warn().Msg("SMTP_HOST not set, emails will only be logged")
	}

	return notifier, mailer, closeFn, nil
}
