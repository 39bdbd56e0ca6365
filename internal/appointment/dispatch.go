package appointment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventAppointmentCreated = "appointment.created"
	EventAppointmentUpdated = "appointment.updated"
	EventStatusChanged      = "appointment.status_changed"
	EventApprovalEmail      = "email.appointment_approved"
)

// views refreshed by every appointment notification
var liveViews = []string{"appointments", "dashboard", "heatmap"}

type Notification struct {
	EventType     string    `json:"event_type"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	Views         []string  `json:"views"`
}

// Notifier broadcasts state changes to live views. Fire-and-forget: errors
// are recorded, never surfaced as scheduling failures.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

type notificationPayload struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Status    string    `json:"status"`
	Views     []string  `json:"views"`
}

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func notificationEvent(eventType string, a Appointment, at time.Time) EventLog {
	data, _ := json.Marshal(notificationPayload{
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		Status:    a.Status.String(),
		Views:     liveViews,
	})
	id := a.ID
	return EventLog{EventType: eventType, AppointmentID: &id, Payload: data, CreatedAt: at}
}

var approvalTemplate = template.Must(template.New("approval").Parse(
	`<p>Dear {{.Patient}},</p>
<p>Your appointment on <strong>{{.When}}</strong> has been approved.</p>
<p>Please go to room <strong>{{.Room}}</strong> at your appointment time.</p>`))

func approvalEmailEvent(p Patient, a Appointment, at time.Time) (EventLog, error) {
	room := 0
	if a.RoomNumber != nil {
		room = *a.RoomNumber
	}

	var body bytes.Buffer
	err := approvalTemplate.Execute(&body, map[string]any{
		"Patient": p.Name,
		"When":    a.StartTime.Format("Mon 2 Jan 2006 15:04"),
		"Room":    room,
	})
	if err != nil {
		return EventLog{}, fmt.Errorf("render approval email: %w", err)
	}

	data, err := json.Marshal(emailPayload{
		To:      *p.Email,
		Subject: "Your appointment has been approved",
		HTML:    body.String(),
	})
	if err != nil {
		return EventLog{}, err
	}
	id := a.ID
	return EventLog{EventType: EventApprovalEmail, AppointmentID: &id, Payload: data, CreatedAt: at}, nil
}

type DispatchReport struct {
	Sent           int
	NotifyFailures int
	EmailFailures  int
	Warnings       []string
}

// Dispatcher delivers committed outbox rows and records the outcome on each
// row. Undelivered rows are retried by the outbox worker.
type Dispatcher struct {
	outbox   Outbox
	notifier Notifier
	mailer   Mailer
	log      zerolog.Logger
}

func NewDispatcher(outbox Outbox, notifier Notifier, mailer Mailer, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		outbox:   outbox,
		notifier: notifier,
		mailer:   mailer,
		log:      logger.With().Str("component", "dispatcher").Logger(),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, events []EventLog) DispatchReport {
	var report DispatchReport
	for _, ev := range events {
		err := d.send(ctx, ev)
		if err == nil {
			report.Sent++
			if markErr := d.outbox.MarkEventDispatched(ctx, ev.ID); markErr != nil {
				d.log.Warn().Err(markErr).Int64("event_id", ev.ID).Msg("failed to mark event dispatched")
			}
			continue
		}

		if ev.EventType == EventApprovalEmail {
			report.EmailFailures++
		} else {
			report.NotifyFailures++
		}
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s for appointment %s: %v", ev.EventType, appointmentRef(ev), err))
		d.log.Warn().Err(err).Int64("event_id", ev.ID).Str("event_type", ev.EventType).Msg("event dispatch failed")

		if markErr := d.outbox.MarkEventFailed(ctx, ev.ID, err.Error()); markErr != nil {
			d.log.Warn().Err(markErr).Int64("event_id", ev.ID).Msg("failed to record dispatch failure")
		}
	}
	return report
}

// DispatchPending claims undelivered rows for lease and retries them, oldest
// first. Rows still leased by an inline dispatch or another worker are skipped.
func (d *Dispatcher) DispatchPending(ctx context.Context, limit int, lease time.Duration) (DispatchReport, error) {
	events, err := d.outbox.ClaimPendingEvents(ctx, limit, lease)
	if err != nil {
		return DispatchReport{}, fmt.Errorf("load pending events: %w", err)
	}
	return d.Dispatch(ctx, events), nil
}

func (d *Dispatcher) send(ctx context.Context, ev EventLog) error {
	switch ev.EventType {
	case EventApprovalEmail:
		var p emailPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode email payload: %w", err)
		}
		return d.mailer.Send(ctx, p.To, p.Subject, p.HTML)
	default:
		var p notificationPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode notification payload: %w", err)
		}
		n := Notification{EventType: ev.EventType, DoctorID: p.DoctorID, Views: p.Views}
		if ev.AppointmentID != nil {
			n.AppointmentID = *ev.AppointmentID
		}
		return d.notifier.Notify(ctx, n)
	}
}

func appointmentRef(ev EventLog) string {
	if ev.AppointmentID == nil {
		return "-"
	}
	return ev.AppointmentID.String()
}
