package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/workload"
)

type AppointmentService interface {
	CreateAppointment(ctx context.Context, actor appointment.Actor, req appointment.NewAppointment) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	EditAppointment(ctx context.Context, actor appointment.Actor, id uuid.UUID, changes appointment.Changes) (*appointment.Appointment, error)
	RescheduleAppointment(ctx context.Context, actor appointment.Actor, id uuid.UUID, start, end time.Time) (*appointment.Appointment, error)
	UpdateStatus(ctx context.Context, actor appointment.Actor, id uuid.UUID, to appointment.Status) (*appointment.Appointment, error)
	ApprovePending(ctx context.Context, actor appointment.Actor, id uuid.UUID, roomNumber int) (*appointment.Appointment, error)
	DeclinePending(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Appointment, error)
	BulkApprove(ctx context.Context, actor appointment.Actor, ids []uuid.UUID, roomNumbers []int) (appointment.BulkResult, error)
	BulkDecline(ctx context.Context, actor appointment.Actor, ids []uuid.UUID) (appointment.BulkResult, error)
}

type HeatmapService interface {
	GetHeatmap(ctx context.Context, req workload.Request) (*workload.Heatmap, error)
}

type RouterConfig struct {
	Service  AppointmentService
	Heatmap  HeatmapService
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Logger   zerolog.Logger
	Location *time.Location // clinic timezone for heatmap dates
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Post("/appointments", createAppointmentHandler(cfg.Service))
		r.Post("/appointments/bulk-approve", bulkApproveHandler(cfg.Service))
		r.Post("/appointments/bulk-decline", bulkDeclineHandler(cfg.Service))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		r.Put("/appointments/{id}", updateAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/status", updateStatusHandler(cfg.Service))
		r.Post("/appointments/{id}/approve", approveHandler(cfg.Service))
		r.Post("/appointments/{id}/decline", declineHandler(cfg.Service))

		r.Get("/heatmap", heatmapHandler(cfg.Heatmap, cfg.Location))
	})

	return r
}
