package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/Staycoo10/mini-airbnb/internal/observability/requestid"
)

// Logger writes one structured record per security-relevant action
type Logger struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger.With(slog.String("log_type", "audit")), now: time.Now}
}

func (al *Logger) LogAction(ctx context.Context, actorID int64, action, resource, resourceID, status, details string) {
	al.logger.InfoContext(ctx, "audit",
		slog.String("action", action),
		slog.String("resource", resource),
		slog.String("resource_id", resourceID),
		slog.Int64("actor_id", actorID),
		slog.String("status", status),
		slog.String("details", details),
		slog.String("request_id", requestid.From(ctx)),
		slog.Time("timestamp", al.now()),
	)
}

func (al *Logger) LogBooking(ctx context.Context, actorID int64, apartmentID, status, details string) {
	al.LogAction(ctx, actorID, "book", "apartment", apartmentID, status, details)
}

func (al *Logger) LogCancellation(ctx context.Context, actorID int64, reservationID, status, details string) {
	al.LogAction(ctx, actorID, "cancel", "reservation", reservationID, status, details)
}

func (al *Logger) LogDenied(ctx context.Context, actorID int64, reason string) {
	al.LogAction(ctx, actorID, "access_denied", "api", "", "denied", reason)
}
