package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/atlas-bim/atlas-bim/internal/sessions"
)

// SweepMetrics counts sessions deactivated by sweep runs.
type SweepMetrics interface {
	ObserveSessionsSwept(count int64)
}

// SessionSweeper deactivates expired sessions on a schedule.
type SessionSweeper struct {
	Sessions *sessions.Service
	Metrics  SweepMetrics
	Logger   *slog.Logger
}

// Handle processes TaskSessionSweep tasks.
func (s *SessionSweeper) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SessionSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	swept, err := s.Sessions.SweepExpired(ctx)
	if err != nil {
		s.Logger.Error("session sweep failed", slog.Any("error", err))
		return err
	}
	if s.Metrics != nil {
		s.Metrics.ObserveSessionsSwept(swept)
	}
	if swept > 0 {
		s.Logger.Info("session sweep finished", slog.Int64("swept", swept))
	}
	return nil
}
