package cdr

import (
	"context"
	"log/slog"
	"time"
)

// recordTimeout bounds each best-effort database write.
const recordTimeout = 5 * time.Second

// Recorder persists call lifecycle notifications from the call-control
// core. Every write is best-effort: failures are logged and never reach
// call progress. It implements sla.Recorder.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

// NewRecorder creates a recorder backed by the given repository.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger.With("component", "cdr"),
	}
}

func (r *Recorder) Begin(sessionID, extension, callerName, callerNumber string) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	err := r.repo.Create(ctx, &CallRecord{
		SessionID:    sessionID,
		Extension:    extension,
		CallerName:   callerName,
		CallerNumber: callerNumber,
		StartTime:    time.Now().UTC(),
	})
	if err != nil {
		r.logger.Warn("failed to create call record", "session_id", sessionID, "error", err)
	}
}

func (r *Recorder) Answered(sessionID, station string) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.repo.SetAnswered(ctx, sessionID, station, time.Now().UTC()); err != nil {
		r.logger.Warn("failed to record answer", "session_id", sessionID, "error", err)
	}
}

func (r *Recorder) Dialed(sessionID, number string) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.repo.SetDialed(ctx, sessionID, number); err != nil {
		r.logger.Warn("failed to record dialed number", "session_id", sessionID, "error", err)
	}
}

func (r *Recorder) End(sessionID, disposition string) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.repo.Finalize(ctx, sessionID, disposition, time.Now().UTC()); err != nil {
		r.logger.Warn("failed to finalize call record", "session_id", sessionID, "error", err)
	}
}
