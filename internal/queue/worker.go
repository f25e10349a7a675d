package queue

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"classroom/internal/apperr"
	"classroom/internal/attendance"
)

// Ingester applies one signal event.
type Ingester interface {
	Ingest(ctx context.Context, ev attendance.Event) (attendance.Outcome, error)
}

// Worker drains queued signal events into the aggregator.
type Worker struct {
	q      Queue
	ing    Ingester
	logger *zap.Logger
}

// NewWorker builds a worker over q.
func NewWorker(q Queue, ing Ingester, logger *zap.Logger) *Worker {
	return &Worker{q: q, ing: ing, logger: logger}
}

// Run consumes until ctx is done and returns the number of events applied.
func (w *Worker) Run(ctx context.Context) (int, error) {
	messages, err := w.q.Consume(ctx)
	if err != nil {
		return 0, err
	}
	applied := 0
	for msg := range messages {
		if w.handle(ctx, msg) {
			applied++
		}
	}
	return applied, nil
}

func (w *Worker) handle(ctx context.Context, msg Message) bool {
	ev, err := DecodeEvent(msg)
	if err != nil {
		w.logger.Warn("dropping message", zap.String("type", msg.Type), zap.Error(err))
		return false
	}
	out, err := w.ing.Ingest(ctx, ev)
	if err != nil {
		lvl := w.logger.Error
		if errors.Is(err, apperr.ErrInvalid) || errors.Is(err, apperr.ErrNotFound) {
			lvl = w.logger.Warn
		}
		lvl("ingest failed",
			zap.String("student_id", ev.StudentID),
			zap.String("class_session_id", ev.ClassSessionID),
			zap.Error(err))
		return false
	}
	w.logger.Debug("event applied",
		zap.String("event_id", out.EventID),
		zap.Int("engagement_score", out.Record.EngagementScore),
		zap.Int("applied", len(out.Applied)))
	return true
}
