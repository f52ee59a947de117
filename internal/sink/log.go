package sink

import (
	"context"

	"remindd/internal/reminder"
	"remindd/pkg/logx"
)

// logSink renders fired reminders to the structured log. It stands in for a
// local display surface in dev and in the poll-mode deployment without a
// push transport configured.
type logSink struct {
	log logx.Logger
}

func NewLog(log logx.Logger) Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &logSink{log: log}
}

func (s *logSink) Dispatch(ctx context.Context, ownerID string, p reminder.Payload) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	s.log.Info("reminder",
		logx.String("owner", ownerID),
		logx.String("kind", string(p.Kind)),
		logx.String("id", p.ID),
		logx.String("title", p.Title),
		logx.String("body", p.Body),
	)
	return Outcome{Delivered: 1}, nil
}
