package events

import (
	"context"

	"go.uber.org/zap"
)

func logEvent(logger *zap.Logger, name string, event IterationEvent) {
	fields := []zap.Field{
		zap.String("event", name),
		zap.String("id", event.ID),
	}
	if event.IterationKey != "" {
		fields = append(fields, zap.String("iteration", event.IterationKey))
	}
	for k, v := range event.Metadata {
		fields = append(fields, zap.String(k, v))
	}

	switch event.Type {
	case EventError:
		logger.Error(event.Message, fields...)
	case EventWarn:
		logger.Warn(event.Message, fields...)
	default:
		logger.Info(event.Message, fields...)
	}
}

// Recorder collects emitted events in memory. Tests install it with
// SetCustomEmitter(rec.Emit).
type Recorder struct {
	Events []IterationEvent
	Names  []string
}

func (r *Recorder) Emit(_ context.Context, name string, evt IterationEvent) {
	r.Names = append(r.Names, name)
	r.Events = append(r.Events, evt)
}
