package events

import (
	"context"

	"go.uber.org/zap"
)

var Emit = func(ctx context.Context, name string, evt IterationEvent) {}

// EnableLoggerEmitter mirrors every event into logger.
func EnableLoggerEmitter(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	Emit = func(ctx context.Context, name string, evt IterationEvent) {
		if evt.IterationKey == "" {
			evt.IterationKey = IterationFromContext(ctx)
		}
		logEvent(logger, name, evt)
	}
}

func SetCustomEmitter(f func(ctx context.Context, name string, evt IterationEvent)) {
	if f == nil {
		Emit = func(context.Context, string, IterationEvent) {}
		return
	}
	Emit = func(ctx context.Context, name string, evt IterationEvent) {
		if evt.IterationKey == "" {
			evt.IterationKey = IterationFromContext(ctx)
		}
		f(ctx, name, evt)
	}
}
