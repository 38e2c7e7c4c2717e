package events

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventInfo    EventType = "info"
	EventWarn    EventType = "warn"
	EventSuccess EventType = "success"
	EventError   EventType = "error"
)

const (
	IterationState    = "events:iteration:state"
	IterationFallback = "events:iteration:fallback"
	IterationDone     = "events:iteration:done"
	ArtifactWritten   = "events:artifact:written"
	ArtifactDeleted   = "events:artifact:deleted"
)

// IterationEvent is one progress event of a feedback iteration.
type IterationEvent struct {
	ID           string            `json:"id"`
	Type         EventType         `json:"type"`
	Message      string            `json:"message"`
	Timestamp    time.Time         `json:"timestamp"`
	IterationKey string            `json:"iterationKey,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type contextKey string

const iterationContextKey contextKey = "narraweave/events/iteration"

// WithIteration returns a derived context annotated with the given iteration
// key so emitters can scope payloads without global state.
func WithIteration(ctx context.Context, iterationKey string) context.Context {
	if strings.TrimSpace(iterationKey) == "" {
		return ctx
	}
	return context.WithValue(ctx, iterationContextKey, iterationKey)
}

// IterationFromContext extracts the iteration key associated with ctx.
func IterationFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(iterationContextKey).(string); ok {
		return v
	}
	return ""
}

func CreateEvent(eventType EventType, message string) IterationEvent {
	return IterationEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewInfo(message string) IterationEvent {
	return CreateEvent(EventInfo, message)
}

func NewWarn(message string) IterationEvent {
	return CreateEvent(EventWarn, message)
}

func NewError(message string) IterationEvent {
	return CreateEvent(EventError, message)
}

func NewSuccess(message string) IterationEvent {
	return CreateEvent(EventSuccess, message)
}

// With returns a copy of evt carrying an extra metadata entry.
func (evt IterationEvent) With(key, value string) IterationEvent {
	md := make(map[string]string, len(evt.Metadata)+1)
	for k, v := range evt.Metadata {
		md[k] = v
	}
	md[key] = value
	evt.Metadata = md
	return evt
}
