package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/schoolwelfare/caseboard/pkg/contextkeys"
)

// Logger is the interface for audit sinks
type Logger interface {
	// Append records one entry. Entries are never modified afterwards.
	Append(ctx context.Context, entry *Entry) error

	// Close flushes and releases the sink
	Close() error
}

// Actor identifies who performed a change
type Actor struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// SystemActor is used when no authenticated actor is on the context
var SystemActor = Actor{UserID: "system", Name: "Sistema", Email: ""}

// WithActor adds the acting user to the context
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextkeys.ActorKey, actor)
}

// ActorFromContext retrieves the acting user, falling back to SystemActor
func ActorFromContext(ctx context.Context) Actor {
	if a, ok := ctx.Value(contextkeys.ActorKey).(Actor); ok && a.UserID != "" {
		return a
	}
	return SystemActor
}

// NewEntry builds an entry stamped with a fresh id, the current time and the
// actor found on ctx
func NewEntry(ctx context.Context, kind Kind, subject, details string) *Entry {
	actor := ActorFromContext(ctx)
	return &Entry{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		ActorUserID: actor.UserID,
		ActorName:   actor.Name,
		ActorEmail:  actor.Email,
		Kind:        kind,
		Details:     details,
		Subject:     subject,
	}
}

// NopLogger returns a logger that discards entries
func NopLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Append(ctx context.Context, entry *Entry) error { return nil }

func (noOpLogger) Close() error { return nil }
