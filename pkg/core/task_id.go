package core

import (
	"context"

	"github.com/google/uuid"
)

type taskIDKey struct{}

// WithTaskID adds a task ID to the context.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

// GetTaskID retrieves the task ID from the context, or "" if absent.
func GetTaskID(ctx context.Context) string {
	if id, ok := ctx.Value(taskIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateTaskID generates a fresh task ID.
func GenerateTaskID() string {
	return uuid.New().String()
}
