package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

// RunIDKey is the context key carrying the sync run ID through a run's call tree.
const RunIDKey contextKey = "run_id"

// WithRunID attaches a sync run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the run ID from the context, or "" if not set
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

// NewRunID generates a new UUID-based run ID
func NewRunID() string {
	return uuid.New().String()
}
