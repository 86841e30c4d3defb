package store

import (
	"context"

	"github.com/google/uuid"
)

// Managed-mode request context keys. Requests handled on behalf of a
// specific tenant agent/user carry these; standalone single-workspace
// runs never set them, so every accessor below degrades to its zero
// value (uuid.Nil, "") rather than panicking.

type requestContextKey string

const (
	ctxAgentID   requestContextKey = "store_agent_id"
	ctxUserID    requestContextKey = "store_user_id"
	ctxAgentType requestContextKey = "store_agent_type"
)

func WithAgentID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxAgentID, id)
}

func AgentIDFromContext(ctx context.Context) uuid.UUID {
	v, _ := ctx.Value(ctxAgentID).(uuid.UUID)
	return v
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserID, userID)
}

func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserID).(string)
	return v
}

func WithAgentType(ctx context.Context, agentType string) context.Context {
	return context.WithValue(ctx, ctxAgentType, agentType)
}

func AgentTypeFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxAgentType).(string)
	return v
}
