package auth

import (
	"context"

	"github.com/vaidashi/courier-lifecycle/internal/models"
)

type contextKey struct{}

// WithActor stores the resolved caller in ctx
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// ActorFrom returns the caller stored by the guard
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(contextKey{}).(models.Actor)
	return actor, ok
}
