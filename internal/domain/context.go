package domain

import "context"

// Unexported key types so other packages cannot collide with them.
type (
	sessionKey struct{}
	turnKey    struct{}
)

// ContextWithSessionID tags ctx with the session answering a query, such
// as "web:<ulid>" or "tui:local".
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionIDFromContext returns the session tag, or "".
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// ContextWithTurnID tags ctx with the turn being answered.
func ContextWithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, turnKey{}, id)
}

// TurnIDFromContext returns the turn tag, or "".
func TurnIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(turnKey{}).(string)
	return id
}
