package types

import "context"

// Actor represents the authenticated entity performing an operation.
// Identity resolution lives in an external service; this struct carries
// only the verified claims the engine needs.
type Actor struct {
	UserID string
	Role   UserRole
}

// IsAdmin reports whether the actor may invoke operator-only endpoints
// such as the manual pending-change trigger.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// roleRanks orders roles for RequireRole checks: admin > teacher > student.
var roleRanks = map[UserRole]int{
	RoleStudent: 0,
	RoleTeacher: 1,
	RoleAdmin:   2,
}

// RoleHasAtLeast reports whether the actor's role meets or exceeds the
// required role. Unknown roles never qualify.
func (a Actor) RoleHasAtLeast(role UserRole) bool {
	have, ok := roleRanks[a.Role]
	if !ok {
		return false
	}
	want, ok := roleRanks[role]
	if !ok {
		return false
	}
	return have >= want
}

type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context, or "" if unset.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
