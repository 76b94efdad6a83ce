// Package auth - actor.go defines Actor, the caller identity supplied by the host's
// authentication layer, and the context helpers used to carry it through a request.
package auth

import "context"

// Actor is the trusted, opaque identity of the caller of an engine operation.
// Every field is supplied by the host; none is derived by the engine itself.
type Actor struct {
	UserID    string   `json:"userId"`
	UserName  string   `json:"userName,omitempty"`
	SessionID string   `json:"sessionId,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
	IPAddress string   `json:"ipAddress,omitempty"`
	Groups    []string `json:"groups,omitempty"`
	// Elevated actors bypass authorization policies and may break other users' locks
	Elevated bool `json:"elevated,omitempty"`
}

// IsAnonymous reports whether no user is attached to the actor
func (a Actor) IsAnonymous() bool {
	return a.UserID == ""
}

type actorKey struct{}

// WithActor returns a copy of ctx carrying actor
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor stored in ctx, or an anonymous actor
func ActorFromContext(ctx context.Context) Actor {
	if actor, ok := ctx.Value(actorKey{}).(Actor); ok {
		return actor
	}
	return Actor{}
}
