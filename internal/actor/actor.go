// Package actor carries the acting identity through engine calls as an
// explicit context value. Nothing in the engine reads ambient session state:
// every audited operation takes its actor from the context it was called
// with, which also makes the Audit Recorder testable without faking a login.
package actor

import "context"

// Actor identifies who (or what) performs an operation: an authenticated
// user, or a system process such as the expiry scanner.
type Actor struct {
	Name string
	Role string
}

// System builds the identity for an internal process (e.g. "expiry-scanner").
func System(name string) Actor {
	return Actor{Name: name, Role: "system"}
}

type contextKey struct{}

// WithActor returns a context carrying the given actor.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// FromContext extracts the actor from ctx. ok is false when no actor was
// attached, which callers must treat as an unauthenticated request.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}
