package license

import "context"

// Caller identifies who invoked an operation. It feeds authorization and the
// actor fields of the usage log.
type Caller struct {
	Identity  string
	Admin     bool
	RoleID    int64
	IP        string
	UserAgent string
}

type callerKey struct{}

// WithCaller attaches c to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller attached to ctx, or the zero Caller.
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}

// Authorizer decides whether a caller may run an admin operation.
type Authorizer interface {
	IsAuthorized(ctx context.Context, caller Caller, op Operation) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, caller Caller, op Operation) bool

func (f AuthorizerFunc) IsAuthorized(ctx context.Context, caller Caller, op Operation) bool {
	return f(ctx, caller, op)
}

// AllowAll authorizes every caller. It suits in-process tooling such as the
// CLI, where access to the process already implies admin rights.
var AllowAll Authorizer = AuthorizerFunc(func(context.Context, Caller, Operation) bool { return true })
