package shared

import (
	"context"

	"github.com/calyx-catalog/calyx/internal/authz"
)

type sessionContextKey struct{}

type identityContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

type policyContextKey struct{}

// ContextWithPolicy stores the resolved policy snapshot in context.
func ContextWithPolicy(ctx context.Context, snap *authz.PolicySnapshot) context.Context {
	return context.WithValue(ctx, policyContextKey{}, snap)
}

// PolicyFromContext extracts the policy snapshot from context.
func PolicyFromContext(ctx context.Context) *authz.PolicySnapshot {
	snap, _ := ctx.Value(policyContextKey{}).(*authz.PolicySnapshot)
	return snap
}

// ContextWithIdentity stores the proxy-asserted identity in context.
func ContextWithIdentity(ctx context.Context, ident authz.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, ident)
}

// IdentityFromContext extracts the identity from context. The zero
// Identity is anonymous.
func IdentityFromContext(ctx context.Context) authz.Identity {
	ident, _ := ctx.Value(identityContextKey{}).(authz.Identity)
	return ident
}
