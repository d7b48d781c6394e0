package auth

import (
	"context"

	"auditdesk.io/internal/domain"
)

type userContextKey struct{}
type tokenContextKey struct{}

// ContextWithUser attaches the authenticated user to the context.
func ContextWithUser(ctx context.Context, user domain.UserProfile) context.Context {
	return context.WithValue(ctx, userContextKey{}, &user)
}

// UserFromContext extracts the authenticated user from the context.
func UserFromContext(ctx context.Context) (domain.UserProfile, bool) {
	if ctx == nil {
		return domain.UserProfile{}, false
	}
	v, ok := ctx.Value(userContextKey{}).(*domain.UserProfile)
	if !ok || v == nil {
		return domain.UserProfile{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
