package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"auditdesk.io/internal/auth"
	"auditdesk.io/internal/domain"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth resolves the bearer credential (opaque OTP session or JWT) and
// puts the user on the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="auditdesk"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		user, err := a.svc.Auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="auditdesk", error="invalid_token"`)
			}
			handleError(w, r, err)
			return
		}
		ctx := auth.ContextWithUser(r.Context(), user)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := auth.UserFromContext(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="auditdesk"`)
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="auditdesk", error="insufficient_scope"`)
			writeError(w, r, http.StatusForbidden, "role "+string(user.Role)+" is not allowed here")
		})
	}
}

func currentUser(r *http.Request) domain.UserProfile {
	user, _ := auth.UserFromContext(r.Context())
	return user
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
