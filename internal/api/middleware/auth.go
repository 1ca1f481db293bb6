package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hallvard/fleet/internal/api/response"
	"github.com/hallvard/fleet/internal/core"
	"github.com/hallvard/fleet/internal/model"
)

type contextKey string

const userKey contextKey = "authenticated_user"

// Authenticator resolves an API token to a user. *core.UserService
// implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// Auth validates the bearer token on every request and stores the resolved
// user in the request context.
func Auth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				response.WriteServiceError(w, core.Errf(core.ReasonInvalidToken, "missing bearer token"))
				return
			}

			user, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				response.WriteServiceError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// UserFrom returns the authenticated user stored by Auth, or nil.
func UserFrom(ctx context.Context) *model.User {
	u, _ := ctx.Value(userKey).(*model.User)
	return u
}
