package taskapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/taskmesh/taskmesh/internal/domain"
	"github.com/taskmesh/taskmesh/internal/httpx"
)

// TokenValidator is the pure token -> user_id boundary this service treats
// as an external black box (§1 Out of scope).
type TokenValidator interface {
	Validate(token string) (userID string, err error)
}

type ctxKey int

const authedUserKey ctxKey = 0

// RequireAuth parses the bearer token, rejects missing/invalid tokens with
// 401, and rejects a token whose user does not match the {user_id} path
// param with 403. The authenticated user id is stashed in the request
// context for handlers to read without re-parsing the token.
func RequireAuth(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				httpx.Error(w, domain.ErrUnauthenticated)
				return
			}
			token := strings.TrimPrefix(header, prefix)
			userID, err := v.Validate(token)
			if err != nil || userID == "" {
				httpx.Error(w, domain.ErrUnauthenticated)
				return
			}

			pathUser := chi.URLParam(r, "user_id")
			if pathUser != "" && pathUser != userID {
				httpx.Error(w, domain.ErrForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), authedUserKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authedUser reads the user id RequireAuth placed in the request context.
func authedUser(r *http.Request) string {
	u, _ := r.Context().Value(authedUserKey).(string)
	return u
}
