package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/previsao/market-api/internal/apperr"
	"github.com/previsao/market-api/internal/model"
	"github.com/previsao/market-api/internal/store"
)

var ErrAdminOnly = apperr.Forbidden("Admin only")

type ctxKey string

const userIDKey ctxKey = "user_id"

// Middleware rejects requests without a valid bearer token and stores the
// token's user id in the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			apperr.Write(w, r, apperr.Unauthorized("Missing bearer token"))
			return
		}
		userID, err := s.ParseToken(strings.TrimSpace(token))
		if err != nil {
			apperr.Write(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// RequireAdmin lets through only users whose stored role is admin. It must
// run after Middleware. The role is read per request, so a demotion takes
// effect before the token expires.
func (s *Service) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.store.GetUser(r.Context(), UserID(r.Context()))
		if errors.Is(err, store.ErrNotFound) {
			apperr.Write(w, r, ErrAdminOnly)
			return
		}
		if err != nil {
			apperr.Write(w, r, err)
			return
		}
		if user.Role != model.RoleAdmin {
			apperr.Write(w, r, ErrAdminOnly)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the authenticated user id, or "" outside Middleware.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}
