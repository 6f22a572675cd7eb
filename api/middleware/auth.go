package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"imgbatch/api/auth"
	"imgbatch/api/dto"
)

// Verifier checks bearer tokens.
type Verifier interface {
	Verify(token string) (*auth.Claims, error)
}

// RequireRole rejects requests without a valid bearer token carrying role.
func RequireRole(v Verifier, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := GetTraceID(r.Context())
			deny := func(status int, code, message string) {
				WriteError(w, status, dto.ErrorResponse{Error: message, Code: code, TraceID: traceID})
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				deny(http.StatusUnauthorized, "unauthorized", "Authorization header required")
				return
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				deny(http.StatusUnauthorized, "unauthorized", "Invalid authorization format")
				return
			}

			claims, err := v.Verify(token)
			switch {
			case errors.Is(err, auth.ErrExpiredToken):
				deny(http.StatusUnauthorized, "token_expired", "Token expired")
				return
			case err != nil:
				deny(http.StatusUnauthorized, "unauthorized", "Invalid token")
				return
			case claims.Role != role:
				deny(http.StatusForbidden, "forbidden", "Insufficient role")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}
