/*
auth.go - Bearer-token identity middleware

PURPOSE:
  Extracts the caller's user ID from an HS256 JWT issued by the
  external auth provider. This layer only verifies and unpacks the
  token - sign-in flows, sessions and token issuance are the
  provider's problem.

CLAIMS:
  sub   user ID (required)
  name  display name (optional, used as default artist name)

SEE ALSO:
  - server.go: Which route groups require identity
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tunevest/royalty-engine/royalty"
)

type contextKey string

const (
	userIDKey   contextKey = "userID"
	userNameKey contextKey = "userName"
)

// JWTAuth returns middleware that requires a valid bearer token and
// stores the caller's identity on the request context.
func JWTAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing or invalid Authorization header", nil)
				return
			}

			token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrInvalidKeyType
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid token", err)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, http.StatusUnauthorized, "invalid token claims", nil)
				return
			}
			sub, _ := claims["sub"].(string)
			if sub == "" {
				writeError(w, http.StatusUnauthorized, "token missing subject", nil)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, royalty.UserID(sub))
			if name, _ := claims["name"].(string); name != "" {
				ctx = context.WithValue(ctx, userNameKey, name)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the authenticated user ID, if any.
func UserFromContext(ctx context.Context) (royalty.UserID, bool) {
	id, ok := ctx.Value(userIDKey).(royalty.UserID)
	return id, ok
}

func userNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(userNameKey).(string)
	return name
}
