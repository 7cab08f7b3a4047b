package middleware

import (
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/smartdigilab/backend/internal/models"
	"github.com/smartdigilab/backend/internal/services"
)

var blacklist *redis.Client

// InitAuthMiddleware enables token blacklist checks. A nil client disables them.
func InitAuthMiddleware(redisClient *redis.Client) {
	blacklist = redisClient
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := services.TokenFromRequest(r)
		if token == "" {
			services.SendErrorResponse(w, "Authorization required", http.StatusUnauthorized, nil)
			return
		}

		claims, err := services.ParseToken(token)
		if err != nil {
			services.SendErrorResponse(w, "Invalid token", http.StatusUnauthorized, nil)
			return
		}

		if blacklist != nil {
			n, err := blacklist.Exists(r.Context(), services.BlacklistKey(token)).Result()
			if err == nil && n > 0 {
				services.SendErrorResponse(w, "Token has been revoked", http.StatusUnauthorized, nil)
				return
			}
		}

		ctx := services.WithPrincipal(r.Context(), models.Principal{UserID: claims.UserID, Role: claims.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects authenticated callers whose role is not one of roles
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := services.PrincipalFromContext(r.Context())
			if !ok {
				services.SendErrorResponse(w, "Authorization required", http.StatusUnauthorized, nil)
				return
			}

			for _, role := range roles {
				if principal.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			services.SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
		})
	}
}
