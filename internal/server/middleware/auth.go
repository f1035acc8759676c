package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/offsync/internal/server/handlers"
	"github.com/iudanet/offsync/pkg/api"
)

// AuthMiddleware создает middleware для проверки JWT токена.
// Tenant и user из токена попадают в контекст запроса.
func AuthMiddleware(logger *slog.Logger, jwtConfig handlers.JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get(api.HeaderAuthorization)
			if authHeader == "" {
				logger.Warn("Missing Authorization header", "path", r.URL.Path)
				handlers.WriteError(w, logger, http.StatusUnauthorized, "missing token")
				return
			}

			// Ожидаем формат: "Bearer <token>"
			scheme, token, found := strings.Cut(authHeader, " ")
			if !found || !strings.EqualFold(scheme, strings.TrimSpace(api.BearerPrefix)) || token == "" {
				logger.Warn("Invalid Authorization header format")
				handlers.WriteError(w, logger, http.StatusUnauthorized, "invalid token format")
				return
			}

			claims, err := handlers.ValidateAccessToken(jwtConfig, token)
			if err != nil {
				logger.Warn("Invalid access token", "error", err)
				handlers.WriteError(w, logger, http.StatusUnauthorized, "invalid token")
				return
			}

			logger.Debug("Request authenticated", "tenant_id", claims.TenantID, "user_id", claims.UserID)

			next.ServeHTTP(w, r.WithContext(handlers.WithClaims(r.Context(), claims)))
		})
	}
}
