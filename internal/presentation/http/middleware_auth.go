package httppresentation

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const roleAdmin = "admin"

// AdminAuth accepts HS256 bearer tokens signed with secret whose role claim is
// admin. Expired or malformed tokens get 401, other roles 403.
func AdminAuth(secret []byte, fallback observability.Logger) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := logctx.FromOr(r.Context(), fallback)

			parts := strings.Fields(r.Header.Get("Authorization"))
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeMessage(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims := jwt.MapClaims{}
			token, err := parser.ParseWithClaims(parts[1], claims, func(*jwt.Token) (any, error) {
				return secret, nil
			})
			if err != nil || !token.Valid {
				logger.Warn("admin_auth_rejected", observability.F("reason", "invalid_token"))
				writeMessage(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if role, _ := claims["role"].(string); role != roleAdmin {
				logger.Warn("admin_auth_rejected", observability.F("reason", "role"))
				writeMessage(w, http.StatusForbidden, "admin role required")
				return
			}

			subject, _ := claims.GetSubject()
			ctx, _ := logctx.Enrich(r.Context(), fallback, observability.F("admin", subject))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
