package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// MethodSession indicates authentication via self-issued session JWT.
const MethodSession = "session"

// Middleware returns an HTTP middleware that authenticates the caller via
// session JWT or OIDC JWT and stores the resulting Identity in the request
// context.
//
// Authentication precedence:
//  1. Authorization: Bearer <jwt>  →  session JWT (HMAC) → OIDC validation
//
// If neither succeeds, the request is rejected with 401.
func Middleware(sessionMgr *SessionManager, oidcAuth *OIDCAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity *Identity

			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") || strings.HasPrefix(authHeader, "bearer ") {
				rawToken := strings.TrimPrefix(authHeader, "Bearer ")
				rawToken = strings.TrimPrefix(rawToken, "bearer ")
				rawToken = strings.TrimSpace(rawToken)

				// 1a. Try session JWT (HMAC-signed).
				if sessionMgr != nil {
					claims, err := sessionMgr.ValidateToken(rawToken)
					if err == nil {
						identity = &Identity{
							Subject: claims.Subject,
							Email:   claims.Email,
							Role:    claims.Role,
							Method:  MethodSession,
						}

						logger.Debug("authenticated via session JWT",
							"sub", claims.Subject,
							"email", claims.Email,
						)
					}
				}

				// 1b. Fall through to OIDC JWT if session validation failed.
				if identity == nil {
					if oidcAuth == nil {
						logger.Warn("JWT presented but OIDC is not configured")
						respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid token")
						return
					}

					claims, err := oidcAuth.Authenticate(r.Context(), authHeader)
					if err != nil {
						logger.Warn("OIDC authentication failed", "error", err)
						respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid token")
						return
					}

					identity = &Identity{
						Subject: claims.Subject,
						Email:   claims.Email,
						Role:    claims.Role,
						Method:  MethodOIDC,
					}

					logger.Debug("authenticated via OIDC",
						"sub", claims.Subject,
						"email", claims.Email,
					)
				}
			}

			if identity == nil {
				respondErr(w, http.StatusUnauthorized, "unauthorized", "no valid authentication provided")
				return
			}

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondErr(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errStr,
		"message": message,
	})
}
