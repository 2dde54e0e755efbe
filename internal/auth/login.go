package auth

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/cyclemanager/cyclemanager/internal/db"
)

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token string   `json:"token"`
	User  UserInfo `json:"user"`
}

// UserInfo is the public operator information returned in auth responses.
type UserInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// AuthConfigResponse tells the console frontend which auth methods are
// available.
type AuthConfigResponse struct {
	OIDCEnabled  bool   `json:"oidc_enabled"`
	OIDCName     string `json:"oidc_name"`
	LocalEnabled bool   `json:"local_enabled"`
}

// LoginHandler handles local email/password login and auth discovery.
type LoginHandler struct {
	sessionMgr  *SessionManager
	pool        *pgxpool.Pool
	logger      *slog.Logger
	oidcEnabled bool
	rateLimiter *RateLimiter
}

// NewLoginHandler creates a new login handler. rateLimiter may be nil, which
// disables per-IP login throttling.
func NewLoginHandler(sm *SessionManager, pool *pgxpool.Pool, logger *slog.Logger, oidcEnabled bool, rateLimiter *RateLimiter) *LoginHandler {
	return &LoginHandler{
		sessionMgr:  sm,
		pool:        pool,
		logger:      logger,
		oidcEnabled: oidcEnabled,
		rateLimiter: rateLimiter,
	}
}

// clientIP returns the first X-Forwarded-For entry when that header is set,
// else the request's remote address with any port stripped.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HandleLogin authenticates an operator with email/password and returns a
// session JWT.
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if h.rateLimiter != nil {
		result, err := h.rateLimiter.Check(r.Context(), ip)
		if err != nil {
			h.logger.Error("login: rate limit check", "error", err)
		} else if !result.Allowed {
			respondErr(w, http.StatusTooManyRequests, "rate_limited", "too many failed login attempts, try again later")
			return
		}
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	if req.Email == "" || req.Password == "" {
		respondErr(w, http.StatusBadRequest, "bad_request", "email and password are required")
		return
	}

	q := db.New(h.pool)
	op, err := q.GetOperatorByEmail(r.Context(), req.Email)
	if err != nil {
		h.logger.Warn("login: operator lookup failed", "email", req.Email, "error", err)
		h.recordFailure(r, ip)
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	if op.PasswordHash == "" {
		h.logger.Warn("login: operator has no password set", "email", req.Email)
		h.recordFailure(r, ip)
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(req.Password)); err != nil {
		h.recordFailure(r, ip)
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	if h.rateLimiter != nil {
		if err := h.rateLimiter.Reset(r.Context(), ip); err != nil {
			h.logger.Warn("login: resetting rate limit", "error", err)
		}
	}

	token, err := h.sessionMgr.IssueToken(SessionClaims{
		Subject: op.DisplayName,
		Email:   op.Email,
		Role:    op.Role,
		Method:  MethodLocal,
	})
	if err != nil {
		h.logger.Error("login: issuing token", "error", err)
		respondErr(w, http.StatusInternalServerError, "internal", "failed to issue token")
		return
	}

	respondJSON(w, http.StatusOK, LoginResponse{
		Token: token,
		User: UserInfo{
			ID:          op.ID.String(),
			Email:       op.Email,
			DisplayName: op.DisplayName,
			Role:        op.Role,
		},
	})
}

// recordFailure records a failed login attempt against the rate limiter,
// logging but not failing the request if Redis is unreachable.
func (h *LoginHandler) recordFailure(r *http.Request, ip string) {
	if h.rateLimiter == nil {
		return
	}
	if err := h.rateLimiter.Record(r.Context(), ip); err != nil {
		h.logger.Warn("login: recording failed attempt", "error", err)
	}
}

// HandleAuthConfig returns the available authentication methods.
func (h *LoginHandler) HandleAuthConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, AuthConfigResponse{
		OIDCEnabled:  h.oidcEnabled,
		OIDCName:     "Sign in with SSO",
		LocalEnabled: true,
	})
}

// HandleMe returns the current operator's info from a session token.
func (h *LoginHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) < 8 {
		respondErr(w, http.StatusUnauthorized, "unauthorized", "no token provided")
		return
	}

	token := authHeader[7:] // strip "Bearer "
	claims, err := h.sessionMgr.ValidateToken(token)
	if err != nil {
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"email":        claims.Email,
		"display_name": claims.Subject,
		"role":         claims.Role,
	})
}

// HandleLogout is a no-op endpoint for future server-side session
// revocation.
func (h *LoginHandler) HandleLogout(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
