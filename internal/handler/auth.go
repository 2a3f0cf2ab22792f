package handler

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/quest-platform/internal/auth"
	"github.com/sakif/quest-platform/internal/model"
	"github.com/sakif/quest-platform/internal/service"
	"github.com/sakif/quest-platform/internal/validator"
)

// CookieConfig controls the session cookie. Secure is on in production
// (HTTPS only); TTL matches the session token lifetime.
type CookieConfig struct {
	Secure bool
	TTL    time.Duration
}

// AuthHandler serves the account endpoints under /api/users.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister / HandleLogin / HandleLogout → session lifecycle
//   - HandleMe                                    → current user, read live
//   - HandleForgotPassword / HandleResetPassword  → reset-link flow
//   - HandleUpdateRole / HandleList / HandleCheckUserName → user directory
//
// The handler only decodes, calls the service and encodes. Every rule lives
// in service.AuthService.
type AuthHandler struct {
	svc     *service.AuthService
	cookies CookieConfig
	logger  *slog.Logger
}

func NewAuthHandler(svc *service.AuthService, cookies CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, cookies: cookies, logger: logger}
}

type userResponse struct {
	Message string            `json:"message"`
	User    *model.PublicUser `json:"user"`
}

type loginRequest struct {
	// Email may also hold a user name; Identifier is accepted as an alias.
	Email      string `json:"email"`
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResponse struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
	User      *model.PublicUser `json:"user"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type roleRequest struct {
	Role string `json:"role"`
}

// HandleRegister creates a consumer account.
//
// HTTP: POST /api/users/register
// REQUEST BODY: {"firstName","lastName","userName","email","password"}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := validator.DecodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, validator.ToAppError(err))
		return
	}

	user, err := h.svc.Register(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{Message: "user created", User: user})
}

// HandleLogin authenticates with email or user name and sets the session
// cookie. The token is echoed in the body for non-browser clients.
//
// HTTP: POST /api/users/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := validator.DecodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, validator.ToAppError(err))
		return
	}
	identifier := req.Email
	if identifier == "" {
		identifier = req.Identifier
	}

	res, err := h.svc.Login(r.Context(), clientIP(r), identifier, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.setSessionCookie(w, res.Token)
	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		Message:   "logged in",
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		User:      &res.User,
	})
}

// HandleLogout clears the session cookie. It always succeeds.
//
// HTTP: POST /api/users/logout
//
// Sessions are stateless: the token stays valid until it expires, but the
// browser no longer sends it.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.svc.Logout(r.Context(), auth.TokenFromRequest(r))
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// HandleMe returns the user behind the session token (cookie or Bearer).
//
// HTTP: GET /api/users/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.WhoAmI(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleForgotPassword answers the same way whether or not the address is
// registered.
//
// HTTP: POST /api/users/forgot-password
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := validator.DecodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, validator.ToAppError(err))
		return
	}

	if err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "if an account exists for that email, a reset link has been sent",
	})
}

// HTTP: POST /api/users/reset-password
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := validator.DecodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, validator.ToAppError(err))
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "password updated"})
}

// HandleUpdateRole sets a user's role. Mounted behind RequireRole(administrator).
//
// HTTP: PATCH /api/users/{id}/role
func (h *AuthHandler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := validator.DecodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, validator.ToAppError(err))
		return
	}

	user, err := h.svc.UpdateRole(r.Context(), chi.URLParam(r, "id"), req.Role)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if actor, ok := auth.UserIDFromContext(r.Context()); ok {
		h.logger.Info("role changed by administrator",
			slog.String("actorID", actor),
			slog.String("userID", user.ID),
		)
	}
	writeJSON(w, http.StatusOK, userResponse{Message: "role updated", User: user})
}

// HTTP: GET /api/users
func (h *AuthHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HTTP: GET /api/users/check/{userName}
func (h *AuthHandler) HandleCheckUserName(w http.ResponseWriter, r *http.Request) {
	exists, err := h.svc.UserNameExists(r.Context(), chi.URLParam(r, "userName"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// setSessionCookie stores the token in an HttpOnly cookie.
// HttpOnly keeps it away from JavaScript; SameSite=Lax means it is sent on
// top-level navigations (the OAuth redirect) but not on cross-site POSTs.
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cookies.TTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clientIP keys the login limiter. chi's RealIP middleware has already
// replaced RemoteAddr with the forwarded address when one is present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
