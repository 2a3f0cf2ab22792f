package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/sakif/quest-platform/internal/auth"
)

const stateCookieName = "oauth_state"

// IdentityProvider is the part of auth.GoogleProvider the handler uses.
type IdentityProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.Profile, error)
}

// OAuthHandler runs the Google sign-in redirect flow and finishes on the
// front end: /profile on success, /login on any failure.
type OAuthHandler struct {
	provider IdentityProvider
	auth     *AuthHandler
	frontURL string
	logger   *slog.Logger
}

func NewOAuthHandler(provider IdentityProvider, authHandler *AuthHandler, frontURL string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		provider: provider,
		auth:     authHandler,
		frontURL: frontURL,
		logger:   logger,
	}
}

// HandleStart redirects the browser to the provider's consent page.
//
// HTTP: GET /auth/google
//
// CSRF PROTECTION VIA STATE:
// A random state is stored in a short-lived cookie and must come back
// unchanged on the callback.
func (h *OAuthHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		Secure:   h.auth.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.provider.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback completes the flow.
//
// HTTP: GET /auth/google/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a provider profile
//  3. Resolve the profile to a local user, creating it on first sight
//  4. Set the session cookie and redirect to the profile page
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("oauth callback: state mismatch")
		h.fail(w, r)
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("oauth callback: user denied authorization", slog.String("error", errParam))
		h.fail(w, r)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.logger.Warn("oauth callback: missing code")
		h.fail(w, r)
		return
	}

	profile, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth callback: exchange failed", slog.String("error", err.Error()))
		h.fail(w, r)
		return
	}

	res, err := h.auth.svc.CompleteOAuth(r.Context(), *profile)
	if err != nil {
		h.logger.Error("oauth callback: sign-in failed", slog.String("error", err.Error()))
		h.fail(w, r)
		return
	}

	h.auth.setSessionCookie(w, res.Token)
	http.Redirect(w, r, h.frontURL+"/profile", http.StatusSeeOther)
}

func (h *OAuthHandler) fail(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.frontURL+"/login", http.StatusSeeOther)
}
