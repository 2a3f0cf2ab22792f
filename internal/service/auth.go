// Package service holds the business rules. Handlers call services with
// plain values; services call repositories through interfaces and return
// *apperror.AppError values for every outcome the caller should see.
//
//	AuthHandler (HTTP) → AuthService → UserRepository (DB)
//	                               ↘ TokenService, PasswordService,
//	                                 ratelimit.Limiter, mail.Mailer
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/quest-platform/internal/apperror"
	"github.com/sakif/quest-platform/internal/auth"
	"github.com/sakif/quest-platform/internal/mail"
	"github.com/sakif/quest-platform/internal/model"
	"github.com/sakif/quest-platform/internal/ratelimit"
	"github.com/sakif/quest-platform/internal/repository"
	"github.com/sakif/quest-platform/internal/validator"
)

// AuthConfig holds the tunables of the auth flows.
type AuthConfig struct {
	SessionTTL time.Duration
	ResetTTL   time.Duration

	// ResetURL is the front-end page that accepts ?token=<reset token>.
	ResetURL string

	// ResetLimitOnSuccess clears a client's login counter after a
	// successful login. When false every attempt counts.
	ResetLimitOnSuccess bool
}

// AuthService composes the credential store, hasher, token issuer, rate
// limiter and mailer into the registration, login and reset flows.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	limiter   ratelimit.Limiter
	mailer    mail.Mailer
	cfg       AuthConfig
	logger    *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	limiter ratelimit.Limiter,
	mailer mail.Mailer,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		limiter:   limiter,
		mailer:    mailer,
		cfg:       cfg,
		logger:    logger,
	}
}

// AuthResult is returned by the flows that sign a user in.
type AuthResult struct {
	User      model.PublicUser
	Token     string
	ExpiresAt time.Time
}

// RegisterInput is the sign-up form.
type RegisterInput struct {
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	UserName  string `json:"userName" validate:"required,max=50,excludes=@"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required"`
}

var errInvalidCredentials = apperror.Unauthenticated("invalid credentials").WithCode("invalid_credentials")

// Register creates a consumer account and returns its public projection.
//
// The email and user name lookups give an early, specific error; the
// UNIQUE constraints in the store settle concurrent registrations.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.PublicUser, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.UserName = strings.ToLower(strings.TrimSpace(in.UserName))
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if err := validator.Validate(in); err != nil {
		return nil, validator.ToAppError(err)
	}

	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		recordAuthEvent("register", "email_taken")
		return nil, apperror.Conflict("email", "email is already registered").WithCode("email_taken")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, s.internal("register", "checking email", err)
	}

	taken, err := s.users.UserNameExists(ctx, in.UserName)
	if err != nil {
		return nil, s.internal("register", "checking user name", err)
	}
	if taken {
		recordAuthEvent("register", "username_taken")
		return nil, apperror.Conflict("userName", "user name is already taken").WithCode("username_taken")
	}

	hash, err := s.hashPassword(in.Password, "password")
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Email:        in.Email,
		UserName:     in.UserName,
		Name:         in.FirstName + " " + in.LastName,
		PasswordHash: hash,
		Role:         model.RoleConsumer,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			recordAuthEvent("register", "conflict")
			return nil, err
		}
		return nil, s.internal("register", "creating user", err)
	}

	recordAuthEvent("register", "success")
	s.logger.Info("user registered", slog.String("userID", user.ID))

	pub := user.Public()
	return &pub, nil
}

// Login authenticates identifier (email or user name) and password.
//
// Every call consumes one attempt from clientID's budget, including calls
// with missing fields. Unknown account and wrong password produce the same
// caller-visible error; the reason is only logged.
func (s *AuthService) Login(ctx context.Context, clientID, identifier, password string) (*AuthResult, error) {
	decision, err := s.limiter.Allow(ctx, clientID)
	if err != nil {
		return nil, s.internal("login", "consulting rate limiter", err)
	}
	if !decision.Allowed {
		recordAuthEvent("login", "rate_limited")
		s.logger.Warn("login rate limited",
			slog.String("client", clientID),
			slog.Duration("retryAfter", decision.RetryAfter),
		)
		return nil, apperror.RateLimited(decision.RetryAfter)
	}

	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" || password == "" {
		return nil, apperror.ValidationFailed("email,password",
			"email or user name and password are required").WithCode("missing_fields")
	}

	user, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, s.rejectLogin(clientID, "unknown_user")
		}
		return nil, s.internal("login", "looking up user", err)
	}
	if !user.HasPassword() {
		return nil, s.rejectLogin(clientID, "no_password")
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, s.rejectLogin(clientID, "bad_password")
		}
		return nil, s.internal("login", "verifying password", err)
	}

	result, err := s.IssueSession(user)
	if err != nil {
		return nil, s.internal("login", "issuing session", err)
	}

	if s.cfg.ResetLimitOnSuccess {
		if err := s.limiter.Reset(ctx, clientID); err != nil {
			s.logger.Warn("failed to reset login limiter", slog.String("error", err.Error()))
		}
	}

	recordAuthEvent("login", "success")
	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return result, nil
}

func (s *AuthService) rejectLogin(clientID, reason string) error {
	recordAuthEvent("login", "invalid_credentials")
	s.logger.Info("login rejected",
		slog.String("client", clientID),
		slog.String("reason", reason),
	)
	return errInvalidCredentials
}

// IssueSession signs a session token carrying the canonical claim set.
func (s *AuthService) IssueSession(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Issue(auth.Claims{
		Email:            user.Email,
		UserName:         user.UserName,
		Role:             string(user.Role),
		Purpose:          auth.PurposeSession,
		RegisteredClaims: jwtSubject(user.ID),
	}, s.cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing session for user %s: %w", user.ID, err)
	}
	return &AuthResult{
		User:      user.Public(),
		Token:     token,
		ExpiresAt: time.Now().Add(s.cfg.SessionTTL),
	}, nil
}

// Logout only records the event; sessions are stateless and the handler
// clears the cookie. It succeeds whether or not token is valid.
func (s *AuthService) Logout(_ context.Context, token string) {
	recordAuthEvent("logout", "success")
	if token == "" {
		return
	}
	if claims, err := s.tokens.Verify(token, auth.PurposeSession); err == nil {
		s.logger.Info("user logged out", slog.String("userID", claims.Subject))
	}
}

// WhoAmI verifies token and returns the user as currently stored, so role
// and name changes since issuance are visible.
func (s *AuthService) WhoAmI(ctx context.Context, token string) (*model.PublicUser, error) {
	if token == "" {
		return nil, apperror.Unauthorized("authentication required").WithCode("unauthenticated")
	}
	claims, err := s.tokens.Verify(token, auth.PurposeSession)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperror.Unauthorized("token expired").WithCode("expired_token")
		}
		return nil, apperror.Unauthorized("invalid token").WithCode("invalid_token")
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("account no longer exists").WithCode("user_not_found")
		}
		return nil, s.internal("me", "loading user", err)
	}
	pub := user.Public()
	return &pub, nil
}

// RequestPasswordReset emails a reset link when email belongs to an
// account. The result is the same whether or not it does, so the endpoint
// cannot be used to discover which accounts exist.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return apperror.ValidationFailed("email", "email is required").WithCode("missing_fields")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			recordAuthEvent("forgot_password", "unknown_email")
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		return s.internal("forgot_password", "looking up user", err)
	}

	token, err := s.tokens.Issue(auth.Claims{
		Purpose:          auth.PurposePasswordReset,
		RegisteredClaims: jwtSubject(user.ID),
	}, s.cfg.ResetTTL)
	if err != nil {
		return s.internal("forgot_password", "issuing reset token", err)
	}

	msg := mail.PasswordReset{
		To:        user.Email,
		Name:      user.DisplayName(),
		Link:      s.cfg.ResetURL + "?token=" + url.QueryEscape(token),
		ExpiresIn: s.cfg.ResetTTL,
	}
	if err := s.mailer.SendPasswordReset(ctx, msg); err != nil {
		// Reported to the caller as success: a failure here must look the
		// same as an unknown address.
		recordAuthEvent("forgot_password", "mail_failed")
		s.logger.Error("failed to dispatch password reset email",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	recordAuthEvent("forgot_password", "sent")
	s.logger.Info("password reset email dispatched", slog.String("userID", user.ID))
	return nil
}

// ResetPassword verifies a reset token and stores the new password hash.
// The password is untouched when the token is expired or invalid.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return apperror.ValidationFailed("token,newPassword",
			"token and new password are required").WithCode("missing_fields")
	}

	claims, err := s.tokens.Verify(token, auth.PurposePasswordReset)
	if err != nil {
		recordAuthEvent("reset_password", "invalid_token")
		s.logger.Info("password reset rejected", slog.String("error", err.Error()))
		return apperror.ValidationFailed("token", "reset token is invalid or expired").WithCode("expired_or_invalid")
	}

	hash, err := s.hashPassword(newPassword, "newPassword")
	if err != nil {
		return err
	}

	if err := s.users.UpdatePassword(ctx, claims.Subject, hash); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return s.internal("reset_password", "storing password", err)
	}

	recordAuthEvent("reset_password", "success")
	s.logger.Info("password reset", slog.String("userID", claims.Subject))
	return nil
}

// UpdateRole sets the role of userID. Callers must already have checked
// that the actor is allowed to do so.
func (s *AuthService) UpdateRole(ctx context.Context, userID, role string) (*model.PublicUser, error) {
	r := model.Role(strings.TrimSpace(role))
	if !r.Valid() {
		return nil, apperror.ValidationFailed("role",
			"role must be one of: consumer, moderator, administrator").WithCode("invalid_role")
	}

	user, err := s.users.UpdateRole(ctx, userID, r)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, s.internal("update_role", "updating role", err)
	}

	s.logger.Info("user role updated",
		slog.String("userID", user.ID),
		slog.String("role", string(user.Role)),
	)
	pub := user.Public()
	return &pub, nil
}

// CurrentRole is the stored role of userID. It returns auth.ErrUserGone for
// a deleted account and satisfies auth.RoleSource.
func (s *AuthService) CurrentRole(ctx context.Context, userID string) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return "", auth.ErrUserGone
	}
	if err != nil {
		return "", s.internal("role", "loading user", err)
	}
	return string(user.Role), nil
}

// ListUsers returns every account's public projection, oldest first.
func (s *AuthService) ListUsers(ctx context.Context) ([]model.PublicUser, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, s.internal("list_users", "listing users", err)
	}
	out := make([]model.PublicUser, 0, len(users))
	for i := range users {
		out = append(out, users[i].Public())
	}
	return out, nil
}

// UserNameExists reports whether userName is taken, case-insensitively.
func (s *AuthService) UserNameExists(ctx context.Context, userName string) (bool, error) {
	userName = strings.ToLower(strings.TrimSpace(userName))
	if userName == "" {
		return false, apperror.ValidationFailed("userName", "user name is required").WithCode("missing_fields")
	}
	exists, err := s.users.UserNameExists(ctx, userName)
	if err != nil {
		return false, s.internal("username_exists", "checking user name", err)
	}
	return exists, nil
}

func jwtSubject(userID string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{Subject: userID}
}

func (s *AuthService) hashPassword(plaintext, field string) (string, error) {
	hash, err := s.passwords.Hash(plaintext)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return "", apperror.ValidationFailed(field, err.Error())
		}
		return "", fmt.Errorf("service/auth: hashing password: %w", err)
	}
	return hash, nil
}

// internal logs err with its context and returns it wrapped. The handler
// turns anything that is not an AppError into a generic 500.
func (s *AuthService) internal(event, action string, err error) error {
	recordAuthEvent(event, "error")
	s.logger.Error("auth "+event+" failed",
		slog.String("action", action),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("service/auth: %s: %w", action, err)
}
