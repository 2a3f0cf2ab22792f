package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/quest-platform/internal/apperror"
	"github.com/sakif/quest-platform/internal/auth"
	"github.com/sakif/quest-platform/internal/model"
)

// placeholderEmail is the lookup email for a profile that came without a
// verified address. It is deterministic in the subject so a repeat login
// finds the same account.
func placeholderEmail(p auth.Profile) string {
	return strings.ToLower(fmt.Sprintf("%s@%s.com", p.Subject, p.Provider))
}

// ResolveExternalIdentity maps a provider profile to a local user, creating
// one on first sight. The subject is looked up before the email, so a
// profile whose email changed (or became verified) still resolves to the
// account it created. An existing account is returned unchanged: its name,
// role and linkage are never overwritten by a later login.
func (s *AuthService) ResolveExternalIdentity(ctx context.Context, profile auth.Profile) (*model.User, error) {
	if profile.Subject == "" {
		return nil, errors.New("service/auth: external profile has no subject")
	}

	email := strings.ToLower(strings.TrimSpace(profile.Email))
	if email == "" {
		email = placeholderEmail(profile)
	}

	user, err := s.findExternal(ctx, profile.Subject, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, s.internal("oauth", "looking up user", err)
	}

	user = &model.User{
		Email:    email,
		Name:     strings.TrimSpace(profile.Name),
		GoogleID: profile.Subject,
		Role:     model.RoleConsumer,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if !errors.Is(err, apperror.ErrConflict) {
			return nil, s.internal("oauth", "creating user", err)
		}
		// A concurrent callback for the same identity won the insert.
		existing, getErr := s.findExternal(ctx, profile.Subject, email)
		if getErr != nil {
			return nil, s.internal("oauth", "re-reading user after conflict", errors.Join(err, getErr))
		}
		return existing, nil
	}

	recordAuthEvent("oauth", "user_created")
	s.logger.Info("user created from external identity",
		slog.String("userID", user.ID),
		slog.String("provider", profile.Provider),
	)
	return user, nil
}

// findExternal returns the account linked to subject, falling back to the
// account registered under email.
func (s *AuthService) findExternal(ctx context.Context, subject, email string) (*model.User, error) {
	user, err := s.users.GetByGoogleID(ctx, subject)
	if err == nil || !errors.Is(err, apperror.ErrNotFound) {
		return user, err
	}
	return s.users.GetByEmail(ctx, email)
}

// CompleteOAuth resolves profile and issues a session for the account.
func (s *AuthService) CompleteOAuth(ctx context.Context, profile auth.Profile) (*AuthResult, error) {
	user, err := s.ResolveExternalIdentity(ctx, profile)
	if err != nil {
		recordAuthEvent("oauth", "failed")
		return nil, err
	}
	result, err := s.IssueSession(user)
	if err != nil {
		return nil, s.internal("oauth", "issuing session", err)
	}
	recordAuthEvent("oauth", "success")
	return result, nil
}
