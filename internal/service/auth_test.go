package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/quest-platform/internal/apperror"
	"github.com/sakif/quest-platform/internal/auth"
	"github.com/sakif/quest-platform/internal/mail"
	"github.com/sakif/quest-platform/internal/model"
	"github.com/sakif/quest-platform/internal/ratelimit"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository. It enforces the
// same uniqueness rules as the SQLite schema.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int

	// set to a non-nil error to simulate a database failure
	getErr    error
	createErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User), nextID: 1}
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, u := range f.users {
		if u.Email == user.Email {
			return apperror.Conflict("email", "email is already registered").WithCode("email_taken")
		}
		if user.UserName != "" && u.UserName == user.UserName {
			return apperror.Conflict("userName", "user name is already taken").WithCode("username_taken")
		}
		if user.GoogleID != "" && u.GoogleID == user.GoogleID {
			return apperror.Conflict("googleId", "external account is already linked")
		}
	}
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	f.nextID++
	if user.Role == "" {
		user.Role = model.RoleConsumer
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserRepo) find(match func(*model.User) bool, what string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.users {
		if match(u) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", what)
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.ID == id }, id)
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Email == email }, email)
}

func (f *fakeUserRepo) GetByGoogleID(_ context.Context, subject string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.GoogleID != "" && u.GoogleID == subject }, subject)
}

func (f *fakeUserRepo) GetByIdentifier(_ context.Context, identifier string) (*model.User, error) {
	if u, err := f.find(func(u *model.User) bool { return u.Email == identifier }, identifier); err == nil {
		return u, nil
	}
	return f.find(func(u *model.User) bool { return u.UserName != "" && u.UserName == identifier }, identifier)
}

func (f *fakeUserRepo) UserNameExists(_ context.Context, userName string) (bool, error) {
	_, err := f.find(func(u *model.User) bool { return u.UserName == userName }, userName)
	if errors.Is(err, apperror.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (f *fakeUserRepo) List(_ context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.User, 0, len(f.users))
	for i := 1; i < f.nextID; i++ {
		if u, ok := f.users[fmt.Sprintf("user-%d", i)]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUserRepo) UpdatePassword(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.PasswordHash = hash
	return nil
}

func (f *fakeUserRepo) UpdateRole(_ context.Context, id string, role model.Role) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	u.Role = role
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

// recordingMailer captures outbound mail instead of sending it.
type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.PasswordReset
	err  error
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, msg mail.PasswordReset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) messages() []mail.PasswordReset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.PasswordReset(nil), m.sent...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testDeps struct {
	svc    *AuthService
	repo   *fakeUserRepo
	mailer *recordingMailer
	tokens *auth.TokenService
}

func newTestAuthService(t *testing.T, cfg AuthConfig) *testDeps {
	t.Helper()

	tokens, err := auth.NewTokenService("test-secret-at-least-16")
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	limiter, err := ratelimit.NewMemory(ratelimit.DefaultLoginPolicy)
	if err != nil {
		t.Fatalf("NewMemory() error = %v", err)
	}

	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.ResetTTL == 0 {
		cfg.ResetTTL = 15 * time.Minute
	}
	if cfg.ResetURL == "" {
		cfg.ResetURL = "http://front.test/reset-password"
	}

	d := &testDeps{
		repo:   newFakeUserRepo(),
		mailer: &recordingMailer{},
		tokens: tokens,
	}
	d.svc = NewAuthService(d.repo, tokens, auth.NewPasswordServiceForTest(4), limiter, d.mailer, cfg, testLogger())
	return d
}

func anaInput() RegisterInput {
	return RegisterInput{
		FirstName: "Ana",
		LastName:  "Silva",
		UserName:  "asilva",
		Email:     "Ana@Mail.com",
		Password:  "secret123",
	}
}

func register(t *testing.T, d *testDeps, in RegisterInput) *model.PublicUser {
	t.Helper()
	u, err := d.svc.Register(context.Background(), in)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return u
}

func assertCode(t *testing.T, err error, sentinel error, code string) {
	t.Helper()
	if !errors.Is(err, sentinel) {
		t.Fatalf("error = %v, want %v", err, sentinel)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error %v is not an AppError", err)
	}
	if appErr.Code != code {
		t.Errorf("Code = %q, want %q", appErr.Code, code)
	}
}

// =========================================================================
// REGISTER TESTS
// =========================================================================

func TestRegister_NormalizesAndHashes(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})

	u := register(t, d, anaInput())
	if u.Email != "ana@mail.com" || u.UserName != "asilva" || u.Name != "Ana Silva" {
		t.Errorf("Register() = %+v", u)
	}
	if u.Role != model.RoleConsumer {
		t.Errorf("Role = %q, want consumer", u.Role)
	}

	stored, _ := d.repo.GetByID(context.Background(), u.ID)
	if stored.PasswordHash == "" || stored.PasswordHash == "secret123" {
		t.Fatalf("stored hash = %q", stored.PasswordHash)
	}
	if err := auth.NewPasswordServiceForTest(4).Verify(stored.PasswordHash, "secret123"); err != nil {
		t.Errorf("stored hash does not verify: %v", err)
	}
}

func TestRegister_MissingFields(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})

	_, err := d.svc.Register(context.Background(), RegisterInput{FirstName: "Ana"})
	assertCode(t, err, apperror.ErrValidation, "missing_fields")

	var appErr *apperror.AppError
	errors.As(err, &appErr)
	if !strings.Contains(appErr.Field, "email") || !strings.Contains(appErr.Field, "password") {
		t.Errorf("Field = %q, want the missing fields listed", appErr.Field)
	}
}

func TestRegister_InvalidEmail(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	in := anaInput()
	in.Email = "not-an-email"

	_, err := d.svc.Register(context.Background(), in)
	assertCode(t, err, apperror.ErrValidation, "validation_error")
}

func TestRegister_DuplicateEmailAnyCase(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	register(t, d, anaInput())

	in := anaInput()
	in.UserName = "other"
	in.Email = "ANA@mail.COM"
	_, err := d.svc.Register(context.Background(), in)
	assertCode(t, err, apperror.ErrConflict, "email_taken")
}

func TestRegister_DuplicateUserName(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	register(t, d, anaInput())

	in := anaInput()
	in.Email = "second@mail.com"
	in.UserName = "ASilva"
	_, err := d.svc.Register(context.Background(), in)
	assertCode(t, err, apperror.ErrConflict, "username_taken")
}

func TestRegister_StoreConflictSurfaces(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	d.repo.createErr = apperror.Conflict("email", "email is already registered").WithCode("email_taken")

	_, err := d.svc.Register(context.Background(), anaInput())
	assertCode(t, err, apperror.ErrConflict, "email_taken")
}

func TestRegister_StoreFailureIsNotAnAppError(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	d.repo.getErr = errors.New("disk on fire")

	_, err := d.svc.Register(context.Background(), anaInput())
	var appErr *apperror.AppError
	if err == nil || errors.As(err, &appErr) {
		t.Fatalf("error = %v, want an internal error", err)
	}
}

// =========================================================================
// LOGIN TESTS
// =========================================================================

func TestLogin_AnaScenario(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	registered := register(t, d, anaInput())

	res, err := d.svc.Login(context.Background(), "10.0.0.1", "ANA@MAIL.COM", "secret123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.User.ID != registered.ID {
		t.Errorf("User.ID = %q, want %q", res.User.ID, registered.ID)
	}

	claims, err := d.tokens.Verify(res.Token, auth.PurposeSession)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Subject != registered.ID || claims.Email != "ana@mail.com" ||
		claims.UserName != "asilva" || claims.Role != "consumer" {
		t.Errorf("claims = %+v", claims)
	}
	if time.Until(res.ExpiresAt) <= 0 {
		t.Errorf("ExpiresAt = %v, want in the future", res.ExpiresAt)
	}
}

func TestLogin_ByUserName(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	register(t, d, anaInput())

	if _, err := d.svc.Login(context.Background(), "c", "ASILVA", "secret123"); err != nil {
		t.Fatalf("Login() by user name error = %v", err)
	}
}

func TestLogin_UnknownUserAndBadPasswordLookTheSame(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	register(t, d, anaInput())

	_, errUnknown := d.svc.Login(context.Background(), "a", "nobody@mail.com", "secret123")
	_, errBad := d.svc.Login(context.Background(), "b", "ana@mail.com", "wrong")

	assertCode(t, errUnknown, apperror.ErrUnauthenticated, "invalid_credentials")
	assertCode(t, errBad, apperror.ErrUnauthenticated, "invalid_credentials")
	if errUnknown.Error() != errBad.Error() {
		t.Errorf("messages differ: %q vs %q", errUnknown, errBad)
	}
}

func TestLogin_OAuthOnlyAccountCannotUsePassword(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	_, err := d.svc.ResolveExternalIdentity(context.Background(), auth.Profile{
		Provider: "google", Subject: "g-1", Email: "oauth@mail.com",
	})
	if err != nil {
		t.Fatalf("ResolveExternalIdentity() error = %v", err)
	}

	_, err = d.svc.Login(context.Background(), "c", "oauth@mail.com", "")
	assertCode(t, err, apperror.ErrValidation, "missing_fields")

	_, err = d.svc.Login(context.Background(), "c", "oauth@mail.com", "anything")
	assertCode(t, err, apperror.ErrUnauthenticated, "invalid_credentials")
}

func TestLogin_RateLimitedAfterFiveFailures(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	register(t, d, anaInput())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := d.svc.Login(ctx, "10.0.0.9", "ana@mail.com", "wrong")
		if !errors.Is(err, apperror.ErrUnauthenticated) {
			t.Fatalf("attempt %d: error = %v, want ErrUnauthenticated", i, err)
		}
	}

	_, err := d.svc.Login(ctx, "10.0.0.9", "ana@mail.com", "wrong")
	assertCode(t, err, apperror.ErrRateLimited, "rate_limited")
	var appErr *apperror.AppError
	errors.As(err, &appErr)
	if appErr.RetryAfter <= 0 || appErr.RetryAfter > 15*time.Minute {
		t.Errorf("RetryAfter = %v, want within the window", appErr.RetryAfter)
	}

	// Correct credentials are still rejected inside the window.
	_, err = d.svc.Login(ctx, "10.0.0.9", "ana@mail.com", "secret123")
	if !errors.Is(err, apperror.ErrRateLimited) {
		t.Errorf("correct password while limited: error = %v, want ErrRateLimited", err)
	}

	// Another client is unaffected.
	if _, err := d.svc.Login(ctx, "10.0.0.10", "ana@mail.com", "secret123"); err != nil {
		t.Errorf("other client: error = %v", err)
	}
}

func TestLogin_MissingFieldsStillConsumeAttempts(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d.svc.Login(ctx, "c", "", "")
	}
	_, err := d.svc.Login(ctx, "c", "", "")
	if !errors.Is(err, apperror.ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
}

func TestLogin_ResetOnSuccess(t *testing.T) {
	tests := []struct {
		name        string
		reset       bool
		wantLimited bool
	}{
		{"counter kept", false, true},
		{"counter reset", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestAuthService(t, AuthConfig{ResetLimitOnSuccess: tt.reset})
			register(t, d, anaInput())
			ctx := context.Background()

			for i := 0; i < 4; i++ {
				d.svc.Login(ctx, "c", "ana@mail.com", "wrong")
			}
			if _, err := d.svc.Login(ctx, "c", "ana@mail.com", "secret123"); err != nil {
				t.Fatalf("fifth attempt error = %v", err)
			}
			_, err := d.svc.Login(ctx, "c", "ana@mail.com", "wrong")
			if got := errors.Is(err, apperror.ErrRateLimited); got != tt.wantLimited {
				t.Errorf("sixth attempt limited = %v, want %v (err %v)", got, tt.wantLimited, err)
			}
		})
	}
}

// =========================================================================
// WHOAMI TESTS
// =========================================================================

func TestWhoAmI(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	register(t, d, anaInput())
	ctx := context.Background()

	res, err := d.svc.Login(ctx, "c", "asilva", "secret123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	// Role changes after issuance are visible.
	if _, err := d.svc.UpdateRole(ctx, res.User.ID, "moderator"); err != nil {
		t.Fatalf("UpdateRole() error = %v", err)
	}

	me, err := d.svc.WhoAmI(ctx, res.Token)
	if err != nil {
		t.Fatalf("WhoAmI() error = %v", err)
	}
	if me.Role != model.RoleModerator {
		t.Errorf("Role = %q, want live value moderator", me.Role)
	}
}

func TestWhoAmI_Failures(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	ctx := context.Background()

	expired, _ := d.tokens.Issue(auth.Claims{
		Purpose:          auth.PurposeSession,
		RegisteredClaims: jwtSubject("user-1"),
	}, -time.Minute)
	reset, _ := d.tokens.Issue(auth.Claims{
		Purpose:          auth.PurposePasswordReset,
		RegisteredClaims: jwtSubject("user-1"),
	}, time.Minute)
	orphan, _ := d.tokens.Issue(auth.Claims{
		Purpose:          auth.PurposeSession,
		RegisteredClaims: jwtSubject("deleted-user"),
	}, time.Minute)

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{"missing", "", "unauthenticated"},
		{"garbage", "not.a.token", "invalid_token"},
		{"expired", expired, "expired_token"},
		{"reset token", reset, "invalid_token"},
		{"deleted user", orphan, "user_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.svc.WhoAmI(ctx, tt.token)
			assertCode(t, err, apperror.ErrUnauthorized, tt.code)
		})
	}
}

// =========================================================================
// PASSWORD RESET TESTS
// =========================================================================

func resetTokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("invalid reset link %q: %v", link, err)
	}
	tok := u.Query().Get("token")
	if tok == "" {
		t.Fatalf("reset link %q has no token", link)
	}
	return tok
}

func TestPasswordReset_FullFlow(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	register(t, d, anaInput())
	ctx := context.Background()

	if err := d.svc.RequestPasswordReset(ctx, " ANA@mail.com "); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	sent := d.mailer.messages()
	if len(sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sent))
	}
	if sent[0].To != "ana@mail.com" || sent[0].Name != "Ana Silva" || sent[0].ExpiresIn != 15*time.Minute {
		t.Errorf("email = %+v", sent[0])
	}
	if !strings.HasPrefix(sent[0].Link, "http://front.test/reset-password?token=") {
		t.Errorf("Link = %q", sent[0].Link)
	}

	token := resetTokenFromLink(t, sent[0].Link)

	// A reset token is not a session.
	if _, err := d.svc.WhoAmI(ctx, token); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("WhoAmI(reset token) error = %v, want ErrUnauthorized", err)
	}

	if err := d.svc.ResetPassword(ctx, token, "n3w-password"); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}
	if _, err := d.svc.Login(ctx, "c", "asilva", "secret123"); !errors.Is(err, apperror.ErrUnauthenticated) {
		t.Errorf("old password still works: %v", err)
	}
	if _, err := d.svc.Login(ctx, "c", "asilva", "n3w-password"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
}

func TestRequestPasswordReset_UnknownEmailLooksLikeSuccess(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})

	if err := d.svc.RequestPasswordReset(context.Background(), "ghost@mail.com"); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v, want nil", err)
	}
	if n := len(d.mailer.messages()); n != 0 {
		t.Errorf("sent %d emails for an unknown address", n)
	}
}

func TestRequestPasswordReset_MailFailureLooksLikeSuccess(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	register(t, d, anaInput())
	d.mailer.err = mail.ErrQueueFull

	if err := d.svc.RequestPasswordReset(context.Background(), "ana@mail.com"); err != nil {
		t.Errorf("RequestPasswordReset() error = %v, want nil", err)
	}
}

func TestRequestPasswordReset_MissingEmail(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	err := d.svc.RequestPasswordReset(context.Background(), "  ")
	assertCode(t, err, apperror.ErrValidation, "missing_fields")
}

func TestResetPassword_ExpiredTokenLeavesPasswordUnchanged(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	u := register(t, d, anaInput())
	ctx := context.Background()

	before, _ := d.repo.GetByID(ctx, u.ID)
	expired, err := d.tokens.Issue(auth.Claims{
		Purpose:          auth.PurposePasswordReset,
		RegisteredClaims: jwtSubject(u.ID),
	}, -time.Second)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	err = d.svc.ResetPassword(ctx, expired, "n3w-password")
	assertCode(t, err, apperror.ErrValidation, "expired_or_invalid")

	after, _ := d.repo.GetByID(ctx, u.ID)
	if after.PasswordHash != before.PasswordHash {
		t.Error("password hash changed after a rejected reset")
	}
}

func TestResetPassword_RejectsSessionToken(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	register(t, d, anaInput())
	res, _ := d.svc.Login(context.Background(), "c", "asilva", "secret123")

	err := d.svc.ResetPassword(context.Background(), res.Token, "n3w-password")
	assertCode(t, err, apperror.ErrValidation, "expired_or_invalid")
}

func TestResetPassword_MissingFields(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	err := d.svc.ResetPassword(context.Background(), "", "x")
	assertCode(t, err, apperror.ErrValidation, "missing_fields")
}

func TestResetPassword_UnknownUser(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	tok, _ := d.tokens.Issue(auth.Claims{
		Purpose:          auth.PurposePasswordReset,
		RegisteredClaims: jwtSubject("ghost"),
	}, time.Minute)

	if err := d.svc.ResetPassword(context.Background(), tok, "n3w-password"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// USER DIRECTORY TESTS
// =========================================================================

func TestUpdateRole(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	u := register(t, d, anaInput())
	ctx := context.Background()

	updated, err := d.svc.UpdateRole(ctx, u.ID, "administrator")
	if err != nil {
		t.Fatalf("UpdateRole() error = %v", err)
	}
	if updated.Role != model.RoleAdministrator {
		t.Errorf("Role = %q", updated.Role)
	}

	_, err = d.svc.UpdateRole(ctx, u.ID, "superadmin")
	assertCode(t, err, apperror.ErrValidation, "invalid_role")

	if _, err := d.svc.UpdateRole(ctx, "ghost", "moderator"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("unknown user: error = %v, want ErrNotFound", err)
	}
}

func TestListUsersAndUserNameExists(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	register(t, d, anaInput())
	second := anaInput()
	second.UserName, second.Email = "bruno", "bruno@mail.com"
	register(t, d, second)
	ctx := context.Background()

	users, err := d.svc.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers() error = %v", err)
	}
	if len(users) != 2 || users[0].UserName != "asilva" || users[1].UserName != "bruno" {
		t.Errorf("ListUsers() = %+v", users)
	}

	exists, err := d.svc.UserNameExists(ctx, "BRUNO")
	if err != nil || !exists {
		t.Errorf("UserNameExists(BRUNO) = %v, %v; want true", exists, err)
	}
	exists, _ = d.svc.UserNameExists(ctx, "carla")
	if exists {
		t.Error("UserNameExists(carla) = true, want false")
	}
	if _, err := d.svc.UserNameExists(ctx, ""); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("empty user name: error = %v, want ErrValidation", err)
	}
}

// =========================================================================
// OAUTH TESTS
// =========================================================================

func TestResolveExternalIdentity_Idempotent(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	ctx := context.Background()
	profile := auth.Profile{Provider: "google", Subject: "1234", Name: "Gabi"}

	first, err := d.svc.ResolveExternalIdentity(ctx, profile)
	if err != nil {
		t.Fatalf("first ResolveExternalIdentity() error = %v", err)
	}
	if first.Email != "1234@google.com" || first.GoogleID != "1234" || first.HasPassword() {
		t.Errorf("created user = %+v", first)
	}

	profile.Name = "Renamed"
	second, err := d.svc.ResolveExternalIdentity(ctx, profile)
	if err != nil {
		t.Fatalf("second ResolveExternalIdentity() error = %v", err)
	}
	if second.ID != first.ID || second.Name != "Gabi" {
		t.Errorf("second = %+v, want the unchanged first record", second)
	}
	if n := d.repo.count(); n != 1 {
		t.Errorf("user count = %d, want 1", n)
	}
}

func TestResolveExternalIdentity_SameSubjectNewEmail(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	ctx := context.Background()

	first, err := d.svc.ResolveExternalIdentity(ctx, auth.Profile{Provider: "google", Subject: "1234"})
	if err != nil {
		t.Fatalf("unverified ResolveExternalIdentity() error = %v", err)
	}

	for _, email := range []string{"ana@mail.com", "ana.new@mail.com"} {
		u, err := d.svc.ResolveExternalIdentity(ctx, auth.Profile{Provider: "google", Subject: "1234", Email: email})
		if err != nil {
			t.Fatalf("ResolveExternalIdentity(%s) error = %v", email, err)
		}
		if u.ID != first.ID || u.Email != "1234@google.com" {
			t.Errorf("ResolveExternalIdentity(%s) = %+v, want unchanged %q", email, u, first.ID)
		}
	}
	if n := d.repo.count(); n != 1 {
		t.Errorf("user count = %d, want 1", n)
	}
}

func TestResolveExternalIdentity_LinksToExistingEmail(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	registered := register(t, d, anaInput())

	u, err := d.svc.ResolveExternalIdentity(context.Background(), auth.Profile{
		Provider: "google", Subject: "g-9", Email: "ANA@mail.com",
	})
	if err != nil {
		t.Fatalf("ResolveExternalIdentity() error = %v", err)
	}
	if u.ID != registered.ID {
		t.Errorf("resolved %q, want existing %q", u.ID, registered.ID)
	}
	if !u.HasPassword() {
		t.Error("existing account lost its password")
	}
}

func TestResolveExternalIdentity_ConcurrentCallbacks(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	profile := auth.Profile{Provider: "google", Subject: "race"}

	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := d.svc.ResolveExternalIdentity(context.Background(), profile)
			errs[i] = err
			if u != nil {
				ids[i] = u.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("call %d error = %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("call %d resolved %q, want %q", i, ids[i], ids[0])
		}
	}
	if n := d.repo.count(); n != 1 {
		t.Errorf("user count = %d, want 1", n)
	}
}

func TestCompleteOAuth(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})

	res, err := d.svc.CompleteOAuth(context.Background(), auth.Profile{
		Provider: "google", Subject: "g-1", Email: "g@mail.com", Name: "G",
	})
	if err != nil {
		t.Fatalf("CompleteOAuth() error = %v", err)
	}
	claims, err := d.tokens.Verify(res.Token, auth.PurposeSession)
	if err != nil || claims.Email != "g@mail.com" {
		t.Errorf("session claims = %+v, err %v", claims, err)
	}
}

func TestCompleteOAuth_StoreFailure(t *testing.T) {
	d := newTestAuthService(t, AuthConfig{})
	d.repo.getErr = errors.New("db down")

	if _, err := d.svc.CompleteOAuth(context.Background(), auth.Profile{Provider: "google", Subject: "x"}); err == nil {
		t.Fatal("CompleteOAuth() error = nil, want failure")
	}
}
