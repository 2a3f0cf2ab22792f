package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/quest-platform/internal/apperror"
	"github.com/sakif/quest-platform/internal/model"
	"github.com/sakif/quest-platform/internal/repository"
)

// UserDB is the users table.
type UserDB struct {
	conn *sql.DB
}

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

const userColumns = `id, email, user_name, name, password_hash, google_id, role, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u                        model.User
		userName, hash, googleID sql.NullString
		role                     string
	)
	if err := row.Scan(
		&u.ID, &u.Email, &userName, &u.Name, &hash, &googleID, &role,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.UserName = userName.String
	u.PasswordHash = hash.String
	u.GoogleID = googleID.String
	u.Role = model.Role(role)
	return &u, nil
}

// Create inserts user, assigning its ID and timestamps. Email and UserName
// are stored lowercase; Role defaults to consumer.
//
// A UNIQUE violation is reported as apperror.Conflict with Code
// "email_taken" or "username_taken". This is the authoritative check: the
// service's pre-insert lookups only give earlier feedback.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	user.Email = strings.ToLower(user.Email)
	user.UserName = strings.ToLower(user.UserName)
	if user.Role == "" {
		user.Role = model.RoleConsumer
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		nullString(user.UserName),
		user.Name,
		nullString(user.PasswordHash),
		nullString(user.GoogleID),
		string(user.Role),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		switch uniqueViolation(err) {
		case "users.email":
			return apperror.Conflict("email", "email is already registered").WithCode("email_taken")
		case "users.user_name":
			return apperror.Conflict("userName", "user name is already taken").WithCode("username_taken")
		case "users.google_id":
			return apperror.Conflict("googleId", "external account is already linked")
		}
		return fmt.Errorf("sqlite: creating user: %w", err)
	}

	return nil
}

// GetByID returns apperror.ErrNotFound if no user exists with that ID.
func (u *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return user, nil
}

func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return user, nil
}

func (u *UserDB) GetByGoogleID(ctx context.Context, subject string) (*model.User, error) {
	user, err := scanUser(u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE google_id = ?`, subject,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", subject)
		}
		return nil, fmt.Errorf("sqlite: getting user by google id: %w", err)
	}
	return user, nil
}

// GetByIdentifier matches email first, then user name. Because an email
// always contains "@" and user names are free-form, a user name that
// happens to equal another account's email loses to the email match.
func (u *UserDB) GetByIdentifier(ctx context.Context, identifier string) (*model.User, error) {
	user, err := scanUser(u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE email = ?1 OR user_name = ?1
		 ORDER BY CASE WHEN email = ?1 THEN 0 ELSE 1 END
		 LIMIT 1`,
		identifier,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", identifier)
		}
		return nil, fmt.Errorf("sqlite: getting user by identifier: %w", err)
	}
	return user, nil
}

func (u *UserDB) UserNameExists(ctx context.Context, userName string) (bool, error) {
	var exists bool
	err := u.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE user_name = ?)`, userName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking user name: %w", err)
	}
	return exists, nil
}

// List returns every user, oldest first.
func (u *UserDB) List(ctx context.Context) ([]model.User, error) {
	rows, err := u.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}

func (u *UserDB) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := u.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating password for user %s: %w", id, err)
	}
	return checkAffected(result, "user", id)
}

// UpdateRole persists role and returns the updated record.
func (u *UserDB) UpdateRole(ctx context.Context, id string, role model.Role) (*model.User, error) {
	result, err := u.conn.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`,
		string(role), time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating role for user %s: %w", id, err)
	}
	if err := checkAffected(result, "user", id); err != nil {
		return nil, err
	}
	return u.GetByID(ctx, id)
}

// checkAffected turns a zero-row UPDATE or DELETE into apperror.NotFound.
func checkAffected(result sql.Result, resource, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
