// internal/user/repository.go
//
// SQL access for user accounts.
//   - Usernames are unique case-insensitively.
//   - Passwords are stored as bcrypt hashes; Authenticate spends the same
//     work for unknown usernames as for wrong passwords.

package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/schoolpaper/newsroom/internal/credential"
	"github.com/schoolpaper/newsroom/internal/database"
)

const userColumns = `id, username, password_hash, display_name, email, role, grade, class_number,
	created_at, updated_at, last_login`

// Repository reads and writes users.
type Repository struct {
	db  *database.DB
	now func() time.Time
}

// NewRepository returns a Repository over db.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create validates in, hashes the password and inserts the account.
// Usernames are unique case-insensitively.
func (r *Repository) Create(ctx context.Context, in CreateInput) (*User, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	if _, err := r.GetByUsername(ctx, in.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := credential.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := r.now()
	u := &User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		PasswordHash: hash,
		DisplayName:  in.DisplayName,
		Email:        in.Email,
		Role:         in.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !u.IsTeacher() || in.Grade != "" {
		u.Grade = in.Grade
		u.ClassNumber = in.ClassNumber
	}

	_, err = r.db.SQL.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO users (id, username, password_hash, display_name, email, role, grade, class_number, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`),
		u.ID, u.Username, u.PasswordHash, u.DisplayName, nullString(u.Email), string(u.Role),
		nullString(u.Grade), nullInt(u.ClassNumber), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetByID loads one user or returns ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id string) (*User, error) {
	row := r.db.SQL.QueryRowContext(ctx, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id=?`), id)
	return scanUser(row)
}

// GetByUsername loads one user by case-insensitive username.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := r.db.SQL.QueryRowContext(ctx,
		r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE lower(username)=lower(?)`), strings.TrimSpace(username))
	return scanUser(row)
}

// List returns every user, newest first.
func (r *Repository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.SQL.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// Update applies p to the user and re-checks the student rule on the result.
func (r *Repository) Update(ctx context.Context, id string, p Patch) (*User, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.DisplayName != nil {
		u.DisplayName = strings.TrimSpace(*p.DisplayName)
	}
	if p.Email != nil {
		u.Email = strings.TrimSpace(*p.Email)
	}
	if p.Grade != nil {
		u.Grade = strings.TrimSpace(*p.Grade)
	}
	if p.ClassNumber != nil {
		u.ClassNumber = *p.ClassNumber
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if err := checkEnrollment(u.Role, u.Grade, u.ClassNumber); err != nil {
		return nil, err
	}
	u.UpdatedAt = r.now()

	res, err := r.db.SQL.ExecContext(ctx, r.db.Rebind(`
		UPDATE users SET display_name=?, email=?, grade=?, class_number=?, role=?, updated_at=? WHERE id=?`),
		u.DisplayName, nullString(u.Email), nullString(u.Grade), nullInt(u.ClassNumber), string(u.Role), u.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return u, nil
}

// ChangePassword replaces the stored hash. The caller checks the old password.
func (r *Repository) ChangePassword(ctx context.Context, id, newPassword string) error {
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	hash, err := credential.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	res, err := r.db.SQL.ExecContext(ctx, r.db.Rebind(`UPDATE users SET password_hash=?, updated_at=? WHERE id=?`),
		hash, r.now(), id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastLogin stamps last_login with the current time.
func (r *Repository) TouchLastLogin(ctx context.Context, id string) error {
	_, err := r.db.SQL.ExecContext(ctx, r.db.Rebind(`UPDATE users SET last_login=? WHERE id=?`), r.now(), id)
	return err
}

// Delete removes the account. Posts keep their author_id and show as
// "author deleted".
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.SQL.ExecContext(ctx, r.db.Rebind(`DELETE FROM users WHERE id=?`), id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Authenticate returns the user when password matches. Unknown usernames
// and wrong passwords produce the same error and similar timing.
func (r *Repository) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := r.GetByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		credential.BurnCompare(password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !credential.VerifyPassword(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scanner) (*User, error) {
	var (
		u         User
		role      string
		email     sql.NullString
		grade     sql.NullString
		class     sql.NullInt64
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &email, &role, &grade, &class,
		&u.CreatedAt, &u.UpdatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = Role(role)
	u.Email = email.String
	u.Grade = grade.String
	u.ClassNumber = int(class.Int64)
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
