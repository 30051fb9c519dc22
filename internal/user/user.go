// internal/user/user.go
//
// User accounts: students, teachers and admins.
// Students must carry a grade and class number; teachers and admins need not.

package user

import (
	"errors"
	"strings"
	"time"

	"github.com/schoolpaper/newsroom/internal/validation"
)

type Role string

const (
	RoleUser    Role = "user"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Grades are the four grade levels the paper accepts (9th to 12th).
var Grades = []string{"ט", "י", "יא", "יב"}

var (
	ErrNotFound           = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")

	errPasswordLength  = validation.New("password", "min", "Password must be 8-100 characters")
	errPasswordTooLong = validation.New("password", "bytes", "Password is too long")
)

// maxPasswordBytes is the most bcrypt will hash.
const maxPasswordBytes = 72

// User is a stored account. PasswordHash never leaves the server.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	DisplayName  string     `json:"displayName"`
	Email        string     `json:"email,omitempty"`
	Role         Role       `json:"role"`
	Grade        string     `json:"grade,omitempty"`
	ClassNumber  int        `json:"classNumber,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
}

// IsTeacher reports whether the account is exempt from grade/class rules.
func (u *User) IsTeacher() bool { return u.Role == RoleTeacher || u.Role == RoleAdmin }

// IsAdmin reports whether the account carries admin rights.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// CreateInput is what a new account needs. Role defaults to RoleUser.
type CreateInput struct {
	Username    string `json:"username" validate:"required,min=3,max=50,username"`
	Password    string `json:"password" validate:"required,min=8,max=100"`
	DisplayName string `json:"displayName" validate:"notblank,max=100"`
	Email       string `json:"email" validate:"omitempty,email,max=254"`
	Grade       string `json:"grade" validate:"omitempty,oneof=ט י יא יב"`
	ClassNumber int    `json:"classNumber" validate:"omitempty,min=1,max=4"`
	Role        Role   `json:"role" validate:"omitempty,oneof=user teacher admin"`
}

// Patch changes profile fields; nil fields are left as they are.
type Patch struct {
	DisplayName *string `json:"displayName" validate:"omitempty,notblank,max=100"`
	Email       *string `json:"email" validate:"omitempty,max=254"`
	Grade       *string `json:"grade" validate:"omitempty,oneof=ט י יא יב"`
	ClassNumber *int    `json:"classNumber" validate:"omitempty,min=1,max=4"`
	Role        *Role   `json:"role" validate:"omitempty,oneof=user teacher admin"`
}

func init() {
	validation.SetMessage("username", "required", "Username is required")
	validation.SetMessage("username", "min", "Username must be 3-50 characters")
	validation.SetMessage("username", "max", "Username must be 3-50 characters")
	validation.SetMessage("username", "username", "Username may only contain letters, numbers and underscores")
	validation.SetMessage("password", "required", "Password is required")
	validation.SetMessage("password", "min", "Password must be 8-100 characters")
	validation.SetMessage("password", "max", "Password must be 8-100 characters")
	validation.SetMessage("displayName", "notblank", "Display name is required")
	validation.SetMessage("grade", "oneof", "Grade must be one of: "+strings.Join(Grades, ", "))
	validation.SetMessage("classNumber", "min", "Class number must be between 1 and 4")
	validation.SetMessage("classNumber", "max", "Class number must be between 1 and 4")
}

// Normalize trims the free-text fields of in.
func (in *CreateInput) Normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Email = strings.TrimSpace(in.Email)
	in.Grade = strings.TrimSpace(in.Grade)
	if in.Role == "" {
		in.Role = RoleUser
	}
}

// Validate checks field rules and the student grade/class requirement.
func (in *CreateInput) Validate() error {
	if err := validation.Struct(in); err != nil {
		return err
	}
	if err := checkPassword(in.Password); err != nil {
		return err
	}
	return checkEnrollment(in.Role, in.Grade, in.ClassNumber)
}

// Validate checks the patch fields on their own.
func (p *Patch) Validate() error {
	if p.Email != nil && strings.TrimSpace(*p.Email) != "" {
		if err := validation.Validator().Var(strings.TrimSpace(*p.Email), "email"); err != nil {
			return validation.New("email", "email", "email must be a valid email address")
		}
	}
	return validation.Struct(p)
}

// checkPassword applies the registration length rule (8-100 characters,
// counted in runes) and the bcrypt byte ceiling.
func checkPassword(pw string) error {
	if err := validation.Validator().Var(pw, "min=8,max=100"); err != nil {
		return errPasswordLength
	}
	if len(pw) > maxPasswordBytes {
		return errPasswordTooLong
	}
	return nil
}

func checkEnrollment(role Role, grade string, classNumber int) error {
	if role == RoleTeacher || role == RoleAdmin {
		return nil
	}
	if grade == "" {
		return validation.New("grade", "required", "Grade is required for students")
	}
	if classNumber < 1 || classNumber > 4 {
		return validation.New("classNumber", "required", "Class number (1-4) is required for students")
	}
	return nil
}
