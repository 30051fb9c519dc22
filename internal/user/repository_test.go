package user

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schoolpaper/newsroom/internal/database"
	"github.com/schoolpaper/newsroom/internal/validation"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.Open(context.Background(), "", filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRepository(db)
}

func student(username string) CreateInput {
	return CreateInput{
		Username:    username,
		Password:    "password123",
		DisplayName: "Student " + username,
		Grade:       "י",
		ClassNumber: 2,
	}
}

func TestCreate_Validation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(*CreateInput)
		wantMsg string
	}{
		{"too short", func(in *CreateInput) { in.Username = "ab" }, "Username must be 3-50 characters"},
		{"too long", func(in *CreateInput) { in.Username = strings.Repeat("a", 51) }, "Username must be 3-50 characters"},
		{"bad chars", func(in *CreateInput) { in.Username = "dana-l" }, "Username may only contain letters, numbers and underscores"},
		{"short password", func(in *CreateInput) { in.Password = "short" }, "Password must be 8-100 characters"},
		{"no display name", func(in *CreateInput) { in.DisplayName = "  " }, "Display name is required"},
		{"bad grade", func(in *CreateInput) { in.Grade = "ז" }, "Grade must be one of: ט, י, יא, יב"},
		{"student without grade", func(in *CreateInput) { in.Grade = "" }, "Grade is required for students"},
		{"student without class", func(in *CreateInput) { in.ClassNumber = 0 }, "Class number (1-4) is required for students"},
		{"class out of range", func(in *CreateInput) { in.ClassNumber = 5 }, "Class number must be between 1 and 4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := student("valid_name")
			tt.mutate(&in)
			_, err := repo.Create(ctx, in)
			var ve *validation.Error
			if !errors.As(err, &ve) {
				t.Fatalf("Create() error = %v, want validation error", err)
			}
			if ve.Message() != tt.wantMsg {
				t.Errorf("message = %q, want %q", ve.Message(), tt.wantMsg)
			}
		})
	}
}

func TestCreate_TeacherNeedsNoGrade(t *testing.T) {
	repo := newTestRepo(t)
	u, err := repo.Create(context.Background(), CreateInput{
		Username:    "ms_cohen",
		Password:    "password123",
		DisplayName: "Ms Cohen",
		Role:        RoleTeacher,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if u.Grade != "" || u.ClassNumber != 0 || !u.IsTeacher() {
		t.Errorf("teacher = %+v", u)
	}
}

func TestCreate_UsernameUnique(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if _, err := repo.Create(ctx, student("Dana")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := repo.Create(ctx, student("dana")); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("duplicate Create() error = %v, want ErrUsernameTaken", err)
	}
}

func TestGetAndAuthenticate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	created, err := repo.Create(ctx, student("noam"))
	if err != nil {
		t.Fatal(err)
	}

	byID, err := repo.GetByID(ctx, created.ID)
	if err != nil || byID.Username != "noam" || byID.Grade != "י" || byID.ClassNumber != 2 {
		t.Fatalf("GetByID() = %+v, %v", byID, err)
	}
	if _, err := repo.GetByUsername(ctx, "NOAM"); err != nil {
		t.Errorf("GetByUsername() case-insensitive error = %v", err)
	}
	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v", err)
	}

	if _, err := repo.Authenticate(ctx, "noam", "password123"); err != nil {
		t.Errorf("Authenticate() error = %v", err)
	}
	if _, err := repo.Authenticate(ctx, "noam", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Authenticate(wrong) error = %v", err)
	}
	if _, err := repo.Authenticate(ctx, "nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Authenticate(unknown) error = %v", err)
	}

	if err := repo.TouchLastLogin(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	u, _ := repo.GetByID(ctx, created.ID)
	if u.LastLogin == nil {
		t.Error("LastLogin not stamped")
	}
}

func TestUpdate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u, err := repo.Create(ctx, student("maya"))
	if err != nil {
		t.Fatal(err)
	}

	name := "Maya B"
	class := 4
	got, err := repo.Update(ctx, u.ID, Patch{DisplayName: &name, ClassNumber: &class})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.DisplayName != "Maya B" || got.ClassNumber != 4 || got.Grade != "י" {
		t.Errorf("Update() = %+v", got)
	}

	empty := ""
	if _, err := repo.Update(ctx, u.ID, Patch{Grade: &empty}); err == nil {
		t.Error("Update() cleared a student's grade")
	}

	teacher := RoleTeacher
	if _, err := repo.Update(ctx, u.ID, Patch{Role: &teacher, Grade: &empty}); err != nil {
		t.Errorf("Update() to teacher without grade error = %v", err)
	}

	if _, err := repo.Update(ctx, "missing", Patch{DisplayName: &name}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) error = %v", err)
	}
}

func TestChangePasswordAndDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	u, err := repo.Create(ctx, student("omer"))
	if err != nil {
		t.Fatal(err)
	}

	if err := repo.ChangePassword(ctx, u.ID, "short"); err == nil {
		t.Error("ChangePassword() accepted a short password")
	}
	// Lengths count characters, the same way registration does.
	hebrew := strings.Repeat("ש", 30)
	if err := repo.ChangePassword(ctx, u.ID, strings.Repeat("ש", 7)); err == nil {
		t.Error("ChangePassword() accepted 7 Hebrew letters")
	}
	if err := repo.ChangePassword(ctx, u.ID, hebrew); err != nil {
		t.Errorf("ChangePassword(30 Hebrew letters) error = %v", err)
	}
	if _, err := repo.Authenticate(ctx, "omer", hebrew); err != nil {
		t.Errorf("Authenticate(hebrew) error = %v", err)
	}
	var ve *validation.Error
	if err := repo.ChangePassword(ctx, u.ID, strings.Repeat("ש", 40)); !errors.As(err, &ve) || ve.Message() != "Password is too long" {
		t.Errorf("ChangePassword(80 bytes) error = %v", err)
	}
	in := student("long_pw")
	in.Password = strings.Repeat("ש", 40)
	if _, err := repo.Create(ctx, in); !errors.As(err, &ve) || ve.Message() != "Password is too long" {
		t.Errorf("Create(80-byte password) error = %v", err)
	}

	if err := repo.ChangePassword(ctx, u.ID, "new-password-1"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if _, err := repo.Authenticate(ctx, "omer", "new-password-1"); err != nil {
		t.Errorf("Authenticate(new) error = %v", err)
	}

	list, err := repo.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List() = %d users, %v", len(list), err)
	}

	if err := repo.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v", err)
	}
}
