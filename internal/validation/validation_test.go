package validation

import (
	"errors"
	"strings"
	"testing"
)

type sample struct {
	Username string   `json:"username" validate:"required,min=3,max=50,username"`
	Title    string   `json:"title" validate:"notblank,max=10"`
	Status   string   `json:"status" validate:"omitempty,oneof=draft published"`
	Tags     []string `json:"tags" validate:"max=2,dive,max=5"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name      string
		in        sample
		wantField string
		wantMsg   string
	}{
		{"valid", sample{Username: "dana_1", Title: "hi"}, "", ""},
		{"short username", sample{Username: "ab", Title: "hi"}, "username", "username must be at least 3 characters"},
		{"bad charset", sample{Username: "dana!", Title: "hi"}, "username", "username may only contain letters, numbers and underscores"},
		{"blank title", sample{Username: "dana", Title: "   "}, "title", "title is required"},
		{"bad status", sample{Username: "dana", Title: "x", Status: "gone"}, "status", "status must be one of: draft, published"},
		{"too many tags", sample{Username: "dana", Title: "x", Tags: []string{"a", "b", "c"}}, "tags", "tags must contain at most 2 items"},
		{"long tag", sample{Username: "dana", Title: "x", Tags: []string{"abcdef"}}, "tags[0]", "tags[0] must be at most 5 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(&tt.in)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Struct() error = %v", err)
				}
				return
			}
			var ve *Error
			if !errors.As(err, &ve) {
				t.Fatalf("Struct() error = %v, want *Error", err)
			}
			if ve.Fields[0].Field != tt.wantField {
				t.Errorf("field = %q, want %q", ve.Fields[0].Field, tt.wantField)
			}
			if ve.Message() != tt.wantMsg {
				t.Errorf("message = %q, want %q", ve.Message(), tt.wantMsg)
			}
		})
	}
}

func TestSetMessage(t *testing.T) {
	type widget struct {
		Code string `json:"code" validate:"min=4"`
	}
	SetMessage("code", "min", "Code must be 4+ characters")
	err := Struct(&widget{Code: "x"})
	if err == nil || !strings.Contains(err.Error(), "Code must be 4+ characters") {
		t.Fatalf("Struct() error = %v", err)
	}
}

func TestNew(t *testing.T) {
	e := New("grade", "required", "Grade is required for students")
	if e.Message() != "Grade is required for students" || e.Error() != e.Message() {
		t.Errorf("New() = %+v", e)
	}
}
