// Package validation wraps a shared go-playground validator and turns its
// field errors into messages suitable for API responses.
//
//	type registerReq struct {
//	    Username string `json:"username" validate:"required,min=3,max=50,username"`
//	}
//	if err := validation.Struct(&req); err != nil { ... 400 ... }
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	msgMu         sync.RWMutex
	fieldMessages = map[string]string{}
)

// FieldError is one failed rule on one field.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// Error collects every failed rule of a Struct call.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// Message is the first field message, used as the top-level API error.
func (e *Error) Message() string {
	if len(e.Fields) == 0 {
		return "Validation failed"
	}
	return e.Fields[0].Message
}

// New builds a single-field Error for rules checked outside struct tags.
func New(field, tag, message string) *Error {
	return &Error{Fields: []FieldError{{Field: field, Tag: tag, Message: message}}}
}

// SetMessage overrides the message for one field/tag pair, e.g.
// SetMessage("username", "min", "Username must be 3-50 characters").
func SetMessage(field, tag, message string) {
	msgMu.Lock()
	fieldMessages[field+"."+tag] = message
	msgMu.Unlock()
}

// Validator returns the shared instance. Field names in errors are json names.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = validate.RegisterValidation("username", isUsername)
		_ = validate.RegisterValidation("notblank", isNotBlank)
	})
	return validate
}

// Struct validates s and returns *Error or nil.
func Struct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return New("unknown", "unknown", err.Error())
	}
	out := &Error{Fields: make([]FieldError, len(ves))}
	for i, fe := range ves {
		out.Fields[i] = FieldError{Field: fe.Field(), Tag: fe.Tag(), Message: translate(fe)}
	}
	return out
}

// IsUsername reports whether s uses only ASCII letters, digits and underscores.
func IsUsername(s string) bool {
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func isUsername(fl validator.FieldLevel) bool {
	return IsUsername(fl.Field().String())
}

func isNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func translate(fe validator.FieldError) string {
	msgMu.RLock()
	m, ok := fieldMessages[fe.Field()+"."+fe.Tag()]
	msgMu.RUnlock()
	if ok {
		return m
	}

	field := fe.Field()
	param := fe.Param()
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "url", "http_url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, param)
		}
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s items", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, param)
		}
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at most %s items", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "username":
		return fmt.Sprintf("%s may only contain letters, numbers and underscores", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
