package utils

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// FieldError is one failed constraint, named by its json field path
type FieldError struct {
	Field string
	Tag   string
	Param string
}

// ValidationError lists every failed constraint of a struct
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Param != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", f.Field, f.Tag, f.Param))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", f.Field, f.Tag))
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// First returns the first failed field, or "" when none
func (e *ValidationError) First() string {
	if len(e.Fields) == 0 {
		return ""
	}
	return e.Fields[0].Field
}

// Validator returns the shared validator with the project's custom tags.
// "key" accepts machine-readable identifiers such as step and transition keys.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("key", func(fl validator.FieldLevel) bool {
			return keyPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// ValidateStruct checks s against its validate tags
func ValidateStruct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.Index(ns, "."); i >= 0 {
			ns = ns[i+1:]
		}
		out.Fields = append(out.Fields, FieldError{Field: ns, Tag: fe.Tag(), Param: fe.Param()})
	}
	return out
}

// ValidateEmail validates an email address
func ValidateEmail(email string) error {
	if err := Validator().Var(email, "required,email"); err != nil {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}
