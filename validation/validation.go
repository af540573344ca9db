package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Basic validators
func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v[field] = "required"
	}
}

func PositiveFloat(field string, val float64, v Violations) {
	if val <= 0 {
		v[field] = "must_be_positive"
	}
}

// ErrInvalid is matched by every *Error.
var ErrInvalid = errors.New("validation failed")

// Error carries the violations of a rejected value.
type Error struct {
	Violations Violations
}

func (e *Error) Error() string {
	fields := make([]string, 0, len(e.Violations))
	for f := range e.Violations {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+"="+e.Violations[f])
	}
	return fmt.Sprintf("%s: %s", ErrInvalid.Error(), strings.Join(parts, ", "))
}

func (e *Error) Unwrap() error { return ErrInvalid }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their json name, which is what callers persist and display
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Struct runs the `validate` tags of s and maps failures to violation codes.
func Struct(s any) Violations {
	v := Violations{}
	err := validate.Struct(s)
	if err == nil {
		return v
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v["_"] = err.Error()
		return v
	}
	for _, fe := range fieldErrs {
		v[fe.Field()] = code(fe.Tag())
	}
	return v
}

// Check returns an *Error when s has violations.
func Check(s any) error {
	if v := Struct(s); !v.Empty() {
		return &Error{Violations: v}
	}
	return nil
}

func code(tag string) string {
	switch tag {
	case "required":
		return "required"
	case "oneof":
		return "invalid_choice"
	case "gte", "lte", "gt", "lt", "min", "max":
		return "out_of_range"
	case "len":
		return "invalid_length"
	default:
		return tag
	}
}
