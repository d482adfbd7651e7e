// Package validator checks tool inputs before any platform or API call is made.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	appNamePattern     = regexp.MustCompile(`^[a-z][a-z0-9-]{2,29}$`)
	processTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	dynoSizePattern    = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
)

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validator wraps a configured validator/v10 instance. Safe for concurrent use.
type Validator struct {
	v *validator.Validate
}

func New() (*Validator, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)

	rules := map[string]*regexp.Regexp{
		"heroku_app":   appNamePattern,
		"process_type": processTypePattern,
		"dyno_size":    dynoSizePattern,
	}
	for tag, re := range rules {
		if err := v.RegisterValidation(tag, matchPattern(re)); err != nil {
			return nil, fmt.Errorf("register %s validator: %w", tag, err)
		}
	}
	return &Validator{v: v}, nil
}

// Struct validates s using its `validate` tags. Failures are *ValidationError.
func (v *Validator) Struct(s any) error {
	if err := v.v.Struct(s); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func matchPattern(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// jsonFieldName reports fields by their JSON argument name so messages
// match what the caller sent.
func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, formatSingleValidationError(e))
	}
	return &ValidationError{Message: strings.Join(messages, "; ")}
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Field()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s%s", field, e.Param(), unit(e.Kind()))
	case "max", "lte":
		return fmt.Sprintf("%s must not exceed %s%s", field, e.Param(), unit(e.Kind()))
	case "heroku_app":
		return fmt.Sprintf("%s must be a Heroku app name (3-30 lowercase letters, digits or dashes, starting with a letter)", field)
	case "process_type":
		return fmt.Sprintf("%s must contain only letters, digits, '_' or '-'", field)
	case "dyno_size":
		return fmt.Sprintf("%s must contain only letters, digits or '-'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}

func unit(k reflect.Kind) string {
	switch k {
	case reflect.String:
		return " characters"
	case reflect.Slice, reflect.Map:
		return " items"
	}
	return ""
}
