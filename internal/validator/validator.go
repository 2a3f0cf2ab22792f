// Package validator checks request structs against go-playground/validator
// tags and converts failures into apperror values the handlers can render.
//
// Field names in messages are the JSON names ("firstName", not "FirstName")
// so the client can match them to its form inputs.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/quest-platform/internal/apperror"
)

// MaxBodyBytes caps request bodies read by DecodeJSON.
const MaxBodyBytes = 1 << 20

// ErrInvalidJSON wraps every body decoding failure.
var ErrInvalidJSON = errors.New("invalid JSON body")

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate validates a struct using go-playground/validator tags.
func Validate(s any) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return &ValidationError{Errors: validationErrors}
		}
		return err
	}
	return nil
}

// ValidationError wraps validator.ValidationErrors with a user-friendly message.
type ValidationError struct {
	Errors validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, err := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("field '%s' %s", err.Field(), msgForTag(err)))
	}
	return strings.Join(msgs, "; ")
}

// Fields returns a map of field names to error messages.
func (e *ValidationError) Fields() map[string]string {
	fields := make(map[string]string, len(e.Errors))
	for _, err := range e.Errors {
		fields[err.Field()] = msgForTag(err)
	}
	return fields
}

// Missing returns the fields that failed the "required" tag, in struct order.
func (e *ValidationError) Missing() []string {
	var missing []string
	for _, err := range e.Errors {
		if err.Tag() == "required" {
			missing = append(missing, err.Field())
		}
	}
	return missing
}

// AppError converts the failure into a 400-class AppError. Missing fields
// take priority and are reported together with the code "missing_fields";
// otherwise the first failing field is reported.
func (e *ValidationError) AppError() *apperror.AppError {
	if missing := e.Missing(); len(missing) > 0 {
		return apperror.ValidationFailed(strings.Join(missing, ","),
			"missing required fields: "+strings.Join(missing, ", ")).
			WithCode("missing_fields")
	}
	first := e.Errors[0]
	return apperror.ValidationFailed(first.Field(), first.Field()+" "+msgForTag(first))
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "url":
		return "must be a valid URL"
	case "excludes":
		return fmt.Sprintf("must not contain '%s'", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}

// ToAppError returns err unchanged unless it is a *ValidationError or a
// decoding failure, which become validation AppErrors.
func ToAppError(err error) error {
	var ve *ValidationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ve):
		return ve.AppError()
	case errors.Is(err, ErrInvalidJSON):
		return apperror.ValidationFailed("", "request body must be valid JSON").WithCode("invalid_json")
	}
	return err
}

// DecodeJSON reads a single JSON value from the request body into dst.
// An empty body decodes to the zero value so required-field checks can
// report what is missing.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}
