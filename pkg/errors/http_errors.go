package errors

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// FieldError describes one rejected field of a request payload
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FromBindingError maps a gin binding error to a 400 AppError. Validator
// failures carry one FieldError per field; malformed JSON gets a generic message.
func FromBindingError(err error) *AppError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, FieldError{
				Field:   lowerFirst(fe.Field()),
				Message: describe(fe),
			})
		}
		return NewValidationError(details)
	}
	return NewBadRequestError(CodeBadRequest, MsgInvalidPayload)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return strings.TrimSpace(string(r))
}
