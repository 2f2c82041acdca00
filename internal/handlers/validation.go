package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BradenHooton/edugate/internal/models"
	"github.com/go-playground/validator/v10"
)

// Global validator instance (reused across all handlers)
var validate = validator.New()

// ValidateRequest validates a request struct using go-playground/validator.
// The first failing field is returned as *models.ValidationError.
func ValidateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return &models.ValidationError{
			Field:   jsonFieldName(ve[0]),
			Message: formatValidationError(ve[0]),
		}
	}
	return &models.ValidationError{Message: err.Error()}
}

func jsonFieldName(fe validator.FieldError) string {
	if name, ok := fieldNames[fe.Field()]; ok {
		return name
	}
	return fe.Field()
}

// fieldNames maps struct fields to their JSON names for error messages
var fieldNames = map[string]string{
	"Email":           "email",
	"Password":        "password",
	"Name":            "name",
	"MFACode":         "mfa_code",
	"InviteCode":      "invite_code",
	"RefreshToken":    "refresh_token",
	"Token":           "token",
	"NewPassword":     "new_password",
	"CurrentPassword": "current_password",
	"Code":            "code",
	"Status":          "status",
}

// formatValidationError converts a validator FieldError to a user-friendly message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must have a minimum of %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "numeric":
		return "must contain only digits"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
