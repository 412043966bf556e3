package session

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError is a local input rejection. No request was sent.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

const msgFillAll = "Please fill in all fields"

type loginInput struct {
	UsernameOrEmail string `validate:"required"`
	Password        string `validate:"required"`
}

type registerInput struct {
	Username string `validate:"required,min=3"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
}

type verifyInput struct {
	Email string `validate:"required,email"`
	OTP   string `validate:"len=6,numeric"`
}

type resendInput struct {
	Email string `validate:"required,email"`
}

var fieldMessages = map[string]string{
	"Username": "Username must be at least 3 characters long",
	"Email":    "Please enter a valid email address",
	"Password": "Password must be at least 6 characters long",
	"OTP":      "Please enter a valid 6-digit OTP",
}

// check validates in and returns the message of the first failing field.
func check(v *validator.Validate, in any) error {
	err := v.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return &ValidationError{Message: msgFillAll}
		}
	}
	fe := verrs[0]
	if msg, ok := fieldMessages[fe.Field()]; ok {
		return &ValidationError{Message: msg}
	}
	return &ValidationError{Message: strings.ToLower(fe.Field()) + " is invalid"}
}
