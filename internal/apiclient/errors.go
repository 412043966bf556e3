package apiclient

import (
	"errors"
	"net/http"
)

// Kind classifies an API failure for callers that choose a UI treatment.
type Kind string

const (
	KindNetwork      Kind = "NETWORK_ERROR"
	KindValidation   Kind = "VALIDATION_ERROR"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindNotFound     Kind = "NOT_FOUND"
	KindServer       Kind = "SERVER_ERROR"
	KindUnknown      Kind = "UNKNOWN_ERROR"
)

const defaultMessage = "An error occurred"

var friendlyMessages = map[Kind]string{
	KindNetwork:      "Network error. Please check your internet connection.",
	KindServer:       "Server error. Please try again later.",
	KindUnauthorized: "Session expired. Please login again.",
	KindForbidden:    "You do not have permission to perform this action.",
	KindNotFound:     "The requested resource was not found.",
	KindValidation:   "Please check your input and try again.",
	KindUnknown:      "An unexpected error occurred. Please try again.",
}

// Error is the uniform shape of every failed API call.
type Error struct {
	Message string
	// Status is the HTTP status, or 500 when the request never got a response.
	Status int
	Code   string
	// Err is the transport error, nil when the server answered.
	Err error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Kind() Kind {
	if e.Err != nil {
		return KindNetwork
	}
	switch {
	case e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity:
		return KindValidation
	case e.Status == http.StatusUnauthorized:
		return KindUnauthorized
	case e.Status == http.StatusForbidden:
		return KindForbidden
	case e.Status == http.StatusNotFound:
		return KindNotFound
	case e.Status >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}

// UserMessage is the text a screen should show. Validation failures keep the server's
// message since it names the offending field.
func (e *Error) UserMessage() string {
	kind := e.Kind()
	switch kind {
	case KindValidation, KindUnknown:
		if e.Message != "" && e.Message != defaultMessage {
			return e.Message
		}
	}
	return friendlyMessages[kind]
}

// AsError unwraps err into an *Error.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsAuthError reports a 401 or 403 response.
func IsAuthError(err error) bool {
	apiErr, ok := AsError(err)
	return ok && apiErr.Err == nil && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden)
}

// MessageOr returns the normalized message of err, or fallback when err carries none.
func MessageOr(err error, fallback string) string {
	if apiErr, ok := AsError(err); ok && apiErr.Message != "" {
		return apiErr.Message
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return fallback
}

// Display is the message to show for err. Transport failures and server errors without a
// message of their own get the friendly text; everything else keeps the server's message.
func Display(err error, fallback string) string {
	if apiErr, ok := AsError(err); ok {
		switch apiErr.Kind() {
		case KindNetwork:
			return apiErr.UserMessage()
		case KindServer:
			if apiErr.Message == "" || apiErr.Message == defaultMessage {
				return apiErr.UserMessage()
			}
		}
	}
	return MessageOr(err, fallback)
}
