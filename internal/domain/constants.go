package domain

const (
	PresenceOnline   = "ONLINE"
	PresenceOffline  = "OFFLINE"
	PresenceTracking = "TRACKING"
)

// OTPTypeRegistration is the only OTP purpose issued today.
const OTPTypeRegistration = "registration"

// Error codes returned in the "code" field of failed API responses.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeInvalidCreds   = "INVALID_CREDENTIALS"
	CodeEmailExists    = "EMAIL_EXISTS"
	CodeUsernameExists = "USERNAME_EXISTS"
	CodeInvalidOTP     = "INVALID_OTP"
	CodeAlreadyActive  = "ALREADY_VERIFIED"
	CodeUserNotFound   = "USER_NOT_FOUND"
	CodeTokenInvalid   = "TOKEN_INVALID"
	CodeNotFound       = "NOT_FOUND"
	CodeInternal       = "INTERNAL_ERROR"
)
