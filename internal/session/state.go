package session

import "time"

// Phase is the lifecycle position of the session. Authenticated and VerificationPending are
// distinct phases, so a session can never be both.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseAnonymous
	PhaseVerificationPending
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseAnonymous:
		return "anonymous"
	case PhaseVerificationPending:
		return "verification-pending"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return "invalid"
	}
}

type User struct {
	UUID          string     `json:"uuid"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	IsActive      bool       `json:"isActive"`
	OtpVerifiedAt *time.Time `json:"otpVerifiedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type State struct {
	Phase   Phase
	User    *User
	Loading bool
	// Error is the message of the last rejected operation; empty when none.
	Error string
}

// Initialized reports whether startup restore has completed.
func (s State) Initialized() bool {
	return s.Phase >= PhaseAnonymous
}

func (s State) Authenticated() bool {
	return s.Phase == PhaseAuthenticated
}

func (s State) RequiresVerification() bool {
	return s.Phase == PhaseVerificationPending
}

type Route string

const (
	RouteLoading   Route = "loading"
	RouteLogin     Route = "login"
	RouteVerifyOTP Route = "verify-otp"
	RouteHome      Route = "home"
)

// Route is the screen a session in this state belongs on.
func (s State) Route() Route {
	switch s.Phase {
	case PhaseAuthenticated:
		return RouteHome
	case PhaseVerificationPending:
		return RouteVerifyOTP
	case PhaseAnonymous:
		return RouteLogin
	default:
		return RouteLoading
	}
}

type OTPInfo struct {
	ExpiresIn string `json:"expiresIn"`
	Type      string `json:"type"`
}

type LoginResult struct {
	AccessToken          string `json:"accessToken"`
	RefreshToken         string `json:"refreshToken"`
	User                 *User  `json:"user"`
	RequiresVerification bool   `json:"requiresVerification"`
}

type RegisterResult struct {
	Message string  `json:"message"`
	User    User    `json:"user"`
	OTPInfo OTPInfo `json:"otpInfo"`
}

type VerifyResult struct {
	Message       string     `json:"message"`
	Email         string     `json:"email"`
	OtpVerifiedAt *time.Time `json:"otpVerifiedAt"`
	User          User       `json:"user"`
	AccessToken   string     `json:"accessToken"`
	RefreshToken  string     `json:"refreshToken"`
}

type ResendResult struct {
	Message  string  `json:"message"`
	Email    string  `json:"email"`
	Username string  `json:"username"`
	OTPInfo  OTPInfo `json:"otpInfo"`
}
